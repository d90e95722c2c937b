package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/analysis"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/billing"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/entitlements"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/files"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/flows"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/scripts"
)

var errBadRequest = errors.New("invalid request body")

// statusOf maps domain errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, analysis.ErrInvalidInput),
		errors.Is(err, scripts.ErrInvalidInput),
		errors.Is(err, files.ErrUnsupported),
		errors.Is(err, files.ErrNoText),
		errors.Is(err, files.ErrUnreadable),
		errors.Is(err, billing.ErrInvalidEvent),
		errors.Is(err, billing.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, scripts.ErrNotFound),
		errors.Is(err, analysis.ErrUnknownKind),
		errors.Is(err, flows.ErrNoActiveScript):
		return http.StatusNotFound
	case errors.Is(err, entitlements.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, billing.ErrUnknownPriceTier):
		return http.StatusUnprocessableEntity
	case errors.Is(err, analysis.ErrMalformedResult):
		return http.StatusBadGateway
	case errors.Is(err, analysis.ErrProviderUnavailable),
		errors.Is(err, billing.ErrStripeDisabled),
		errors.Is(err, billing.ErrStripeInvalidAPIKey),
		errors.Is(err, billing.ErrWebhookUnverified):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}
