package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/billing"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/middleware"
)

// maxWebhookBytes matches the limit Stripe recommends for event payloads.
const maxWebhookBytes = 65536

func (h *Handler) listTiers(c *gin.Context) {
	var tiers []billing.PriceTier
	if h.payments != nil {
		tiers = h.payments.DescribeTiers(c.Request.Context())
	} else {
		tiers = h.tiers.List()
	}
	c.JSON(http.StatusOK, gin.H{"data": tiers})
}

func (h *Handler) checkout(c *gin.Context) {
	var body struct {
		PriceID string `json:"price_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, fmt.Errorf("%w: price_id is required", errBadRequest))
		return
	}
	if h.payments == nil {
		h.fail(c, billing.ErrStripeDisabled)
		return
	}
	co, err := h.payments.CreateCheckoutSession(c.Request.Context(), middleware.UserID(c), body.PriceID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, co)
}

// confirm settles a checkout the client returned from, without waiting for
// the webhook. Both paths share the session id, so only one credits.
func (h *Handler) confirm(c *gin.Context) {
	var body struct {
		SessionID string `json:"session_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, fmt.Errorf("%w: session_id is required", errBadRequest))
		return
	}
	if h.payments == nil {
		h.fail(c, billing.ErrStripeDisabled)
		return
	}
	uid := middleware.UserID(c)
	ev, ok, err := h.payments.ConfirmSession(c.Request.Context(), uid, body.SessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusAccepted, gin.H{"status": "pending"})
		return
	}
	out, err := h.settlement.HandleEvent(c.Request.Context(), ev)
	if err != nil {
		h.fail(c, err)
		return
	}
	a, err := h.accounts.Ensure(c.Request.Context(), uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": out, "account": a})
}

// stripeWebhook answers 2xx for applied, redelivered and ignored events so
// Stripe stops retrying them.
func (h *Handler) stripeWebhook(c *gin.Context) {
	if h.payments == nil {
		h.fail(c, billing.ErrStripeDisabled)
		return
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	ev, ok, err := h.payments.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.log.Warn("stripe webhook rejected", zap.Error(err))
		h.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	out, err := h.settlement.HandleEvent(c.Request.Context(), ev)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": out})
}
