package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/middleware"
)

// me returns the caller's entitlement account, creating it with the signup
// grant on first use.
func (h *Handler) me(c *gin.Context) {
	a, err := h.accounts.Ensure(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) catalogue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.flows.Catalogue()})
}
