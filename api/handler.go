// Package api exposes the backend over HTTP.
package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/billing"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/entitlements"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/flows"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/metrics"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/middleware"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/scripts"
)

type Accounts interface {
	Ensure(ctx context.Context, userID string) (*entitlements.Account, error)
}

// Payments is the Stripe side of billing.
type Payments interface {
	CreateCheckoutSession(ctx context.Context, userID, priceID string) (*billing.Checkout, error)
	ConfirmSession(ctx context.Context, userID, sessionID string) (billing.Event, bool, error)
	ParseWebhook(payload []byte, signature string) (billing.Event, bool, error)
	DescribeTiers(ctx context.Context) []billing.PriceTier
}

type Settler interface {
	HandleEvent(ctx context.Context, ev billing.Event) (billing.Outcome, error)
}

type Deps struct {
	Scripts    *scripts.Ledger
	Flows      *flows.Service
	Accounts   Accounts
	Settlement Settler
	// Payments is nil when Stripe is not configured.
	Payments Payments
	Tiers    *billing.Tiers
	Auth     gin.HandlerFunc
	Log      *zap.Logger
}

type Handler struct {
	scripts    *scripts.Ledger
	flows      *flows.Service
	accounts   Accounts
	settlement Settler
	payments   Payments
	tiers      *billing.Tiers
	auth       gin.HandlerFunc
	log        *zap.Logger
}

func NewHandler(d Deps) *Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Handler{
		scripts:    d.Scripts,
		flows:      d.Flows,
		accounts:   d.Accounts,
		settlement: d.Settlement,
		payments:   d.Payments,
		tiers:      d.Tiers,
		auth:       d.Auth,
		log:        d.Log,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	r.GET("/metrics", metrics.Handler())
	r.GET("/billing/tiers", h.listTiers)
	r.POST("/billing/webhook", h.stripeWebhook)

	authed := r.Group("/", h.auth)
	authed.GET("/me", h.me)
	authed.GET("/analyses", h.catalogue)
	authed.POST("/analyses/:kind", h.runAnalysis)
	authed.POST("/chat", h.chat)

	authed.GET("/scripts", h.listScripts)
	authed.POST("/scripts", h.createScript)
	authed.POST("/scripts/upload", h.uploadScript)
	authed.GET("/scripts/active", h.activeScript)
	authed.PUT("/scripts/active", h.setActiveScript)
	authed.GET("/scripts/:id", h.getScript)
	authed.PATCH("/scripts/:id", h.updateScript)
	authed.DELETE("/scripts/:id", h.deleteScript)

	authed.POST("/billing/checkout", h.checkout)
	authed.POST("/billing/confirm", h.confirm)
}

// NewRouter builds the engine with the shared middleware and every route.
func NewRouter(h *Handler, clientURL string) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(h.log), middleware.RequestLogger(h.log), middleware.CORS(clientURL))
	h.RegisterRoutes(r)
	return r
}
