package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"
)

// StripeGateway creates one-off Checkout Sessions for price tiers and turns
// verified webhooks into settlement events.
type StripeGateway struct {
	sc            *client.API
	tiers         *Tiers
	secretKey     string
	webhookSecret string
	insecure      bool
	successURL    string
	cancelURL     string
	log           *zap.Logger
	invalidKey    atomic.Bool
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	// InsecureWebhook accepts unsigned webhook payloads when no
	// WebhookSecret is set. Development only.
	InsecureWebhook bool
	// Backends overrides the Stripe API endpoints. Used by tests.
	Backends *stripe.Backends
}

// NewStripe returns nil when no secret key is configured.
func NewStripe(cfg StripeConfig, tiers *Tiers, log *zap.Logger) *StripeGateway {
	if cfg.SecretKey == "" {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	sc := &client.API{}
	sc.Init(cfg.SecretKey, cfg.Backends)
	switch {
	case cfg.WebhookSecret != "":
	case cfg.InsecureWebhook:
		log.Warn("stripe webhook signature verification disabled")
	default:
		log.Warn("stripe webhook secret missing, webhooks will be refused")
	}
	return &StripeGateway{
		sc:            sc,
		tiers:         tiers,
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		insecure:      cfg.InsecureWebhook,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		log:           log,
	}
}

func maskKey(k string) string {
	if len(k) < 12 {
		return "****"
	}
	return k[:7] + "..." + k[len(k)-4:]
}

// Checkout is a created Checkout Session.
type Checkout struct {
	SessionID string `json:"session_id"`
	URL       string `json:"checkout_url"`
}

// CreateCheckoutSession opens a payment-mode session for one unit of the
// tier. The user and price travel in the session metadata.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, userID, priceID string) (*Checkout, error) {
	if g == nil {
		return nil, ErrStripeDisabled
	}
	if _, ok := g.tiers.Lookup(priceID); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPriceTier, priceID)
	}
	if g.invalidKey.Load() {
		return nil, ErrStripeInvalidAPIKey
	}
	params := &stripe.CheckoutSessionParams{
		SuccessURL:        stripe.String(g.successURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(g.cancelURL),
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(userID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(1),
		}},
		Metadata: map[string]string{
			"user_id":  userID,
			"price_id": priceID,
		},
	}
	params.Context = ctx
	sess, err := g.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, g.apiError("checkout", err)
	}
	g.log.Info("stripe checkout created", zap.String("user_id", userID), zap.String("price_id", priceID), zap.String("session_id", sess.ID))
	return &Checkout{SessionID: sess.ID, URL: sess.URL}, nil
}

// DescribeTiers returns the tier table with amounts and currencies read
// from Stripe. Tiers Stripe cannot describe are returned as configured.
func (g *StripeGateway) DescribeTiers(ctx context.Context) []PriceTier {
	tiers := g.tiers.List()
	if g.invalidKey.Load() {
		return tiers
	}
	for i, t := range tiers {
		params := &stripe.PriceParams{}
		params.Context = ctx
		p, err := g.sc.Prices.Get(t.PriceID, params)
		if err != nil {
			if errors.Is(g.apiError("price", err), ErrStripeInvalidAPIKey) {
				return g.tiers.List()
			}
			continue
		}
		tiers[i].UnitAmount = p.UnitAmount
		tiers[i].Currency = string(p.Currency)
		tiers[i].Name = p.Nickname
	}
	return tiers
}

// ParseWebhook verifies the payload and returns the settlement event for
// a paid checkout. ok is false for event types that grant nothing.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (ev Event, ok bool, err error) {
	if g == nil {
		return Event{}, false, ErrStripeDisabled
	}
	var event stripe.Event
	switch {
	case g.webhookSecret != "":
		event, err = webhook.ConstructEvent(payload, signature, g.webhookSecret)
		if err != nil {
			return Event{}, false, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	case g.insecure:
		if err := json.Unmarshal(payload, &event); err != nil {
			return Event{}, false, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
	default:
		return Event{}, false, ErrWebhookUnverified
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		g.log.Debug("stripe webhook ignored", zap.String("type", string(event.Type)), zap.String("event_id", event.ID))
		return Event{}, false, nil
	}
	if event.Data == nil {
		return Event{}, false, fmt.Errorf("%w: missing data", ErrInvalidEvent)
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return Event{}, false, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	// Delayed methods such as boleto complete unpaid and settle later
	// through async_payment_succeeded.
	if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		g.log.Info("stripe checkout awaiting payment", zap.String("session_id", sess.ID))
		return Event{}, false, nil
	}
	ev, err = sessionEvent(&sess)
	return ev, err == nil, err
}

// ConfirmSession reads a session directly from Stripe, for clients that
// return from checkout before the webhook arrives. ok is false while the
// session is unpaid.
func (g *StripeGateway) ConfirmSession(ctx context.Context, userID, sessionID string) (ev Event, ok bool, err error) {
	if g == nil {
		return Event{}, false, ErrStripeDisabled
	}
	if sessionID == "" {
		return Event{}, false, fmt.Errorf("%w: session_id is required", ErrInvalidEvent)
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := g.sc.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return Event{}, false, g.apiError("confirm", err)
	}
	if sess.Status != stripe.CheckoutSessionStatusComplete || sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		return Event{}, false, nil
	}
	ev, err = sessionEvent(sess)
	if err != nil {
		return Event{}, false, err
	}
	if ev.UserID != userID {
		return Event{}, false, fmt.Errorf("%w: session belongs to another user", ErrInvalidEvent)
	}
	return ev, true, nil
}

// sessionEvent keys the event on the session id so the webhook and a
// direct confirmation of the same purchase settle once.
func sessionEvent(sess *stripe.CheckoutSession) (Event, error) {
	userID := sess.Metadata["user_id"]
	if userID == "" {
		userID = sess.ClientReferenceID
	}
	ev := Event{EventID: sess.ID, UserID: userID, PriceID: sess.Metadata["price_id"], Amount: sess.AmountTotal}
	if ev.EventID == "" || ev.UserID == "" || ev.PriceID == "" {
		return Event{}, fmt.Errorf("%w: incomplete session metadata", ErrInvalidEvent)
	}
	return ev, nil
}

func (g *StripeGateway) apiError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && (se.HTTPStatusCode == 401 || strings.Contains(strings.ToLower(se.Msg), "invalid api key")) {
		g.log.Error("stripe invalid api key", zap.String("op", op), zap.String("key", maskKey(g.secretKey)), zap.Error(err))
		g.invalidKey.Store(true)
		return ErrStripeInvalidAPIKey
	}
	g.log.Error("stripe request failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("stripe %s: %w", op, err)
}
