package billing

import (
	"errors"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/config"
)

var (
	ErrUnknownPriceTier    = errors.New("unknown price tier")
	ErrInvalidEvent        = errors.New("invalid billing event")
	ErrStripeDisabled      = errors.New("stripe is not configured")
	ErrStripeInvalidAPIKey = errors.New("stripe_invalid_api_key")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	// ErrWebhookUnverified means no signing secret is configured and
	// unsigned events were not explicitly allowed.
	ErrWebhookUnverified = errors.New("stripe webhook secret is not configured")
)

// Event is a completed payment. EventID is the idempotency key.
type Event struct {
	EventID string `json:"event_id"`
	PriceID string `json:"price_id"`
	UserID  string `json:"user_id"`
	Amount  int64  `json:"amount"`
}

type Outcome string

const (
	Applied        Outcome = "applied"
	AlreadyApplied Outcome = "already_applied"
)

// PriceTier is what one purchase of a Stripe price grants. UnitAmount and
// Currency are filled from Stripe when available.
type PriceTier struct {
	PriceID      string `json:"price_id"`
	Name         string `json:"name,omitempty"`
	Credits      int    `json:"credits"`
	ChatMessages int    `json:"chat_messages"`
	UnitAmount   int64  `json:"unit_amount,omitempty"`
	Currency     string `json:"currency,omitempty"`
}

// Tiers is the static price-tier table.
type Tiers struct {
	list []PriceTier
	byID map[string]PriceTier
}

func NewTiers(specs []config.TierSpec) *Tiers {
	t := &Tiers{byID: make(map[string]PriceTier, len(specs))}
	for _, s := range specs {
		tier := PriceTier{PriceID: s.PriceID, Credits: s.Credits, ChatMessages: s.ChatMessages}
		t.list = append(t.list, tier)
		t.byID[s.PriceID] = tier
	}
	return t
}

func (t *Tiers) Lookup(priceID string) (PriceTier, bool) {
	tier, ok := t.byID[priceID]
	return tier, ok
}

func (t *Tiers) List() []PriceTier {
	out := make([]PriceTier, len(t.list))
	copy(out, t.list)
	return out
}
