package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/entitlements"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/metrics"
)

var ErrUnknownFlow = errors.New("unknown flow")

// Rule is what one run of a flow costs.
type Rule struct {
	Resource entitlements.Resource
	Cost     int
}

// Store is the part of the entitlement store the validator needs.
type Store interface {
	Reserve(ctx context.Context, userID string, res entitlements.Resource, cost int, ttl time.Duration) (*entitlements.Hold, error)
	Settle(ctx context.Context, h *entitlements.Hold) (int, error)
	Release(ctx context.Context, h *entitlements.Hold) error
}

// Ticket is an admitted run of a flow awaiting Consume or Cancel.
type Ticket struct {
	Flow   string
	UserID string
	Rule   Rule
	hold   *entitlements.Hold
}

// Validator admits paid flows before they run and charges them after they
// succeed. Nothing is debited for a flow that is cancelled.
type Validator struct {
	store Store
	rules map[string]Rule
	ttl   time.Duration
	log   *zap.Logger
}

// NewValidator builds a validator. ttl bounds how long an admitted flow may
// hold balance; it should exceed the provider timeout.
func NewValidator(store Store, rules map[string]Rule, ttl time.Duration, log *zap.Logger) *Validator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{store: store, rules: rules, ttl: ttl, log: log.Named("quota")}
}

// Rule returns the cost rule for flow.
func (v *Validator) Rule(flow string) (Rule, bool) {
	r, ok := v.rules[flow]
	return r, ok
}

// Admit holds the flow's cost. It fails with
// entitlements.ErrInsufficientCredits before any work starts when the
// available balance is short.
func (v *Validator) Admit(ctx context.Context, userID, flow string) (*Ticket, error) {
	rule, ok := v.rules[flow]
	if !ok {
		v.log.Warn("quota deny", zap.String("flow", flow), zap.String("reason", "unknown_flow"))
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, flow)
	}
	res := string(rule.Resource)
	h, err := v.store.Reserve(ctx, userID, rule.Resource, rule.Cost, v.ttl)
	if errors.Is(err, entitlements.ErrInsufficientCredits) {
		metrics.QuotaDecisions.WithLabelValues(res, "exhausted").Inc()
		v.log.Info("quota exhausted", zap.String("flow", flow), zap.String("user_id", userID), zap.String("resource", res), zap.Int("cost", rule.Cost))
		return nil, err
	}
	if err != nil {
		v.log.Error("quota error", zap.String("flow", flow), zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	metrics.QuotaDecisions.WithLabelValues(res, "reserve").Inc()
	v.log.Debug("quota reserve", zap.String("flow", flow), zap.String("user_id", userID), zap.String("hold_id", h.ID), zap.Int("cost", rule.Cost))
	return &Ticket{Flow: flow, UserID: userID, Rule: rule, hold: h}, nil
}

// Consume charges an admitted flow that succeeded and returns the
// remaining balance.
func (v *Validator) Consume(ctx context.Context, t *Ticket) (int, error) {
	res := string(t.Rule.Resource)
	remaining, err := v.store.Settle(ctx, t.hold)
	if err != nil {
		metrics.QuotaDecisions.WithLabelValues(res, "settle_failed").Inc()
		v.log.Error("quota race_exhausted", zap.String("flow", t.Flow), zap.String("user_id", t.UserID), zap.String("hold_id", t.hold.ID), zap.Error(err))
		return remaining, err
	}
	metrics.QuotaDecisions.WithLabelValues(res, "consume").Inc()
	v.log.Info("quota consume", zap.String("flow", t.Flow), zap.String("user_id", t.UserID), zap.String("resource", res), zap.Int("amount", t.Rule.Cost), zap.Int("remaining_after", remaining))
	return remaining, nil
}

// Cancel releases an admitted flow that did not succeed. It uses a fresh
// context so a cancelled request still frees its hold.
func (v *Validator) Cancel(t *Ticket) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := v.store.Release(ctx, t.hold); err != nil {
		v.log.Warn("quota release failed", zap.String("flow", t.Flow), zap.String("hold_id", t.hold.ID), zap.Error(err))
		return
	}
	metrics.QuotaDecisions.WithLabelValues(string(t.Rule.Resource), "release").Inc()
	v.log.Debug("quota release", zap.String("flow", t.Flow), zap.String("user_id", t.UserID), zap.String("hold_id", t.hold.ID))
}
