// Package billing applies payment events to user entitlements exactly once
// and talks to Stripe for checkout and webhooks.
package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/conn"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/entitlements"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/metrics"
)

// Crediter grants balance inside a caller-owned transaction.
type Crediter interface {
	CreditTx(ctx context.Context, tx *sql.Tx, userID string, res entitlements.Resource, amount int) (int, error)
}

// Settlement records each event id in billing_events and credits the
// tier's grant in the same transaction.
type Settlement struct {
	db    *conn.DB
	ent   Crediter
	tiers *Tiers
	log   *zap.Logger
	now   func() time.Time
}

func NewSettlement(db *conn.DB, ent Crediter, tiers *Tiers, log *zap.Logger) *Settlement {
	if log == nil {
		log = zap.NewNop()
	}
	return &Settlement{db: db, ent: ent, tiers: tiers, log: log, now: time.Now}
}

// HandleEvent applies ev once. A redelivered event returns AlreadyApplied
// with a nil error and changes nothing.
func (s *Settlement) HandleEvent(ctx context.Context, ev Event) (Outcome, error) {
	if ev.EventID == "" || ev.UserID == "" {
		metrics.BillingEvents.WithLabelValues("invalid").Inc()
		return "", fmt.Errorf("%w: event id and user id are required", ErrInvalidEvent)
	}
	tier, ok := s.tiers.Lookup(ev.PriceID)
	if !ok {
		metrics.BillingEvents.WithLabelValues("unknown_tier").Inc()
		s.log.Error("billing unknown price tier",
			zap.String("event_id", ev.EventID),
			zap.String("user_id", ev.UserID),
			zap.String("price_id", ev.PriceID),
			zap.Int64("amount", ev.Amount))
		return "", fmt.Errorf("%w: %q", ErrUnknownPriceTier, ev.PriceID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		s.db.InsertIgnore()+` INTO billing_events (event_id, user_id, price_id, credits, chat_messages, amount, applied_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.UserID, ev.PriceID, tier.Credits, tier.ChatMessages, ev.Amount, s.now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("record event %s: %w", ev.EventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if n == 0 {
		metrics.BillingEvents.WithLabelValues(string(AlreadyApplied)).Inc()
		s.log.Info("billing event already applied", zap.String("event_id", ev.EventID))
		return AlreadyApplied, nil
	}

	grants := []struct {
		res    entitlements.Resource
		amount int
	}{
		{entitlements.Credits, tier.Credits},
		{entitlements.ChatMessages, tier.ChatMessages},
	}
	fields := []zap.Field{zap.String("event_id", ev.EventID), zap.String("user_id", ev.UserID), zap.String("price_id", ev.PriceID)}
	for _, g := range grants {
		if g.amount <= 0 {
			continue
		}
		bal, err := s.ent.CreditTx(ctx, tx, ev.UserID, g.res, g.amount)
		if err != nil {
			return "", fmt.Errorf("credit %s: %w", g.res, err)
		}
		fields = append(fields, zap.Int(string(g.res), bal))
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit event %s: %w", ev.EventID, err)
	}

	metrics.BillingEvents.WithLabelValues(string(Applied)).Inc()
	if tier.Credits > 0 {
		metrics.Granted.WithLabelValues(string(entitlements.Credits)).Add(float64(tier.Credits))
	}
	if tier.ChatMessages > 0 {
		metrics.Granted.WithLabelValues(string(entitlements.ChatMessages)).Add(float64(tier.ChatMessages))
	}
	s.log.Info("billing event applied", fields...)
	return Applied, nil
}
