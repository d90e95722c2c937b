package entitlements

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/conn"
)

// Repository is the SQL entitlement store. Every balance mutation runs in
// a transaction that first locks the account row, so operations for the
// same user serialize while different users proceed independently.
type Repository struct {
	db     *conn.DB
	signup Grant
	now    func() time.Time
}

func NewRepository(db *conn.DB, signup Grant) *Repository {
	return &Repository{db: db, signup: signup, now: time.Now}
}

// SetClock replaces the time source. Used by tests to expire holds.
func (r *Repository) SetClock(now func() time.Time) { r.now = now }

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *Repository) Get(ctx context.Context, userID string) (*Account, error) {
	return r.get(ctx, r.db, userID, false)
}

func (r *Repository) get(ctx context.Context, q queryer, userID string, lock bool) (*Account, error) {
	query := `SELECT user_id, credits, chat_messages, unlimited, updated_at FROM entitlements WHERE user_id = ?`
	if lock {
		query += r.db.ForUpdate()
	}
	var (
		a         Account
		unlimited int
		updated   int64
	)
	err := q.QueryRowContext(ctx, query, userID).Scan(&a.UserID, &a.Credits, &a.ChatAllowance, &unlimited, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}
	a.Unlimited = unlimited != 0
	a.UpdatedAt = time.UnixMilli(updated).UTC()
	return &a, nil
}

// Ensure creates the account with the sign-up grant if it does not exist
// and returns it.
func (r *Repository) Ensure(ctx context.Context, userID string) (*Account, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	if err := r.ensure(ctx, r.db, userID); err != nil {
		return nil, err
	}
	return r.Get(ctx, userID)
}

func (r *Repository) ensure(ctx context.Context, q queryer, userID string) error {
	ts := r.now().UnixMilli()
	_, err := q.ExecContext(ctx,
		r.db.InsertIgnore()+` INTO entitlements (user_id, credits, chat_messages, unlimited, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)`,
		userID, r.signup.Credits, r.signup.ChatMessages, ts, ts)
	if err != nil {
		return fmt.Errorf("ensure account %s: %w", userID, err)
	}
	return nil
}

// CheckBalance reports whether cost of res could be spent right now. A
// missing account has a zero balance. It does not count holds.
func (r *Repository) CheckBalance(ctx context.Context, userID string, res Resource, cost int) (bool, error) {
	if !res.Valid() {
		return false, ErrUnknownResource
	}
	if cost <= 0 {
		return false, ErrInvalidAmount
	}
	a, err := r.Get(ctx, userID)
	if errors.Is(err, ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return a.Unlimited || a.Balance(res) >= cost, nil
}

// Debit takes cost of res from the account and returns the new balance.
// Balance already held by in-flight operations is not available.
func (r *Repository) Debit(ctx context.Context, userID string, res Resource, cost int) (int, error) {
	if !res.Valid() {
		return 0, ErrUnknownResource
	}
	if cost <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		a, err := r.get(ctx, tx, userID, true)
		if errors.Is(err, ErrAccountNotFound) {
			return ErrInsufficientCredits
		}
		if err != nil {
			return err
		}
		if a.Unlimited {
			balance = a.Balance(res)
			return nil
		}
		held, err := r.held(ctx, tx, userID, res)
		if err != nil {
			return err
		}
		if a.Balance(res)-held < cost {
			return ErrInsufficientCredits
		}
		balance, err = r.take(ctx, tx, userID, res, cost)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// take is the conditional decrement. It fails closed: zero affected rows
// means the balance would have gone negative.
func (r *Repository) take(ctx context.Context, q queryer, userID string, res Resource, cost int) (int, error) {
	col := column[res]
	out, err := q.ExecContext(ctx,
		`UPDATE entitlements SET `+col+` = `+col+` - ?, updated_at = ? WHERE user_id = ? AND `+col+` >= ?`,
		cost, r.now().UnixMilli(), userID, cost)
	if err != nil {
		return 0, fmt.Errorf("debit %s: %w", userID, err)
	}
	n, err := out.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrInsufficientCredits
	}
	var balance int
	if err := q.QueryRowContext(ctx, `SELECT `+col+` FROM entitlements WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("read balance %s: %w", userID, err)
	}
	return balance, nil
}

// Credit adds amount of res to the account, creating it when missing, and
// returns the new balance.
func (r *Repository) Credit(ctx context.Context, userID string, res Resource, amount int) (int, error) {
	var balance int
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		balance, err = r.CreditTx(ctx, tx, userID, res, amount)
		return err
	})
	return balance, err
}

// CreditTx is Credit inside a caller-owned transaction, for callers that
// must record something else atomically with the grant.
func (r *Repository) CreditTx(ctx context.Context, tx *sql.Tx, userID string, res Resource, amount int) (int, error) {
	if !res.Valid() {
		return 0, ErrUnknownResource
	}
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if userID == "" {
		return 0, errors.New("user id is required")
	}
	if err := r.ensure(ctx, tx, userID); err != nil {
		return 0, err
	}
	col := column[res]
	if _, err := tx.ExecContext(ctx,
		`UPDATE entitlements SET `+col+` = `+col+` + ?, updated_at = ? WHERE user_id = ?`,
		amount, r.now().UnixMilli(), userID); err != nil {
		return 0, fmt.Errorf("credit %s: %w", userID, err)
	}
	var balance int
	if err := tx.QueryRowContext(ctx, `SELECT `+col+` FROM entitlements WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("read balance %s: %w", userID, err)
	}
	return balance, nil
}

// SetUnlimited toggles the administrative override.
func (r *Repository) SetUnlimited(ctx context.Context, userID string, unlimited bool) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := r.ensure(ctx, tx, userID); err != nil {
			return err
		}
		flag := 0
		if unlimited {
			flag = 1
		}
		_, err := tx.ExecContext(ctx, `UPDATE entitlements SET unlimited = ?, updated_at = ? WHERE user_id = ?`,
			flag, r.now().UnixMilli(), userID)
		return err
	})
}

// Reserve places a hold of cost on res for ttl. It fails with
// ErrInsufficientCredits when the balance minus active holds is short.
func (r *Repository) Reserve(ctx context.Context, userID string, res Resource, cost int, ttl time.Duration) (*Hold, error) {
	if !res.Valid() {
		return nil, ErrUnknownResource
	}
	if cost <= 0 {
		return nil, ErrInvalidAmount
	}
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	now := r.now()
	h := &Hold{
		ID:        uuid.NewString(),
		UserID:    userID,
		Resource:  res,
		Amount:    cost,
		ExpiresAt: now.Add(ttl).UTC(),
	}
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if err := r.ensure(ctx, tx, userID); err != nil {
			return err
		}
		a, err := r.get(ctx, tx, userID, true)
		if err != nil {
			return err
		}
		if !a.Unlimited {
			held, err := r.held(ctx, tx, userID, res)
			if err != nil {
				return err
			}
			if a.Balance(res)-held < cost {
				return ErrInsufficientCredits
			}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO credit_holds (id, user_id, resource, amount, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)`,
			h.ID, userID, string(res), cost, now.UnixMilli(), h.ExpiresAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert hold: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Settle converts the hold into a debit and returns the new balance. The
// hold is consumed even when the debit fails closed.
func (r *Repository) Settle(ctx context.Context, h *Hold) (int, error) {
	if h == nil {
		return 0, ErrHoldNotFound
	}
	var (
		balance int
		short   bool
	)
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		a, err := r.get(ctx, tx, h.UserID, true)
		if err != nil {
			return err
		}
		out, err := tx.ExecContext(ctx, `DELETE FROM credit_holds WHERE id = ? AND user_id = ?`, h.ID, h.UserID)
		if err != nil {
			return fmt.Errorf("delete hold: %w", err)
		}
		if n, err := out.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrHoldNotFound
		}
		if a.Unlimited {
			balance = a.Balance(h.Resource)
			return nil
		}
		balance, err = r.take(ctx, tx, h.UserID, h.Resource, h.Amount)
		if errors.Is(err, ErrInsufficientCredits) {
			short = true
			balance = a.Balance(h.Resource)
			return nil
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	if short {
		return balance, ErrInsufficientCredits
	}
	return balance, nil
}

// Release drops the hold. Releasing an unknown hold is a no-op.
func (r *Repository) Release(ctx context.Context, h *Hold) error {
	if h == nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM credit_holds WHERE id = ?`, h.ID); err != nil {
		return fmt.Errorf("release hold %s: %w", h.ID, err)
	}
	return nil
}

// PurgeExpiredHolds deletes holds past their expiry.
func (r *Repository) PurgeExpiredHolds(ctx context.Context) (int64, error) {
	out, err := r.db.ExecContext(ctx, `DELETE FROM credit_holds WHERE expires_at <= ?`, r.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge holds: %w", err)
	}
	return out.RowsAffected()
}

func (r *Repository) held(ctx context.Context, q queryer, userID string, res Resource) (int, error) {
	var held int
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM credit_holds WHERE user_id = ? AND resource = ? AND expires_at > ?`,
		userID, string(res), r.now().UnixMilli()).Scan(&held)
	if err != nil {
		return 0, fmt.Errorf("sum holds: %w", err)
	}
	return held, nil
}

func (r *Repository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
