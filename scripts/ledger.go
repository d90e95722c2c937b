// Package scripts keeps each user's scripts, their analysis results and the
// active-script pointer.
package scripts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/analysis"
)

// Store persists scripts. Implementations scope every call to userID and
// report scripts owned by someone else as ErrNotFound. Insert, Delete and
// SetActive keep the active pointer at null or a live script.
type Store interface {
	Insert(ctx context.Context, s *Script) error
	Get(ctx context.Context, userID, id string) (*Script, error)
	List(ctx context.Context, userID string) ([]*Script, error)
	Apply(ctx context.Context, userID, id string, p Patch, at time.Time) (*Script, error)
	Delete(ctx context.Context, userID, id string) error
	SetActive(ctx context.Context, userID, id string) error
	ActiveID(ctx context.Context, userID string) (string, error)
}

type Ledger struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

func NewLedger(store Store, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: store, log: log, now: time.Now}
}

// SetClock replaces the time source.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// Create stores a new script and makes it the user's active script.
func (l *Ledger) Create(ctx context.Context, userID string, meta Metadata, content string) (*Script, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	meta.Name = strings.TrimSpace(meta.Name)
	if err := meta.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if strings.TrimSpace(content) == "" || len(content) > maxContent {
		return nil, fmt.Errorf("%w: content is required and must be at most %d bytes", ErrInvalidInput, maxContent)
	}
	now := l.now().UTC().Truncate(time.Millisecond)
	s := &Script{
		ID:              uuid.NewString(),
		UserID:          userID,
		Name:            meta.Name,
		Format:          meta.Format,
		Genre:           meta.Genre,
		Content:         content,
		AnalysisResults: map[analysis.Kind]json.RawMessage{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := l.store.Insert(ctx, s); err != nil {
		return nil, err
	}
	l.log.Info("script created", zap.String("user_id", userID), zap.String("script_id", s.ID), zap.Int("bytes", len(content)))
	return s, nil
}

func (l *Ledger) Get(ctx context.Context, userID, id string) (*Script, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	return l.store.Get(ctx, userID, id)
}

// List returns the user's scripts, most recently updated first.
func (l *Ledger) List(ctx context.Context, userID string) ([]*Script, error) {
	return l.store.List(ctx, userID)
}

// Update applies metadata and content edits or overwrites one analysis
// result. An unknown id, including one deleted while an analysis was
// running, yields ErrNotFound and changes nothing.
func (l *Ledger) Update(ctx context.Context, userID, id string, p Patch) (*Script, error) {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		p.Name = &name
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if id == "" {
		return nil, ErrNotFound
	}
	s, err := l.store.Apply(ctx, userID, id, p, l.now().UTC().Truncate(time.Millisecond))
	if err != nil {
		if errors.Is(err, ErrNotFound) && p.Result != nil {
			l.log.Info("analysis result dropped", zap.String("user_id", userID), zap.String("script_id", id), zap.String("kind", string(p.Result.Kind)))
		}
		return nil, err
	}
	return s, nil
}

// Delete removes the script and its results. When it was active, the most
// recently updated remaining script becomes active, or none.
func (l *Ledger) Delete(ctx context.Context, userID, id string) error {
	if id == "" {
		return ErrNotFound
	}
	if err := l.store.Delete(ctx, userID, id); err != nil {
		return err
	}
	l.log.Info("script deleted", zap.String("user_id", userID), zap.String("script_id", id))
	return nil
}

// SetActive points the user's active script at id, or clears it when id
// is nil.
func (l *Ledger) SetActive(ctx context.Context, userID string, id *string) error {
	target := ""
	if id != nil {
		if *id == "" {
			return ErrNotFound
		}
		target = *id
	}
	return l.store.SetActive(ctx, userID, target)
}

// Active returns the active script, or nil when none is set.
func (l *Ledger) Active(ctx context.Context, userID string) (*Script, error) {
	id, err := l.store.ActiveID(ctx, userID)
	if err != nil || id == "" {
		return nil, err
	}
	s, err := l.store.Get(ctx, userID, id)
	if errors.Is(err, ErrNotFound) {
		l.log.Warn("active script pointer is dangling", zap.String("user_id", userID), zap.String("script_id", id))
		return nil, nil
	}
	return s, err
}
