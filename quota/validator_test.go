package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/dbtest"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/entitlements"
)

func newValidator(t *testing.T, grant entitlements.Grant) (*Validator, *entitlements.Repository) {
	t.Helper()
	repo := entitlements.NewRepository(dbtest.Open(t), grant)
	rules := map[string]Rule{
		"structure":       {Resource: entitlements.Credits, Cost: 1},
		"consultant_chat": {Resource: entitlements.ChatMessages, Cost: 1},
	}
	return NewValidator(repo, rules, time.Minute, nil), repo
}

func TestAdmitConsume(t *testing.T) {
	ctx := context.Background()
	v, repo := newValidator(t, entitlements.Grant{Credits: 2, ChatMessages: 1})

	ticket, err := v.Admit(ctx, "u1", "structure")
	if err != nil {
		t.Fatalf("Admit() error: %v", err)
	}
	remaining, err := v.Consume(ctx, ticket)
	if err != nil {
		t.Fatalf("Consume() error: %v", err)
	}
	if remaining != 1 {
		t.Errorf("remaining = %d, want 1", remaining)
	}
	a, _ := repo.Get(ctx, "u1")
	if a.Credits != 1 || a.ChatAllowance != 1 {
		t.Errorf("account = %+v", a)
	}
}

func TestAdmit_ExhaustedBeforeWork(t *testing.T) {
	ctx := context.Background()
	v, _ := newValidator(t, entitlements.Grant{ChatMessages: 1})

	if _, err := v.Admit(ctx, "u1", "structure"); !errors.Is(err, entitlements.ErrInsufficientCredits) {
		t.Fatalf("Admit() error = %v, want ErrInsufficientCredits", err)
	}
	first, err := v.Admit(ctx, "u1", "consultant_chat")
	if err != nil {
		t.Fatalf("Admit() chat error: %v", err)
	}
	if _, err := v.Admit(ctx, "u1", "consultant_chat"); !errors.Is(err, entitlements.ErrInsufficientCredits) {
		t.Fatalf("second chat Admit() error = %v", err)
	}
	v.Cancel(first)
	if _, err := v.Admit(ctx, "u1", "consultant_chat"); err != nil {
		t.Fatalf("Admit() after Cancel error: %v", err)
	}
}

func TestAdmit_UnknownFlow(t *testing.T) {
	v, _ := newValidator(t, entitlements.Grant{Credits: 10})
	if _, err := v.Admit(context.Background(), "u1", "astrology"); !errors.Is(err, ErrUnknownFlow) {
		t.Fatalf("Admit() error = %v, want ErrUnknownFlow", err)
	}
}
