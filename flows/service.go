// Package flows runs paid analyses end to end: resolve the script, hold
// the cost, invoke the model, persist the result and only then charge.
package flows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/analysis"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/entitlements"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/quota"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/scripts"
)

var (
	ErrNoActiveScript = errors.New("no active script")
	// ErrNotCharged means the work succeeded and was stored but the hold
	// could not be settled. The result is still returned.
	ErrNotCharged = errors.New("analysis stored but not charged")
)

type Ledger interface {
	Get(ctx context.Context, userID, id string) (*scripts.Script, error)
	Active(ctx context.Context, userID string) (*scripts.Script, error)
	Update(ctx context.Context, userID, id string, p scripts.Patch) (*scripts.Script, error)
}

type Invoker interface {
	Validate(kind analysis.Kind, input json.RawMessage) error
	Invoke(ctx context.Context, kind analysis.Kind, input json.RawMessage) (*analysis.Result, error)
}

type Quota interface {
	Rule(flow string) (quota.Rule, bool)
	Admit(ctx context.Context, userID, flow string) (*quota.Ticket, error)
	Consume(ctx context.Context, t *quota.Ticket) (int, error)
	Cancel(t *quota.Ticket)
}

// settleTimeout bounds the steps after the provider returned. They run
// detached from the request so a client hanging up does not strand a
// stored result uncharged.
const settleTimeout = 10 * time.Second

type Service struct {
	ledger  Ledger
	invoker Invoker
	quota   Quota
	log     *zap.Logger
}

func NewService(ledger Ledger, invoker Invoker, q Quota, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{ledger: ledger, invoker: invoker, quota: q, log: log}
}

// Rules prices every analysis kind: its resource from the catalogue and
// the configured cost for that resource.
func Rules(analysisCost, chatCost int) map[string]quota.Rule {
	rules := map[string]quota.Rule{}
	for _, d := range analysis.Definitions() {
		cost := analysisCost
		if d.Resource == entitlements.ChatMessages {
			cost = chatCost
		}
		rules[string(d.Kind)] = quota.Rule{Resource: d.Resource, Cost: cost}
	}
	return rules
}

// Offer is a catalogue entry.
type Offer struct {
	*analysis.Definition
	Cost int `json:"cost"`
}

func (s *Service) Catalogue() []Offer {
	defs := analysis.Definitions()
	out := make([]Offer, 0, len(defs))
	for _, d := range defs {
		rule, _ := s.quota.Rule(string(d.Kind))
		out = append(out, Offer{Definition: d, Cost: rule.Cost})
	}
	return out
}

type Run struct {
	Script  *scripts.Script `json:"script"`
	Kind    analysis.Kind   `json:"kind"`
	Result  json.RawMessage `json:"result"`
	Balance int             `json:"balance"`
	Charged bool            `json:"charged"`
}

// Run analyses scriptID, or the active script when scriptID is empty.
// params carries the kind's extra fields; the script is filled in here.
func (s *Service) Run(ctx context.Context, userID string, kind analysis.Kind, scriptID string, params json.RawMessage) (*Run, error) {
	if kind == analysis.ConsultantChat {
		return nil, fmt.Errorf("%w: %q is a conversation", analysis.ErrUnknownKind, kind)
	}
	if _, ok := analysis.Lookup(kind); !ok {
		return nil, fmt.Errorf("%w: %q", analysis.ErrUnknownKind, kind)
	}
	sc, err := s.resolve(ctx, userID, scriptID, true)
	if err != nil {
		return nil, err
	}
	input, err := withScript(params, sc)
	if err != nil {
		return nil, err
	}
	if err := s.invoker.Validate(kind, input); err != nil {
		return nil, err
	}

	ticket, err := s.quota.Admit(ctx, userID, string(kind))
	if err != nil {
		return nil, err
	}
	res, err := s.invoker.Invoke(ctx, kind, input)
	if err != nil {
		s.quota.Cancel(ticket)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	updated, err := s.ledger.Update(ctx, userID, sc.ID, scripts.Patch{
		Result: &scripts.ResultPatch{Kind: kind, Payload: res.Payload},
	})
	if err != nil {
		s.quota.Cancel(ticket)
		return nil, err
	}
	run := &Run{Script: updated, Kind: kind, Result: res.Payload}
	run.Balance, err = s.quota.Consume(ctx, ticket)
	if err != nil {
		s.log.Error("analysis stored without charge",
			zap.String("user_id", userID), zap.String("script_id", sc.ID), zap.String("kind", string(kind)), zap.Error(err))
		return run, fmt.Errorf("%w: %v", ErrNotCharged, err)
	}
	run.Charged = true
	return run, nil
}

type ChatReply struct {
	Reply   string `json:"reply"`
	Balance int    `json:"balance"`
	Charged bool   `json:"charged"`
}

// Chat answers the last user message of the conversation. The active
// script, when there is one, is given to the model as context. Nothing is
// written to the script ledger.
func (s *Service) Chat(ctx context.Context, userID string, messages []analysis.ChatMessage, scriptID string) (*ChatReply, error) {
	sc, err := s.resolve(ctx, userID, scriptID, false)
	if err != nil {
		return nil, err
	}
	in := analysis.ChatInput{Messages: messages}
	if sc != nil {
		si := scriptInput(sc)
		in.Script = &si
	}
	input, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	if err := s.invoker.Validate(analysis.ConsultantChat, input); err != nil {
		return nil, err
	}

	ticket, err := s.quota.Admit(ctx, userID, string(analysis.ConsultantChat))
	if err != nil {
		return nil, err
	}
	res, err := s.invoker.Invoke(ctx, analysis.ConsultantChat, input)
	if err != nil {
		s.quota.Cancel(ticket)
		return nil, err
	}
	out := &ChatReply{Reply: res.Output.(*analysis.ChatResult).Reply}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	out.Balance, err = s.quota.Consume(ctx, ticket)
	if err != nil {
		s.log.Error("chat answered without charge", zap.String("user_id", userID), zap.Error(err))
		return out, fmt.Errorf("%w: %v", ErrNotCharged, err)
	}
	out.Charged = true
	return out, nil
}

func (s *Service) resolve(ctx context.Context, userID, scriptID string, required bool) (*scripts.Script, error) {
	if scriptID != "" {
		return s.ledger.Get(ctx, userID, scriptID)
	}
	sc, err := s.ledger.Active(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sc == nil && required {
		return nil, ErrNoActiveScript
	}
	return sc, nil
}

func scriptInput(sc *scripts.Script) analysis.ScriptInput {
	return analysis.ScriptInput{
		Title:   sc.Name,
		Format:  string(sc.Format),
		Genre:   sc.Genre,
		Content: sc.Content,
	}
}

// withScript merges the script into the caller's parameter object.
func withScript(params json.RawMessage, sc *scripts.Script) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &fields); err != nil {
			return nil, fmt.Errorf("%w: params must be a JSON object", analysis.ErrInvalidInput)
		}
	}
	if _, ok := fields["script"]; ok {
		return nil, fmt.Errorf("%w: params must not carry the script", analysis.ErrInvalidInput)
	}
	raw, err := json.Marshal(scriptInput(sc))
	if err != nil {
		return nil, err
	}
	fields["script"] = raw
	return json.Marshal(fields)
}
