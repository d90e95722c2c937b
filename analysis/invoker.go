// Package analysis turns a script and kind-specific parameters into a
// validated, structured analysis produced by a language model.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/metrics"
)

var (
	ErrUnknownKind         = errors.New("unknown analysis kind")
	ErrInvalidInput        = errors.New("invalid analysis input")
	ErrMalformedResult     = errors.New("malformed analysis result")
	ErrProviderUnavailable = errors.New("analysis provider unavailable")
)

// Request is one generation call. Messages always ends with a user turn.
type Request struct {
	Kind     Kind
	System   string
	Messages []ChatMessage
}

// Generator produces the raw JSON text for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Result is a validated analysis. Payload is the JSON persisted in the
// script ledger.
type Result struct {
	Kind        Kind            `json:"kind"`
	Output      any             `json:"-"`
	Payload     json.RawMessage `json:"payload"`
	CompletedAt time.Time       `json:"completed_at"`
}

type checker interface{ check() error }

type conversation interface{ history() []ChatMessage }

func (in *ChatInput) history() []ChatMessage { return in.Messages }

type Invoker struct {
	gen      Generator
	timeout  time.Duration
	validate *validator.Validate
	log      *zap.Logger
}

func NewInvoker(gen Generator, timeout time.Duration, log *zap.Logger) *Invoker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Invoker{gen: gen, timeout: timeout, validate: validator.New(), log: log}
}

// Invoke validates input against the kind's schema, makes exactly one
// provider call and returns the validated output. It never retries and
// keeps no state between calls.
func (inv *Invoker) Invoke(ctx context.Context, kind Kind, input json.RawMessage) (*Result, error) {
	def, in, err := inv.prepare(kind, input)
	if err != nil {
		return nil, err
	}
	req, err := def.request(in)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if inv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}
	start := time.Now()
	raw, err := inv.gen.Generate(ctx, req)
	elapsed := time.Since(start)
	metrics.AnalysisDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	if err != nil {
		inv.count(kind, "unavailable")
		inv.log.Warn("analysis provider failed", zap.String("kind", string(kind)), zap.Duration("elapsed", elapsed), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	out := def.newOutput()
	if err := decodeResult(raw, out); err != nil {
		inv.count(kind, "malformed")
		inv.log.Warn("analysis result malformed", zap.String("kind", string(kind)), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	if err := inv.validate.Struct(out); err != nil {
		inv.count(kind, "malformed")
		inv.log.Warn("analysis result failed validation", zap.String("kind", string(kind)), zap.Error(err))
		return nil, fmt.Errorf("%w: %s", ErrMalformedResult, describeValidation(err))
	}
	def.finish(out)

	payload, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	inv.count(kind, "ok")
	inv.log.Info("analysis completed", zap.String("kind", string(kind)), zap.Duration("elapsed", elapsed))
	return &Result{Kind: kind, Output: out, Payload: payload, CompletedAt: time.Now().UTC()}, nil
}

// Validate checks input against the kind's schema without calling the
// provider.
func (inv *Invoker) Validate(kind Kind, input json.RawMessage) error {
	_, _, err := inv.prepare(kind, input)
	return err
}

func (inv *Invoker) prepare(kind Kind, input json.RawMessage) (*Definition, any, error) {
	def, ok := Lookup(kind)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	in := def.newInput()
	if err := decodeStrict(input, in); err != nil {
		inv.count(kind, "invalid_input")
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := inv.check(in); err != nil {
		inv.count(kind, "invalid_input")
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return def, in, nil
}

func (inv *Invoker) check(in any) error {
	if err := inv.validate.Struct(in); err != nil {
		return errors.New(describeValidation(err))
	}
	if c, ok := in.(checker); ok {
		return c.check()
	}
	return nil
}

func (inv *Invoker) count(kind Kind, outcome string) {
	metrics.AnalysisInvocations.WithLabelValues(string(kind), outcome).Inc()
}

// request renders the prompt. Conversations keep their turns and get the
// rendered script context appended to the system prompt.
func (d *Definition) request(in any) (Request, error) {
	var buf bytes.Buffer
	if err := d.prompt.Execute(&buf, in); err != nil {
		return Request{}, fmt.Errorf("render prompt: %w", err)
	}
	system := d.system + "\n\nFormato da resposta:\n" + d.Schema()
	if c, ok := in.(conversation); ok {
		if ctx := strings.TrimSpace(buf.String()); ctx != "" {
			system += "\n\n" + ctx
		}
		return Request{Kind: d.Kind, System: system, Messages: c.history()}, nil
	}
	return Request{
		Kind:     d.Kind,
		System:   system,
		Messages: []ChatMessage{{Role: "user", Content: buf.String()}},
	}, nil
}

// Schema is a JSON skeleton of the output shape, with constraints inline.
func (d *Definition) Schema() string {
	b, _ := json.MarshalIndent(skeleton(d.outType, ""), "", "  ")
	return string(b)
}

func skeleton(t reflect.Type, rules string) any {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	hint := func(name string) string {
		if rules == "" {
			return name
		}
		return name + " (" + rules + ")"
	}
	switch t.Kind() {
	case reflect.Struct:
		m := make(map[string]any, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				continue
			}
			m[name] = skeleton(f.Type, elemRules(f.Tag.Get("validate"), f.Type))
		}
		return m
	case reflect.Slice:
		return []any{skeleton(t.Elem(), "")}
	case reflect.String:
		return hint("string")
	case reflect.Bool:
		return hint("boolean")
	case reflect.Float32, reflect.Float64, reflect.Int, reflect.Int64:
		return hint("number")
	}
	return hint(t.Kind().String())
}

// elemRules keeps the numeric bounds of a scalar field's validate tag.
func elemRules(tag string, t reflect.Type) string {
	if t.Kind() == reflect.Slice || t.Kind() == reflect.Struct {
		return ""
	}
	var keep []string
	for _, r := range strings.Split(tag, ",") {
		if strings.HasPrefix(r, "gte=") || strings.HasPrefix(r, "lte=") || strings.HasPrefix(r, "oneof=") {
			keep = append(keep, r)
		}
	}
	return strings.Join(keep, ",")
}

func decodeStrict(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return errors.New("empty input")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected data after the JSON object")
	}
	return nil
}

// decodeResult tolerates a markdown code fence around the JSON body.
func decodeResult(raw string, v any) error {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if s == "" {
		return errors.New("empty response")
	}
	return json.Unmarshal([]byte(s), v)
}

func describeValidation(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		p := fe.Namespace() + " failed " + fe.Tag()
		if fe.Param() != "" {
			p += "=" + fe.Param()
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, "; ")
}
