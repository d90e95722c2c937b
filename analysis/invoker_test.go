package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeGenerator struct {
	reply string
	err   error
	block bool
	calls int
	last  Request
}

func (f *fakeGenerator) Generate(ctx context.Context, req Request) (string, error) {
	f.calls++
	f.last = req
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

const script = `{"script":{"title":"O Sertão","format":"feature","genre":"drama","content":"INT. CASA - DIA\nMaria olha pela janela."}}`

func viabilityReply(scores ...float64) string {
	type factor struct {
		Name          string  `json:"name"`
		Score         float64 `json:"score"`
		Justification string  `json:"justification"`
	}
	out := struct {
		Factors      []factor `json:"factors"`
		Verdict      string   `json:"verdict"`
		OverallScore float64  `json:"overall_score"`
	}{Verdict: "viável", OverallScore: 9.9}
	for i, s := range scores {
		out.Factors = append(out.Factors, factor{Name: ViabilityFactors[i%len(ViabilityFactors)], Score: s, Justification: "ok"})
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func TestInvoke_MarketViabilityAggregatesMean(t *testing.T) {
	gen := &fakeGenerator{reply: viabilityReply(3, 4, 2, 5, 3, 4, 2, 5)}
	inv := NewInvoker(gen, time.Second, nil)

	res, err := inv.Invoke(context.Background(), MarketViability, json.RawMessage(script))
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	out := res.Output.(*MarketViabilityResult)
	if out.OverallScore != 3.5 {
		t.Errorf("overall_score = %v, want 3.5", out.OverallScore)
	}
	var stored map[string]any
	if err := json.Unmarshal(res.Payload, &stored); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if stored["overall_score"] != 3.5 {
		t.Errorf("stored overall_score = %v", stored["overall_score"])
	}
	if gen.calls != 1 {
		t.Errorf("provider calls = %d, want 1", gen.calls)
	}
	if !strings.Contains(gen.last.Messages[0].Content, "O Sertão") {
		t.Error("prompt does not carry the script")
	}
}

func TestInvoke_InvalidInputSkipsProvider(t *testing.T) {
	cases := map[string]string{
		"empty":         ``,
		"no content":    `{"script":{"title":"x","format":"feature"}}`,
		"bad format":    `{"script":{"title":"x","format":"novel","content":"abc"}}`,
		"unknown field": `{"script":{"title":"x","format":"feature","content":"abc"},"extra":1}`,
		"trailing data": `{"script":{"title":"x","format":"feature","content":"abc"}}garbage`,
		"two objects":   `{"script":{"title":"x","format":"feature","content":"abc"}} {}`,
		"stray brace":   `{"script":{"title":"x","format":"feature","content":"abc"}}}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			gen := &fakeGenerator{reply: "{}"}
			inv := NewInvoker(gen, time.Second, nil)
			_, err := inv.Invoke(context.Background(), Structure, json.RawMessage(in))
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("error = %v, want ErrInvalidInput", err)
			}
			if gen.calls != 0 {
				t.Errorf("provider called %d times", gen.calls)
			}
		})
	}
}

func TestValidate_AllowsTrailingWhitespace(t *testing.T) {
	inv := NewInvoker(&fakeGenerator{}, time.Second, nil)
	in := json.RawMessage("{\"script\":{\"title\":\"x\",\"format\":\"feature\",\"content\":\"abc\"}}\n\t ")
	if err := inv.Validate(Structure, in); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestInvoke_UnknownKind(t *testing.T) {
	inv := NewInvoker(&fakeGenerator{}, time.Second, nil)
	if _, err := inv.Invoke(context.Background(), Kind("horoscope"), json.RawMessage(script)); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("error = %v, want ErrUnknownKind", err)
	}
}

func TestInvoke_MalformedResult(t *testing.T) {
	cases := map[string]string{
		"not json":      "desculpe, não consigo",
		"blank":         "   ",
		"seven factors": viabilityReply(3, 4, 2, 5, 3, 4, 2),
		"out of range":  viabilityReply(3, 4, 2, 5, 3, 4, 2, 9),
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			inv := NewInvoker(&fakeGenerator{reply: reply}, time.Second, nil)
			_, err := inv.Invoke(context.Background(), MarketViability, json.RawMessage(script))
			if !errors.Is(err, ErrMalformedResult) {
				t.Fatalf("error = %v, want ErrMalformedResult", err)
			}
		})
	}
}

func TestInvoke_ProviderFailure(t *testing.T) {
	inv := NewInvoker(&fakeGenerator{err: errors.New("503 from upstream")}, time.Second, nil)
	if _, err := inv.Invoke(context.Background(), SWOT, json.RawMessage(script)); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("error = %v, want ErrProviderUnavailable", err)
	}
}

func TestInvoke_Timeout(t *testing.T) {
	gen := &fakeGenerator{block: true}
	inv := NewInvoker(gen, 20*time.Millisecond, nil)
	start := time.Now()
	_, err := inv.Invoke(context.Background(), Structure, json.RawMessage(script))
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("error = %v, want ErrProviderUnavailable", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout not enforced")
	}
}

func TestInvoke_CodeFencedReply(t *testing.T) {
	reply := "```json\n{\"acts\":[{\"name\":\"I\",\"summary\":\"s\",\"score\":7},{\"name\":\"II\",\"summary\":\"s\",\"score\":8}],\"overall_score\":1}\n```"
	inv := NewInvoker(&fakeGenerator{reply: reply}, time.Second, nil)
	res, err := inv.Invoke(context.Background(), Structure, json.RawMessage(script))
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	if got := res.Output.(*StructureResult).OverallScore; got != 7.5 {
		t.Errorf("overall_score = %v, want 7.5", got)
	}
}

func TestInvoke_ChatPassesConversation(t *testing.T) {
	gen := &fakeGenerator{reply: `{"reply":"Corte a cena 3."}`}
	inv := NewInvoker(gen, time.Second, nil)
	in := `{"script":{"title":"O Sertão","format":"feature","content":"abc"},
		"messages":[{"role":"user","content":"oi"},{"role":"assistant","content":"olá"},{"role":"user","content":"e o ritmo?"}]}`

	res, err := inv.Invoke(context.Background(), ConsultantChat, json.RawMessage(in))
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	if res.Output.(*ChatResult).Reply != "Corte a cena 3." {
		t.Errorf("reply = %+v", res.Output)
	}
	if len(gen.last.Messages) != 3 || gen.last.Messages[2].Content != "e o ritmo?" {
		t.Errorf("messages = %+v", gen.last.Messages)
	}
	if !strings.Contains(gen.last.System, "O Sertão") {
		t.Error("system prompt lacks script context")
	}

	bad := `{"messages":[{"role":"user","content":"oi"},{"role":"assistant","content":"olá"}]}`
	if _, err := inv.Invoke(context.Background(), ConsultantChat, json.RawMessage(bad)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("assistant-last conversation error = %v", err)
	}
}

func TestMean(t *testing.T) {
	cases := []struct {
		in   []float64
		want float64
	}{
		{nil, 0},
		{[]float64{3, 4, 2, 5, 3, 4, 2, 5}, 3.5},
		{[]float64{1, 2, 2}, 1.67},
		{[]float64{10}, 10},
		{[]float64{4.125, 4.125}, 4.13},
		{[]float64{1, 1.01}, 1.01},
		{[]float64{2.675}, 2.68},
	}
	for _, c := range cases {
		if got := Mean(c.in); got != c.want {
			t.Errorf("Mean(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestRound2(t *testing.T) {
	cases := map[float64]float64{1.005: 1.01, 1.004: 1, 2.675: 2.68, -1.005: -1.01, 7: 7}
	for in, want := range cases {
		if got := Round2(in); got != want {
			t.Errorf("Round2(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestDefinitions_RenderAndDescribe(t *testing.T) {
	seen := map[Kind]bool{}
	for _, d := range Definitions() {
		if seen[d.Kind] {
			t.Fatalf("duplicate kind %s", d.Kind)
		}
		seen[d.Kind] = true
		if _, ok := Lookup(d.Kind); !ok {
			t.Errorf("Lookup(%s) failed", d.Kind)
		}
		if !strings.HasPrefix(d.Schema(), "{") {
			t.Errorf("%s schema = %q", d.Kind, d.Schema())
		}
		if _, err := d.request(d.newInput()); err != nil {
			t.Errorf("%s prompt render: %v", d.Kind, err)
		}
	}
	if len(seen) != 8 {
		t.Errorf("kinds = %d, want 8", len(seen))
	}
}
