package billing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/config"
)

const whsec = "whsec_test_secret"

func testTiers() *Tiers {
	return NewTiers([]config.TierSpec{{PriceID: "price_basic", Credits: 10}})
}

func newTestGateway(t *testing.T, handler http.HandlerFunc) *StripeGateway {
	t.Helper()
	cfg := StripeConfig{
		SecretKey:     "sk_test_1234567890abcdef",
		WebhookSecret: whsec,
		SuccessURL:    "http://localhost:3000/billing/success",
		CancelURL:     "http://localhost:3000/billing/cancel",
	}
	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(srv.URL),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		})
		cfg.Backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}
	return NewStripe(cfg, testTiers(), nil)
}

func signed(t *testing.T, payload string) ([]byte, string) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: []byte(payload), Secret: whsec})
	return sp.Payload, sp.Header
}

func checkoutEvent(eventType, paymentStatus string) string {
	return `{"id":"evt_1","object":"event","api_version":"` + stripe.APIVersion + `","type":"` + eventType + `",
		"data":{"object":{"id":"cs_test_1","object":"checkout.session","amount_total":1990,"payment_status":"` + paymentStatus + `",
		"client_reference_id":"u1","metadata":{"user_id":"u1","price_id":"price_basic"}}}}`
}

func TestNewStripe_DisabledWithoutKey(t *testing.T) {
	g := NewStripe(StripeConfig{}, testTiers(), nil)
	if g != nil {
		t.Fatal("expected nil gateway")
	}
	if _, err := g.CreateCheckoutSession(context.Background(), "u1", "price_basic"); !errors.Is(err, ErrStripeDisabled) {
		t.Errorf("error = %v, want ErrStripeDisabled", err)
	}
	if _, _, err := g.ParseWebhook([]byte("{}"), ""); !errors.Is(err, ErrStripeDisabled) {
		t.Errorf("error = %v, want ErrStripeDisabled", err)
	}
}

func TestParseWebhook_SignedCheckout(t *testing.T) {
	g := newTestGateway(t, nil)
	payload, sig := signed(t, checkoutEvent("checkout.session.completed", "paid"))

	ev, ok, err := g.ParseWebhook(payload, sig)
	if err != nil || !ok {
		t.Fatalf("ParseWebhook() = %v, %v", ok, err)
	}
	want := Event{EventID: "cs_test_1", PriceID: "price_basic", UserID: "u1", Amount: 1990}
	if ev != want {
		t.Errorf("event = %+v, want %+v", ev, want)
	}
}

func TestParseWebhook_BadSignature(t *testing.T) {
	g := newTestGateway(t, nil)
	payload, _ := signed(t, checkoutEvent("checkout.session.completed", "paid"))
	if _, _, err := g.ParseWebhook(payload, "t=1,v1=deadbeef"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("error = %v, want ErrInvalidSignature", err)
	}
}

func TestParseWebhook_WithoutSecret(t *testing.T) {
	payload := []byte(checkoutEvent("checkout.session.completed", "paid"))

	g := NewStripe(StripeConfig{SecretKey: "sk_live_1234567890abcdef"}, testTiers(), nil)
	if _, _, err := g.ParseWebhook(payload, ""); !errors.Is(err, ErrWebhookUnverified) {
		t.Fatalf("error = %v, want ErrWebhookUnverified", err)
	}

	g = NewStripe(StripeConfig{SecretKey: "sk_test_1234567890abcdef", InsecureWebhook: true}, testTiers(), nil)
	ev, ok, err := g.ParseWebhook(payload, "")
	if err != nil || !ok || ev.UserID != "u1" {
		t.Errorf("insecure ParseWebhook() = %+v, %v, %v", ev, ok, err)
	}
}

func TestParseWebhook_IgnoresOtherEvents(t *testing.T) {
	g := newTestGateway(t, nil)
	cases := []string{
		checkoutEvent("payment_intent.created", "paid"),
		checkoutEvent("checkout.session.completed", "unpaid"),
	}
	for _, c := range cases {
		payload, sig := signed(t, c)
		if _, ok, err := g.ParseWebhook(payload, sig); ok || err != nil {
			t.Errorf("ParseWebhook() = %v, %v; want ignored", ok, err)
		}
	}
	payload, sig := signed(t, checkoutEvent("checkout.session.async_payment_succeeded", "paid"))
	if _, ok, err := g.ParseWebhook(payload, sig); !ok || err != nil {
		t.Errorf("async success = %v, %v; want settled", ok, err)
	}
}

func TestCreateCheckoutSession(t *testing.T) {
	var form url.Values
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cs_test_9","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_9"}`))
	})

	co, err := g.CreateCheckoutSession(context.Background(), "u1", "price_basic")
	if err != nil {
		t.Fatalf("CreateCheckoutSession() error: %v", err)
	}
	if co.SessionID != "cs_test_9" || co.URL == "" {
		t.Errorf("checkout = %+v", co)
	}
	if form.Get("mode") != "payment" || form.Get("metadata[user_id]") != "u1" || form.Get("metadata[price_id]") != "price_basic" {
		t.Errorf("form = %v", form)
	}
	if _, err := g.CreateCheckoutSession(context.Background(), "u1", "price_gold"); !errors.Is(err, ErrUnknownPriceTier) {
		t.Errorf("unknown tier error = %v", err)
	}
}

func TestCreateCheckoutSession_InvalidKeyShortCircuits(t *testing.T) {
	calls := 0
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"Invalid API Key provided: sk_test_****"}}`))
	})
	for i := 0; i < 2; i++ {
		if _, err := g.CreateCheckoutSession(context.Background(), "u1", "price_basic"); !errors.Is(err, ErrStripeInvalidAPIKey) {
			t.Fatalf("error = %v, want ErrStripeInvalidAPIKey", err)
		}
	}
	if calls != 1 {
		t.Errorf("stripe calls = %d, want 1", calls)
	}
}

func TestConfirmSession(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","status":"complete","payment_status":"paid",
			"amount_total":1990,"metadata":{"user_id":"u1","price_id":"price_basic"}}`))
	})
	ev, ok, err := g.ConfirmSession(context.Background(), "u1", "cs_test_1")
	if err != nil || !ok || ev.EventID != "cs_test_1" {
		t.Fatalf("ConfirmSession() = %+v, %v, %v", ev, ok, err)
	}
	if _, _, err := g.ConfirmSession(context.Background(), "u2", "cs_test_1"); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("foreign session error = %v", err)
	}
}
