package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/analysis"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/billing"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/config"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/dbtest"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/entitlements"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/flows"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/middleware"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/quota"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/scripts"
)

const (
	whsec          = "whsec_api_test"
	structureReply = `{"acts":[{"name":"Ato I","summary":"início","score":9},{"name":"Ato II","summary":"meio","score":7}],"plot_points":[],"strengths":[],"weaknesses":[]}`
)

type stubGenerator struct {
	mu    sync.Mutex
	reply string
	// during runs inside the provider call when set.
	during func()
}

func (g *stubGenerator) set(reply string) {
	g.mu.Lock()
	g.reply = reply
	g.mu.Unlock()
}

func (g *stubGenerator) Generate(context.Context, analysis.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.during != nil {
		g.during()
	}
	return g.reply, nil
}

type fakePayments struct {
	checkout *billing.Checkout
	confirm  billing.Event
	paid     bool
}

func (f *fakePayments) CreateCheckoutSession(_ context.Context, userID, priceID string) (*billing.Checkout, error) {
	if priceID != "price_basic" {
		return nil, billing.ErrUnknownPriceTier
	}
	return f.checkout, nil
}

func (f *fakePayments) ConfirmSession(_ context.Context, userID, sessionID string) (billing.Event, bool, error) {
	return f.confirm, f.paid, nil
}

func (f *fakePayments) ParseWebhook([]byte, string) (billing.Event, bool, error) {
	return billing.Event{}, false, nil
}

func (f *fakePayments) DescribeTiers(context.Context) []billing.PriceTier {
	return []billing.PriceTier{{PriceID: "price_basic", Credits: 10, UnitAmount: 1990, Currency: "brl"}}
}

type server struct {
	t   *testing.T
	r   *gin.Engine
	ent *entitlements.Repository
	gen *stubGenerator
}

// tick advances a second per call so script ordering is strict.
func tick() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

// newServer wires the real services over SQLite. Authentication runs in
// development mode: the X-Dev-User header picks the caller.
func newServer(t *testing.T, payments func(tiers *billing.Tiers) Payments) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := dbtest.Open(t)
	ent := entitlements.NewRepository(db, entitlements.Grant{Credits: 1, ChatMessages: 1})
	ledger := scripts.NewLedger(scripts.NewSQLStore(db), nil)
	ledger.SetClock(tick())
	gen := &stubGenerator{reply: structureReply}
	svc := flows.NewService(ledger,
		analysis.NewInvoker(gen, time.Second, nil),
		quota.NewValidator(ent, flows.Rules(1, 1), time.Minute, nil), nil)
	tiers := billing.NewTiers([]config.TierSpec{{PriceID: "price_basic", Credits: 10}})

	d := Deps{
		Scripts:    ledger,
		Flows:      svc,
		Accounts:   ent,
		Settlement: billing.NewSettlement(db, ent, tiers, nil),
		Tiers:      tiers,
		Auth:       middleware.Auth(nil, middleware.AuthConfig{Disabled: true, DevUser: "u1"}, nil),
	}
	if payments != nil {
		d.Payments = payments(tiers)
	}
	return &server{t: t, r: NewRouter(NewHandler(d), ""), ent: ent, gen: gen}
}

func (s *server) do(method, path, user string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.DevUserHeader, user)
	}
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func newScript(name string) gin.H {
	return gin.H{"name": name, "format": "feature", "genre": "drama", "content": "INT. CASA - DIA\nMaria abre a porta."}
}

func TestHealthAndMe(t *testing.T) {
	s := newServer(t, nil)
	if w := s.do(http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
	w := s.do(http.MethodGet, "/me", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me = %d %s", w.Code, w.Body)
	}
	a := decode[entitlements.Account](t, w)
	if a.UserID != "u1" || a.Credits != 1 || a.ChatAllowance != 1 {
		t.Errorf("account = %+v", a)
	}
}

func TestScriptsLifecycle(t *testing.T) {
	s := newServer(t, nil)

	w := s.do(http.MethodPost, "/scripts", "", newScript("Primeiro"))
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body)
	}
	first := decode[scripts.Script](t, w)
	second := decode[scripts.Script](t, s.do(http.MethodPost, "/scripts", "", newScript("Segundo")))

	active := decode[scripts.Script](t, s.do(http.MethodGet, "/scripts/active", "", nil))
	if active.ID != second.ID {
		t.Errorf("active = %s, want newest %s", active.ID, second.ID)
	}
	if w := s.do(http.MethodPut, "/scripts/active", "", gin.H{"script_id": first.ID}); w.Code != http.StatusOK {
		t.Fatalf("set active = %d %s", w.Code, w.Body)
	}

	w = s.do(http.MethodPatch, "/scripts/"+first.ID, "", gin.H{"name": "Primeiro, revisto"})
	if w.Code != http.StatusOK || decode[scripts.Script](t, w).Name != "Primeiro, revisto" {
		t.Fatalf("patch = %d %s", w.Code, w.Body)
	}
	if w := s.do(http.MethodPatch, "/scripts/"+first.ID, "", gin.H{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty patch = %d", w.Code)
	}

	list := decode[struct{ Data []scripts.Script }](t, s.do(http.MethodGet, "/scripts", "", nil))
	if len(list.Data) != 2 || list.Data[0].ID != first.ID {
		t.Errorf("list = %+v", list.Data)
	}

	// Other users see nothing.
	if w := s.do(http.MethodGet, "/scripts/"+first.ID, "u2", nil); w.Code != http.StatusNotFound {
		t.Errorf("foreign get = %d", w.Code)
	}

	if w := s.do(http.MethodDelete, "/scripts/"+first.ID, "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d %s", w.Code, w.Body)
	}
	if w := s.do(http.MethodGet, "/scripts/"+first.ID, "", nil); w.Code != http.StatusNotFound {
		t.Errorf("get deleted = %d", w.Code)
	}
	active = decode[scripts.Script](t, s.do(http.MethodGet, "/scripts/active", "", nil))
	if active.ID != second.ID {
		t.Errorf("active after delete = %s, want %s", active.ID, second.ID)
	}

	if w := s.do(http.MethodPut, "/scripts/active", "", gin.H{"script_id": nil}); w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "null" {
		t.Errorf("clear active = %d %s", w.Code, w.Body)
	}
}

func TestUploadScript(t *testing.T) {
	s := newServer(t, nil)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("genre", "comédia")
	fw, _ := mw.CreateFormFile("file", "a_festa.fountain")
	fw.Write([]byte("\ufeffEXT. PRAÇA - NOITE\r\nTodos dançam.\r\n"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/scripts/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d %s", w.Code, w.Body)
	}
	sc := decode[scripts.Script](t, w)
	if sc.Name != "a_festa" || sc.Format != scripts.Feature || sc.Content != "EXT. PRAÇA - NOITE\nTodos dançam." {
		t.Errorf("script = %+v", sc)
	}

	rejected := map[string][]byte{
		"roteiro.docx": []byte("PK"),
		"roteiro.txt":  {0xff, 0xfe, 0x41},
		"roteiro.pdf":  []byte("%PDF-1.4 not really"),
	}
	for name, data := range rejected {
		body.Reset()
		mw = multipart.NewWriter(&body)
		fw, _ = mw.CreateFormFile("file", name)
		fw.Write(data)
		mw.Close()
		req = httptest.NewRequest(http.MethodPost, "/scripts/upload", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w = httptest.NewRecorder()
		s.r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s upload = %d %s", name, w.Code, w.Body)
		}
	}
}

func TestRunAnalysis(t *testing.T) {
	s := newServer(t, nil)

	if w := s.do(http.MethodPost, "/analyses/structure", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("no active script = %d", w.Code)
	}
	s.do(http.MethodPost, "/scripts", "", newScript("O Sertão"))

	if w := s.do(http.MethodPost, "/analyses/budget", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown kind = %d", w.Code)
	}
	s.gen.set(`{"acts":"nope"}`)
	if w := s.do(http.MethodPost, "/analyses/structure", "", nil); w.Code != http.StatusBadGateway {
		t.Errorf("malformed = %d", w.Code)
	}
	if w := s.do(http.MethodPost, "/analyses/swot", "", gin.H{"params": gin.H{"budget": "x"}}); w.Code != http.StatusBadRequest {
		t.Errorf("bad params = %d", w.Code)
	}

	s.gen.set(structureReply)
	w := s.do(http.MethodPost, "/analyses/structure", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("run = %d %s", w.Code, w.Body)
	}
	run := decode[flows.Run](t, w)
	if run.Balance != 0 || !run.Charged || len(run.Script.AnalysisResults) != 1 {
		t.Errorf("run = %+v", run)
	}
	if w := s.do(http.MethodPost, "/analyses/structure", "", nil); w.Code != http.StatusPaymentRequired {
		t.Errorf("exhausted = %d", w.Code)
	}

	offers := decode[struct{ Data []flows.Offer }](t, s.do(http.MethodGet, "/analyses", "", nil))
	if len(offers.Data) != len(analysis.Definitions()) {
		t.Errorf("catalogue = %d entries", len(offers.Data))
	}
}

func TestRunAnalysis_StoredButNotCharged(t *testing.T) {
	s := newServer(t, nil)
	sc := decode[scripts.Script](t, s.do(http.MethodPost, "/scripts", "", newScript("Vento")))
	s.gen.during = func() {
		s.ent.SetClock(func() time.Time { return time.Now().Add(time.Hour) })
		defer s.ent.SetClock(time.Now)
		if _, err := s.ent.PurgeExpiredHolds(context.Background()); err != nil {
			t.Errorf("PurgeExpiredHolds() error: %v", err)
		}
	}

	w := s.do(http.MethodPost, "/analyses/structure", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("run = %d %s", w.Code, w.Body)
	}
	run := decode[flows.Run](t, w)
	if run.Charged || len(run.Result) == 0 || run.Script.ID != sc.ID {
		t.Errorf("run = %+v", run)
	}
	if a, _ := s.ent.Get(context.Background(), "u1"); a.Credits != 1 {
		t.Errorf("credits = %d, want 1", a.Credits)
	}
}

func TestChat(t *testing.T) {
	s := newServer(t, nil)
	s.gen.set(`{"reply":"Comece pelo conflito."}`)
	msgs := gin.H{"messages": []gin.H{{"role": "user", "content": "Por onde começo?"}}}

	if w := s.do(http.MethodPost, "/chat", "", gin.H{"messages": []gin.H{}}); w.Code != http.StatusBadRequest {
		t.Errorf("empty chat = %d", w.Code)
	}

	w := s.do(http.MethodPost, "/chat", "", msgs)
	if w.Code != http.StatusOK {
		t.Fatalf("chat = %d %s", w.Code, w.Body)
	}
	if out := decode[flows.ChatReply](t, w); out.Reply != "Comece pelo conflito." || out.Balance != 0 {
		t.Errorf("reply = %+v", out)
	}
	if w := s.do(http.MethodPost, "/chat", "", msgs); w.Code != http.StatusPaymentRequired {
		t.Errorf("exhausted chat = %d", w.Code)
	}
	if w := s.do(http.MethodPost, "/chat", "", gin.H{"messages": []gin.H{}}); w.Code != http.StatusBadRequest {
		t.Errorf("empty chat = %d", w.Code)
	}
}

func stripeGateway(tiers *billing.Tiers) Payments {
	return billing.NewStripe(billing.StripeConfig{SecretKey: "sk_test_api_0123456789", WebhookSecret: whsec}, tiers, nil)
}

func signedCheckout(t *testing.T, sessionID, user string) (string, string) {
	t.Helper()
	payload := `{"id":"evt_` + sessionID + `","object":"event","api_version":"` + stripe.APIVersion + `","type":"checkout.session.completed",
		"data":{"object":{"id":"` + sessionID + `","object":"checkout.session","payment_status":"paid","amount_total":1990,
		"metadata":{"user_id":"` + user + `","price_id":"price_basic"}}}}`
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: []byte(payload), Secret: whsec})
	return string(sp.Payload), sp.Header
}

func TestStripeWebhook(t *testing.T) {
	s := newServer(t, stripeGateway)
	payload, sig := signedCheckout(t, "cs_api_1", "buyer")

	post := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/billing/webhook", strings.NewReader(payload))
		req.Header.Set("Stripe-Signature", sig)
		w := httptest.NewRecorder()
		s.r.ServeHTTP(w, req)
		return w
	}

	if w := post("t=1,v1=00"); w.Code != http.StatusBadRequest {
		t.Errorf("bad signature = %d", w.Code)
	}
	for _, want := range []billing.Outcome{billing.Applied, billing.AlreadyApplied} {
		w := post(sig)
		if w.Code != http.StatusOK {
			t.Fatalf("webhook = %d %s", w.Code, w.Body)
		}
		if got := decode[struct{ Status billing.Outcome }](t, w).Status; got != want {
			t.Errorf("status = %s, want %s", got, want)
		}
	}
	a, err := s.ent.Get(context.Background(), "buyer")
	if err != nil || a.Credits != 11 {
		t.Errorf("buyer = %+v, %v; want 11 credits", a, err)
	}
}

func TestStripeWebhook_UnsignedRefusedWithoutSecret(t *testing.T) {
	s := newServer(t, func(tiers *billing.Tiers) Payments {
		return billing.NewStripe(billing.StripeConfig{SecretKey: "sk_live_api_0123456789"}, tiers, nil)
	})
	payload, _ := signedCheckout(t, "cs_forged", "intruder")

	w := s.do(http.MethodPost, "/billing/webhook", "", payload)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unsigned webhook = %d %s", w.Code, w.Body)
	}
	a, err := s.ent.Ensure(context.Background(), "intruder")
	if err != nil || a.Credits != 1 {
		t.Errorf("intruder = %+v, %v; want the signup grant only", a, err)
	}
}

func TestBillingWithoutStripe(t *testing.T) {
	s := newServer(t, nil)
	tiers := decode[struct{ Data []billing.PriceTier }](t, s.do(http.MethodGet, "/billing/tiers", "", nil))
	if len(tiers.Data) != 1 || tiers.Data[0].Credits != 10 {
		t.Errorf("tiers = %+v", tiers.Data)
	}
	if w := s.do(http.MethodPost, "/billing/checkout", "", gin.H{"price_id": "price_basic"}); w.Code != http.StatusServiceUnavailable {
		t.Errorf("checkout = %d", w.Code)
	}
	if w := s.do(http.MethodPost, "/billing/webhook", "", "{}"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("webhook = %d", w.Code)
	}
}

func TestCheckoutAndConfirm(t *testing.T) {
	fake := &fakePayments{
		checkout: &billing.Checkout{SessionID: "cs_9", URL: "https://checkout.stripe.com/c/pay/cs_9"},
		confirm:  billing.Event{EventID: "cs_9", PriceID: "price_basic", UserID: "u1", Amount: 1990},
	}
	s := newServer(t, func(*billing.Tiers) Payments { return fake })

	w := s.do(http.MethodPost, "/billing/checkout", "", gin.H{"price_id": "price_basic"})
	if w.Code != http.StatusOK || decode[billing.Checkout](t, w).URL == "" {
		t.Fatalf("checkout = %d %s", w.Code, w.Body)
	}
	if w := s.do(http.MethodPost, "/billing/checkout", "", gin.H{"price_id": "price_gold"}); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown tier = %d", w.Code)
	}
	if w := s.do(http.MethodPost, "/billing/checkout", "", gin.H{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing price = %d", w.Code)
	}

	if w := s.do(http.MethodPost, "/billing/confirm", "", gin.H{"session_id": "cs_9"}); w.Code != http.StatusAccepted {
		t.Errorf("unpaid confirm = %d", w.Code)
	}
	fake.paid = true
	for i := 0; i < 2; i++ {
		w := s.do(http.MethodPost, "/billing/confirm", "", gin.H{"session_id": "cs_9"})
		if w.Code != http.StatusOK {
			t.Fatalf("confirm = %d %s", w.Code, w.Body)
		}
	}
	a, _ := s.ent.Get(context.Background(), "u1")
	if a.Credits != 11 {
		t.Errorf("credits = %d, want 11", a.Credits)
	}

	tiers := decode[struct{ Data []billing.PriceTier }](t, s.do(http.MethodGet, "/billing/tiers", "", nil))
	if len(tiers.Data) != 1 || tiers.Data[0].Currency != "brl" {
		t.Errorf("tiers = %+v", tiers.Data)
	}
}
