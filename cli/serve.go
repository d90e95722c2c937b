package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/analysis"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/api"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/billing"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/config"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/conn"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/entitlements"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/firebaseapp"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/flows"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/middleware"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/migrations"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/openai"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/quota"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/scripts"
)

const (
	holdPurgeInterval = time.Minute
	shutdownTimeout   = 15 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := conn.Open(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := migrations.Migrate(ctx, db); err != nil {
		return err
	}

	var fb *firebaseapp.App
	if cfg.ScriptStore == "firestore" || !cfg.AuthDisabled {
		if fb, err = firebaseapp.New(ctx, cfg.FirebaseProjectID, cfg.GoogleApplicationCredentials); err != nil {
			return err
		}
	}

	store, closeStore, err := scriptStore(ctx, cfg, db, fb)
	if err != nil {
		return err
	}
	defer closeStore()

	var verifier middleware.TokenVerifier
	if !cfg.AuthDisabled {
		client, err := fb.Auth(ctx)
		if err != nil {
			return err
		}
		verifier = client
	}

	if cfg.OpenAIAPIKey == "" {
		log.Warn("OPENAI_API_KEY not set; analyses will fail as provider unavailable")
	}
	gen := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, log.Named("openai"))

	specs, err := cfg.Tiers()
	if err != nil {
		return err
	}
	tiers := billing.NewTiers(specs)
	ent := entitlements.NewRepository(db, entitlements.Grant{Credits: cfg.SignupCredits, ChatMessages: cfg.SignupChatMessages})
	ledger := scripts.NewLedger(store, log.Named("scripts"))
	validator := quota.NewValidator(ent, flows.Rules(cfg.AnalysisCost, cfg.ChatCost), cfg.AnalysisTimeout+time.Minute, log)
	svc := flows.NewService(ledger, analysis.NewInvoker(gen, cfg.AnalysisTimeout, log.Named("analysis")), validator, log.Named("flows"))

	deps := api.Deps{
		Scripts:    ledger,
		Flows:      svc,
		Accounts:   ent,
		Settlement: billing.NewSettlement(db, ent, tiers, log.Named("billing")),
		Tiers:      tiers,
		Auth:       middleware.Auth(verifier, middleware.AuthConfig{Disabled: cfg.AuthDisabled, DevUser: cfg.AuthDevUser}, log.Named("auth")),
		Log:        log,
	}
	// A nil *StripeGateway must stay a nil interface.
	if gw := billing.NewStripe(billing.StripeConfig{
		SecretKey:       cfg.StripeSecretKey,
		WebhookSecret:   cfg.StripeWebhookSecret,
		SuccessURL:      cfg.StripeSuccessURL,
		CancelURL:       cfg.StripeCancelURL,
		InsecureWebhook: cfg.StripeInsecure,
	}, tiers, log.Named("stripe")); gw != nil {
		deps.Payments = gw
	} else {
		log.Warn("STRIPE_SECRET_KEY not set; checkout disabled")
	}

	go purgeHolds(ctx, ent, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(api.NewHandler(deps), cfg.ClientURL),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr), zap.String("script_store", cfg.ScriptStore), zap.String("db", cfg.DBDriver))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

func scriptStore(ctx context.Context, cfg *config.Config, db *conn.DB, fb *firebaseapp.App) (scripts.Store, func(), error) {
	if cfg.ScriptStore != "firestore" {
		return scripts.NewSQLStore(db), func() {}, nil
	}
	client, err := fb.Firestore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return scripts.NewFirestoreStore(client), func() { closeFirestore(client) }, nil
}

func closeFirestore(c *firestore.Client) { _ = c.Close() }

// purgeHolds drops holds left behind by requests that died between
// reserve and settle.
func purgeHolds(ctx context.Context, ent *entitlements.Repository, log *zap.Logger) {
	t := time.NewTicker(holdPurgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := ent.PurgeExpiredHolds(ctx)
			if err != nil {
				log.Warn("purge expired holds failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("expired holds purged", zap.Int64("count", n))
			}
		}
	}
}
