package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the backend.
type Config struct {
	Port      string `mapstructure:"PORT"`
	GinMode   string `mapstructure:"GIN_MODE"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	ClientURL string `mapstructure:"CLIENT_URL"`

	DBDriver   string `mapstructure:"DB_DRIVER"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBName     string `mapstructure:"DB_NAME"`
	SQLitePath string `mapstructure:"SQLITE_PATH"`

	ScriptStore                  string `mapstructure:"SCRIPT_STORE"`
	FirebaseProjectID            string `mapstructure:"FIREBASE_PROJECT_ID"`
	GoogleApplicationCredentials string `mapstructure:"GOOGLE_APPLICATION_CREDENTIALS"`
	AuthDisabled                 bool   `mapstructure:"AUTH_DISABLED"`
	AuthDevUser                  string `mapstructure:"AUTH_DEV_USER"`

	OpenAIAPIKey    string        `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL   string        `mapstructure:"OPENAI_BASE_URL"`
	OpenAIModel     string        `mapstructure:"OPENAI_MODEL"`
	AnalysisTimeout time.Duration `mapstructure:"ANALYSIS_TIMEOUT"`
	AnalysisCost    int           `mapstructure:"ANALYSIS_COST"`
	ChatCost        int           `mapstructure:"CHAT_COST"`

	SignupCredits      int `mapstructure:"SIGNUP_CREDITS"`
	SignupChatMessages int `mapstructure:"SIGNUP_CHAT_MESSAGES"`

	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	StripeInsecure      bool   `mapstructure:"STRIPE_WEBHOOK_INSECURE"`
	StripeSuccessURL    string `mapstructure:"STRIPE_SUCCESS_URL"`
	StripeCancelURL     string `mapstructure:"STRIPE_CANCEL_URL"`
	PriceTiers          string `mapstructure:"BILLING_PRICE_TIERS"`
}

// TierSpec is one entry of BILLING_PRICE_TIERS.
type TierSpec struct {
	PriceID      string
	Credits      int
	ChatMessages int
}

var keys = []string{
	"PORT", "GIN_MODE", "LOG_LEVEL", "CLIENT_URL",
	"DB_DRIVER", "DB_USER", "DB_PASSWORD", "DB_HOST", "DB_PORT", "DB_NAME", "SQLITE_PATH",
	"SCRIPT_STORE", "FIREBASE_PROJECT_ID", "GOOGLE_APPLICATION_CREDENTIALS", "AUTH_DISABLED", "AUTH_DEV_USER",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL", "ANALYSIS_TIMEOUT", "ANALYSIS_COST", "CHAT_COST",
	"SIGNUP_CREDITS", "SIGNUP_CHAT_MESSAGES",
	"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET", "STRIPE_WEBHOOK_INSECURE", "STRIPE_SUCCESS_URL", "STRIPE_CANCEL_URL", "BILLING_PRICE_TIERS",
}

// Load reads an optional .env file and then the process environment.
// Files listed in envFiles that do not exist are skipped.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_DRIVER", "mysql")
	v.SetDefault("DB_PORT", "3306")
	v.SetDefault("SQLITE_PATH", "roteirista.db")
	v.SetDefault("SCRIPT_STORE", "sql")
	v.SetDefault("AUTH_DEV_USER", "dev-user")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("ANALYSIS_TIMEOUT", "60s")
	v.SetDefault("ANALYSIS_COST", 1)
	v.SetDefault("CHAT_COST", 1)
	v.SetDefault("SIGNUP_CREDITS", 3)
	v.SetDefault("SIGNUP_CHAT_MESSAGES", 20)
	v.SetDefault("STRIPE_SUCCESS_URL", "http://localhost:3000/billing/success")
	v.SetDefault("STRIPE_CANCEL_URL", "http://localhost:3000/billing/cancel")
	v.SetDefault("BILLING_PRICE_TIERS", "")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the combinations the server cannot start without.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "mysql":
		if c.DBHost == "" || c.DBName == "" {
			return errors.New("DB_HOST and DB_NAME are required when DB_DRIVER=mysql")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required when DB_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.ScriptStore {
	case "sql":
	case "firestore":
		if c.FirebaseProjectID == "" {
			return errors.New("FIREBASE_PROJECT_ID is required when SCRIPT_STORE=firestore")
		}
	default:
		return fmt.Errorf("unsupported SCRIPT_STORE %q", c.ScriptStore)
	}
	if !c.AuthDisabled && c.FirebaseProjectID == "" {
		return errors.New("FIREBASE_PROJECT_ID is required unless AUTH_DISABLED=true")
	}
	if c.GinMode == "release" && c.StripeSecretKey != "" {
		if c.StripeWebhookSecret == "" {
			return errors.New("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set in release mode")
		}
		if c.StripeInsecure {
			return errors.New("STRIPE_WEBHOOK_INSECURE is not allowed in release mode")
		}
	}
	if c.AnalysisTimeout <= 0 {
		return errors.New("ANALYSIS_TIMEOUT must be positive")
	}
	if c.AnalysisCost <= 0 || c.ChatCost <= 0 {
		return errors.New("ANALYSIS_COST and CHAT_COST must be positive")
	}
	if _, err := c.Tiers(); err != nil {
		return err
	}
	return nil
}

// Tiers parses BILLING_PRICE_TIERS: a comma separated list of
// price_id:credits or price_id:credits:chat_messages entries.
func (c *Config) Tiers() ([]TierSpec, error) {
	var out []TierSpec
	seen := map[string]bool{}
	for _, raw := range strings.Split(c.PriceTiers, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, ":")
		if len(parts) < 2 || len(parts) > 3 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid BILLING_PRICE_TIERS entry %q", raw)
		}
		spec := TierSpec{PriceID: strings.TrimSpace(parts[0])}
		n, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid credits in BILLING_PRICE_TIERS entry %q", raw)
		}
		spec.Credits = n
		if len(parts) == 3 {
			m, err := strconv.Atoi(strings.TrimSpace(parts[2]))
			if err != nil || m < 0 {
				return nil, fmt.Errorf("invalid chat messages in BILLING_PRICE_TIERS entry %q", raw)
			}
			spec.ChatMessages = m
		}
		if spec.Credits == 0 && spec.ChatMessages == 0 {
			return nil, fmt.Errorf("BILLING_PRICE_TIERS entry %q grants nothing", raw)
		}
		if seen[spec.PriceID] {
			return nil, fmt.Errorf("duplicate price id %q in BILLING_PRICE_TIERS", spec.PriceID)
		}
		seen[spec.PriceID] = true
		out = append(out, spec)
	}
	return out, nil
}
