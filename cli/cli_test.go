package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/config"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out.String()
}

func TestAdminCommands(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("AUTH_DISABLED", "true")
	t.Setenv("SIGNUP_CREDITS", "3")

	if out := run(t, "migrate"); !strings.Contains(out, "schema up to date") {
		t.Errorf("migrate output = %q", out)
	}
	out := run(t, "grant", "u1", "--credits", "5", "--chat", "10")
	if !strings.Contains(out, "u1 credits: 8") || !strings.Contains(out, "u1 chat_messages: 30") {
		t.Errorf("grant output = %q", out)
	}
	if out := run(t, "unlimited", "u1"); !strings.Contains(out, "unlimited=true") {
		t.Errorf("unlimited output = %q", out)
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := newLogger(&config.Config{LogLevel: "debug", GinMode: "release"}); err != nil {
		t.Errorf("newLogger() error: %v", err)
	}
	if _, err := newLogger(&config.Config{LogLevel: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}
