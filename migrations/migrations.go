package migrations

import (
	"context"
	"fmt"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/conn"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS entitlements (
		user_id VARCHAR(128) NOT NULL PRIMARY KEY,
		credits INT NOT NULL DEFAULT 0,
		chat_messages INT NOT NULL DEFAULT 0,
		unlimited TINYINT(1) NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		CONSTRAINT chk_entitlements_credits CHECK (credits >= 0),
		CONSTRAINT chk_entitlements_chat CHECK (chat_messages >= 0)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS credit_holds (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		user_id VARCHAR(128) NOT NULL,
		resource VARCHAR(32) NOT NULL,
		amount INT NOT NULL,
		created_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL,
		INDEX idx_credit_holds_user (user_id, resource, expires_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS billing_events (
		event_id VARCHAR(255) NOT NULL PRIMARY KEY,
		user_id VARCHAR(128) NOT NULL,
		price_id VARCHAR(255) NOT NULL,
		credits INT NOT NULL DEFAULT 0,
		chat_messages INT NOT NULL DEFAULT 0,
		amount BIGINT NOT NULL DEFAULT 0,
		applied_at BIGINT NOT NULL,
		INDEX idx_billing_events_user (user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS scripts (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		user_id VARCHAR(128) NOT NULL,
		name VARCHAR(255) NOT NULL,
		format VARCHAR(16) NOT NULL,
		genre VARCHAR(255) NOT NULL DEFAULT '',
		content LONGTEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		INDEX idx_scripts_user (user_id, updated_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS analysis_results (
		script_id VARCHAR(36) NOT NULL,
		kind VARCHAR(32) NOT NULL,
		payload LONGTEXT NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (script_id, kind),
		FOREIGN KEY (script_id) REFERENCES scripts(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS active_scripts (
		user_id VARCHAR(128) NOT NULL PRIMARY KEY,
		script_id VARCHAR(36) NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS entitlements (
		user_id TEXT NOT NULL PRIMARY KEY,
		credits INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
		chat_messages INTEGER NOT NULL DEFAULT 0 CHECK (chat_messages >= 0),
		unlimited INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS credit_holds (
		id TEXT NOT NULL PRIMARY KEY,
		user_id TEXT NOT NULL,
		resource TEXT NOT NULL,
		amount INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_holds_user ON credit_holds(user_id, resource, expires_at)`,
	`CREATE TABLE IF NOT EXISTS billing_events (
		event_id TEXT NOT NULL PRIMARY KEY,
		user_id TEXT NOT NULL,
		price_id TEXT NOT NULL,
		credits INTEGER NOT NULL DEFAULT 0,
		chat_messages INTEGER NOT NULL DEFAULT 0,
		amount INTEGER NOT NULL DEFAULT 0,
		applied_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_billing_events_user ON billing_events(user_id)`,
	`CREATE TABLE IF NOT EXISTS scripts (
		id TEXT NOT NULL PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		format TEXT NOT NULL,
		genre TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scripts_user ON scripts(user_id, updated_at)`,
	`CREATE TABLE IF NOT EXISTS analysis_results (
		script_id TEXT NOT NULL REFERENCES scripts(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (script_id, kind)
	)`,
	`CREATE TABLE IF NOT EXISTS active_scripts (
		user_id TEXT NOT NULL PRIMARY KEY,
		script_id TEXT NULL
	)`,
}

// Migrate creates the tables used by the entitlement, billing and script
// stores if they do not exist.
func Migrate(ctx context.Context, db *conn.DB) error {
	if db == nil || db.DB == nil {
		return fmt.Errorf("db is not initialized")
	}
	stmts := sqliteSchema
	if db.Driver == conn.MySQL {
		stmts = mysqlSchema
	}
	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
