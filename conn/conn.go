// Package conn opens the relational database used by the entitlement,
// billing and script stores and hides the few dialect differences between
// MySQL and SQLite.
package conn

import (
	"database/sql"
	"fmt"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/config"
)

type Driver string

const (
	MySQL  Driver = "mysql"
	SQLite Driver = "sqlite"
)

// DB is a pool plus the dialect it speaks.
type DB struct {
	*sql.DB
	Driver Driver
}

// Open connects using cfg.DBDriver.
func Open(cfg *config.Config) (*DB, error) {
	switch Driver(cfg.DBDriver) {
	case MySQL:
		db, err := NewMySQL(cfg)
		if err != nil {
			return nil, err
		}
		return &DB{DB: db, Driver: MySQL}, nil
	case SQLite:
		db, err := NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &DB{DB: db, Driver: SQLite}, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.DBDriver)
	}
}

// ForUpdate is the row-lock suffix for SELECTs inside a transaction.
// SQLite locks the whole database on write, so it needs none.
func (d *DB) ForUpdate() string {
	if d.Driver == MySQL {
		return " FOR UPDATE"
	}
	return ""
}

// InsertIgnore is the INSERT variant that skips duplicate keys.
func (d *DB) InsertIgnore() string {
	if d.Driver == MySQL {
		return "INSERT IGNORE"
	}
	return "INSERT OR IGNORE"
}

// Upsert returns the conflict clause that overwrites cols when the row
// identified by keys already exists.
func (d *DB) Upsert(keys []string, cols []string) string {
	set := ""
	for i, c := range cols {
		if i > 0 {
			set += ", "
		}
		if d.Driver == MySQL {
			set += c + " = VALUES(" + c + ")"
		} else {
			set += c + " = excluded." + c
		}
	}
	if d.Driver == MySQL {
		return " ON DUPLICATE KEY UPDATE " + set
	}
	conflict := ""
	for i, k := range keys {
		if i > 0 {
			conflict += ", "
		}
		conflict += k
	}
	return " ON CONFLICT(" + conflict + ") DO UPDATE SET " + set
}
