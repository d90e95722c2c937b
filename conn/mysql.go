package conn

import (
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/config"
)

// NewMySQL opens a MySQL pool from the DB_* settings, creating the
// database first when it does not exist yet.
func NewMySQL(cfg *config.Config) (*sql.DB, error) {
	base := mysql.NewConfig()
	base.User = cfg.DBUser
	base.Passwd = cfg.DBPassword
	base.Net = "tcp"
	base.Addr = cfg.DBHost + ":" + cfg.DBPort
	base.ParseTime = true

	adminDB, err := sql.Open("mysql", base.FormatDSN())
	if err != nil {
		return nil, err
	}
	if err := adminDB.Ping(); err != nil {
		adminDB.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	if _, err := adminDB.Exec("CREATE DATABASE IF NOT EXISTS `" + cfg.DBName + "` DEFAULT CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"); err != nil {
		adminDB.Close()
		return nil, fmt.Errorf("create database: %w", err)
	}
	adminDB.Close()

	base.DBName = cfg.DBName
	db, err := sql.Open("mysql", base.FormatDSN())
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}
