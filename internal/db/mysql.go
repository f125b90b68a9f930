package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

type MySQLOpts struct {
	Pool
	Location *time.Location // timestamps are scanned in this zone; default UTC
}

// NewMySQLConnection opens the customer/company/outbox store. The DSN is
// normalized so DATETIME columns scan into time.Time.
func NewMySQLConnection(dsn string, opts MySQLOpts) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty MySQL DSN")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	if opts.Location != nil {
		cfg.Loc = opts.Location
	}

	return opts.open("mysql", cfg.FormatDSN(), "mysql", 5*time.Second)
}
