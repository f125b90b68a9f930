package db

import (
	"errors"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"
)

type ClickHouseOpts struct {
	Pool
	DSN string // e.g. clickhouse://default:@localhost:9000/recur?dial_timeout=5s
}

// NewClickHouseConnection opens the run-history store used by the scheduler
// and the reports endpoint.
func NewClickHouseConnection(opts ClickHouseOpts) (*sqlx.DB, error) {
	if opts.DSN == "" {
		return nil, errors.New("empty ClickHouse DSN")
	}
	return opts.open("clickhouse", opts.DSN, "clickhouse", 3*time.Second)
}
