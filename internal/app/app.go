// Package app builds the shared object graph used by the serve and worker
// commands from a loaded config.
package app

import (
	"fmt"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/commerce"
	"github.com/jmehdipour/recurring-orders/internal/config"
	"github.com/jmehdipour/recurring-orders/internal/db"
	"github.com/jmehdipour/recurring-orders/internal/notify"
	"github.com/jmehdipour/recurring-orders/internal/purchase"
	"github.com/jmehdipour/recurring-orders/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func pool(c config.DatabaseConfig) db.Pool {
	return db.Pool{
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		PingTimeout:     c.PingTimeout,
	}
}

func OpenMySQL(cfg config.Config) (*sqlx.DB, error) {
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}
	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		Pool:     pool(cfg.MySQL),
		Location: loc,
	})
	if err != nil {
		return nil, fmt.Errorf("mysql connect: %w", err)
	}
	return dbx, nil
}

func OpenClickHouse(cfg config.Config) (*sqlx.DB, error) {
	ch, err := db.NewClickHouseConnection(db.ClickHouseOpts{
		Pool: pool(cfg.ClickHouse),
		DSN:  cfg.ClickHouse.DSN,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse connect: %w", err)
	}
	return ch, nil
}

func OpenRedis(cfg config.Config) (*redis.Client, error) {
	rdb, err := db.NewRedisClient(db.RedisOpts{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
		PoolSize:    cfg.Redis.PoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	return rdb, nil
}

func NewCommerceClient(cfg config.CommerceConfig, log *zap.Logger) *commerce.HTTPClient {
	return commerce.NewHTTPClient(commerce.Options{
		BaseURL:        cfg.BaseURL,
		PublishableKey: cfg.PublishableKey,
		APIToken:       cfg.APIToken,
		Timeout:        time.Duration(cfg.TimeoutMs) * time.Millisecond,
		MaxAttempts:    cfg.MaxAttempts,
		RetryBackoff:   cfg.RetryBackoff,
		FailThreshold:  cfg.Breaker.FailThreshold,
		OpenFor:        cfg.Breaker.OpenFor(),
		Logger:         log.Named("commerce"),
	})
}

func NewExecutor(cfg config.CommerceConfig, client commerce.Client, log *zap.Logger) *purchase.Executor {
	return purchase.NewExecutor(client, purchase.Options{
		ProviderID:     cfg.ProviderID,
		RegionID:       cfg.RegionID,
		SalesChannelID: cfg.SalesChannelID,
		Logger:         log.Named("purchase"),
	})
}

// NewNotifier returns the outbox notifier, or a no-op one when
// notifications are disabled.
func NewNotifier(cfg config.NotificationConfig, mysqlDB *sqlx.DB) notify.Notifier {
	if !cfg.Enabled {
		return notify.Nop{}
	}
	return notify.NewOutboxNotifier(repository.NewOutboxRepository(mysqlDB), cfg.Topic)
}
