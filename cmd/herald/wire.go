package main

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/herald"
	"github.com/xraph/herald/config"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/store"
	"github.com/xraph/herald/store/clickhouse"
	"github.com/xraph/herald/store/memory"
	"github.com/xraph/herald/store/mysql"
	"github.com/xraph/herald/store/postgres"
	"github.com/xraph/herald/store/sqlite"
)

// backends holds the opened persistence layers and closes them in reverse.
type backends struct {
	store    store.Store
	attempts *clickhouse.AttemptLog
	redis    *goredis.Client
	closers  []func() error
}

func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// attemptLog returns the ClickHouse log when configured, or nil so the
// primary store's own log is used.
func (b *backends) attemptLog() delivery.AttemptLog {
	if b.attempts == nil {
		return nil
	}
	return b.attempts
}

func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{}

	switch cfg.Store.Driver {
	case "mysql":
		db, err := mysql.Open(cfg.MySQL.DSN, mysql.Opts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("mysql connect: %w", err)
		}
		b.store = mysql.New(db)
	case "postgres":
		drv := pgdriver.New()
		if err := drv.Open(ctx, cfg.Store.DSN); err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			_ = drv.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		b.store = postgres.New(db)
	case "sqlite":
		drv := sqlitedriver.New()
		if err := drv.Open(ctx, cfg.Store.DSN); err != nil {
			return nil, fmt.Errorf("sqlite open: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			_ = drv.Close()
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		b.store = sqlite.New(db)
	default:
		b.store = memory.New()
	}
	b.closers = append(b.closers, b.store.Close)

	if cfg.ClickHouse.Enabled {
		db, err := clickhouse.Open(clickhouse.Opts{
			DSN:             cfg.ClickHouse.DSN,
			MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
			MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
			ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
			PingTimeout:     cfg.ClickHouse.PingTimeout,
		})
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("clickhouse connect: %w", err)
		}
		b.attempts = clickhouse.New(db)
		b.closers = append(b.closers, b.attempts.Close)
	}

	if cfg.Redis.Enabled {
		client := goredis.NewClient(&goredis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = b.Close()
			return nil, fmt.Errorf("redis connect: %w", err)
		}
		b.redis = client
		b.closers = append(b.closers, client.Close)
	}

	return b, nil
}

// migrate runs every configured backend's schema migration.
func (b *backends) migrate(ctx context.Context) error {
	if err := b.store.Migrate(ctx); err != nil {
		return err
	}
	if b.attempts != nil {
		if err := b.attempts.Migrate(ctx); err != nil {
			return err
		}
	}
	return nil
}

func heraldConfig(cfg config.DeliveryConfig) herald.Config {
	hc := herald.DefaultConfig()
	hc.Concurrency = cfg.Concurrency
	hc.QueueSize = cfg.QueueSize
	hc.RequestTimeout = cfg.RequestTimeout
	hc.MaxAttempts = cfg.MaxAttempts
	hc.InitialBackoff = cfg.InitialBackoff
	hc.MaxBackoff = cfg.MaxBackoff
	hc.ValidatePayloads = cfg.ValidatePayloads
	hc.RedriveInterval = cfg.RedriveInterval
	hc.RedriveStaleAfter = cfg.RedriveStaleAfter
	hc.RedriveBatchSize = cfg.RedriveBatchSize
	hc.ShutdownTimeout = cfg.ShutdownTimeout
	return hc
}
