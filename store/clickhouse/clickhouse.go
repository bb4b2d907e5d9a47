// Package clickhouse keeps the delivery attempt history in ClickHouse.
//
// It implements delivery.AttemptLog only. Pair it with a primary store via
// herald.WithAttemptLog when attempt volume outgrows the main database.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2" // driver
	"github.com/jmoiron/sqlx"

	"github.com/xraph/herald"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/id"
)

var _ delivery.AttemptLog = (*AttemptLog)(nil)

// Opts tunes the connection pool.
type Opts struct {
	DSN             string // clickhouse://default:@localhost:9000/herald?dial_timeout=5s
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration // default 3s
}

// Open connects to ClickHouse and verifies the connection.
func Open(opts Opts) (*sqlx.DB, error) {
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 3 * time.Second
	}
	db, err := sqlx.Open("clickhouse", opts.DSN)
	if err != nil {
		return nil, err
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if opts.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.PingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}
	return db, nil
}

// ReplacingMergeTree collapses a re-recorded attempt into one row.
const createTable = `
	CREATE TABLE IF NOT EXISTS herald_delivery_attempts (
		delivery_id     String,
		attempt         Int32,
		subscription_id String,
		event_id        String,
		event           LowCardinality(String),
		status_code     Int32,
		error           String,
		latency_ms      Int64,
		outcome         LowCardinality(String),
		at              DateTime64(6, 'UTC')
	)
	ENGINE = ReplacingMergeTree
	PARTITION BY toYYYYMM(at)
	ORDER BY (delivery_id, attempt)`

// AttemptLog stores attempts in the herald_delivery_attempts table.
type AttemptLog struct {
	db *sqlx.DB
}

// New returns an AttemptLog over db.
func New(db *sqlx.DB) *AttemptLog {
	return &AttemptLog{db: db}
}

// Migrate creates the attempts table when missing.
func (l *AttemptLog) Migrate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("%w: clickhouse: %w", herald.ErrMigrationFailed, err)
	}
	return nil
}

// Close closes the connection pool.
func (l *AttemptLog) Close() error { return l.db.Close() }

type attemptRow struct {
	DeliveryID     string    `db:"delivery_id"`
	Attempt        int32     `db:"attempt"`
	SubscriptionID string    `db:"subscription_id"`
	EventID        string    `db:"event_id"`
	Event          string    `db:"event"`
	StatusCode     int32     `db:"status_code"`
	Error          string    `db:"error"`
	LatencyMs      int64     `db:"latency_ms"`
	Outcome        string    `db:"outcome"`
	At             time.Time `db:"at"`
}

func (l *AttemptLog) RecordAttempt(ctx context.Context, a *delivery.Attempt) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO herald_delivery_attempts
			(delivery_id, attempt, subscription_id, event_id, event, status_code, error, latency_ms, outcome, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.DeliveryID.String(), int32(a.Attempt), a.SubscriptionID.String(), a.EventID.String(),
		a.Kind, int32(a.StatusCode), a.Error, a.LatencyMs, a.Outcome, a.At.UTC())
	return err
}

func (l *AttemptLog) ListAttempts(ctx context.Context, delID id.ID) ([]*delivery.Attempt, error) {
	var rows []attemptRow
	err := l.db.SelectContext(ctx, &rows, `
		SELECT delivery_id, attempt, subscription_id, event_id, event, status_code,
			error, latency_ms, outcome, at
		FROM herald_delivery_attempts FINAL
		WHERE delivery_id = ?
		ORDER BY attempt ASC`, delID.String())
	if err != nil {
		return nil, err
	}

	result := make([]*delivery.Attempt, len(rows))
	for i := range rows {
		a, err := rows[i].toAttempt()
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

func (r *attemptRow) toAttempt() (*delivery.Attempt, error) {
	delID, err := id.ParseDeliveryID(r.DeliveryID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", r.DeliveryID, err)
	}
	subID, err := id.ParseSubscriptionID(r.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", r.SubscriptionID, err)
	}
	evtID, err := id.ParseEventID(r.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", r.EventID, err)
	}
	return &delivery.Attempt{
		DeliveryID:     delID,
		SubscriptionID: subID,
		EventID:        evtID,
		Kind:           r.Event,
		Attempt:        int(r.Attempt),
		StatusCode:     int(r.StatusCode),
		Error:          r.Error,
		LatencyMs:      r.LatencyMs,
		Outcome:        r.Outcome,
		At:             r.At.UTC(),
	}, nil
}
