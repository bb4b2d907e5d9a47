// Package mysql stores subscriptions and deliveries in MySQL through sqlx.
//
// Open a connection with Open, or hand New a *sqlx.DB whose DSN sets
// parseTime=true and clientFoundRows=true.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/xraph/herald"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	heraldstore "github.com/xraph/herald/store"
	"github.com/xraph/herald/subscription"
)

// compile-time interface checks
var (
	_ heraldstore.Store   = (*Store)(nil)
	_ delivery.AttemptLog = (*Store)(nil)
)

const (
	subscriptionColumns = `id, owner_id, url, description, secret, event_mask, active,
		last_triggered_at, created_at, updated_at`
	deliveryColumns = `id, subscription_id, event_id, event, payload, status, status_code,
		response, attempt_count, next_attempt_at, delivered_at, created_at, updated_at`
	attemptColumns = `delivery_id, attempt, subscription_id, event_id, event, status_code,
		error, latency_ms, outcome, at`
)

// Store implements store.Store on MySQL.
type Store struct {
	db *sqlx.DB
}

// New returns a Store over db.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sqlx.DB { return s.db }

// Migrate creates the tables and indexes when missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: mysql: %w", herald.ErrMigrationFailed, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO herald_subscriptions (`+subscriptionColumns+`)
		VALUES (:id, :owner_id, :url, :description, :secret, :event_mask, :active,
			:last_triggered_at, :created_at, :updated_at)`,
		toSubscriptionRow(sub))
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	var row subscriptionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+subscriptionColumns+` FROM herald_subscriptions WHERE id = ?`, subID.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, herald.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return row.toSubscription()
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE herald_subscriptions SET
			owner_id = :owner_id, url = :url, description = :description, secret = :secret,
			event_mask = :event_mask, active = :active, last_triggered_at = :last_triggered_at,
			updated_at = :updated_at
		WHERE id = :id`,
		toSubscriptionRow(sub))
	if err != nil {
		return err
	}
	return expectRows(res, herald.ErrSubscriptionNotFound)
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM herald_subscriptions WHERE id = ?`, subID.String())
	if err != nil {
		return err
	}
	return expectRows(res, herald.ErrSubscriptionNotFound)
}

func (s *Store) ListSubscriptions(ctx context.Context, ownerID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM herald_subscriptions WHERE owner_id = ?`
	args := []any{ownerID}
	if opts.Active != nil {
		query += ` AND active = ?`
		args = append(args, *opts.Active)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	query, args = paginate(query, args, opts.Limit, opts.Offset)

	var rows []subscriptionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return toSubscriptions(rows)
}

// FindActive tests the kind against the stored bitmask in SQL.
func (s *Store) FindActive(ctx context.Context, ownerID string, kind event.Kind) ([]*subscription.Subscription, error) {
	var rows []subscriptionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+subscriptionColumns+` FROM herald_subscriptions
		WHERE owner_id = ? AND active = 1 AND (event_mask & ?) <> 0`,
		ownerID, event.NewKindSet(kind).Bits())
	if err != nil {
		return nil, err
	}
	return toSubscriptions(rows)
}

func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE herald_subscriptions SET active = ?, updated_at = ? WHERE id = ?`,
		active, entity.Now(), subID.String())
	if err != nil {
		return err
	}
	return expectRows(res, herald.ErrSubscriptionNotFound)
}

func (s *Store) TouchLastTriggered(ctx context.Context, subID id.ID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE herald_subscriptions SET last_triggered_at = ? WHERE id = ?`,
		at.UTC(), subID.String())
	if err != nil {
		return err
	}
	return expectRows(res, herald.ErrSubscriptionNotFound)
}

// ==================== Delivery Store ====================

func (s *Store) CreateDelivery(ctx context.Context, d *delivery.Delivery) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO herald_deliveries (`+deliveryColumns+`)
		VALUES (:id, :subscription_id, :event_id, :event, :payload, :status, :status_code,
			:response, :attempt_count, :next_attempt_at, :delivered_at, :created_at, :updated_at)`,
		toDeliveryRow(d))
	return err
}

// UpdateDelivery writes the outcome only while the row is still pending,
// so a terminal status is never overwritten.
func (s *Store) UpdateDelivery(ctx context.Context, delID id.ID, u delivery.Update) error {
	sets := []string{
		"status = ?", "status_code = ?", "response = ?",
		"next_attempt_at = ?", "delivered_at = ?", "updated_at = ?",
	}
	args := []any{
		string(u.Status), u.StatusCode, delivery.Truncate(u.Response),
		u.NextAttemptAt, u.DeliveredAt, entity.Now(),
	}
	if u.AttemptCount > 0 {
		sets = append(sets, "attempt_count = ?")
		args = append(args, u.AttemptCount)
	}
	args = append(args, delID.String(), string(delivery.StatusPending))

	res, err := s.db.ExecContext(ctx,
		`UPDATE herald_deliveries SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status = ?`,
		args...)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	// Nothing matched: either unknown or already terminal.
	var n int
	if err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM herald_deliveries WHERE id = ?`, delID.String()); err != nil {
		return err
	}
	if n == 0 {
		return herald.ErrDeliveryNotFound
	}
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	var row deliveryRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+deliveryColumns+` FROM herald_deliveries WHERE id = ?`, delID.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, herald.ErrDeliveryNotFound
		}
		return nil, err
	}
	return row.toDelivery()
}

func (s *Store) ListBySubscription(ctx context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM herald_deliveries WHERE subscription_id = ?`
	args := []any{subID.String()}
	if opts.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*opts.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	query, args = paginate(query, args, opts.Limit, opts.Offset)

	var rows []deliveryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return toDeliveries(rows)
}

func (s *Store) ListPending(ctx context.Context, before time.Time, limit int) ([]*delivery.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM herald_deliveries
		WHERE status = ? AND updated_at < ? ORDER BY updated_at ASC`
	args := []any{string(delivery.StatusPending), before.UTC()}
	query, args = paginate(query, args, limit, 0)

	var rows []deliveryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return toDeliveries(rows)
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM herald_deliveries WHERE status = ?`, string(delivery.StatusPending))
	return n, err
}

// ==================== Attempt Log ====================

func (s *Store) RecordAttempt(ctx context.Context, a *delivery.Attempt) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT IGNORE INTO herald_delivery_attempts (`+attemptColumns+`)
		VALUES (:delivery_id, :attempt, :subscription_id, :event_id, :event, :status_code,
			:error, :latency_ms, :outcome, :at)`,
		toAttemptRow(a))
	return err
}

func (s *Store) ListAttempts(ctx context.Context, delID id.ID) ([]*delivery.Attempt, error) {
	var rows []attemptRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+attemptColumns+` FROM herald_delivery_attempts
		WHERE delivery_id = ? ORDER BY attempt ASC`, delID.String()); err != nil {
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

// ==================== Helpers ====================

// paginate appends LIMIT/OFFSET. MySQL has no OFFSET without LIMIT, so an
// offset alone uses the largest row count.
func paginate(query string, args []any, limit, offset int) (string, []any) {
	switch {
	case limit > 0:
		query += ` LIMIT ?`
		args = append(args, limit)
	case offset > 0:
		query += ` LIMIT 18446744073709551615`
	}
	if offset > 0 {
		query += ` OFFSET ?`
		args = append(args, offset)
	}
	return query, args
}

func toSubscriptions(rows []subscriptionRow) ([]*subscription.Subscription, error) {
	result := make([]*subscription.Subscription, len(rows))
	for i := range rows {
		sub, err := rows[i].toSubscription()
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

func toDeliveries(rows []deliveryRow) ([]*delivery.Delivery, error) {
	result := make([]*delivery.Delivery, len(rows))
	for i := range rows {
		d, err := rows[i].toDelivery()
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}

// expectRows maps a zero-row write to notFound.
func expectRows(res sql.Result, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
