package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/herald"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/id"
)

// CreateDelivery persists a pending delivery.
func (s *Store) CreateDelivery(ctx context.Context, d *delivery.Delivery) error {
	_, err := s.mdb.NewInsert(toDeliveryModel(d)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: create delivery: %w", err)
	}

	return nil
}

// UpdateDelivery records an attempt outcome. The filter on status keeps
// terminal documents unchanged.
func (s *Store) UpdateDelivery(ctx context.Context, delID id.ID, u delivery.Update) error {
	q := s.mdb.NewUpdate((*deliveryModel)(nil)).
		Filter(bson.M{"_id": delID.String(), "status": string(delivery.StatusPending)}).
		Set("status", string(u.Status)).
		Set("status_code", u.StatusCode).
		Set("response", delivery.Truncate(u.Response)).
		Set("next_attempt_at", u.NextAttemptAt).
		Set("delivered_at", u.DeliveredAt).
		Set("updated_at", now())

	if u.AttemptCount > 0 {
		q = q.Set("attempt_count", u.AttemptCount)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: update delivery: %w", err)
	}

	if res.MatchedCount() > 0 {
		return nil
	}

	n, err := s.mdb.NewFind((*deliveryModel)(nil)).
		Filter(bson.M{"_id": delID.String()}).
		Count(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: update delivery: %w", err)
	}

	if n == 0 {
		return herald.ErrDeliveryNotFound
	}

	return nil
}

// GetDelivery returns a delivery by ID.
func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	var m deliveryModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": delID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, herald.ErrDeliveryNotFound
		}

		return nil, fmt.Errorf("herald/mongo: get delivery: %w", err)
	}

	return fromDeliveryModel(&m)
}

// ListBySubscription returns delivery history for a subscription.
func (s *Store) ListBySubscription(ctx context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var models []deliveryModel

	filter := bson.M{"subscription_id": subID.String()}
	if opts.Status != nil {
		filter["status"] = string(*opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: list by subscription: %w", err)
	}

	return fromDeliveryModels(models)
}

// ListPending returns stale pending deliveries, oldest first.
func (s *Store) ListPending(ctx context.Context, before time.Time, limit int) ([]*delivery.Delivery, error) {
	var models []deliveryModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{
			"status":     string(delivery.StatusPending),
			"updated_at": bson.M{"$lt": before.UTC()},
		}).
		Sort(bson.D{{Key: "updated_at", Value: 1}})

	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: list pending: %w", err)
	}

	return fromDeliveryModels(models)
}

// CountPending returns the number of deliveries awaiting an attempt.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	count, err := s.mdb.NewFind((*deliveryModel)(nil)).
		Filter(bson.M{"status": string(delivery.StatusPending)}).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("herald/mongo: count pending: %w", err)
	}

	return count, nil
}

// RecordAttempt appends to the attempt history. Re-recording the same
// attempt number is ignored.
func (s *Store) RecordAttempt(ctx context.Context, a *delivery.Attempt) error {
	_, err := s.mdb.NewInsert(toAttemptModel(a)).Exec(ctx)
	if err != nil && !mongoDuplicate(err) {
		return fmt.Errorf("herald/mongo: record attempt: %w", err)
	}

	return nil
}

// ListAttempts returns a delivery's attempts in order.
func (s *Store) ListAttempts(ctx context.Context, delID id.ID) ([]*delivery.Attempt, error) {
	var models []attemptModel

	if err := s.mdb.NewFind(&models).
		Filter(bson.M{"delivery_id": delID.String()}).
		Sort(bson.D{{Key: "attempt", Value: 1}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: list attempts: %w", err)
	}

	result := make([]*delivery.Attempt, 0, len(models))

	for i := range models {
		a, err := fromAttemptModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, a)
	}

	return result, nil
}

func fromDeliveryModels(models []deliveryModel) ([]*delivery.Delivery, error) {
	result := make([]*delivery.Delivery, 0, len(models))

	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, d)
	}

	return result, nil
}
