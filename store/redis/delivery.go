package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/herald"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

// deliveryModel is the JSON representation stored in Redis. Payload keeps
// the exact signed bytes (base64 in JSON).
type deliveryModel struct {
	ID             string     `json:"id"`
	SubscriptionID string     `json:"subscription_id"`
	EventID        string     `json:"event_id"`
	Event          string     `json:"event"`
	Payload        []byte     `json:"payload"`
	Status         string     `json:"status"`
	StatusCode     *int       `json:"status_code,omitempty"`
	Response       string     `json:"response"`
	AttemptCount   int        `json:"attempt_count"`
	NextAttemptAt  *time.Time `json:"next_attempt_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:             d.ID.String(),
		SubscriptionID: d.SubscriptionID.String(),
		EventID:        d.EventID.String(),
		Event:          d.Kind.String(),
		Payload:        d.Payload,
		Status:         string(d.Status),
		StatusCode:     d.StatusCode,
		Response:       d.Response,
		AttemptCount:   d.AttemptCount,
		NextAttemptAt:  d.NextAttemptAt,
		DeliveredAt:    d.DeliveredAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func fromDeliveryModel(m *deliveryModel) (*delivery.Delivery, error) {
	delID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	kind, err := event.ParseKind(m.Event)
	if err != nil {
		return nil, err
	}
	status, err := delivery.ParseStatus(m.Status)
	if err != nil {
		return nil, err
	}
	return &delivery.Delivery{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             delID,
		SubscriptionID: subID,
		EventID:        evtID,
		Kind:           kind,
		Payload:        m.Payload,
		Status:         status,
		StatusCode:     m.StatusCode,
		Response:       m.Response,
		AttemptCount:   m.AttemptCount,
		NextAttemptAt:  m.NextAttemptAt,
		DeliveredAt:    m.DeliveredAt,
	}, nil
}

func (s *Store) CreateDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)

	if err := s.setEntity(ctx, entityKey(prefixDelivery, m.ID), m); err != nil {
		return fmt.Errorf("herald/redis: create delivery: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zDeliverySub+m.SubscriptionID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	pipe.ZAdd(ctx, zDeliveryPending, goredis.Z{Score: scoreFromTime(m.UpdatedAt), Member: m.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: create delivery indexes: %w", err)
	}
	return nil
}

func (s *Store) getDeliveryModel(ctx context.Context, delID string) (*deliveryModel, error) {
	var m deliveryModel
	if err := s.getEntity(ctx, entityKey(prefixDelivery, delID), &m); err != nil {
		if isNotFound(err) {
			return nil, herald.ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("herald/redis: get delivery: %w", err)
	}
	return &m, nil
}

// UpdateDelivery is a read-modify-write. The worker owns a delivery while
// an attempt is running, so writes to one record do not interleave within
// a process.
func (s *Store) UpdateDelivery(ctx context.Context, delID id.ID, u delivery.Update) error {
	m, err := s.getDeliveryModel(ctx, delID.String())
	if err != nil {
		return err
	}

	d, err := fromDeliveryModel(m)
	if err != nil {
		return err
	}
	if !d.Apply(u) {
		return nil
	}

	m = toDeliveryModel(d)
	if err := s.setEntity(ctx, entityKey(prefixDelivery, m.ID), m); err != nil {
		return fmt.Errorf("herald/redis: update delivery: %w", err)
	}

	if d.Status.Terminal() {
		err = s.rdb.ZRem(ctx, zDeliveryPending, m.ID).Err()
	} else {
		err = s.rdb.ZAdd(ctx, zDeliveryPending, goredis.Z{Score: scoreFromTime(m.UpdatedAt), Member: m.ID}).Err()
	}
	if err != nil {
		return fmt.Errorf("herald/redis: update pending index: %w", err)
	}
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	m, err := s.getDeliveryModel(ctx, delID.String())
	if err != nil {
		return nil, err
	}
	return fromDeliveryModel(m)
}

func (s *Store) ListBySubscription(ctx context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	ids, err := s.rdb.ZRevRange(ctx, zDeliverySub+subID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list by subscription: %w", err)
	}
	return s.loadDeliveries(ctx, ids, func(d *delivery.Delivery) bool {
		return opts.Status == nil || d.Status == *opts.Status
	}, opts.Offset, opts.Limit)
}

func (s *Store) ListPending(ctx context.Context, before time.Time, limit int) ([]*delivery.Delivery, error) {
	ids, err := s.zRangeByScoreIDs(ctx, zDeliveryPending, math.Inf(-1), scoreFromTime(before))
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list pending: %w", err)
	}
	return s.loadDeliveries(ctx, ids, func(d *delivery.Delivery) bool {
		return d.Status == delivery.StatusPending && d.UpdatedAt.Before(before)
	}, 0, limit)
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	n, err := s.rdb.ZCard(ctx, zDeliveryPending).Result()
	if err != nil {
		return 0, fmt.Errorf("herald/redis: count pending: %w", err)
	}
	return n, nil
}

func (s *Store) loadDeliveries(ctx context.Context, ids []string, keep func(*delivery.Delivery) bool, offset, limit int) ([]*delivery.Delivery, error) {
	result := make([]*delivery.Delivery, 0, len(ids))
	for _, delID := range ids {
		m, err := s.getDeliveryModel(ctx, delID)
		if err != nil {
			continue
		}
		d, err := fromDeliveryModel(m)
		if err != nil {
			return nil, err
		}
		if keep(d) {
			result = append(result, d)
		}
	}
	return page(result, offset, limit), nil
}

// ==================== Attempt Log ====================

func (s *Store) RecordAttempt(ctx context.Context, a *delivery.Attempt) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("herald/redis: marshal attempt: %w", err)
	}
	if err := s.rdb.RPush(ctx, lAttempts+a.DeliveryID.String(), raw).Err(); err != nil {
		return fmt.Errorf("herald/redis: record attempt: %w", err)
	}
	return nil
}

func (s *Store) ListAttempts(ctx context.Context, delID id.ID) ([]*delivery.Attempt, error) {
	raws, err := s.rdb.LRange(ctx, lAttempts+delID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list attempts: %w", err)
	}

	result := make([]*delivery.Attempt, 0, len(raws))
	for _, raw := range raws {
		var a delivery.Attempt
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("herald/redis: decode attempt: %w", err)
		}
		result = append(result, &a)
	}
	return result, nil
}
