package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/herald"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/subscription"
)

// subscriptionModel is the JSON representation stored in Redis.
type subscriptionModel struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	URL             string     `json:"url"`
	Description     string     `json:"description"`
	Secret          string     `json:"secret"`
	EventMask       int64      `json:"event_mask"`
	Active          bool       `json:"active"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:              s.ID.String(),
		OwnerID:         s.OwnerID,
		URL:             s.URL,
		Description:     s.Description,
		Secret:          s.Secret,
		EventMask:       s.Events.Bits(),
		Active:          s.Active,
		LastTriggeredAt: s.LastTriggeredAt,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}
	events, err := event.KindSetFromBits(m.EventMask)
	if err != nil {
		return nil, fmt.Errorf("subscription %s: %w", m.ID, err)
	}
	return &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              subID,
		OwnerID:         m.OwnerID,
		URL:             m.URL,
		Description:     m.Description,
		Secret:          m.Secret,
		Events:          events,
		Active:          m.Active,
		LastTriggeredAt: m.LastTriggeredAt,
	}, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)

	if err := s.setEntity(ctx, entityKey(prefixSubscription, m.ID), m); err != nil {
		return fmt.Errorf("herald/redis: create subscription: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zSubscriptionOwner+m.OwnerID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	if m.Active {
		pipe.SAdd(ctx, sSubscriptionActive+m.OwnerID, m.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: create subscription indexes: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m, err := s.getSubscriptionModel(ctx, subID.String())
	if err != nil {
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) getSubscriptionModel(ctx context.Context, subID string) (*subscriptionModel, error) {
	var m subscriptionModel
	if err := s.getEntity(ctx, entityKey(prefixSubscription, subID), &m); err != nil {
		if isNotFound(err) {
			return nil, herald.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("herald/redis: get subscription: %w", err)
	}
	return &m, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if _, err := s.getSubscriptionModel(ctx, sub.ID.String()); err != nil {
		return err
	}
	return s.putSubscription(ctx, toSubscriptionModel(sub))
}

// putSubscription writes m and keeps the active set in step.
func (s *Store) putSubscription(ctx context.Context, m *subscriptionModel) error {
	if err := s.setEntity(ctx, entityKey(prefixSubscription, m.ID), m); err != nil {
		return fmt.Errorf("herald/redis: update subscription: %w", err)
	}

	var err error
	if m.Active {
		err = s.rdb.SAdd(ctx, sSubscriptionActive+m.OwnerID, m.ID).Err()
	} else {
		err = s.rdb.SRem(ctx, sSubscriptionActive+m.OwnerID, m.ID).Err()
	}
	if err != nil {
		return fmt.Errorf("herald/redis: update active index: %w", err)
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	m, err := s.getSubscriptionModel(ctx, subID.String())
	if err != nil {
		return err
	}

	if err := s.kv.Delete(ctx, entityKey(prefixSubscription, m.ID)); err != nil {
		return fmt.Errorf("herald/redis: delete subscription: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZRem(ctx, zSubscriptionOwner+m.OwnerID, m.ID)
	pipe.SRem(ctx, sSubscriptionActive+m.OwnerID, m.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: delete subscription indexes: %w", err)
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, ownerID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.ZRevRange(ctx, zSubscriptionOwner+ownerID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, 0, len(ids))
	for _, subID := range ids {
		m, err := s.getSubscriptionModel(ctx, subID)
		if err != nil {
			// Index entry outlived its record.
			continue
		}
		if opts.Active != nil && m.Active != *opts.Active {
			continue
		}
		sub, err := fromSubscriptionModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}

	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) FindActive(ctx context.Context, ownerID string, kind event.Kind) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.SMembers(ctx, sSubscriptionActive+ownerID).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: find active: %w", err)
	}

	var result []*subscription.Subscription
	for _, subID := range ids {
		m, err := s.getSubscriptionModel(ctx, subID)
		if err != nil {
			continue
		}
		sub, err := fromSubscriptionModel(m)
		if err != nil {
			return nil, err
		}
		if sub.Subscribes(kind) {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	m, err := s.getSubscriptionModel(ctx, subID.String())
	if err != nil {
		return err
	}
	m.Active = active
	m.UpdatedAt = now()
	return s.putSubscription(ctx, m)
}

func (s *Store) TouchLastTriggered(ctx context.Context, subID id.ID, at time.Time) error {
	m, err := s.getSubscriptionModel(ctx, subID.String())
	if err != nil {
		return err
	}
	t := at.UTC()
	m.LastTriggeredAt = &t
	if err := s.setEntity(ctx, entityKey(prefixSubscription, m.ID), m); err != nil {
		return fmt.Errorf("herald/redis: touch subscription: %w", err)
	}
	return nil
}
