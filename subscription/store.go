package subscription

import (
	"context"
	"time"

	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
)

// Store persists subscriptions.
type Store interface {
	CreateSubscription(ctx context.Context, s *Subscription) error

	// GetSubscription returns ErrSubscriptionNotFound for unknown ids.
	GetSubscription(ctx context.Context, subID id.ID) (*Subscription, error)

	UpdateSubscription(ctx context.Context, s *Subscription) error
	DeleteSubscription(ctx context.Context, subID id.ID) error

	// ListSubscriptions returns an owner's subscriptions, newest first.
	ListSubscriptions(ctx context.Context, ownerID string, opts ListOpts) ([]*Subscription, error)

	// FindActive returns the owner's active subscriptions whose event set
	// contains kind. Order is unspecified.
	FindActive(ctx context.Context, ownerID string, kind event.Kind) ([]*Subscription, error)

	SetActive(ctx context.Context, subID id.ID, active bool) error

	// TouchLastTriggered records a successful delivery time.
	TouchLastTriggered(ctx context.Context, subID id.ID, at time.Time) error
}
