package delivery

import (
	"context"
	"time"

	"github.com/xraph/herald/id"
)

// Store persists delivery records.
type Store interface {
	// CreateDelivery persists a new pending delivery.
	CreateDelivery(ctx context.Context, d *Delivery) error

	// UpdateDelivery records an attempt outcome. It is keyed by id and must
	// not race with updates to other deliveries. A terminal delivery is
	// never modified and the call returns nil; an unknown id returns
	// ErrDeliveryNotFound.
	UpdateDelivery(ctx context.Context, delID id.ID, u Update) error

	GetDelivery(ctx context.Context, delID id.ID) (*Delivery, error)

	// ListBySubscription returns a subscription's deliveries, newest first.
	ListBySubscription(ctx context.Context, subID id.ID, opts ListOpts) ([]*Delivery, error)

	// ListPending returns pending deliveries last updated before the given
	// time, oldest first.
	ListPending(ctx context.Context, before time.Time, limit int) ([]*Delivery, error)

	CountPending(ctx context.Context) (int64, error)
}

// Attempt is the history entry of one HTTP attempt.
type Attempt struct {
	DeliveryID     id.ID  `json:"deliveryId"`
	SubscriptionID id.ID  `json:"subscriptionId"`
	EventID        id.ID  `json:"eventId"`
	Kind           string `json:"event"`
	Attempt        int    `json:"attempt"`
	StatusCode     int    `json:"statusCode"`
	Error          string `json:"error,omitempty"`
	LatencyMs      int64  `json:"latencyMs"`
	Outcome        string `json:"outcome"`

	At time.Time `json:"at"`
}

// AttemptLog keeps per-attempt history. Recording is best effort: the
// worker logs failures and carries on.
type AttemptLog interface {
	RecordAttempt(ctx context.Context, a *Attempt) error

	// ListAttempts returns a delivery's attempts in order.
	ListAttempts(ctx context.Context, delID id.ID) ([]*Attempt, error)
}
