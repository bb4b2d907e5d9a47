package herald

import "errors"

// Sentinel errors returned by Herald and its stores.
var (
	// ErrNoStore is returned by New when no store was configured.
	ErrNoStore = errors.New("herald: store is required")

	// ErrSubscriptionNotFound is returned when a subscription id is unknown
	// or belongs to another owner.
	ErrSubscriptionNotFound = errors.New("herald: subscription not found")

	// ErrDeliveryNotFound is returned when a delivery id is unknown.
	ErrDeliveryNotFound = errors.New("herald: delivery not found")

	// ErrResolveFailed wraps a subscription lookup failure during Emit.
	// No deliveries are created when it is returned.
	ErrResolveFailed = errors.New("herald: resolving subscriptions failed")

	// ErrPayloadValidationFailed is returned when event data does not match
	// the schema registered for its kind.
	ErrPayloadValidationFailed = errors.New("herald: payload validation failed")

	// ErrNotReplayable is returned by Replay for deliveries that have not
	// failed or whose subscription is inactive.
	ErrNotReplayable = errors.New("herald: delivery cannot be replayed")

	// ErrStoreClosed is returned by stores after Close.
	ErrStoreClosed = errors.New("herald: store is closed")

	// ErrMigrationFailed wraps schema migration errors.
	ErrMigrationFailed = errors.New("herald: migration failed")
)
