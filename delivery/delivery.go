// Package delivery records and performs webhook deliveries: one record per
// (event, subscription) pair, sent by a bounded worker pool with
// exponential-backoff retries.
package delivery

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

// MaxResponseLength caps the stored response body, in characters.
const MaxResponseLength = 1000

// Status is the lifecycle state of a delivery.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further attempts will be made.
func (s Status) Terminal() bool { return s == StatusSuccess || s == StatusFailed }

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusSuccess, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("delivery: unknown status %q", s)
	}
}

// Delivery is the record of sending one event to one subscription.
type Delivery struct {
	entity.Entity

	ID             id.ID      `json:"id"`
	SubscriptionID id.ID      `json:"subscriptionId"`
	EventID        id.ID      `json:"eventId"`
	Kind           event.Kind `json:"event"`

	// Payload is the canonical envelope. It never changes and is sent
	// byte-for-byte on every attempt.
	Payload json.RawMessage `json:"payload"`

	Status Status `json:"status"`

	// StatusCode is nil until the first attempt completes; 0 means the
	// request never got a response.
	StatusCode *int   `json:"statusCode"`
	Response   string `json:"response,omitempty"`

	AttemptCount  int        `json:"attemptCount"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	DeliveredAt   *time.Time `json:"deliveredAt,omitempty"`
}

// New returns a pending delivery on its first attempt.
func New(subID, eventID id.ID, kind event.Kind, payload []byte) *Delivery {
	return &Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		SubscriptionID: subID,
		EventID:        eventID,
		Kind:           kind,
		Payload:        payload,
		Status:         StatusPending,
		AttemptCount:   1,
	}
}

// Update is the outcome of one attempt.
type Update struct {
	Status        Status
	StatusCode    int
	Response      string
	AttemptCount  int
	NextAttemptAt *time.Time
	DeliveredAt   *time.Time
}

// Apply merges u into d. Terminal deliveries are left untouched and Apply
// returns false.
func (d *Delivery) Apply(u Update) bool {
	if d.Status.Terminal() {
		return false
	}

	code := u.StatusCode
	d.Status = u.Status
	d.StatusCode = &code
	d.Response = Truncate(u.Response)
	if u.AttemptCount > 0 {
		d.AttemptCount = u.AttemptCount
	}
	d.NextAttemptAt = copyTime(u.NextAttemptAt)
	d.DeliveredAt = copyTime(u.DeliveredAt)
	d.Touch()

	return true
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Truncate shortens s to MaxResponseLength characters.
func Truncate(s string) string {
	if len(s) <= MaxResponseLength {
		return s
	}
	r := []rune(s)
	if len(r) <= MaxResponseLength {
		return s
	}
	return string(r[:MaxResponseLength])
}

// ListOpts pages through deliveries, newest first.
type ListOpts struct {
	Offset int
	Limit  int
	Status *Status
}
