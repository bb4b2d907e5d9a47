// Package subscription manages webhook subscriptions: a receiver URL, the
// secret deliveries are signed with and the event kinds the owner wants.
package subscription

import (
	"time"

	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

// MinSecretLength is the shortest signing secret accepted.
const MinSecretLength = 16

// Subscription is one owner's registration for webhook deliveries.
type Subscription struct {
	entity.Entity

	ID          id.ID  `json:"id"`
	OwnerID     string `json:"ownerId"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`

	// Secret keys the HMAC signature. It is never serialized.
	Secret string `json:"-"`

	Events event.KindSet `json:"events"`
	Active bool          `json:"active"`

	// LastTriggeredAt is set after each successful delivery.
	LastTriggeredAt *time.Time `json:"lastTriggeredAt,omitempty"`
}

// Subscribes reports whether the subscription wants deliveries of k.
func (s *Subscription) Subscribes(k event.Kind) bool {
	return s.Active && s.Events.Has(k)
}

// ListOpts pages through an owner's subscriptions.
type ListOpts struct {
	Offset int
	Limit  int
	Active *bool
}
