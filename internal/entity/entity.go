// Package entity holds the timestamps shared by persisted Herald records.
package entity

import "time"

// Entity is embedded by subscriptions and deliveries.
type Entity struct {
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Now returns the current UTC time at microsecond precision, which every
// backend can round-trip without loss.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// New returns an Entity created and updated now.
func New() Entity {
	now := Now()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch bumps UpdatedAt.
func (e *Entity) Touch() {
	e.UpdatedAt = Now()
}
