package mysql

import (
	"fmt"
	"time"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/subscription"
)

type subscriptionRow struct {
	ID              string     `db:"id"`
	OwnerID         string     `db:"owner_id"`
	URL             string     `db:"url"`
	Description     string     `db:"description"`
	Secret          string     `db:"secret"`
	EventMask       int64      `db:"event_mask"`
	Active          bool       `db:"active"`
	LastTriggeredAt *time.Time `db:"last_triggered_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

func toSubscriptionRow(s *subscription.Subscription) subscriptionRow {
	return subscriptionRow{
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

func (r *subscriptionRow) toSubscription() (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", r.ID, err)
	}
	events, err := event.KindSetFromBits(r.EventMask)
	if err != nil {
		return nil, fmt.Errorf("subscription %s: %w", r.ID, err)
	}
	return &subscription.Subscription{
		Entity:          entity.Entity{CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC()},
		ID:              subID,
		OwnerID:         r.OwnerID,
		URL:             r.URL,
		Description:     r.Description,
		Secret:          r.Secret,
		Events:          events,
		Active:          r.Active,
		LastTriggeredAt: utcPtr(r.LastTriggeredAt),
	}, nil
}

type deliveryRow struct {
	ID             string     `db:"id"`
	SubscriptionID string     `db:"subscription_id"`
	EventID        string     `db:"event_id"`
	Event          string     `db:"event"`
	Payload        []byte     `db:"payload"`
	Status         string     `db:"status"`
	StatusCode     *int       `db:"status_code"`
	Response       string     `db:"response"`
	AttemptCount   int        `db:"attempt_count"`
	NextAttemptAt  *time.Time `db:"next_attempt_at"`
	DeliveredAt    *time.Time `db:"delivered_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func toDeliveryRow(d *delivery.Delivery) deliveryRow {
	return deliveryRow{
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

func (r *deliveryRow) toDelivery() (*delivery.Delivery, error) {
	delID, err := id.ParseDeliveryID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", r.ID, err)
	}
	subID, err := id.ParseSubscriptionID(r.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", r.SubscriptionID, err)
	}
	evtID, err := id.ParseEventID(r.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", r.EventID, err)
	}
	kind, err := event.ParseKind(r.Event)
	if err != nil {
		return nil, fmt.Errorf("delivery %s: %w", r.ID, err)
	}
	status, err := delivery.ParseStatus(r.Status)
	if err != nil {
		return nil, fmt.Errorf("delivery %s: %w", r.ID, err)
	}
	return &delivery.Delivery{
		Entity:         entity.Entity{CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC()},
		ID:             delID,
		SubscriptionID: subID,
		EventID:        evtID,
		Kind:           kind,
		Payload:        r.Payload,
		Status:         status,
		StatusCode:     r.StatusCode,
		Response:       r.Response,
		AttemptCount:   r.AttemptCount,
		NextAttemptAt:  utcPtr(r.NextAttemptAt),
		DeliveredAt:    utcPtr(r.DeliveredAt),
	}, nil
}

type attemptRow struct {
	DeliveryID     string    `db:"delivery_id"`
	Attempt        int       `db:"attempt"`
	SubscriptionID string    `db:"subscription_id"`
	EventID        string    `db:"event_id"`
	Event          string    `db:"event"`
	StatusCode     int       `db:"status_code"`
	Error          string    `db:"error"`
	LatencyMs      int64     `db:"latency_ms"`
	Outcome        string    `db:"outcome"`
	At             time.Time `db:"at"`
}

func toAttemptRow(a *delivery.Attempt) attemptRow {
	return attemptRow{
		DeliveryID:     a.DeliveryID.String(),
		Attempt:        a.Attempt,
		SubscriptionID: a.SubscriptionID.String(),
		EventID:        a.EventID.String(),
		Event:          a.Kind,
		StatusCode:     a.StatusCode,
		Error:          a.Error,
		LatencyMs:      a.LatencyMs,
		Outcome:        a.Outcome,
		At:             a.At,
	}
}

func (r *attemptRow) toAttempt() (*delivery.Attempt, error) {
	delID, err := id.ParseDeliveryID(r.DeliveryID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", r.DeliveryID, err)
	}
	subID, err := id.ParseSubscriptionID(r.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", r.SubscriptionID, err)
	}
	evtID, err := id.ParseEventID(r.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", r.EventID, err)
	}
	return &delivery.Attempt{
		DeliveryID:     delID,
		SubscriptionID: subID,
		EventID:        evtID,
		Kind:           r.Event,
		Attempt:        r.Attempt,
		StatusCode:     r.StatusCode,
		Error:          r.Error,
		LatencyMs:      r.LatencyMs,
		Outcome:        r.Outcome,
		At:             r.At.UTC(),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
