package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/subscription"
)

// --- Subscription models ---

type subscriptionModel struct {
	grove.BaseModel `grove:"table:herald_subscriptions"`

	ID              string     `grove:"id,pk" bson:"_id"`
	OwnerID         string     `grove:"owner_id" bson:"owner_id"`
	URL             string     `grove:"url" bson:"url"`
	Description     string     `grove:"description" bson:"description"`
	Secret          string     `grove:"secret" bson:"secret"`
	EventMask       int64      `grove:"event_mask" bson:"event_mask"`
	Active          bool       `grove:"active" bson:"active"`
	LastTriggeredAt *time.Time `grove:"last_triggered_at" bson:"last_triggered_at,omitempty"`
	CreatedAt       time.Time  `grove:"created_at" bson:"created_at"`
	UpdatedAt       time.Time  `grove:"updated_at" bson:"updated_at"`
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

// --- Delivery models ---

type deliveryModel struct {
	grove.BaseModel `grove:"table:herald_deliveries"`

	ID             string     `grove:"id,pk" bson:"_id"`
	SubscriptionID string     `grove:"subscription_id" bson:"subscription_id"`
	EventID        string     `grove:"event_id" bson:"event_id"`
	Event          string     `grove:"event" bson:"event"`
	Payload        []byte     `grove:"payload" bson:"payload"`
	Status         string     `grove:"status" bson:"status"`
	StatusCode     *int       `grove:"status_code" bson:"status_code,omitempty"`
	Response       string     `grove:"response" bson:"response"`
	AttemptCount   int        `grove:"attempt_count" bson:"attempt_count"`
	NextAttemptAt  *time.Time `grove:"next_attempt_at" bson:"next_attempt_at,omitempty"`
	DeliveredAt    *time.Time `grove:"delivered_at" bson:"delivered_at,omitempty"`
	CreatedAt      time.Time  `grove:"created_at" bson:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at" bson:"updated_at"`
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
		return nil, fmt.Errorf("delivery %s: %w", m.ID, err)
	}
	status, err := delivery.ParseStatus(m.Status)
	if err != nil {
		return nil, fmt.Errorf("delivery %s: %w", m.ID, err)
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

// --- Attempt models ---

type attemptModel struct {
	grove.BaseModel `grove:"table:herald_delivery_attempts"`

	ID             string    `grove:"id,pk" bson:"_id"`
	DeliveryID     string    `grove:"delivery_id" bson:"delivery_id"`
	Attempt        int       `grove:"attempt" bson:"attempt"`
	SubscriptionID string    `grove:"subscription_id" bson:"subscription_id"`
	EventID        string    `grove:"event_id" bson:"event_id"`
	Event          string    `grove:"event" bson:"event"`
	StatusCode     int       `grove:"status_code" bson:"status_code"`
	Error          string    `grove:"error" bson:"error"`
	LatencyMs      int64     `grove:"latency_ms" bson:"latency_ms"`
	Outcome        string    `grove:"outcome" bson:"outcome"`
	At             time.Time `grove:"at" bson:"at"`
}

func toAttemptModel(a *delivery.Attempt) *attemptModel {
	return &attemptModel{
		ID:             fmt.Sprintf("%s:%d", a.DeliveryID, a.Attempt),
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

func fromAttemptModel(m *attemptModel) (*delivery.Attempt, error) {
	delID, err := id.ParseDeliveryID(m.DeliveryID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.DeliveryID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	return &delivery.Attempt{
		DeliveryID:     delID,
		SubscriptionID: subID,
		EventID:        evtID,
		Kind:           m.Event,
		Attempt:        m.Attempt,
		StatusCode:     m.StatusCode,
		Error:          m.Error,
		LatencyMs:      m.LatencyMs,
		Outcome:        m.Outcome,
		At:             m.At,
	}, nil
}
