package subscription

import (
	"context"
	"log/slog"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/signature"
)

// Service validates and stores subscriptions. Ownership checks are the
// caller's job.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService returns a Service over store.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Create validates in and stores a new subscription. An empty secret is
// replaced by a generated one.
func (svc *Service) Create(ctx context.Context, ownerID string, in Input) (*Subscription, error) {
	secret := in.Secret
	if secret == "" {
		secret = signature.GenerateSecret()
	}

	active := true
	if in.Active != nil {
		active = *in.Active
	}

	sub := &Subscription{
		Entity:      entity.New(),
		ID:          id.NewSubscriptionID(),
		OwnerID:     ownerID,
		URL:         in.URL,
		Description: in.Description,
		Secret:      secret,
		Active:      active,
	}

	ve := &ValidationError{}
	if ownerID == "" {
		ve.add("ownerId", "owner is required")
	}
	events, err := ParseEvents(in.Events)
	if err != nil {
		ve.add("events", err.Error())
	}
	sub.Events = events
	ve.checkTarget(sub)
	if err := ve.orNil(); err != nil {
		return nil, err
	}

	if err := svc.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	svc.logger.InfoContext(ctx, "subscription created",
		"subscription_id", sub.ID.String(), "owner_id", ownerID, "events", sub.Events.Strings())

	return sub, nil
}

// Get returns a subscription by id.
func (svc *Service) Get(ctx context.Context, subID id.ID) (*Subscription, error) {
	return svc.store.GetSubscription(ctx, subID)
}

// Update applies p and revalidates the result before storing it.
func (svc *Service) Update(ctx context.Context, subID id.ID, p Patch) (*Subscription, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	ve := &ValidationError{}
	if p.URL != nil {
		sub.URL = *p.URL
	}
	if p.Description != nil {
		sub.Description = *p.Description
	}
	if p.Secret != nil {
		sub.Secret = *p.Secret
	}
	if p.Events != nil {
		events, err := ParseEvents(p.Events)
		if err != nil {
			ve.add("events", err.Error())
		} else {
			sub.Events = events
		}
	}
	if p.Active != nil {
		sub.Active = *p.Active
	}

	ve.checkTarget(sub)
	if err := ve.orNil(); err != nil {
		return nil, err
	}

	sub.Touch()
	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	return sub, nil
}

// Delete removes a subscription. Its delivery records are kept.
func (svc *Service) Delete(ctx context.Context, subID id.ID) error {
	return svc.store.DeleteSubscription(ctx, subID)
}

// List returns an owner's subscriptions.
func (svc *Service) List(ctx context.Context, ownerID string, opts ListOpts) ([]*Subscription, error) {
	return svc.store.ListSubscriptions(ctx, ownerID, opts)
}

// SetActive activates or deactivates a subscription. Retries already
// scheduled for it still run.
func (svc *Service) SetActive(ctx context.Context, subID id.ID, active bool) error {
	return svc.store.SetActive(ctx, subID, active)
}

// RotateSecret replaces the signing secret and returns the new one.
func (svc *Service) RotateSecret(ctx context.Context, subID id.ID) (string, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return "", err
	}

	sub.Secret = signature.GenerateSecret()
	sub.Touch()

	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return "", err
	}

	svc.logger.InfoContext(ctx, "subscription secret rotated", "subscription_id", subID.String())

	return sub.Secret, nil
}
