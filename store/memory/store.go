// Package memory is an in-process Store, used by tests and single-node
// development setups. It also keeps per-attempt history.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	heraldstore "github.com/xraph/herald/store"
	"github.com/xraph/herald/subscription"
)

var (
	_ heraldstore.Store   = (*Store)(nil)
	_ delivery.AttemptLog = (*Store)(nil)
)

// Store keeps everything in maps keyed by id string, behind one mutex. Returned records are
// copies, so callers may mutate them freely.
type Store struct {
	mu sync.RWMutex

	subs       map[string]*subscription.Subscription
	deliveries map[string]*delivery.Delivery
	attempts   map[string][]*delivery.Attempt

	closed bool
}

// New returns an empty store.
func New() *Store {
	return &Store{
		subs:       make(map[string]*subscription.Subscription),
		deliveries: make(map[string]*delivery.Delivery),
		attempts:   make(map[string][]*delivery.Attempt),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping fails once the store is closed.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return herald.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// subscription.Store
// ──────────────────────────────────────────────────

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copySub(sub *subscription.Subscription) *subscription.Subscription {
	cp := *sub
	cp.LastTriggeredAt = clonePtr(sub.LastTriggeredAt)
	return &cp
}

func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return herald.ErrStoreClosed
	}
	s.subs[sub.ID.String()] = copySub(sub)
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.ID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[subID.String()]
	if !ok {
		return nil, herald.ErrSubscriptionNotFound
	}
	return copySub(sub), nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[sub.ID.String()]; !ok {
		return herald.ErrSubscriptionNotFound
	}
	s.subs[sub.ID.String()] = copySub(sub)
	return nil
}

func (s *Store) DeleteSubscription(_ context.Context, subID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[subID.String()]; !ok {
		return herald.ErrSubscriptionNotFound
	}
	delete(s.subs, subID.String())
	return nil
}

// ListSubscriptions returns the owner's subscriptions, newest first.
func (s *Store) ListSubscriptions(_ context.Context, ownerID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subs {
		if sub.OwnerID != ownerID {
			continue
		}
		if opts.Active != nil && sub.Active != *opts.Active {
			continue
		}
		result = append(result, copySub(sub))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() > result[j].ID.String()
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) FindActive(_ context.Context, ownerID string, kind event.Kind) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, herald.ErrStoreClosed
	}

	var result []*subscription.Subscription
	for _, sub := range s.subs {
		if sub.OwnerID == ownerID && sub.Subscribes(kind) {
			result = append(result, copySub(sub))
		}
	}
	return result, nil
}

func (s *Store) SetActive(_ context.Context, subID id.ID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[subID.String()]
	if !ok {
		return herald.ErrSubscriptionNotFound
	}
	sub.Active = active
	sub.Touch()
	return nil
}

func (s *Store) TouchLastTriggered(_ context.Context, subID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[subID.String()]
	if !ok {
		return herald.ErrSubscriptionNotFound
	}
	t := at.UTC()
	sub.LastTriggeredAt = &t
	return nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

func copyDelivery(d *delivery.Delivery) *delivery.Delivery {
	cp := *d
	cp.Payload = slices.Clone(d.Payload)
	cp.StatusCode = clonePtr(d.StatusCode)
	cp.NextAttemptAt = clonePtr(d.NextAttemptAt)
	cp.DeliveredAt = clonePtr(d.DeliveredAt)
	return &cp
}

func (s *Store) CreateDelivery(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return herald.ErrStoreClosed
	}
	s.deliveries[d.ID.String()] = copyDelivery(d)
	return nil
}

// UpdateDelivery applies u unless the delivery is already terminal.
func (s *Store) UpdateDelivery(_ context.Context, delID id.ID, u delivery.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[delID.String()]
	if !ok {
		return herald.ErrDeliveryNotFound
	}
	d.Apply(u)
	return nil
}

func (s *Store) GetDelivery(_ context.Context, delID id.ID) (*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deliveries[delID.String()]
	if !ok {
		return nil, herald.ErrDeliveryNotFound
	}
	return copyDelivery(d), nil
}

func (s *Store) ListBySubscription(_ context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Delivery, 0)
	for _, d := range s.deliveries {
		if d.SubscriptionID.String() != subID.String() {
			continue
		}
		if opts.Status != nil && d.Status != *opts.Status {
			continue
		}
		result = append(result, copyDelivery(d))
	}

	// IDs are time-ordered, which breaks CreatedAt ties deterministically.
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() > result[j].ID.String()
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListPending(_ context.Context, before time.Time, limit int) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*delivery.Delivery
	for _, d := range s.deliveries {
		if d.Status == delivery.StatusPending && d.UpdatedAt.Before(before) {
			result = append(result, copyDelivery(d))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CountPending(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, d := range s.deliveries {
		if d.Status == delivery.StatusPending {
			n++
		}
	}
	return n, nil
}

// Backdate shifts a delivery's UpdatedAt into the past. Tests use it to
// make a record look stale to the reconciliation sweep.
func (s *Store) Backdate(delID id.ID, by time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.deliveries[delID.String()]; ok {
		d.UpdatedAt = entity.Now().Add(-by)
	}
}

// ──────────────────────────────────────────────────
// delivery.AttemptLog
// ──────────────────────────────────────────────────

func (s *Store) RecordAttempt(_ context.Context, a *delivery.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.attempts[a.DeliveryID.String()] = append(s.attempts[a.DeliveryID.String()], &cp)
	return nil
}

func (s *Store) ListAttempts(_ context.Context, delID id.ID) ([]*delivery.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.attempts[delID.String()]
	out := make([]*delivery.Attempt, len(src))
	for i, a := range src {
		cp := *a
		out[i] = &cp
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset >= len(items) {
		return items[:0]
	}
	if offset > 0 {
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
