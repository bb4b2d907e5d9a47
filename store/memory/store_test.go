package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	heraldstore "github.com/xraph/herald/store"
	"github.com/xraph/herald/store/storetest"
	"github.com/xraph/herald/subscription"
)

func ctx() context.Context { return context.Background() }

func newSub(owner string, active bool, kinds ...event.Kind) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:  entity.New(),
		ID:      id.NewSubscriptionID(),
		OwnerID: owner,
		URL:     "https://example.com/hook",
		Secret:  "s3cr3t-minimum-16ch",
		Events:  event.NewKindSet(kinds...),
		Active:  active,
	}
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(*testing.T) heraldstore.Store { return New() })
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	s := New()

	if err := s.Migrate(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); !errors.Is(err, herald.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
	if _, err := s.FindActive(ctx(), "u", event.KindLinkClick); !errors.Is(err, herald.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// subscription.Store
// ──────────────────────────────────────────────────

func TestSubscriptionCRUD(t *testing.T) {
	s := New()
	sub := newSub("u1", true, event.KindLinkClick)

	if err := s.CreateSubscription(ctx(), sub); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSubscription(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != sub.URL || got.Secret != sub.Secret || !got.Events.Has(event.KindLinkClick) {
		t.Fatalf("unexpected subscription: %+v", got)
	}

	// Returned records are copies.
	got.URL = "https://mutated.example.com"
	again, _ := s.GetSubscription(ctx(), sub.ID)
	if again.URL != sub.URL {
		t.Fatal("store state changed through a returned copy")
	}

	got.Description = "updated"
	if err := s.UpdateSubscription(ctx(), got); err != nil {
		t.Fatal(err)
	}
	again, _ = s.GetSubscription(ctx(), sub.ID)
	if again.Description != "updated" {
		t.Fatalf("description = %q", again.Description)
	}

	if err := s.DeleteSubscription(ctx(), sub.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSubscription(ctx(), sub.ID); !errors.Is(err, herald.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
	if err := s.DeleteSubscription(ctx(), sub.ID); !errors.Is(err, herald.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
	if err := s.UpdateSubscription(ctx(), sub); !errors.Is(err, herald.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestFindActive(t *testing.T) {
	s := New()

	hit := newSub("u1", true, event.KindLinkClick, event.KindProfileView)
	wrongKind := newSub("u1", true, event.KindProfileView)
	inactive := newSub("u1", false, event.KindLinkClick)
	otherOwner := newSub("u2", true, event.KindLinkClick)

	for _, sub := range []*subscription.Subscription{hit, wrongKind, inactive, otherOwner} {
		if err := s.CreateSubscription(ctx(), sub); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.FindActive(ctx(), "u1", event.KindLinkClick)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID.String() != hit.ID.String() {
		t.Fatalf("FindActive = %v, want only %s", got, hit.ID)
	}

	if err := s.SetActive(ctx(), inactive.ID, true); err != nil {
		t.Fatal(err)
	}
	got, _ = s.FindActive(ctx(), "u1", event.KindLinkClick)
	if len(got) != 2 {
		t.Fatalf("after activation got %d, want 2", len(got))
	}

	if err := s.SetActive(ctx(), id.NewSubscriptionID(), true); !errors.Is(err, herald.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestListSubscriptions(t *testing.T) {
	s := New()

	var ids []string
	for i := range 5 {
		sub := newSub("u1", i%2 == 0, event.KindLinkClick)
		ids = append(ids, sub.ID.String())
		if err := s.CreateSubscription(ctx(), sub); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if err := s.CreateSubscription(ctx(), newSub("u2", true, event.KindLinkClick)); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListSubscriptions(ctx(), "u1", subscription.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("got %d, want 5", len(all))
	}
	if all[0].ID.String() != ids[4] {
		t.Fatal("expected newest first")
	}

	active := true
	onlyActive, _ := s.ListSubscriptions(ctx(), "u1", subscription.ListOpts{Active: &active})
	if len(onlyActive) != 3 {
		t.Fatalf("active = %d, want 3", len(onlyActive))
	}

	page, _ := s.ListSubscriptions(ctx(), "u1", subscription.ListOpts{Offset: 1, Limit: 2})
	if len(page) != 2 || page[0].ID.String() != ids[3] {
		t.Fatalf("unexpected page: %v", page)
	}

	empty, _ := s.ListSubscriptions(ctx(), "u1", subscription.ListOpts{Offset: 10})
	if len(empty) != 0 {
		t.Fatalf("got %d past the end", len(empty))
	}
}

func TestTouchLastTriggered(t *testing.T) {
	s := New()
	sub := newSub("u1", true, event.KindLinkClick)
	_ = s.CreateSubscription(ctx(), sub)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.TouchLastTriggered(ctx(), sub.ID, at); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetSubscription(ctx(), sub.ID)
	if got.LastTriggeredAt == nil || !got.LastTriggeredAt.Equal(at) {
		t.Fatalf("lastTriggeredAt = %v", got.LastTriggeredAt)
	}
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

func TestDeliveryLifecycle(t *testing.T) {
	s := New()
	subID := id.NewSubscriptionID()
	payload := []byte(`{"data":{},"event":"link_click"}`)

	d := delivery.New(subID, id.NewEventID(), event.KindLinkClick, payload)
	if err := s.CreateDelivery(ctx(), d); err != nil {
		t.Fatal(err)
	}

	n, _ := s.CountPending(ctx())
	if n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}

	next := entity.Now().Add(time.Second)
	if err := s.UpdateDelivery(ctx(), d.ID, delivery.Update{
		Status: delivery.StatusPending, StatusCode: 502, Response: "bad gateway",
		AttemptCount: 1, NextAttemptAt: &next,
	}); err != nil {
		t.Fatal(err)
	}

	now := entity.Now()
	if err := s.UpdateDelivery(ctx(), d.ID, delivery.Update{
		Status: delivery.StatusSuccess, StatusCode: 200, AttemptCount: 2, DeliveredAt: &now,
	}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDelivery(ctx(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusSuccess || got.AttemptCount != 2 || *got.StatusCode != 200 {
		t.Fatalf("unexpected delivery: %+v", got)
	}
	if got.NextAttemptAt != nil {
		t.Fatal("nextAttemptAt should be cleared on success")
	}
	if string(got.Payload) != string(payload) {
		t.Fatal("payload changed")
	}

	// Terminal records are frozen.
	if err := s.UpdateDelivery(ctx(), d.ID, delivery.Update{Status: delivery.StatusFailed, StatusCode: 500}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetDelivery(ctx(), d.ID)
	if got.Status != delivery.StatusSuccess {
		t.Fatalf("terminal delivery changed to %s", got.Status)
	}

	if err := s.UpdateDelivery(ctx(), id.NewDeliveryID(), delivery.Update{}); !errors.Is(err, herald.ErrDeliveryNotFound) {
		t.Fatalf("expected ErrDeliveryNotFound, got %v", err)
	}
	if _, err := s.GetDelivery(ctx(), id.NewDeliveryID()); !errors.Is(err, herald.ErrDeliveryNotFound) {
		t.Fatalf("expected ErrDeliveryNotFound, got %v", err)
	}
}

func TestReturnedDeliveryIsACopy(t *testing.T) {
	s := New()
	d := delivery.New(id.NewSubscriptionID(), id.NewEventID(), event.KindLinkClick, []byte(`{}`))
	_ = s.CreateDelivery(ctx(), d)

	next := entity.Now().Add(time.Minute)
	_ = s.UpdateDelivery(ctx(), d.ID, delivery.Update{
		Status: delivery.StatusPending, StatusCode: 503, AttemptCount: 1, NextAttemptAt: &next,
	})

	got, _ := s.GetDelivery(ctx(), d.ID)
	*got.StatusCode = 200
	*got.NextAttemptAt = time.Time{}
	got.Payload[0] = '['

	again, _ := s.GetDelivery(ctx(), d.ID)
	if *again.StatusCode != 503 {
		t.Fatalf("stored statusCode changed to %d", *again.StatusCode)
	}
	if !again.NextAttemptAt.Equal(next) {
		t.Fatalf("stored nextAttemptAt changed to %v", again.NextAttemptAt)
	}
	if string(again.Payload) != `{}` {
		t.Fatalf("stored payload changed to %s", again.Payload)
	}

	// The update's pointer is not retained either.
	next = next.Add(time.Hour)
	again, _ = s.GetDelivery(ctx(), d.ID)
	if again.NextAttemptAt.Equal(next) {
		t.Fatal("store shares the caller's nextAttemptAt")
	}
}

func TestListBySubscription(t *testing.T) {
	s := New()
	subID := id.NewSubscriptionID()

	var last *delivery.Delivery
	for range 3 {
		last = delivery.New(subID, id.NewEventID(), event.KindProfileView, []byte(`{}`))
		_ = s.CreateDelivery(ctx(), last)
		time.Sleep(2 * time.Millisecond)
	}
	_ = s.CreateDelivery(ctx(), delivery.New(id.NewSubscriptionID(), id.NewEventID(), event.KindProfileView, []byte(`{}`)))

	failed := delivery.StatusFailed
	_ = s.UpdateDelivery(ctx(), last.ID, delivery.Update{Status: failed, StatusCode: 404, AttemptCount: 1})

	all, _ := s.ListBySubscription(ctx(), subID, delivery.ListOpts{})
	if len(all) != 3 || all[0].ID.String() != last.ID.String() {
		t.Fatalf("unexpected list: %d items", len(all))
	}

	onlyFailed, _ := s.ListBySubscription(ctx(), subID, delivery.ListOpts{Status: &failed})
	if len(onlyFailed) != 1 {
		t.Fatalf("failed = %d, want 1", len(onlyFailed))
	}
}

func TestListPending(t *testing.T) {
	s := New()
	subID := id.NewSubscriptionID()

	old := delivery.New(subID, id.NewEventID(), event.KindLinkClick, []byte(`{}`))
	older := delivery.New(subID, id.NewEventID(), event.KindLinkClick, []byte(`{}`))
	fresh := delivery.New(subID, id.NewEventID(), event.KindLinkClick, []byte(`{}`))
	done := delivery.New(subID, id.NewEventID(), event.KindLinkClick, []byte(`{}`))
	for _, d := range []*delivery.Delivery{old, older, fresh, done} {
		_ = s.CreateDelivery(ctx(), d)
	}
	_ = s.UpdateDelivery(ctx(), done.ID, delivery.Update{Status: delivery.StatusSuccess, StatusCode: 200, AttemptCount: 1})

	s.Backdate(old.ID, time.Hour)
	s.Backdate(older.ID, 2*time.Hour)
	s.Backdate(done.ID, 3*time.Hour)

	got, err := s.ListPending(ctx(), entity.Now().Add(-time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("pending = %d, want 2", len(got))
	}
	if got[0].ID.String() != older.ID.String() {
		t.Fatal("expected oldest first")
	}

	limited, _ := s.ListPending(ctx(), entity.Now().Add(-time.Minute), 1)
	if len(limited) != 1 {
		t.Fatalf("limited = %d, want 1", len(limited))
	}
}

// ──────────────────────────────────────────────────
// delivery.AttemptLog
// ──────────────────────────────────────────────────

func TestAttemptLog(t *testing.T) {
	s := New()
	delID := id.NewDeliveryID()

	for i := 1; i <= 2; i++ {
		if err := s.RecordAttempt(ctx(), &delivery.Attempt{
			DeliveryID: delID, Attempt: i, StatusCode: 500, Outcome: "retry", At: entity.Now(),
		}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListAttempts(ctx(), delID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Attempt != 1 || got[1].Attempt != 2 {
		t.Fatalf("unexpected attempts: %+v", got)
	}

	none, _ := s.ListAttempts(ctx(), id.NewDeliveryID())
	if len(none) != 0 {
		t.Fatalf("got %d attempts for unknown delivery", len(none))
	}
}
