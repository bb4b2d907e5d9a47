// Package storetest runs the behaviour every store.Store backend must share
// against a freshly opened store.
package storetest

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
	"github.com/xraph/herald/store"
	"github.com/xraph/herald/subscription"
)

// Opener returns an empty, migrated store. Cleanup is registered on t.
type Opener func(t *testing.T) store.Store

// Run exercises s against the shared store contract.
func Run(t *testing.T, open Opener) {
	t.Helper()

	t.Run("FindActive", func(t *testing.T) { testFindActive(t, open(t)) })
	t.Run("SubscriptionNotFound", func(t *testing.T) { testSubscriptionNotFound(t, open(t)) })
	t.Run("TouchLastTriggered", func(t *testing.T) { testTouchLastTriggered(t, open(t)) })
	t.Run("DeliveryTerminalUpdate", func(t *testing.T) { testDeliveryTerminalUpdate(t, open(t)) })
	t.Run("DeliveryNotFound", func(t *testing.T) { testDeliveryNotFound(t, open(t)) })
	t.Run("ListPending", func(t *testing.T) { testListPending(t, open(t)) })
}

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

func mustCreateSub(t *testing.T, s store.Store, sub *subscription.Subscription) {
	t.Helper()
	if err := s.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
}

func mustCreateDelivery(t *testing.T, s store.Store, d *delivery.Delivery) {
	t.Helper()
	if err := s.CreateDelivery(context.Background(), d); err != nil {
		t.Fatalf("create delivery: %v", err)
	}
}

func ids(subs []*subscription.Subscription) map[string]bool {
	out := make(map[string]bool, len(subs))
	for _, s := range subs {
		out[s.ID.String()] = true
	}
	return out
}

func testFindActive(t *testing.T, s store.Store) {
	ctx := context.Background()

	clicks := newSub("u1", true, event.KindLinkClick, event.KindProfileView)
	paused := newSub("u1", false, event.KindLinkClick)
	forms := newSub("u1", true, event.KindFormSubmission)
	other := newSub("u2", true, event.KindLinkClick)
	for _, sub := range []*subscription.Subscription{clicks, paused, forms, other} {
		mustCreateSub(t, s, sub)
	}

	got, err := s.FindActive(ctx, "u1", event.KindLinkClick)
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if len(got) != 1 || !ids(got)[clicks.ID.String()] {
		t.Fatalf("link_click matched %d subscriptions, want only %s", len(got), clicks.ID)
	}
	if got[0].OwnerID != "u1" || !got[0].Events.Has(event.KindProfileView) || got[0].Secret != clicks.Secret {
		t.Fatalf("subscription read back wrong: %+v", got[0])
	}

	got, err = s.FindActive(ctx, "u1", event.KindFormSubmission)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !ids(got)[forms.ID.String()] {
		t.Fatalf("form_submission matched %d subscriptions", len(got))
	}

	got, err = s.FindActive(ctx, "u1", event.KindProfileUpdated)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("profile_updated matched %d subscriptions, want 0", len(got))
	}

	if err := s.SetActive(ctx, clicks.ID, false); err != nil {
		t.Fatal(err)
	}
	if err := s.SetActive(ctx, paused.ID, true); err != nil {
		t.Fatal(err)
	}
	got, err = s.FindActive(ctx, "u1", event.KindLinkClick)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !ids(got)[paused.ID.String()] {
		t.Fatalf("after toggling, link_click matched %d subscriptions", len(got))
	}
}

func testSubscriptionNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	missing := id.NewSubscriptionID()

	if _, err := s.GetSubscription(ctx, missing); !errors.Is(err, herald.ErrSubscriptionNotFound) {
		t.Fatalf("get: expected ErrSubscriptionNotFound, got %v", err)
	}
	if err := s.SetActive(ctx, missing, true); !errors.Is(err, herald.ErrSubscriptionNotFound) {
		t.Fatalf("set active: expected ErrSubscriptionNotFound, got %v", err)
	}
	if err := s.DeleteSubscription(ctx, missing); !errors.Is(err, herald.ErrSubscriptionNotFound) {
		t.Fatalf("delete: expected ErrSubscriptionNotFound, got %v", err)
	}
}

func testTouchLastTriggered(t *testing.T, s store.Store) {
	ctx := context.Background()
	sub := newSub("u1", true, event.KindLinkClick)
	mustCreateSub(t, s, sub)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.TouchLastTriggered(ctx, sub.ID, at); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastTriggeredAt == nil || !got.LastTriggeredAt.Equal(at) {
		t.Fatalf("lastTriggeredAt = %v, want %v", got.LastTriggeredAt, at)
	}

	if err := s.TouchLastTriggered(ctx, id.NewSubscriptionID(), at); !errors.Is(err, herald.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func testDeliveryTerminalUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	payload := []byte(`{"data":{},"event":"link_click"}`)

	d := delivery.New(id.NewSubscriptionID(), id.NewEventID(), event.KindLinkClick, payload)
	mustCreateDelivery(t, s, d)

	got, err := s.GetDelivery(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusPending || got.StatusCode != nil || got.AttemptCount != 1 {
		t.Fatalf("new delivery read back wrong: %+v", got)
	}

	next := entity.Now().Add(time.Second)
	if err := s.UpdateDelivery(ctx, d.ID, delivery.Update{
		Status: delivery.StatusPending, StatusCode: 503, Response: "unavailable",
		AttemptCount: 1, NextAttemptAt: &next,
	}); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetDelivery(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.NextAttemptAt == nil || got.StatusCode == nil || *got.StatusCode != 503 {
		t.Fatalf("retry outcome not stored: %+v", got)
	}

	done := entity.Now()
	if err := s.UpdateDelivery(ctx, d.ID, delivery.Update{
		Status: delivery.StatusSuccess, StatusCode: 200, Response: "ok",
		AttemptCount: 2, DeliveredAt: &done,
	}); err != nil {
		t.Fatal(err)
	}

	// A terminal record ignores later writes without an error.
	if err := s.UpdateDelivery(ctx, d.ID, delivery.Update{
		Status: delivery.StatusFailed, StatusCode: 500, AttemptCount: 3,
	}); err != nil {
		t.Fatalf("update of terminal delivery: %v", err)
	}

	got, err = s.GetDelivery(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusSuccess || got.AttemptCount != 2 {
		t.Fatalf("terminal delivery changed: status=%s attempts=%d", got.Status, got.AttemptCount)
	}
	if got.StatusCode == nil || *got.StatusCode != 200 {
		t.Fatalf("statusCode = %v, want 200", got.StatusCode)
	}
	if got.DeliveredAt == nil || got.NextAttemptAt != nil {
		t.Fatalf("deliveredAt=%v nextAttemptAt=%v", got.DeliveredAt, got.NextAttemptAt)
	}
	if string(got.Payload) != string(payload) {
		t.Fatalf("payload = %s", got.Payload)
	}

	n, err := s.CountPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
}

func testDeliveryNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	missing := id.NewDeliveryID()

	if _, err := s.GetDelivery(ctx, missing); !errors.Is(err, herald.ErrDeliveryNotFound) {
		t.Fatalf("get: expected ErrDeliveryNotFound, got %v", err)
	}
	err := s.UpdateDelivery(ctx, missing, delivery.Update{Status: delivery.StatusFailed, StatusCode: 500})
	if !errors.Is(err, herald.ErrDeliveryNotFound) {
		t.Fatalf("update: expected ErrDeliveryNotFound, got %v", err)
	}
}

func testListPending(t *testing.T, s store.Store) {
	ctx := context.Background()
	subID := id.NewSubscriptionID()
	now := entity.Now()

	aged := func(age time.Duration) *delivery.Delivery {
		d := delivery.New(subID, id.NewEventID(), event.KindLinkClick, []byte(`{}`))
		d.CreatedAt = now.Add(-age)
		d.UpdatedAt = now.Add(-age)
		return d
	}

	hourOld := aged(time.Hour)
	twoHoursOld := aged(2 * time.Hour)
	fresh := aged(0)
	finished := aged(3 * time.Hour)
	for _, d := range []*delivery.Delivery{hourOld, fresh, finished, twoHoursOld} {
		mustCreateDelivery(t, s, d)
	}
	if err := s.UpdateDelivery(ctx, finished.ID, delivery.Update{
		Status: delivery.StatusFailed, StatusCode: 410, AttemptCount: 1,
	}); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListPending(ctx, now.Add(-time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("pending = %d, want 2", len(got))
	}
	if got[0].ID.String() != twoHoursOld.ID.String() || got[1].ID.String() != hourOld.ID.String() {
		t.Fatalf("expected oldest first, got %s then %s", got[0].ID, got[1].ID)
	}

	limited, err := s.ListPending(ctx, now.Add(-time.Minute), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ID.String() != twoHoursOld.ID.String() {
		t.Fatalf("limited = %d", len(limited))
	}
}
