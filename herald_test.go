package herald_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/signature"
	"github.com/xraph/herald/store/memory"
	"github.com/xraph/herald/subscription"
)

const testSecret = "s3cr3t-minimum-16ch"

func ctx() context.Context { return context.Background() }

func setup(t *testing.T, opts ...herald.Option) (*herald.Herald, *memory.Store) {
	t.Helper()
	s := memory.New()
	opts = append([]herald.Option{
		herald.WithStore(s),
		herald.WithBackoff(20*time.Millisecond, time.Second),
		herald.WithRequestTimeout(2 * time.Second),
		herald.WithRedrive(0, 0),
	}, opts...)
	h, err := herald.New(opts...)
	if err != nil {
		t.Fatal(err)
	}
	return h, s
}

func start(t *testing.T, h *herald.Herald) {
	t.Helper()
	h.Start(ctx())
	t.Cleanup(func() {
		c, cancel := context.WithTimeout(ctx(), 5*time.Second)
		defer cancel()
		_ = h.Stop(c)
	})
}

func subscribe(t *testing.T, h *herald.Herald, owner, url string, events ...string) *subscription.Subscription {
	t.Helper()
	sub, err := h.Subscriptions().Create(ctx(), owner, subscription.Input{
		URL:    url,
		Secret: testSecret,
		Events: events,
	})
	if err != nil {
		t.Fatal(err)
	}
	return sub
}

func waitTerminal(t *testing.T, s *memory.Store, delID id.ID) *delivery.Delivery {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		d, err := s.GetDelivery(ctx(), delID)
		if err != nil {
			t.Fatal(err)
		}
		if d.Status.Terminal() {
			return d
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("delivery %s never reached a terminal status", delID)
	return nil
}

type capture struct {
	mu      sync.Mutex
	body    []byte
	headers http.Header
}

func TestNewRequiresStore(t *testing.T) {
	_, err := herald.New()
	if !errors.Is(err, herald.ErrNoStore) {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}

func TestEmitDeliversSignedEnvelope(t *testing.T) {
	got := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.mu.Lock()
		got.body = body
		got.headers = r.Header.Clone()
		got.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	h, s := setup(t)
	start(t, h)
	sub := subscribe(t, h, "user-1", srv.URL, "link_click")

	data := map[string]any{"profileId": "p1", "linkId": "l1", "url": "https://x.test"}
	em, err := h.Emit(ctx(), "user-1", event.KindLinkClick, data, &event.Visitor{Country: "NL"})
	if err != nil {
		t.Fatal(err)
	}
	if len(em.Deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(em.Deliveries))
	}

	d := waitTerminal(t, s, em.Deliveries[0])
	if d.Status != delivery.StatusSuccess {
		t.Fatalf("status = %s, want success", d.Status)
	}
	if d.StatusCode == nil || *d.StatusCode != 200 {
		t.Fatalf("status code = %v, want 200", d.StatusCode)
	}
	if d.AttemptCount != 1 {
		t.Errorf("attempts = %d, want 1", d.AttemptCount)
	}
	if d.DeliveredAt == nil {
		t.Error("expected deliveredAt")
	}

	got.mu.Lock()
	defer got.mu.Unlock()

	sig := got.headers.Get(signature.HeaderSignature)
	if sig != signature.SignCanonical(got.body, testSecret) {
		t.Fatalf("signature %q does not match body", sig)
	}
	if !signature.Verify(json.RawMessage(got.body), sig, testSecret) {
		t.Fatal("receiver-side verification failed")
	}
	if string(got.body) != string(d.Payload) {
		t.Fatal("sent body differs from stored payload")
	}
	if got.headers.Get(delivery.HeaderEvent) != "link_click" {
		t.Errorf("event header = %q", got.headers.Get(delivery.HeaderEvent))
	}
	if got.headers.Get(delivery.HeaderEventID) != em.EventID.String() {
		t.Errorf("event id header = %q", got.headers.Get(delivery.HeaderEventID))
	}

	var env struct {
		Event     string         `json:"event"`
		Timestamp string         `json:"timestamp"`
		Data      map[string]any `json:"data"`
		Visitor   map[string]any `json:"visitor"`
	}
	if err := json.Unmarshal(got.body, &env); err != nil {
		t.Fatal(err)
	}
	if env.Event != "link_click" || env.Data["linkId"] != "l1" || env.Visitor["country"] != "NL" {
		t.Fatalf("unexpected envelope: %s", got.body)
	}
	if _, err := time.Parse(event.TimestampLayout, env.Timestamp); err != nil {
		t.Fatalf("timestamp %q: %v", env.Timestamp, err)
	}

	// lastTriggeredAt is written right after the delivery record.
	deadline := time.Now().Add(2 * time.Second)
	for {
		stored, err := s.GetSubscription(ctx(), sub.ID)
		if err != nil {
			t.Fatal(err)
		}
		if stored.LastTriggeredAt != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected lastTriggeredAt after a successful delivery")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEmitFiltersSubscriptions(t *testing.T) {
	h, s := setup(t)

	match := subscribe(t, h, "user-1", "https://a.example.com/hook", "link_click", "profile_view")
	subscribe(t, h, "user-1", "https://b.example.com/hook", "profile_view")
	inactive := subscribe(t, h, "user-1", "https://c.example.com/hook", "link_click")
	subscribe(t, h, "user-2", "https://d.example.com/hook", "link_click")

	if err := h.Subscriptions().SetActive(ctx(), inactive.ID, false); err != nil {
		t.Fatal(err)
	}

	em, err := h.Emit(ctx(), "user-1", event.KindLinkClick, map[string]any{"profileId": "p1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(em.Deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(em.Deliveries))
	}

	d, err := s.GetDelivery(ctx(), em.Deliveries[0])
	if err != nil {
		t.Fatal(err)
	}
	if d.SubscriptionID.String() != match.ID.String() {
		t.Fatalf("delivery went to %s, want %s", d.SubscriptionID, match.ID)
	}
	if d.Status != delivery.StatusPending || d.AttemptCount != 1 || d.StatusCode != nil {
		t.Fatalf("unexpected initial record: %+v", d)
	}
	if d.Kind != event.KindLinkClick {
		t.Fatalf("kind = %s", d.Kind)
	}
}

func TestEmitNoSubscriptions(t *testing.T) {
	h, _ := setup(t)

	em, err := h.Emit(ctx(), "nobody", event.KindProfileView, map[string]any{"profileId": "p1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(em.Deliveries) != 0 {
		t.Fatalf("deliveries = %d, want 0", len(em.Deliveries))
	}
}

func TestEmitFanOutIsIndependent(t *testing.T) {
	var okHits, badHits atomic.Int32
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		okHits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		badHits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	h, s := setup(t)
	start(t, h)
	good := subscribe(t, h, "user-1", ok.URL, "form_submission")
	subscribe(t, h, "user-1", bad.URL, "form_submission")

	em, err := h.Emit(ctx(), "user-1", event.KindFormSubmission, map[string]any{"email": "a@b.c"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(em.Deliveries) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(em.Deliveries))
	}

	for _, delID := range em.Deliveries {
		d := waitTerminal(t, s, delID)
		if d.SubscriptionID.String() == good.ID.String() {
			if d.Status != delivery.StatusSuccess || d.AttemptCount != 1 {
				t.Errorf("good delivery: status %s after %d attempts", d.Status, d.AttemptCount)
			}
			continue
		}
		if d.Status != delivery.StatusFailed || d.AttemptCount != 3 {
			t.Errorf("bad delivery: status %s after %d attempts", d.Status, d.AttemptCount)
		}
		if d.StatusCode == nil || *d.StatusCode != 500 {
			t.Errorf("bad delivery: status code %v", d.StatusCode)
		}
	}

	if okHits.Load() != 1 || badHits.Load() != 3 {
		t.Fatalf("hits ok=%d bad=%d, want 1 and 3", okHits.Load(), badHits.Load())
	}
}

func TestEmitRejectsInvalidPayload(t *testing.T) {
	h, s := setup(t)
	sub := subscribe(t, h, "user-1", "https://a.example.com/hook", "profile_view")

	_, err := h.Emit(ctx(), "user-1", event.KindProfileView, map[string]any{"other": 1}, nil)
	if !errors.Is(err, herald.ErrPayloadValidationFailed) {
		t.Fatalf("err = %v, want ErrPayloadValidationFailed", err)
	}

	list, err := s.ListBySubscription(ctx(), sub.ID, delivery.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("deliveries = %d, want none", len(list))
	}
}

func TestEmitNilDataSendsEmptyObject(t *testing.T) {
	got := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.mu.Lock()
		got.body = body
		got.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h, s := setup(t)
	start(t, h)
	subscribe(t, h, "user-1", srv.URL, "form_submission")

	em, err := h.Emit(ctx(), "user-1", event.KindFormSubmission, nil, nil)
	if err != nil {
		t.Fatalf("emit with nil data: %v", err)
	}
	if len(em.Deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(em.Deliveries))
	}

	d := waitTerminal(t, s, em.Deliveries[0])
	if d.Status != delivery.StatusSuccess {
		t.Fatalf("status = %s, want success", d.Status)
	}

	got.mu.Lock()
	defer got.mu.Unlock()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(got.body, &env); err != nil {
		t.Fatal(err)
	}
	if string(env.Data) != "{}" {
		t.Fatalf("data = %s, want {}", env.Data)
	}
}

func TestEmitSkipsValidationWhenDisabled(t *testing.T) {
	h, _ := setup(t, herald.WithPayloadValidation(false))
	subscribe(t, h, "user-1", "https://a.example.com/hook", "profile_view")

	em, err := h.Emit(ctx(), "user-1", event.KindProfileView, map[string]any{"other": 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(em.Deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(em.Deliveries))
	}
}

func TestEmitUnknownKind(t *testing.T) {
	h, _ := setup(t)

	_, err := h.Emit(ctx(), "user-1", event.Kind(42), nil, nil)
	if !errors.Is(err, event.ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}

// flakyStore fails chosen operations on top of the memory store.
type flakyStore struct {
	*memory.Store
	findErr   error
	createErr map[string]error
}

func (f *flakyStore) FindActive(c context.Context, ownerID string, kind event.Kind) ([]*subscription.Subscription, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.Store.FindActive(c, ownerID, kind)
}

func (f *flakyStore) CreateDelivery(c context.Context, d *delivery.Delivery) error {
	if err, ok := f.createErr[d.SubscriptionID.String()]; ok {
		return err
	}
	return f.Store.CreateDelivery(c, d)
}

func TestEmitResolveFailure(t *testing.T) {
	fs := &flakyStore{Store: memory.New(), findErr: errors.New("connection refused")}
	h, err := herald.New(herald.WithStore(fs), herald.WithRedrive(0, 0))
	if err != nil {
		t.Fatal(err)
	}

	_, err = h.Emit(ctx(), "user-1", event.KindProfileView, map[string]any{"profileId": "p1"}, nil)
	if !errors.Is(err, herald.ErrResolveFailed) {
		t.Fatalf("err = %v, want ErrResolveFailed", err)
	}

	n, err := fs.CountPending(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
}

func TestEmitCreateFailureSkipsOnlyThatSubscription(t *testing.T) {
	fs := &flakyStore{Store: memory.New(), createErr: map[string]error{}}
	h, err := herald.New(herald.WithStore(fs), herald.WithRedrive(0, 0))
	if err != nil {
		t.Fatal(err)
	}

	broken := subscribe(t, h, "user-1", "https://a.example.com/hook", "profile_view")
	subscribe(t, h, "user-1", "https://b.example.com/hook", "profile_view")
	boom := errors.New("disk full")
	fs.createErr[broken.ID.String()] = boom

	em, err := h.Emit(ctx(), "user-1", event.KindProfileView, map[string]any{"profileId": "p1"}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped insert error", err)
	}
	if em == nil || len(em.Deliveries) != 1 {
		t.Fatalf("emission = %+v, want one delivery", em)
	}
}

func TestSendTest(t *testing.T) {
	h, s := setup(t)
	sub := subscribe(t, h, "user-1", "https://a.example.com/hook", "profile_updated")
	subscribe(t, h, "user-1", "https://b.example.com/hook", "link_click")

	em, err := h.SendTest(ctx(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(em.Deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(em.Deliveries))
	}

	d, err := s.GetDelivery(ctx(), em.Deliveries[0])
	if err != nil {
		t.Fatal(err)
	}
	if d.SubscriptionID.String() != sub.ID.String() {
		t.Fatal("test event went to the wrong subscription")
	}

	var env struct {
		Event   string         `json:"event"`
		Data    map[string]any `json:"data"`
		Visitor map[string]any `json:"visitor"`
	}
	if err := json.Unmarshal(d.Payload, &env); err != nil {
		t.Fatal(err)
	}
	if env.Event != "profile_updated" || env.Data["test"] != true {
		t.Fatalf("unexpected test payload: %s", d.Payload)
	}
	if env.Visitor["browser"] != "Herald-Test" {
		t.Fatalf("visitor = %v", env.Visitor)
	}
}

func TestRedrive(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h, s := setup(t)
	sub := subscribe(t, h, "user-1", srv.URL, "profile_view")

	// A record left behind by a process that never attempted it.
	orphan := delivery.New(sub.ID, id.NewEventID(), event.KindProfileView, []byte(`{"event":"profile_view"}`))
	if err := s.CreateDelivery(ctx(), orphan); err != nil {
		t.Fatal(err)
	}
	s.Backdate(orphan.ID, time.Hour)

	fresh := delivery.New(sub.ID, id.NewEventID(), event.KindProfileView, []byte(`{}`))
	if err := s.CreateDelivery(ctx(), fresh); err != nil {
		t.Fatal(err)
	}

	start(t, h)

	n, err := h.Redrive(ctx(), 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("redriven = %d, want 1", n)
	}

	d := waitTerminal(t, s, orphan.ID)
	if d.Status != delivery.StatusSuccess || d.AttemptCount != 1 {
		t.Fatalf("orphan: status %s after %d attempts", d.Status, d.AttemptCount)
	}

	still, err := s.GetDelivery(ctx(), fresh.ID)
	if err != nil {
		t.Fatal(err)
	}
	if still.Status != delivery.StatusPending {
		t.Fatalf("fresh delivery status = %s, want pending", still.Status)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}
}

func TestRedriveAbandonsInactiveAndExhausted(t *testing.T) {
	h, s := setup(t)
	inactive := subscribe(t, h, "user-1", "https://a.example.com/hook", "profile_view")
	active := subscribe(t, h, "user-1", "https://b.example.com/hook", "profile_view")
	if err := h.Subscriptions().SetActive(ctx(), inactive.ID, false); err != nil {
		t.Fatal(err)
	}

	d1 := delivery.New(inactive.ID, id.NewEventID(), event.KindProfileView, []byte(`{}`))
	d2 := delivery.New(active.ID, id.NewEventID(), event.KindProfileView, []byte(`{}`))
	for _, d := range []*delivery.Delivery{d1, d2} {
		if err := s.CreateDelivery(ctx(), d); err != nil {
			t.Fatal(err)
		}
	}
	// d2 already spent its last attempt but the failure was never recorded
	// as terminal.
	next := time.Now()
	if err := s.UpdateDelivery(ctx(), d2.ID, delivery.Update{
		Status: delivery.StatusPending, StatusCode: 503, AttemptCount: 3, NextAttemptAt: &next,
	}); err != nil {
		t.Fatal(err)
	}
	s.Backdate(d1.ID, time.Hour)
	s.Backdate(d2.ID, time.Hour)

	n, err := h.Redrive(ctx(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("redriven = %d, want 0", n)
	}

	got1, _ := s.GetDelivery(ctx(), d1.ID)
	if got1.Status != delivery.StatusFailed || got1.Response != "subscription inactive" {
		t.Fatalf("inactive: %s %q", got1.Status, got1.Response)
	}
	got2, _ := s.GetDelivery(ctx(), d2.ID)
	if got2.Status != delivery.StatusFailed || got2.AttemptCount != 3 {
		t.Fatalf("exhausted: %s after %d", got2.Status, got2.AttemptCount)
	}
	if got2.StatusCode == nil || *got2.StatusCode != 503 {
		t.Fatalf("exhausted status code = %v, want 503 kept", got2.StatusCode)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h, _ := setup(t)
	h.Start(ctx())
	if err := h.Stop(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := h.Stop(ctx()); err != nil {
		t.Fatal(err)
	}
}
