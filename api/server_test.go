package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/herald"
	"github.com/xraph/herald/api"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/ratelimit"
	"github.com/xraph/herald/store/memory"
)

const (
	owner  = "owner-1"
	secret = "s3cr3t-minimum-16ch"
)

type env struct {
	srv      *httptest.Server
	herald   *herald.Herald
	store    *memory.Store
	metrics  *observability.Metrics
	receiver *httptest.Server
	hits     *atomic.Int32
}

// testServer wires an API over a started Herald on the memory store, plus
// a receiver that accepts every delivery.
func testServer(t *testing.T, cfg api.Config) *env {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	s := memory.New()

	h, err := herald.New(
		herald.WithStore(s),
		herald.WithMetrics(m),
		herald.WithRedrive(0, 0),
	)
	if err != nil {
		t.Fatal(err)
	}
	h.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Stop(ctx)
	})

	hits := new(atomic.Int32)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(receiver.Close)

	cfg.Gatherer = reg
	srv := httptest.NewServer(api.New(h, ratelimit.NewMemory(), cfg, nil, m))
	t.Cleanup(srv.Close)

	return &env{srv: srv, herald: h, store: s, metrics: m, receiver: receiver, hits: hits}
}

func doJSON(t *testing.T, method, url, ownerID string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ownerID != "" {
		req.Header.Set(api.HeaderOwnerID, ownerID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d: %s", resp.StatusCode, want, b)
	}
}

type subscriptionJSON struct {
	ID      string   `json:"id"`
	OwnerID string   `json:"ownerId"`
	URL     string   `json:"url"`
	Events  []string `json:"events"`
	Active  bool     `json:"active"`
}

func create(t *testing.T, e *env, events ...string) subscriptionJSON {
	t.Helper()
	resp := doJSON(t, http.MethodPost, e.srv.URL+"/v1/subscriptions", owner, map[string]any{
		"url":    e.receiver.URL,
		"secret": secret,
		"events": events,
	})
	expectStatus(t, resp, http.StatusCreated)

	var out struct {
		Subscription subscriptionJSON `json:"subscription"`
		Secret       string           `json:"secret"`
	}
	decodeBody(t, resp, &out)
	if out.Secret != secret {
		t.Errorf("secret = %q, want %q", out.Secret, secret)
	}
	return out.Subscription
}

func TestHealthAndMetrics(t *testing.T) {
	e := testServer(t, api.DefaultConfig())

	resp := doJSON(t, http.MethodGet, e.srv.URL+"/healthz", "", nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("missing request id header")
	}

	resp = doJSON(t, http.MethodGet, e.srv.URL+"/metrics", "", nil)
	expectStatus(t, resp, http.StatusOK)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.Contains(b, []byte("herald_deliveries_inflight")) {
		t.Error("metrics output lacks herald collectors")
	}
}

func TestRequiresOwner(t *testing.T) {
	e := testServer(t, api.DefaultConfig())

	resp := doJSON(t, http.MethodGet, e.srv.URL+"/v1/subscriptions", "", nil)
	expectStatus(t, resp, http.StatusUnauthorized)

	var body map[string]string
	decodeBody(t, resp, &body)
	if body["error"] != "unauthorized" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	e := testServer(t, api.DefaultConfig())
	sub := create(t, e, "link_click", "profile_view")

	if sub.OwnerID != owner || !sub.Active || len(sub.Events) != 2 {
		t.Fatalf("created = %+v", sub)
	}
	base := e.srv.URL + "/v1/subscriptions/" + sub.ID

	// List
	resp := doJSON(t, http.MethodGet, e.srv.URL+"/v1/subscriptions", owner, nil)
	expectStatus(t, resp, http.StatusOK)
	var list struct {
		Subscriptions []subscriptionJSON `json:"subscriptions"`
	}
	decodeBody(t, resp, &list)
	if len(list.Subscriptions) != 1 || list.Subscriptions[0].ID != sub.ID {
		t.Fatalf("list = %+v", list.Subscriptions)
	}

	// Get with recent deliveries
	resp = doJSON(t, http.MethodGet, base, owner, nil)
	expectStatus(t, resp, http.StatusOK)
	var detail struct {
		Subscription subscriptionJSON  `json:"subscription"`
		Deliveries   []json.RawMessage `json:"deliveries"`
	}
	decodeBody(t, resp, &detail)
	if detail.Subscription.ID != sub.ID || detail.Deliveries == nil {
		t.Fatalf("detail = %+v", detail)
	}

	// Patch
	resp = doJSON(t, http.MethodPatch, base, owner, map[string]any{
		"active": false,
		"events": []string{"form_submission"},
	})
	expectStatus(t, resp, http.StatusOK)
	var patched subscriptionJSON
	decodeBody(t, resp, &patched)
	if patched.Active || len(patched.Events) != 1 || patched.Events[0] != "form_submission" {
		t.Fatalf("patched = %+v", patched)
	}

	// Rotate
	resp = doJSON(t, http.MethodPost, base+"/rotate-secret", owner, nil)
	expectStatus(t, resp, http.StatusOK)
	var rotated struct {
		Secret string `json:"secret"`
	}
	decodeBody(t, resp, &rotated)
	if rotated.Secret == "" || rotated.Secret == secret {
		t.Errorf("rotated secret = %q", rotated.Secret)
	}

	// Delete
	resp = doJSON(t, http.MethodDelete, base, owner, nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, base, owner, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestCreateValidationFailure(t *testing.T) {
	e := testServer(t, api.DefaultConfig())

	resp := doJSON(t, http.MethodPost, e.srv.URL+"/v1/subscriptions", owner, map[string]any{
		"url":    "ftp://example.com/hook",
		"secret": "short",
		"events": []string{"page_teleport"},
	})
	expectStatus(t, resp, http.StatusBadRequest)

	var body struct {
		Error   string `json:"error"`
		Details []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"details"`
	}
	decodeBody(t, resp, &body)
	if body.Error != "validation failed" {
		t.Errorf("error = %q", body.Error)
	}
	fields := map[string]bool{}
	for _, d := range body.Details {
		fields[d.Field] = true
	}
	for _, f := range []string{"url", "secret", "events"} {
		if !fields[f] {
			t.Errorf("details lack %q: %+v", f, body.Details)
		}
	}
}

func TestOtherOwnerSeesNotFound(t *testing.T) {
	e := testServer(t, api.DefaultConfig())
	sub := create(t, e, "link_click")
	base := e.srv.URL + "/v1/subscriptions/" + sub.ID

	for _, tc := range []struct{ method, url string }{
		{http.MethodGet, base},
		{http.MethodPatch, base},
		{http.MethodDelete, base},
		{http.MethodPost, base + "/rotate-secret"},
		{http.MethodPost, base + "/test"},
		{http.MethodGet, base + "/deliveries"},
	} {
		var body any
		if tc.method == http.MethodPatch {
			body = map[string]any{"active": false}
		}
		resp := doJSON(t, tc.method, tc.url, "intruder", body)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s %s: status = %d, want 404", tc.method, tc.url, resp.StatusCode)
		}
		resp.Body.Close()
	}

	if _, err := e.herald.Subscriptions().Get(context.Background(), mustParse(t, sub.ID)); err != nil {
		t.Errorf("subscription should survive: %v", err)
	}
}

func TestTestTriggerIsRateLimited(t *testing.T) {
	cfg := api.DefaultConfig()
	cfg.TestLimit = 2
	cfg.TestWindow = time.Minute
	e := testServer(t, cfg)
	sub := create(t, e, "profile_updated")
	url := e.srv.URL + "/v1/subscriptions/" + sub.ID + "/test"

	for i, wantRemaining := range []string{"1", "0"} {
		resp := doJSON(t, http.MethodPost, url, owner, nil)
		expectStatus(t, resp, http.StatusOK)
		if got := resp.Header.Get("X-RateLimit-Remaining"); got != wantRemaining {
			t.Errorf("request %d: remaining = %q, want %q", i+1, got, wantRemaining)
		}
		if got := resp.Header.Get("X-RateLimit-Limit"); got != "2" {
			t.Errorf("request %d: limit = %q, want 2", i+1, got)
		}
		var out struct {
			Success    bool     `json:"success"`
			EventID    string   `json:"eventId"`
			Deliveries []string `json:"deliveries"`
		}
		decodeBody(t, resp, &out)
		if !out.Success || out.EventID == "" || len(out.Deliveries) != 1 {
			t.Errorf("request %d: body = %+v", i+1, out)
		}
	}

	resp := doJSON(t, http.MethodPost, url, owner, nil)
	expectStatus(t, resp, http.StatusTooManyRequests)
	retry, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || retry < 1 {
		t.Errorf("Retry-After = %q", resp.Header.Get("Retry-After"))
	}
	var body struct {
		Error      string `json:"error"`
		RetryAfter int    `json:"retryAfter"`
	}
	decodeBody(t, resp, &body)
	if body.Error != "rate limit exceeded" || body.RetryAfter != retry {
		t.Errorf("body = %+v, Retry-After = %d", body, retry)
	}

	// Other routes are not limited.
	resp = doJSON(t, http.MethodGet, e.srv.URL+"/v1/subscriptions/"+sub.ID, owner, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestDeliveriesAndAttempts(t *testing.T) {
	e := testServer(t, api.DefaultConfig())
	sub := create(t, e, "profile_updated")

	resp := doJSON(t, http.MethodPost, e.srv.URL+"/v1/subscriptions/"+sub.ID+"/test", owner, nil)
	expectStatus(t, resp, http.StatusOK)
	var trig struct {
		Deliveries []string `json:"deliveries"`
	}
	decodeBody(t, resp, &trig)
	if len(trig.Deliveries) != 1 {
		t.Fatalf("deliveries = %v", trig.Deliveries)
	}
	delURL := e.srv.URL + "/v1/deliveries/" + trig.Deliveries[0]

	type deliveryJSON struct {
		ID           string          `json:"id"`
		Status       string          `json:"status"`
		StatusCode   *int            `json:"statusCode"`
		AttemptCount int             `json:"attemptCount"`
		Payload      json.RawMessage `json:"payload"`
	}

	var d deliveryJSON
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp = doJSON(t, http.MethodGet, delURL, owner, nil)
		expectStatus(t, resp, http.StatusOK)
		decodeBody(t, resp, &d)
		if d.Status == "success" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("delivery still %q", d.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if d.StatusCode == nil || *d.StatusCode != http.StatusOK || d.AttemptCount != 1 {
		t.Errorf("delivery = %+v", d)
	}
	var envelope struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal(d.Payload, &envelope); err != nil {
		t.Fatalf("payload is not embedded JSON: %v", err)
	}
	if envelope.Event != "profile_updated" || envelope.Data["test"] != true {
		t.Errorf("envelope = %+v", envelope)
	}

	// List, filtered by status.
	resp = doJSON(t, http.MethodGet, e.srv.URL+"/v1/subscriptions/"+sub.ID+"/deliveries?status=success", owner, nil)
	expectStatus(t, resp, http.StatusOK)
	var list struct {
		Deliveries []deliveryJSON `json:"deliveries"`
	}
	decodeBody(t, resp, &list)
	if len(list.Deliveries) != 1 || list.Deliveries[0].ID != d.ID {
		t.Errorf("list = %+v", list.Deliveries)
	}

	resp = doJSON(t, http.MethodGet, e.srv.URL+"/v1/subscriptions/"+sub.ID+"/deliveries?status=bogus", owner, nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	// Attempts
	resp = doJSON(t, http.MethodGet, delURL+"/attempts", owner, nil)
	expectStatus(t, resp, http.StatusOK)
	var attempts struct {
		Attempts []struct {
			Attempt    int    `json:"attempt"`
			StatusCode int    `json:"statusCode"`
			Outcome    string `json:"outcome"`
		} `json:"attempts"`
	}
	decodeBody(t, resp, &attempts)
	if len(attempts.Attempts) != 1 || attempts.Attempts[0].Outcome != "success" {
		t.Errorf("attempts = %+v", attempts.Attempts)
	}

	// Only failed deliveries can be replayed.
	resp = doJSON(t, http.MethodPost, delURL+"/replay", owner, nil)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	// Another owner cannot read it.
	resp = doJSON(t, http.MethodGet, delURL, "intruder", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	// Stats
	resp = doJSON(t, http.MethodGet, e.srv.URL+"/v1/stats", owner, nil)
	expectStatus(t, resp, http.StatusOK)
	var stats struct {
		PendingDeliveries int64 `json:"pendingDeliveries"`
	}
	decodeBody(t, resp, &stats)
	if stats.PendingDeliveries != 0 {
		t.Errorf("pending = %d, want 0", stats.PendingDeliveries)
	}
}

func mustParse(t *testing.T, s string) id.ID {
	t.Helper()
	v, err := id.ParseSubscriptionID(s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}
