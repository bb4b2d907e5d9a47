package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/herald/ratelimit"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestMemoryFixedWindow(t *testing.T) {
	clock := newClock()
	l := ratelimit.NewMemory(ratelimit.WithClock(clock.Now))
	ctx := context.Background()

	want := []bool{true, true, true, false}
	for i, w := range want {
		res, err := l.Allow(ctx, "k", 3, time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if res.Allowed != w {
			t.Fatalf("call %d: allowed = %v, want %v", i+1, res.Allowed, w)
		}
	}

	clock.Advance(time.Second + time.Millisecond)

	res, _ := l.Allow(ctx, "k", 3, time.Second)
	if !res.Allowed || res.Remaining != 2 {
		t.Fatalf("after window: %+v", res)
	}
}

func TestMemoryResultFields(t *testing.T) {
	clock := newClock()
	l := ratelimit.NewMemory(ratelimit.WithClock(clock.Now))
	ctx := context.Background()

	res, _ := l.Allow(ctx, "k", 2, time.Minute)
	if res.Limit != 2 || res.Remaining != 1 || !res.ResetAt.Equal(clock.Now().Add(time.Minute)) {
		t.Fatalf("first = %+v", res)
	}

	_, _ = l.Allow(ctx, "k", 2, time.Minute)
	clock.Advance(10 * time.Second)
	res, _ = l.Allow(ctx, "k", 2, time.Minute)
	if res.Allowed || res.Remaining != 0 {
		t.Fatalf("third = %+v", res)
	}
	if got := res.RetryAfter(clock.Now()); got != 50 {
		t.Errorf("RetryAfter = %d, want 50", got)
	}
}

func TestMemoryBoundaryIsInclusive(t *testing.T) {
	clock := newClock()
	l := ratelimit.NewMemory(ratelimit.WithClock(clock.Now))
	ctx := context.Background()

	_, _ = l.Allow(ctx, "k", 1, time.Second)
	clock.Advance(time.Second)

	// Exactly at resetAt the old window still applies.
	if res, _ := l.Allow(ctx, "k", 1, time.Second); res.Allowed {
		t.Fatal("allowed at the reset instant")
	}
}

func TestMemoryKeysAreIndependent(t *testing.T) {
	l := ratelimit.NewMemory(ratelimit.WithClock(newClock().Now))
	ctx := context.Background()

	_, _ = l.Allow(ctx, "a", 1, time.Second)
	if res, _ := l.Allow(ctx, "a", 1, time.Second); res.Allowed {
		t.Fatal("a allowed twice")
	}
	if res, _ := l.Allow(ctx, "b", 1, time.Second); !res.Allowed {
		t.Fatal("b limited by a")
	}
}

func TestMemoryUnlimited(t *testing.T) {
	l := ratelimit.NewMemory()
	for range 1000 {
		if res, _ := l.Allow(context.Background(), "k", 0, time.Second); !res.Allowed {
			t.Fatal("limit 0 denied a request")
		}
	}
	if l.Len() != 0 {
		t.Errorf("unlimited calls tracked %d keys", l.Len())
	}
}

func TestMemorySweepEvictsExpired(t *testing.T) {
	clock := newClock()
	l := ratelimit.NewMemory(ratelimit.WithClock(clock.Now))
	ctx := context.Background()

	_, _ = l.Allow(ctx, "old", 1, time.Second)
	clock.Advance(500 * time.Millisecond)
	_, _ = l.Allow(ctx, "new", 1, time.Second)
	clock.Advance(600 * time.Millisecond)

	if n := l.Sweep(); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}

	l.Reset("new")
	if l.Len() != 0 {
		t.Fatalf("Len after Reset = %d", l.Len())
	}
}

func TestMemoryLazySweep(t *testing.T) {
	clock := newClock()
	l := ratelimit.NewMemory(ratelimit.WithClock(clock.Now))
	ctx := context.Background()

	for i := range 100 {
		_, _ = l.Allow(ctx, string(rune('a'+i%26))+string(rune('0'+i/26)), 1, time.Second)
	}
	clock.Advance(2 * time.Second)

	for range 300 {
		_, _ = l.Allow(ctx, "hot", 1000, time.Second)
	}
	if l.Len() != 1 {
		t.Errorf("Len = %d after lazy sweep, want 1", l.Len())
	}
}

func TestMemoryRunStopsWithContext(t *testing.T) {
	l := ratelimit.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMemoryConcurrentAccess(t *testing.T) {
	l := ratelimit.NewMemory()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _ := l.Allow(ctx, "shared", 10, time.Hour)
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Errorf("allowed %d requests, want 10", allowed)
	}
}
