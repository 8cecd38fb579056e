package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"birdgate/pkg/model"
)

func testCache[V any](opts Options) *Cache[V] {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return New[V](opts)
}

// TestGetOrFetchHit verifies a second lookup inside the TTL never re-runs the
// producer.
func TestGetOrFetchHit(t *testing.T) {
	c := testCache[string](Options{})
	var calls atomic.Int32
	producer := func(context.Context) (string, time.Duration, error) {
		calls.Add(1)
		return "value", 0, nil
	}

	for range 3 {
		v, err := c.GetOrFetch(context.Background(), "k", time.Minute, producer)
		if err != nil {
			t.Fatalf("GetOrFetch() error = %v", err)
		}
		if v != "value" {
			t.Fatalf("GetOrFetch() = %q, want %q", v, "value")
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("producer ran %d times, want 1", got)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

// TestGetOrFetchExpiry verifies expired entries behave exactly like absent
// ones: one refresh, no stale value.
func TestGetOrFetchExpiry(t *testing.T) {
	c := testCache[string](Options{})
	now := time.Now()
	c.now = func() time.Time { return now }

	var calls atomic.Int32
	producer := func(context.Context) (string, time.Duration, error) {
		if calls.Add(1) == 1 {
			return "first", 0, nil
		}
		return "second", 0, nil
	}

	if v, _ := c.GetOrFetch(context.Background(), "k", time.Minute, producer); v != "first" {
		t.Fatalf("first fetch = %q, want first", v)
	}

	now = now.Add(2 * time.Minute)
	v, err := c.GetOrFetch(context.Background(), "k", time.Minute, producer)
	if err != nil {
		t.Fatalf("GetOrFetch() after expiry error = %v", err)
	}
	if v != "second" {
		t.Errorf("GetOrFetch() after expiry = %q, want second", v)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("producer ran %d times, want 2", got)
	}
}

// TestSingleFlight verifies concurrent misses for one key share one producer
// run and all receive its result.
func TestSingleFlight(t *testing.T) {
	c := testCache[string](Options{})
	var calls atomic.Int32
	release := make(chan struct{})
	producer := func(context.Context) (string, time.Duration, error) {
		calls.Add(1)
		<-release
		return "shared", 0, nil
	}

	const workers = 8
	results := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.GetOrFetch(context.Background(), "k", time.Minute, producer)
		}()
	}

	// Let every worker reach the shared wait before the producer finishes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("producer ran %d times for %d concurrent callers, want 1", got, workers)
	}
	for i := range workers {
		if errs[i] != nil {
			t.Fatalf("worker %d error = %v", i, errs[i])
		}
		if results[i] != "shared" {
			t.Errorf("worker %d = %q, want shared", i, results[i])
		}
	}
}

// TestNegativeCaching verifies a confirmed not-found is remembered briefly
// while other errors are never cached.
func TestNegativeCaching(t *testing.T) {
	t.Run("not found cached", func(t *testing.T) {
		c := testCache[string](Options{NegativeTTL: time.Minute})
		var calls atomic.Int32
		producer := func(context.Context) (string, time.Duration, error) {
			calls.Add(1)
			return "", 0, &model.NotFoundError{}
		}

		for range 3 {
			_, err := c.GetOrFetch(context.Background(), "dead", time.Minute, producer)
			if !model.IsNotFound(err) {
				t.Fatalf("GetOrFetch() error = %v, want NotFoundError", err)
			}
		}
		if got := calls.Load(); got != 1 {
			t.Errorf("producer ran %d times for a dead key, want 1", got)
		}
	})

	t.Run("transient errors not cached", func(t *testing.T) {
		c := testCache[string](Options{})
		var calls atomic.Int32
		producer := func(context.Context) (string, time.Duration, error) {
			calls.Add(1)
			return "", 0, &model.TransportError{Err: errors.New("boom"), Status: 502}
		}

		for range 3 {
			if _, err := c.GetOrFetch(context.Background(), "k", time.Minute, producer); err == nil {
				t.Fatal("GetOrFetch() succeeded, want error")
			}
		}
		if got := calls.Load(); got != 3 {
			t.Errorf("producer ran %d times, want 3 (transient errors must not stick)", got)
		}
	})
}

// TestProducerTTLOverride verifies a producer-returned TTL beats the default.
func TestProducerTTLOverride(t *testing.T) {
	c := testCache[string](Options{})
	now := time.Now()
	c.now = func() time.Time { return now }

	var calls atomic.Int32
	producer := func(context.Context) (string, time.Duration, error) {
		calls.Add(1)
		return "old", time.Hour, nil
	}

	if _, err := c.GetOrFetch(context.Background(), "k", time.Minute, producer); err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}

	// Past the default TTL but inside the producer's override.
	now = now.Add(30 * time.Minute)
	if _, err := c.GetOrFetch(context.Background(), "k", time.Minute, producer); err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("producer ran %d times, want 1 (override TTL should hold)", got)
	}
}

// TestCallerCancellation verifies a cancelled caller abandons its wait while
// the producer completes for everyone else.
func TestCallerCancellation(t *testing.T) {
	c := testCache[string](Options{})
	release := make(chan struct{})
	producer := func(context.Context) (string, time.Duration, error) {
		<-release
		return "late", 0, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrFetch(ctx, "k", time.Minute, producer)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller error = %v, want context.Canceled", err)
	}

	// The producer result still lands in the cache for the next caller.
	close(release)
	deadline := time.Now().Add(time.Second)
	for c.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("producer result never cached after caller cancellation")
		}
		time.Sleep(10 * time.Millisecond)
	}
	v, err := c.GetOrFetch(context.Background(), "k", time.Minute, nil)
	if err != nil {
		t.Fatalf("GetOrFetch() after producer completion error = %v", err)
	}
	if v != "late" {
		t.Errorf("GetOrFetch() = %q, want late", v)
	}
}

// TestSweep verifies the janitor drops expired entries.
func TestSweep(t *testing.T) {
	c := testCache[string](Options{})
	now := time.Now()
	c.now = func() time.Time { return now }

	c.put("a", "1", nil, time.Minute)
	c.put("b", "2", nil, time.Hour)
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}

	now = now.Add(30 * time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	go c.Sweep(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for c.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("Len() = %d after sweep, want 1", c.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
}
