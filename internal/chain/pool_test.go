package chain

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTokenBucketExhaustion(t *testing.T) {
	b := newTokenBucket(3, time.Minute, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		b.release()
	}
	if b.available() != 0 {
		t.Fatalf("expected empty bucket, have %d", b.available())
	}

	// A drained bucket must block until refill or cancellation.
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := b.acquire(shortCtx); err == nil {
		t.Fatal("acquire succeeded on an empty bucket")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	b := newTokenBucket(2, 80*time.Millisecond, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := b.acquire(ctx); err != nil {
			t.Fatal(err)
		}
		b.release()
	}

	time.Sleep(100 * time.Millisecond)
	if b.available() != 2 {
		t.Fatalf("bucket did not refill: %d tokens", b.available())
	}
}

func TestTokenBucketConcurrencyBound(t *testing.T) {
	b := newTokenBucket(10, time.Minute, 1)
	ctx := context.Background()

	if err := b.acquire(ctx); err != nil {
		t.Fatal(err)
	}
	// Second holder must wait for the single concurrency slot.
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := b.acquire(shortCtx); err == nil {
		t.Fatal("second concurrent holder admitted past the bound")
	}
	b.release()
}

func TestEndpointHealthTransitions(t *testing.T) {
	ep := &Endpoint{
		URL:     "http://node.test",
		healthy: true,
	}
	timeout := 100 * time.Millisecond

	// First two failures keep the endpoint healthy.
	for i := 0; i < maxConsecutiveFailures-1; i++ {
		if transitioned := ep.recordFailure(timeout); transitioned {
			t.Fatalf("endpoint transitioned after %d failures", i+1)
		}
		if !ep.Healthy() {
			t.Fatalf("endpoint unhealthy after %d failures", i+1)
		}
	}

	// The third consecutive failure trips the state machine.
	if transitioned := ep.recordFailure(timeout); !transitioned {
		t.Fatal("third failure did not transition to unhealthy")
	}
	if ep.Healthy() {
		t.Fatal("endpoint still healthy after three failures")
	}

	// Probing is deferred until the unhealthy timeout has elapsed.
	if ep.probeDue(time.Now()) {
		t.Fatal("probe due immediately after transition")
	}
	if !ep.probeDue(time.Now().Add(timeout + time.Millisecond)) {
		t.Fatal("probe not due after unhealthy timeout")
	}

	// One success restores health and clears the counter.
	ep.recordSuccess()
	if !ep.Healthy() || ep.Failures() != 0 {
		t.Fatal("success did not restore health")
	}
}

func TestPoolRoundRobinSkipsUnhealthy(t *testing.T) {
	mk := func(url string, healthy bool) *Endpoint {
		return &Endpoint{URL: url, healthy: healthy}
	}
	p := &Pool{
		endpoints: []*Endpoint{
			mk("http://a", false),
			mk("http://b", true),
			mk("http://c", true),
		},
		logger: discardLogger(),
	}

	// Selection must never land on the unhealthy endpoint while healthy
	// ones remain.
	for i := 0; i < 10; i++ {
		ep := p.next()
		if ep.URL == "http://a" {
			t.Fatal("selected unhealthy endpoint with healthy alternatives")
		}
	}
}

func TestPoolFallbackWhenAllUnhealthy(t *testing.T) {
	p := &Pool{
		endpoints: []*Endpoint{
			{URL: "http://a"},
			{URL: "http://b"},
		},
		logger: discardLogger(),
	}
	if ep := p.next(); ep == nil {
		t.Fatal("fallback must still return an endpoint")
	}
	if p.HealthyCount() != 0 {
		t.Fatal("fixture endpoints should all be unhealthy")
	}
}
