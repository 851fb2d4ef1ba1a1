package idempotency

import (
	"testing"

	"github.com/PaperTiger/server/internal/clock"
)

func manualCache(t *testing.T) (*Cache, *clock.Clock) {
	t.Helper()
	clk := clock.New()
	if err := clk.SetMode(clock.ModeManual, 1); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}
	return NewCache(clk), clk
}

func TestCache_NewThenCached(t *testing.T) {
	cache, _ := manualCache(t)

	outcome, _ := cache.Begin("K-1")
	if outcome != OutcomeNew {
		t.Fatalf("first Begin = %v, want OutcomeNew", outcome)
	}

	cache.Complete("K-1", &Response{StatusCode: 200, Body: []byte(`{"id":"cus_1"}`)})

	outcome, resp := cache.Begin("K-1")
	if outcome != OutcomeCached {
		t.Fatalf("second Begin = %v, want OutcomeCached", outcome)
	}
	if string(resp.Body) != `{"id":"cus_1"}` {
		t.Errorf("cached body = %s", resp.Body)
	}
}

func TestCache_InFlight(t *testing.T) {
	cache, _ := manualCache(t)

	if outcome, _ := cache.Begin("K-1"); outcome != OutcomeNew {
		t.Fatalf("first Begin = %v", outcome)
	}
	if outcome, _ := cache.Begin("K-1"); outcome != OutcomeInFlight {
		t.Fatalf("concurrent Begin = %v, want OutcomeInFlight", outcome)
	}

	// Abort releases the key for a retry.
	cache.Abort("K-1")
	if outcome, _ := cache.Begin("K-1"); outcome != OutcomeNew {
		t.Fatalf("Begin after Abort = %v, want OutcomeNew", outcome)
	}
}

func TestCache_TTLUsesVirtualClock(t *testing.T) {
	cache, clk := manualCache(t)

	cache.Begin("K-1")
	cache.Complete("K-1", &Response{StatusCode: 200, Body: []byte("ok")})

	// Just inside the window.
	if _, err := clk.Advance(TTLSeconds - 1); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if outcome, _ := cache.Begin("K-1"); outcome != OutcomeCached {
		t.Fatalf("Begin inside TTL = %v, want OutcomeCached", outcome)
	}

	// Crossing the boundary expires the entry and the key is reclaimed.
	if _, err := clk.Advance(1); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if outcome, _ := cache.Begin("K-1"); outcome != OutcomeNew {
		t.Fatalf("Begin past TTL = %v, want OutcomeNew", outcome)
	}
}

func TestCache_Sweep(t *testing.T) {
	cache, clk := manualCache(t)

	for _, key := range []string{"K-1", "K-2", "K-3"} {
		cache.Begin(key)
		cache.Complete(key, &Response{StatusCode: 200})
	}
	cache.Begin("K-open") // in flight; must survive the sweep

	if _, err := clk.Advance(TTLSeconds + 10); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	if dropped := cache.Sweep(); dropped != 3 {
		t.Errorf("Sweep dropped %d, want 3", dropped)
	}
	if cache.Len() != 1 {
		t.Errorf("Len = %d, want 1 (in-flight entry)", cache.Len())
	}
}

func TestCache_AbortLeavesCompletedAlone(t *testing.T) {
	cache, _ := manualCache(t)

	cache.Begin("K-1")
	cache.Complete("K-1", &Response{StatusCode: 200})
	cache.Abort("K-1")

	if outcome, _ := cache.Begin("K-1"); outcome != OutcomeCached {
		t.Fatalf("Begin after no-op Abort = %v, want OutcomeCached", outcome)
	}
}
