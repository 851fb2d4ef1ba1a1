package idempotency

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/PaperTiger/server/internal/clock"
	"github.com/PaperTiger/server/internal/metrics"
)

func TestMiddleware_ReplaysCachedResponse(t *testing.T) {
	cache := NewCache(clock.New())
	defer cache.Stop()

	var calls atomic.Int64
	handler := Middleware(cache, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"id":"cus_%d"}`, n)
	}))

	do := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/customers", nil)
		req.Header.Set(HeaderKey, key)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := do("K-123")
	second := do("K-123")

	if first.Body.String() != second.Body.String() {
		t.Errorf("bodies differ: %q vs %q", first.Body.String(), second.Body.String())
	}
	if second.Header().Get("X-Idempotency-Cached") != "true" {
		t.Error("replay missing X-Idempotency-Cached header")
	}
	if first.Header().Get("X-Idempotency-Cached") != "" {
		t.Error("first response should not carry the replay marker")
	}
	if calls.Load() != 1 {
		t.Errorf("handler ran %d times, want 1", calls.Load())
	}

	third := do("K-124")
	if third.Body.String() == first.Body.String() {
		t.Error("different key replayed the same body")
	}
}

func TestMiddleware_InFlightConflict(t *testing.T) {
	cache := NewCache(clock.New())
	defer cache.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	handler := Middleware(cache, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusOK)
	}))

	go func() {
		req := httptest.NewRequest(http.MethodPost, "/v1/customers", nil)
		req.Header.Set(HeaderKey, "K-racy")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}()
	<-started

	req := httptest.NewRequest(http.MethodPost, "/v1/customers", nil)
	req.Header.Set(HeaderKey, "K-racy")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	close(release)

	if rec.Code != http.StatusConflict {
		t.Fatalf("concurrent request status = %d, want 409", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want \"1\"", rec.Header().Get("Retry-After"))
	}

	var body map[string]map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid conflict body: %v", err)
	}
	if body["error"]["type"] != "idempotency_error" {
		t.Errorf("error type = %v", body["error"]["type"])
	}
}

func TestMiddleware_NonSuccessNotCached(t *testing.T) {
	cache := NewCache(clock.New())
	defer cache.Stop()

	var calls atomic.Int64
	handler := Middleware(cache, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/customers", nil)
	req.Header.Set(HeaderKey, "K-err")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("first status = %d", rec.Code)
	}

	// Failed attempt released the key: the retry runs the handler again.
	req = httptest.NewRequest(http.MethodPost, "/v1/customers", nil)
	req.Header.Set(HeaderKey, "K-err")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("retry status = %d, want 200", rec.Code)
	}
	if calls.Load() != 2 {
		t.Errorf("handler ran %d times, want 2", calls.Load())
	}
}

func TestMiddleware_IgnoresGETAndMissingKey(t *testing.T) {
	cache := NewCache(clock.New())
	defer cache.Stop()

	var calls atomic.Int64
	handler := Middleware(cache, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	get := httptest.NewRequest(http.MethodGet, "/v1/customers", nil)
	get.Header.Set(HeaderKey, "K-1")
	handler.ServeHTTP(httptest.NewRecorder(), get)
	handler.ServeHTTP(httptest.NewRecorder(), get.Clone(get.Context()))

	post := httptest.NewRequest(http.MethodPost, "/v1/customers", nil)
	handler.ServeHTTP(httptest.NewRecorder(), post)

	if calls.Load() != 3 {
		t.Errorf("handler ran %d times, want 3 (no caching without POST+key)", calls.Load())
	}
	if cache.Len() != 0 {
		t.Errorf("cache picked up %d entries", cache.Len())
	}
}

func TestMiddleware_RecordsOutcomes(t *testing.T) {
	cache := NewCache(clock.New())
	defer cache.Stop()

	m := metrics.New(prometheus.NewRegistry())
	handler := Middleware(cache, m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(key string) {
		req := httptest.NewRequest(http.MethodPost, "/v1/customers", nil)
		req.Header.Set(HeaderKey, key)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	do("K-metered")
	do("K-metered")

	if got := testutil.ToFloat64(m.IdempotencyHitsTotal.WithLabelValues("new")); got != 1 {
		t.Errorf("new outcome counted %v times, want 1", got)
	}
	if got := testutil.ToFloat64(m.IdempotencyHitsTotal.WithLabelValues("replay")); got != 1 {
		t.Errorf("replay outcome counted %v times, want 1", got)
	}

	// A concurrent holder of the key counts as a conflict.
	if outcome, _ := cache.Begin("K-held"); outcome != OutcomeNew {
		t.Fatal("expected to acquire K-held")
	}
	do("K-held")
	if got := testutil.ToFloat64(m.IdempotencyHitsTotal.WithLabelValues("conflict")); got != 1 {
		t.Errorf("conflict outcome counted %v times, want 1", got)
	}
}
