package webhooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/PaperTiger/server/internal/clock"
	"github.com/PaperTiger/server/internal/metrics"
	"github.com/PaperTiger/server/internal/store"
)

const (
	// maxAttempts caps delivery at 8 tries. The doubling backoff waits
	// 1,2,4,...,64 seconds between them; the final attempt schedules no
	// retry.
	maxAttempts = 8
	// defaultAttemptTimeout bounds one HTTP POST.
	defaultAttemptTimeout = 5 * time.Second
	// virtualPollInterval is the wall-clock granularity used while waiting
	// for a virtual-time backoff deadline.
	virtualPollInterval = 25 * time.Millisecond
)

// Config tunes the delivery pool.
type Config struct {
	Workers        int
	AttemptTimeout time.Duration
	QueueDepth     int
}

// task is one endpoint × event delivery job.
type task struct {
	endpoint store.Resource
	event    store.Resource
}

// Dispatcher fans materialized events out to matching endpoints through a
// bounded worker pool. Delivery per endpoint is best-effort FIFO.
type Dispatcher struct {
	endpoints  *store.Store
	deliveries *store.Store
	clock      *clock.Clock
	log        zerolog.Logger
	metrics    *metrics.Metrics

	client         *http.Client
	attemptTimeout time.Duration

	queue chan task
	wg    sync.WaitGroup
	stop  chan struct{}
	once  sync.Once

	breakerMu sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker
}

// NewDispatcher builds and starts the delivery pool.
func NewDispatcher(reg *store.Registry, clk *clock.Clock, cfg Config, log zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 256
	}
	timeout := cfg.AttemptTimeout
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}

	d := &Dispatcher{
		endpoints:      reg.Table("webhook_endpoints"),
		deliveries:     reg.Table("webhook_deliveries"),
		clock:          clk,
		log:            log,
		metrics:        m,
		client:         &http.Client{Timeout: timeout},
		attemptTimeout: timeout,
		queue:          make(chan task, depth),
		stop:           make(chan struct{}),
		breakers:       make(map[string]*gobreaker.CircuitBreaker),
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// EndpointCount reports the number of registered endpoints.
func (d *Dispatcher) EndpointCount() int {
	return d.endpoints.Count()
}

// Dispatch enqueues delivery of one event to every matching endpoint. An
// endpoint matches when its enabled_events allowlist is empty or contains
// the event type.
func (d *Dispatcher) Dispatch(event store.Resource) {
	eventType := event.GetString("type")

	for _, endpoint := range d.endpoints.Snapshot() {
		if !endpointWants(endpoint, eventType) {
			continue
		}
		select {
		case d.queue <- task{endpoint: endpoint, event: event}:
		case <-d.stop:
			return
		}
	}
}

// endpointWants checks the allowlist.
func endpointWants(endpoint store.Resource, eventType string) bool {
	raw, ok := endpoint["enabled_events"]
	if !ok {
		return true
	}
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return true
	}
	for _, item := range list {
		if s, _ := item.(string); s == eventType || s == "*" {
			return true
		}
	}
	return false
}

// worker drains the queue until Close.
func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stop:
			return
		case t := <-d.queue:
			d.deliver(t)
		}
	}
}

// deliver runs the retry loop for one endpoint × event pair. Backoff
// deadlines are measured on the virtual clock, so accelerated and manual
// modes advance retries as expected.
func (d *Dispatcher) deliver(t task) {
	payload, err := json.Marshal(map[string]any(t.event))
	if err != nil {
		d.log.Error().Err(err).Str("event", t.event.ID()).Msg("webhooks: marshal event failed")
		return
	}

	url := t.endpoint.GetString("url")
	secret := t.endpoint.GetString("secret")
	created := t.event.GetInt64("created")

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		code, sendErr := d.send(url, secret, created, payload)
		elapsed := time.Since(start)

		record := store.Resource{
			"id":            store.NewID("whd"),
			"object":        "webhook_delivery",
			"created":       d.clock.Now(),
			"webhook_id":    t.endpoint.ID(),
			"event_id":      t.event.ID(),
			"attempt":       int64(attempt),
			"response_code": int64(code),
		}

		if sendErr == nil && code >= 200 && code < 300 {
			record["status"] = "succeeded"
			d.deliveries.Insert(record)
			d.metrics.ObserveWebhookAttempt("succeeded", elapsed)
			if attempt > 1 {
				d.log.Info().Str("url", url).Int("attempt", attempt).Msg("webhooks: delivery succeeded after retry")
			}
			return
		}

		record["status"] = "failed"
		if sendErr != nil {
			record["error"] = sendErr.Error()
		}

		if attempt < maxAttempts {
			delay := int64(1) << (attempt - 1)
			record["next_attempt_at"] = d.clock.Now() + delay
			d.deliveries.Insert(record)
			d.metrics.ObserveWebhookAttempt("failed", elapsed)
			d.metrics.ObserveWebhookRetry()
			d.log.Warn().
				Str("url", url).
				Int("attempt", attempt).
				Err(sendErr).
				Int("response_code", code).
				Int64("retry_in_s", delay).
				Msg("webhooks: delivery attempt failed")
			if !d.waitVirtual(delay) {
				return
			}
			continue
		}

		d.deliveries.Insert(record)
		d.metrics.ObserveWebhookAttempt("exhausted", elapsed)
		d.log.Error().Str("url", url).Str("event", t.event.ID()).Msg("webhooks: delivery failed after all attempts")
	}
}

// send performs one signed POST through the endpoint's circuit breaker.
func (d *Dispatcher) send(url, secret string, created int64, payload []byte) (int, error) {
	breaker := d.breakerFor(url)

	result, err := breaker.Execute(func() (any, error) {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return 0, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(SignatureHeader, SignatureHeaderValue(created, Sign(secret, created, payload)))

		resp, err := d.client.Do(req)
		if err != nil {
			return 0, fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resp.StatusCode, fmt.Errorf("received status %d from %s", resp.StatusCode, url)
		}
		return resp.StatusCode, nil
	})

	code, _ := result.(int)
	return code, err
}

// breakerFor returns the endpoint's circuit breaker, creating it on first use.
func (d *Dispatcher) breakerFor(url string) *gobreaker.CircuitBreaker {
	d.breakerMu.Lock()
	defer d.breakerMu.Unlock()

	if cb, ok := d.breakers[url]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    url,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 16
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				d.metrics.ObserveBreakerOpen()
				d.log.Warn().Str("url", name).Msg("webhooks: circuit breaker opened")
			}
		},
	})
	d.breakers[url] = cb
	return cb
}

// waitVirtual blocks until the virtual clock has advanced by delay seconds,
// or the dispatcher is stopping. Returns false when stopping.
func (d *Dispatcher) waitVirtual(delay int64) bool {
	target := d.clock.Now() + delay
	ticker := time.NewTicker(virtualPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return false
		case <-ticker.C:
			if d.clock.Now() >= target {
				return true
			}
		}
	}
}

// Close drains workers and stops the pool.
func (d *Dispatcher) Close() error {
	d.once.Do(func() {
		close(d.stop)
	})
	d.wg.Wait()
	return nil
}
