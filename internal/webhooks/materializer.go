// Package webhooks materializes lifecycle events and delivers them to
// registered endpoints with signing, retries, and per-endpoint breakers.
package webhooks

import (
	"github.com/PaperTiger/server/internal/chaos"
	"github.com/PaperTiger/server/internal/clock"
	"github.com/PaperTiger/server/internal/metrics"
	"github.com/PaperTiger/server/internal/store"
	"github.com/PaperTiger/server/internal/telemetry"
)

// Materializer turns telemetry signals into immutable Event records and
// routes them into delivery through the chaos event layer.
type Materializer struct {
	events     *store.Store
	clock      *clock.Clock
	chaos      *chaos.Coordinator
	dispatcher *Dispatcher
	metrics    *metrics.Metrics
}

// NewMaterializer builds the bus handler. Attach it with bus.Subscribe.
func NewMaterializer(reg *store.Registry, clk *clock.Clock, coord *chaos.Coordinator, dispatcher *Dispatcher, m *metrics.Metrics) *Materializer {
	return &Materializer{
		events:     reg.Table("events"),
		clock:      clk,
		chaos:      coord,
		dispatcher: dispatcher,
		metrics:    m,
	}
}

// Handle synthesizes the Event record for one signal. Events are append-only
// and capture the referenced resource as a value at emit time.
func (mt *Materializer) Handle(sig telemetry.Signal) {
	event := store.Resource{
		"id":               store.NewID("evt"),
		"object":           "event",
		"type":             sig.Type,
		"created":          mt.clock.Now(),
		"livemode":         false,
		"pending_webhooks": mt.dispatcher.EndpointCount(),
		"data": map[string]any{
			"object": map[string]any(sig.Object),
		},
	}
	stored := mt.events.Insert(event)
	mt.metrics.ObserveEvent(sig.Type)

	mt.chaos.QueueEvent(stored.ID(), func() {
		mt.dispatcher.Dispatch(stored)
	})
}
