package mirror

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/PaperTiger/server/internal/config"
	"github.com/PaperTiger/server/internal/store"
	"github.com/PaperTiger/server/internal/telemetry"
)

type fakeSink struct {
	mu      sync.Mutex
	upserts []string
	deletes []string
	closed  bool
}

func (f *fakeSink) Upsert(_ context.Context, res store.Resource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, res.ID())
	return nil
}

func (f *fakeSink) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSink) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts), len(f.deletes)
}

func TestMirrorReplicatesBusWrites(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink, zerolog.Nop())

	bus := telemetry.NewBus(zerolog.Nop())
	bus.Subscribe(m.Handler())

	bus.Emit("customer.created", store.Resource{"id": "cus_1", "object": "customer"})
	bus.Emit("customer.updated", store.Resource{"id": "cus_1", "object": "customer", "name": "n"})
	bus.Emit("customer.deleted", store.Resource{"id": "cus_1", "object": "customer"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ups, dels := sink.counts()
		if ups == 2 && dels == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	ups, dels := sink.counts()
	if ups != 2 || dels != 1 {
		t.Fatalf("upserts = %d deletes = %d, want 2 and 1", ups, dels)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !sink.closed {
		t.Error("Close should close the sink")
	}
}

func TestCloseDrainsQueue(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink, zerolog.Nop())

	handler := m.Handler()
	for i := 0; i < 50; i++ {
		handler(telemetry.Signal{Type: "charge.succeeded", Object: store.Resource{"id": store.NewID("ch")}})
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	ups, _ := sink.counts()
	if ups != 50 {
		t.Errorf("upserts after close = %d, want 50", ups)
	}
}

func TestSinkFromConfig(t *testing.T) {
	sink, err := SinkFromConfig(config.MirrorConfig{})
	if err != nil || sink != nil {
		t.Errorf("disabled mirror should yield nil sink, got %v / %v", sink, err)
	}
	if _, err := SinkFromConfig(config.MirrorConfig{Driver: "redis"}); err == nil {
		t.Error("unknown driver should be rejected")
	}
}
