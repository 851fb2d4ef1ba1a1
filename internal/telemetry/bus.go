// Package telemetry is the in-process lifecycle signal hub. Write paths and
// the billing engine emit named signals carrying resource snapshots;
// handlers (event materializer, external mirrors) register at startup.
package telemetry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/PaperTiger/server/internal/store"
)

// Signal is one lifecycle notification, e.g. "customer.created" with the
// customer snapshot captured at emit time.
type Signal struct {
	Type   string
	Object store.Resource
}

// Handler consumes a signal. Handlers must not block the emitter for more
// than a bounded time; slow work is offloaded by the handler itself.
type Handler func(Signal)

// Bus fans signals out to handlers. Emissions are serialized so subscribers
// observe events in the order emitters posted them.
type Bus struct {
	regMu    sync.RWMutex
	handlers []Handler

	emitMu sync.Mutex

	log         zerolog.Logger
	slowWarning time.Duration
}

// NewBus creates an empty bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		log:         log,
		slowWarning: 100 * time.Millisecond,
	}
}

// Subscribe attaches a handler. Intended for startup wiring; handlers are
// never detached.
func (b *Bus) Subscribe(h Handler) {
	b.regMu.Lock()
	b.handlers = append(b.handlers, h)
	b.regMu.Unlock()
}

// Emit posts a signal to all handlers in registration order. The snapshot is
// cloned so handlers can never see later mutations by the emitter.
func (b *Bus) Emit(signalType string, object store.Resource) {
	b.regMu.RLock()
	handlers := b.handlers
	b.regMu.RUnlock()

	sig := Signal{Type: signalType, Object: object.Clone()}

	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	for _, h := range handlers {
		start := time.Now()
		h(sig)
		if elapsed := time.Since(start); elapsed > b.slowWarning {
			b.log.Warn().
				Str("signal", signalType).
				Dur("elapsed", elapsed).
				Msg("telemetry: slow handler held the emitter")
		}
	}
}
