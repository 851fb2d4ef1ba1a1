// Package mirror replicates committed resource writes to an external
// database. It consumes the telemetry bus; replication is best-effort and
// never surfaces failures to API callers.
package mirror

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/PaperTiger/server/internal/config"
	"github.com/PaperTiger/server/internal/store"
	"github.com/PaperTiger/server/internal/telemetry"
)

// SinkFromConfig builds the configured sink. A nil Sink with nil error
// means mirroring is disabled.
func SinkFromConfig(cfg config.MirrorConfig) (Sink, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case "postgres":
		return NewPostgresSink(cfg.PostgresURL)
	case "mongodb":
		return NewMongoSink(cfg.MongoDBURL, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("unknown mirror driver %q", cfg.Driver)
	}
}

// Sink is one replication target.
type Sink interface {
	Upsert(ctx context.Context, res store.Resource) error
	Delete(ctx context.Context, id string) error
	Close() error
}

type job struct {
	res    store.Resource
	remove bool
}

// Mirror drains bus signals into the sink on a single worker so slow
// databases never block the emitter.
type Mirror struct {
	sink  Sink
	log   zerolog.Logger
	queue chan job
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// opTimeout bounds one sink write.
const opTimeout = 10 * time.Second

// New starts the replication worker over the given sink.
func New(sink Sink, log zerolog.Logger) *Mirror {
	m := &Mirror{
		sink:  sink,
		log:   log.With().Str("component", "mirror").Logger(),
		queue: make(chan job, 1024),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go m.worker()
	return m
}

// Handler returns the bus subscription. Enqueueing never blocks; when the
// queue is full the write is dropped and logged.
func (m *Mirror) Handler() telemetry.Handler {
	return func(sig telemetry.Signal) {
		j := job{res: sig.Object, remove: strings.HasSuffix(sig.Type, ".deleted")}
		select {
		case m.queue <- j:
		default:
			m.log.Warn().Str("id", sig.Object.ID()).Msg("mirror queue full, write dropped")
		}
	}
}

func (m *Mirror) worker() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			// Drain what is already queued before exiting.
			for {
				select {
				case j := <-m.queue:
					m.apply(j)
				default:
					return
				}
			}
		case j := <-m.queue:
			m.apply(j)
		}
	}
}

func (m *Mirror) apply(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var err error
	if j.remove {
		err = m.sink.Delete(ctx, j.res.ID())
	} else {
		err = m.sink.Upsert(ctx, j.res)
	}
	if err != nil {
		m.log.Error().Err(err).Str("id", j.res.ID()).Msg("mirror write failed")
	}
}

// Close stops the worker, drains the queue, and closes the sink.
func (m *Mirror) Close() error {
	m.once.Do(func() { close(m.stop) })
	<-m.done
	return m.sink.Close()
}
