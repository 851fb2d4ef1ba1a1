// Package papertiger assembles the mock payments server for embedding or
// standalone serving. A single App owns the virtual clock, the in-memory
// stores, the chaos coordinator, the billing worker, and the webhook
// delivery pool, all torn down through Close.
package papertiger

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/PaperTiger/server/internal/billing"
	"github.com/PaperTiger/server/internal/chaos"
	"github.com/PaperTiger/server/internal/clock"
	"github.com/PaperTiger/server/internal/config"
	"github.com/PaperTiger/server/internal/httpserver"
	"github.com/PaperTiger/server/internal/idempotency"
	"github.com/PaperTiger/server/internal/lifecycle"
	"github.com/PaperTiger/server/internal/logger"
	"github.com/PaperTiger/server/internal/metrics"
	"github.com/PaperTiger/server/internal/mirror"
	"github.com/PaperTiger/server/internal/seed"
	"github.com/PaperTiger/server/internal/store"
	"github.com/PaperTiger/server/internal/telemetry"
	"github.com/PaperTiger/server/internal/webhooks"
)

// App is the assembled mock server.
type App struct {
	Config   *config.Config
	Registry *store.Registry
	Clock    *clock.Clock
	Chaos    *chaos.Coordinator
	Bus      *telemetry.Bus
	Billing  *billing.Engine

	server    *httpserver.Server
	resources *lifecycle.Manager
	log       zerolog.Logger
}

// Option configures App construction.
type Option func(*options)

type options struct {
	logger     *zerolog.Logger
	registerer prometheus.Registerer
}

// WithLogger replaces the logger built from the config.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &log
	}
}

// WithMetricsRegisterer sets the Prometheus registerer, useful when several
// Apps coexist in one process (tests).
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// NewApp wires every component from the config. The returned App holds
// running goroutines (webhook workers, idempotency sweeper, and the billing
// worker when auto start is on); callers must Close it.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("papertiger: config required")
	}

	optState := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&optState)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if optState.logger != nil {
		log = *optState.logger
	}

	app := &App{
		Config:    cfg,
		resources: lifecycle.NewManager(log),
		log:       log,
	}

	clk := clock.New()
	if mode := clock.Mode(cfg.Clock.Mode); mode != "" && mode != clock.ModeReal {
		if err := clk.SetMode(mode, cfg.Clock.Multiplier); err != nil {
			return nil, err
		}
		if start := cfg.Clock.Start; start > 0 {
			if delta := start - clk.Now(); delta > 0 {
				if _, err := clk.Advance(delta); err != nil {
					return nil, err
				}
			} else {
				log.Warn().Int64("start", start).Msg("papertiger: clock start is in the past, ignored")
			}
		}
	}
	app.Clock = clk

	reg := store.NewRegistry()
	seed.Builtins(reg)
	if cfg.Seed.File != "" {
		if err := seed.LoadFile(cfg.Seed.File, reg, clk, log); err != nil {
			return nil, err
		}
	}
	app.Registry = reg

	coord := chaos.New(log)
	if cfg.Chaos.Seed != 0 {
		coord = chaos.NewWithSeed(log, cfg.Chaos.Seed)
	}
	if err := applyChaosConfig(coord, cfg.Chaos); err != nil {
		return nil, err
	}
	app.Chaos = coord

	m := metrics.New(optState.registerer)
	bus := telemetry.NewBus(log)
	app.Bus = bus

	dispatcher := webhooks.NewDispatcher(reg, clk, webhooks.Config{
		Workers:        cfg.Webhooks.Workers,
		AttemptTimeout: cfg.Webhooks.AttemptTimeout.Duration,
	}, log, m)
	app.resources.Register("webhook-dispatcher", dispatcher)
	registerConfigEndpoints(reg, clk, cfg.Webhooks.Endpoints)

	materializer := webhooks.NewMaterializer(reg, clk, coord, dispatcher, m)
	bus.Subscribe(materializer.Handle)

	if sink, err := mirror.SinkFromConfig(cfg.Mirror); err != nil {
		return nil, err
	} else if sink != nil {
		mir := mirror.New(sink, log)
		bus.Subscribe(mir.Handler())
		app.resources.Register("mirror", mir)
	}

	engine := billing.NewEngine(reg, clk, coord, bus, log, m, !cfg.Billing.AutoStart)
	engine.Start()
	app.resources.Register("billing-engine", engine)
	app.Billing = engine

	idem := idempotency.NewCache(clk)
	idem.StartSweeper(time.Hour)
	app.resources.RegisterFunc("idempotency-cache", func() error {
		idem.Stop()
		return nil
	})

	app.server = httpserver.New(httpserver.Deps{
		Config:      cfg,
		Registry:    reg,
		Clock:       clk,
		Chaos:       coord,
		Bus:         bus,
		Idempotency: idem,
		Billing:     engine,
		Metrics:     m,
		SnapshotDir: cfg.Snapshot.Dir,
		Logger:      log,
	})
	return app, nil
}

// applyChaosConfig installs the boot-time policies.
func applyChaosConfig(coord *chaos.Coordinator, cfg config.ChaosConfig) error {
	if err := coord.SetPaymentPolicy(chaos.PaymentPolicy{
		FailureRate:    cfg.Payment.FailureRate,
		DeclineCodes:   cfg.Payment.DeclineCodes,
		DeclineWeights: cfg.Payment.DeclineWeights,
	}); err != nil {
		return err
	}
	if err := coord.SetEventPolicy(chaos.EventPolicy{
		OutOfOrder:    cfg.Event.OutOfOrder,
		DuplicateRate: cfg.Event.DuplicateRate,
		BufferWindow:  cfg.Event.BufferWindow.Duration,
	}); err != nil {
		return err
	}
	return coord.SetAPIPolicy(chaos.APIPolicy{
		TimeoutRate:   cfg.API.TimeoutRate,
		TimeoutMS:     int(cfg.API.TimeoutMS),
		RateLimitRate: cfg.API.RateLimitRate,
		ErrorRate:     cfg.API.ErrorRate,
	})
}

// registerConfigEndpoints loads webhook endpoints declared in the config,
// equivalent to posting each to /_config/webhooks/{id}.
func registerConfigEndpoints(reg *store.Registry, clk *clock.Clock, endpoints []config.WebhookEndpointConfig) {
	table := reg.Table("webhook_endpoints")
	for _, ep := range endpoints {
		events := make([]any, 0, len(ep.EnabledEvents))
		for _, ev := range ep.EnabledEvents {
			events = append(events, ev)
		}
		id := ep.ID
		if id == "" {
			id = store.NewID(table.IDPrefix())
		}
		res := store.Resource{
			"id":      id,
			"object":  "webhook_endpoint",
			"created": clk.Now(),
			"url":     ep.URL,
			"secret":  ep.Secret,
			"status":  "enabled",
		}
		if len(events) > 0 {
			res["enabled_events"] = events
		}
		table.Insert(res)
	}
}

// Router exposes the composed handler for in-process use.
func (a *App) Router() http.Handler {
	return a.server.Router()
}

// ListenAndServe binds the configured (or probed) port and serves until
// Shutdown.
func (a *App) ListenAndServe() error {
	return a.server.ListenAndServe()
}

// Port reports the bound port once serving.
func (a *App) Port() int {
	return a.server.Port()
}

// ProcessBilling runs one synchronous billing sweep and reports how many
// subscriptions were processed.
func (a *App) ProcessBilling() int {
	return a.Billing.ProcessBilling()
}

// FlushEvents drains any chaos-buffered events immediately.
func (a *App) FlushEvents() {
	a.Chaos.FlushEvents()
}

// Shutdown stops the listener gracefully and then releases all background
// components.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	if closeErr := a.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close releases background components without touching the listener. Safe
// to call after Shutdown.
func (a *App) Close() error {
	return a.resources.Close()
}

// Config is re-exported for embedders.
type Config = config.Config

// LoadConfig wraps the internal loader for embedders.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}

// DefaultConfig returns built-in defaults, handy for in-process test servers.
func DefaultConfig() *config.Config {
	return config.Default()
}
