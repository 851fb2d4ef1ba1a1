// Package httpserver composes the emulated API surface: router, middleware
// chain, admin endpoints, and listener with port selection.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/PaperTiger/server/internal/apikey"
	"github.com/PaperTiger/server/internal/billing"
	"github.com/PaperTiger/server/internal/chaos"
	"github.com/PaperTiger/server/internal/clock"
	"github.com/PaperTiger/server/internal/config"
	"github.com/PaperTiger/server/internal/idempotency"
	"github.com/PaperTiger/server/internal/logger"
	"github.com/PaperTiger/server/internal/metrics"
	"github.com/PaperTiger/server/internal/param"
	"github.com/PaperTiger/server/internal/resources"
	"github.com/PaperTiger/server/internal/store"
	"github.com/PaperTiger/server/internal/telemetry"
)

// Port probe range used when no port is configured.
const (
	probePortLow  = 59000
	probePortHigh = 60000
)

// Deps carries everything the server composes. All fields are required
// except Metrics.
type Deps struct {
	Config      *config.Config
	Registry    *store.Registry
	Clock       *clock.Clock
	Chaos       *chaos.Coordinator
	Bus         *telemetry.Bus
	Idempotency *idempotency.Cache
	Billing     *billing.Engine
	Metrics     *metrics.Metrics
	SnapshotDir string
	Logger      zerolog.Logger
}

// Server wires handlers, middleware, and the listener.
type Server struct {
	deps       Deps
	router     *chi.Mux
	httpServer *http.Server
	port       int
}

// New builds the server with its configured router.
func New(deps Deps) *Server {
	router := chi.NewRouter()
	s := &Server{
		deps:   deps,
		router: router,
		httpServer: &http.Server{
			ReadTimeout:  deps.Config.Server.ReadTimeout.Duration,
			WriteTimeout: deps.Config.Server.WriteTimeout.Duration,
			IdleTimeout:  deps.Config.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}
	s.configureRouter()
	return s
}

// Router exposes the handler for in-process tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// configureRouter attaches the middleware chain and all routes.
func (s *Server) configureRouter() {
	cfg := s.deps.Config
	r := s.router

	r.Use(logger.Middleware(s.deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware(s.deps.Metrics))

	// The emulated API surface: the wire contract fixes the CORS headers
	// on every response, so the filter here is bespoke rather than
	// negotiated (see the admin group for the standard handler).
	r.Route("/v1", func(r chi.Router) {
		r.Use(corsMiddleware)
		r.Use(apikey.Middleware(apikey.Config{Mode: apikey.Mode(cfg.Auth.Mode)}))
		if cfg.RateLimit.Enabled {
			r.Use(httprate.LimitByIP(cfg.RateLimit.RequestsPerMinute, time.Minute))
		}
		r.Use(chaosMiddleware(s.deps.Chaos, s.deps.Metrics))
		r.Use(idempotency.Middleware(s.deps.Idempotency, s.deps.Metrics))
		r.Use(param.Middleware)

		transitions := resources.NewTransitions(s.deps.Registry, s.deps.Clock, s.deps.Chaos, s.deps.Bus, s.deps.Billing)
		for _, def := range resources.Definitions() {
			h := resources.NewHandler(def, s.deps.Registry, s.deps.Clock, s.deps.Bus, s.deps.Logger)
			switch def.Plural {
			case "sessions":
				r.Route("/checkout/sessions", func(r chi.Router) {
					h.Mount(r)
					r.Post("/{id}/complete", transitions.CompleteCheckoutSession)
				})
			case "payment_methods":
				r.Route("/payment_methods", func(r chi.Router) {
					h.Mount(r)
					r.Post("/{id}/attach", transitions.AttachPaymentMethod)
					r.Post("/{id}/detach", transitions.DetachPaymentMethod)
				})
			case "payment_intents":
				r.Route("/payment_intents", func(r chi.Router) {
					h.Mount(r)
					r.Post("/{id}/confirm", transitions.ConfirmPaymentIntent)
					r.Post("/{id}/cancel", transitions.CancelPaymentIntent)
				})
			case "invoices":
				r.Route("/invoices", func(r chi.Router) {
					h.Mount(r)
					r.Post("/{id}/pay", transitions.PayInvoice)
				})
			case "refunds":
				// Refund creation replaces the generic create so the charge
				// flips and the reversal transaction is written.
				r.Route("/refunds", func(r chi.Router) {
					r.Get("/", h.List)
					r.Get("/{id}", h.Retrieve)
					r.Post("/", transitions.CreateRefund)
				})
			default:
				r.Route("/"+def.Plural, h.Mount)
			}
		}
	})

	// Administrative surface, outside the emulated contract.
	r.Group(func(r chi.Router) {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         86400,
		}).Handler)
		r.Use(middleware.Timeout(5 * time.Second))

		admin := adminHandlers{deps: s.deps}
		r.Post("/_config/webhooks/{id}", admin.registerWebhook)
		r.Delete("/_config/webhooks/{id}", admin.deleteWebhook)
		r.Delete("/_config/data", admin.flushData)
		r.Get("/_config/time", admin.getTime)
		r.Post("/_config/time/advance", admin.advanceTime)
		r.Post("/_config/time/mode", admin.setTimeMode)
		r.Get("/_config/chaos", admin.getChaos)
		r.Post("/_config/chaos", admin.setChaos)
		r.Post("/_config/chaos/reset", admin.resetChaos)
		r.Get("/_config/chaos/stats", admin.chaosStats)
		r.Post("/_config/chaos/flush_events", admin.flushEvents)
		r.Post("/_config/payments/simulate_failure", admin.simulateFailure)
		r.Post("/_config/billing/run", admin.runBilling)
		r.Post("/_config/snapshot/save", admin.saveSnapshot)
		r.Post("/_config/snapshot/load", admin.loadSnapshot)

		r.Get("/healthz", admin.health)
		r.Handle("/metrics", promhttp.Handler())
	})
}

// ListenAndServe selects the port and serves until Shutdown. Precedence:
// configured port (env overrides already folded in), else a free port
// probed in the 59000-60000 range.
func (s *Server) ListenAndServe() error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	s.deps.Logger.Info().Int("port", s.port).Msg("http server listening")
	return s.httpServer.Serve(ln)
}

func (s *Server) listen() (net.Listener, error) {
	if port := s.deps.Config.Server.Port; port != 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return nil, fmt.Errorf("listen on configured port %d: %w", port, err)
		}
		s.port = port
		return ln, nil
	}

	for port := probePortLow; port <= probePortHigh; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			continue
		}
		s.port = port
		return ln, nil
	}
	return nil, fmt.Errorf("no free port in %d-%d", probePortLow, probePortHigh)
}

// Port reports the bound port, valid after ListenAndServe begins.
func (s *Server) Port() int {
	return s.port
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
