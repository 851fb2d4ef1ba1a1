package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/PaperTiger/server/internal/apierror"
	"github.com/PaperTiger/server/internal/chaos"
	"github.com/PaperTiger/server/internal/metrics"
)

// corsMiddleware implements the emulated API's fixed CORS contract: the
// headers appear on every response and OPTIONS short-circuits with 200.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key")
		h.Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// chaosMiddleware consults the coordinator's API family before dispatch.
// Timeouts stall for the configured duration before failing. Every verdict
// is counted on the chaos decision metric.
func chaosMiddleware(coord *chaos.Coordinator, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := coord.ShouldAPIFail(r.URL.Path)
			switch decision.Kind {
			case chaos.APITimeout:
				m.ObserveChaosDecision("api", "timeout")
				select {
				case <-time.After(time.Duration(decision.TimeoutMS) * time.Millisecond):
				case <-r.Context().Done():
				}
				apierror.ServerError(w, http.StatusGatewayTimeout)
				return
			case chaos.APIRateLimit:
				m.ObserveChaosDecision("api", "rate_limit")
				apierror.RateLimited(w)
				return
			case chaos.APIServerError:
				m.ObserveChaosDecision("api", "error")
				apierror.ServerError(w, http.StatusInternalServerError)
				return
			}
			m.ObserveChaosDecision("api", "pass")
			next.ServeHTTP(w, r)
		})
	}
}

// metricsMiddleware records request counts and latencies.
func metricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			m.ObserveRequest(r.Method, ww.Status(), time.Since(start))
		})
	}
}
