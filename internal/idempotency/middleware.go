package idempotency

import (
	"bytes"
	"net/http"

	"github.com/PaperTiger/server/internal/apierror"
	"github.com/PaperTiger/server/internal/metrics"
)

// HeaderKey is the request header carrying the idempotency key.
const HeaderKey = "Idempotency-Key"

// replayHeader marks responses served from the cache.
const replayHeader = "X-Idempotency-Cached"

// responseWriter captures the response for caching.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	wroteHeader bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
	}
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// Middleware enforces the idempotency contract on POST requests carrying an
// Idempotency-Key header. Concurrent holders of the same key observe a 409;
// later callers replay the cached 2xx response verbatim.
func Middleware(cache *Cache, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderKey)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}

			outcome, cached := cache.Begin(key)
			switch outcome {
			case OutcomeInFlight:
				m.ObserveIdempotency("conflict")
				apierror.IdempotencyConflict(w, key)
				return

			case OutcomeCached:
				m.ObserveIdempotency("replay")
				for k, v := range cached.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set(replayHeader, "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			// OutcomeNew: this request owns the key until it resolves.
			m.ObserveIdempotency("new")
			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			if rw.statusCode >= 200 && rw.statusCode < 300 {
				headers := make(map[string]string, len(rw.Header()))
				for k := range rw.Header() {
					headers[k] = rw.Header().Get(k)
				}
				cache.Complete(key, &Response{
					StatusCode: rw.statusCode,
					Headers:    headers,
					Body:       rw.body.Bytes(),
				})
			} else {
				// Non-2xx results are not cached; release the key for retry.
				cache.Abort(key)
			}
		})
	}
}
