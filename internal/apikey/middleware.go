// Package apikey authenticates requests the way the upstream API does:
// Authorization: Bearer <key> or Basic base64(<key>:).
package apikey

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/PaperTiger/server/internal/apierror"
)

// Mode selects how strictly keys are validated.
type Mode string

const (
	// ModeLenient accepts any non-empty key (default for local testing).
	ModeLenient Mode = "lenient"
	// ModeStrict requires keys shaped like real secret keys.
	ModeStrict Mode = "strict"
)

type contextKey string

const keyContextKey contextKey = "api_key"

// Config holds authentication settings.
type Config struct {
	Mode Mode
}

// Middleware extracts and validates the API key, storing it in the request
// context. Missing or malformed credentials get a 401 envelope.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeLenient
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := extractKey(r.Header.Get("Authorization"))
			if !ok || key == "" {
				apierror.Unauthorized(w, "You did not provide an API key. Provide your key using 'Authorization: Bearer sk_test_...'.")
				return
			}

			if mode == ModeStrict && !strings.HasPrefix(key, "sk_test_") && !strings.HasPrefix(key, "sk_live_") {
				apierror.Unauthorized(w, "Invalid API key provided: "+redact(key)+".")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithKey(r.Context(), key)))
		})
	}
}

// extractKey parses the Authorization header value.
func extractKey(header string) (string, bool) {
	switch {
	case strings.HasPrefix(header, "Bearer "):
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")), true
	case strings.HasPrefix(header, "Basic "):
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
		if err != nil {
			return "", false
		}
		// key is the username portion before the first colon
		creds := string(decoded)
		if i := strings.IndexByte(creds, ':'); i >= 0 {
			return creds[:i], true
		}
		return creds, true
	default:
		return "", false
	}
}

// redact shows only the key prefix and last 4 characters.
func redact(key string) string {
	if len(key) <= 12 {
		return key
	}
	return key[:8] + "..." + key[len(key)-4:]
}

// WithKey stores the authenticated key in the context.
func WithKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyContextKey, key)
}

// FromContext returns the authenticated key or "".
func FromContext(ctx context.Context) string {
	if key, ok := ctx.Value(keyContextKey).(string); ok {
		return key
	}
	return ""
}
