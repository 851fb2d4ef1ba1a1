package param

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/PaperTiger/server/internal/apierror"
)

type contextKey string

const paramsKey contextKey = "params"

// Middleware parses the request body (bracketed form encoding or JSON) plus
// query parameters into a nested map and stores it in the request context.
// Violations of the form grammar short-circuit with HTTP 400.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params, err := Parse(r)
		if err != nil {
			var perr *Error
			if e, ok := err.(*Error); ok {
				perr = e
			} else {
				perr = &Error{Message: "Could not parse request parameters."}
			}
			apierror.InvalidParam(w, perr.Message, perr.Param)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithParams(r.Context(), params)))
	})
}

// Parse builds the parameter map for a request. Query parameters are always
// included; body parameters take precedence on conflicts.
func Parse(r *http.Request) (map[string]any, error) {
	params, err := Unflatten(r.URL.Query())
	if err != nil {
		return nil, err
	}

	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodDelete {
		return params, nil
	}

	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "application/json"):
		body := make(map[string]any)
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, &Error{Message: "Invalid JSON body: " + err.Error()}
		}
		for k, v := range body {
			params[k] = v
		}
	default:
		// Bracketed form encoding is the default wire format.
		if err := r.ParseForm(); err != nil {
			return nil, &Error{Message: "Could not parse form body."}
		}
		body, err := Unflatten(r.PostForm)
		if err != nil {
			return nil, err
		}
		for k, v := range body {
			params[k] = v
		}
	}
	return params, nil
}

// WithParams stores parsed parameters in the context.
func WithParams(ctx context.Context, params map[string]any) context.Context {
	return context.WithValue(ctx, paramsKey, params)
}

// FromContext retrieves parsed parameters, or an empty map.
func FromContext(ctx context.Context) map[string]any {
	if params, ok := ctx.Value(paramsKey).(map[string]any); ok {
		return params
	}
	return map[string]any{}
}
