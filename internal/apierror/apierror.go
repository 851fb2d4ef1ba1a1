// Package apierror renders the wire error envelope:
//
//	{"error": {"type": ..., "message": ..., "code": ..., "param": ...}}
package apierror

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Type is the machine-readable error taxonomy on the wire.
type Type string

const (
	TypeInvalidRequest Type = "invalid_request_error"
	TypeAuthentication Type = "authentication_error"
	TypeIdempotency    Type = "idempotency_error"
	TypeCard           Type = "card_error"
	TypeRateLimit      Type = "rate_limit_error"
	TypeAPI            Type = "api_error"
)

// Response is the standardized error body returned to clients.
type Response struct {
	Error Detail `json:"error"`
}

// Detail carries the error type, message, and optional context.
type Detail struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

// Write renders an error envelope with the given HTTP status.
func Write(w http.ResponseWriter, status int, detail Detail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(Response{Error: detail})
}

// InvalidRequest writes a 400 with an invalid_request_error body.
func InvalidRequest(w http.ResponseWriter, message string) {
	Write(w, http.StatusBadRequest, Detail{Type: TypeInvalidRequest, Message: message})
}

// InvalidParam writes a 400 naming the offending parameter.
func InvalidParam(w http.ResponseWriter, message, param string) {
	Write(w, http.StatusBadRequest, Detail{Type: TypeInvalidRequest, Message: message, Param: param})
}

// NotFound writes the 404 shape used for unknown resource ids.
func NotFound(w http.ResponseWriter, object, id string) {
	Write(w, http.StatusNotFound, Detail{
		Type:    TypeInvalidRequest,
		Message: fmt.Sprintf("No such %s: '%s'", object, id),
	})
}

// Unauthorized writes a 401 authentication failure.
func Unauthorized(w http.ResponseWriter, message string) {
	Write(w, http.StatusUnauthorized, Detail{Type: TypeInvalidRequest, Message: message})
}

// IdempotencyConflict writes the 409 returned while a key is in flight.
func IdempotencyConflict(w http.ResponseWriter, key string) {
	w.Header().Set("Retry-After", "1")
	Write(w, http.StatusConflict, Detail{
		Type:    TypeIdempotency,
		Message: fmt.Sprintf("A request with idempotency key '%s' is currently in flight.", key),
	})
}

// CardError writes a 402 simulated card decline.
func CardError(w http.ResponseWriter, code, message string) {
	Write(w, http.StatusPaymentRequired, Detail{Type: TypeCard, Message: message, Code: code})
}

// RateLimited writes a 429 from the api chaos layer.
func RateLimited(w http.ResponseWriter) {
	Write(w, http.StatusTooManyRequests, Detail{
		Type:    TypeRateLimit,
		Message: "Too many requests. Please retry shortly.",
	})
}

// ServerError writes a 5xx from the api chaos layer.
func ServerError(w http.ResponseWriter, status int) {
	if status < 500 || status > 599 {
		status = http.StatusInternalServerError
	}
	Write(w, status, Detail{
		Type:    TypeAPI,
		Message: "An internal error occurred.",
	})
}
