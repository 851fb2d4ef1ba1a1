package apikey

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func runAuth(t *testing.T, cfg Config, authorization string) *httptest.ResponseRecorder {
	t.Helper()

	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(FromContext(r.Context())))
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/customers", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_BearerKey(t *testing.T) {
	rec := runAuth(t, Config{}, "Bearer sk_test_abc123")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "sk_test_abc123" {
		t.Errorf("extracted key = %q", rec.Body.String())
	}
}

func TestMiddleware_BasicKey(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("sk_test_xyz:"))
	rec := runAuth(t, Config{}, "Basic "+encoded)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "sk_test_xyz" {
		t.Errorf("extracted key = %q", rec.Body.String())
	}
}

func TestMiddleware_MissingKey(t *testing.T) {
	rec := runAuth(t, Config{}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	var body map[string]map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid error body: %v", err)
	}
	if body["error"]["type"] != "invalid_request_error" {
		t.Errorf("error type = %v", body["error"]["type"])
	}
}

func TestMiddleware_MalformedHeader(t *testing.T) {
	rec := runAuth(t, Config{}, "Token something")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMiddleware_LenientAcceptsAnyKey(t *testing.T) {
	rec := runAuth(t, Config{Mode: ModeLenient}, "Bearer whatever")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestMiddleware_StrictRequiresSecretKeyShape(t *testing.T) {
	rec := runAuth(t, Config{Mode: ModeStrict}, "Bearer whatever")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("strict mode accepted bad key, status = %d", rec.Code)
	}

	rec = runAuth(t, Config{Mode: ModeStrict}, "Bearer sk_test_good")
	if rec.Code != http.StatusOK {
		t.Fatalf("strict mode rejected sk_test_ key, status = %d", rec.Code)
	}

	rec = runAuth(t, Config{Mode: ModeStrict}, "Bearer sk_live_good")
	if rec.Code != http.StatusOK {
		t.Fatalf("strict mode rejected sk_live_ key, status = %d", rec.Code)
	}
}
