package auth_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/meridiancompliance/shield/pkg/auth"
)

func TestRequestIDMiddleware_ReusesClientID(t *testing.T) {
	var captured string
	handler := auth.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = auth.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/evidence/events", nil)
	req.Header.Set("X-Request-ID", "client-trace-42")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if captured != "client-trace-42" {
		t.Errorf("expected client ID in context, got %q", captured)
	}
	if got := w.Header().Get("X-Request-ID"); got != "client-trace-42" {
		t.Errorf("expected client ID echoed on response, got %q", got)
	}
}

func TestRequestIDMiddleware_MintsIDWhenMissingOrOversized(t *testing.T) {
	var captured string
	handler := auth.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = auth.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/evidence/events", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if captured == "" {
		t.Error("expected a minted request ID when none supplied")
	}

	oversized := strings.Repeat("x", 500)
	req = httptest.NewRequest("GET", "/evidence/events", nil)
	req.Header.Set("X-Request-ID", oversized)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if captured == oversized || captured == "" {
		t.Errorf("expected a minted ID for an oversized client ID, got %q", captured)
	}
}

func TestGetRequestID_EmptyWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest("GET", "/evidence/events", nil)
	if got := auth.GetRequestID(req.Context()); got != "" {
		t.Errorf("expected empty request ID outside middleware, got %q", got)
	}
}
