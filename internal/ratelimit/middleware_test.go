package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubLimiter struct {
	allow bool
	err   error
}

func (s stubLimiter) Allow(context.Context, string) (bool, error) { return s.allow, s.err }
func (s stubLimiter) Close() error                                { return nil }

func doRequest(t *testing.T, limiter Limiter, keyFunc KeyFunc) *httptest.ResponseRecorder {
	t.Helper()
	handler := Middleware(limiter, keyFunc, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	return rec
}

func keyed(key string) KeyFunc {
	return func(*http.Request) string { return key }
}

func TestMiddlewareAllows(t *testing.T) {
	rec := doRequest(t, stubLimiter{allow: true}, keyed("k"))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestMiddlewareDenies(t *testing.T) {
	rec := doRequest(t, stubLimiter{allow: false}, keyed("k"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestMiddlewareNilLimiterPassesThrough(t *testing.T) {
	rec := doRequest(t, nil, keyed("k"))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestMiddlewareEmptyKeySkipsLimiting(t *testing.T) {
	rec := doRequest(t, stubLimiter{allow: false}, keyed(""))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for unkeyed request, got %d", rec.Code)
	}
}

func TestMiddlewareFailsOpenOnLimiterError(t *testing.T) {
	rec := doRequest(t, stubLimiter{err: errors.New("limiter broken")}, keyed("k"))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on limiter error, got %d", rec.Code)
	}
}

func TestIPKeyFunc(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:54321"
	if got := IPKeyFunc(r); got != "10.0.0.1" {
		t.Fatalf("expected 10.0.0.1, got %q", got)
	}
}
