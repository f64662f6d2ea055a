package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cdpchain/crypto"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"write": {RequestsPerMinute: 60, Burst: 1},
	}, nil)
	handler := limiter.Middleware("write")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/rate/update", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
	if res.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestRateLimiterSeparatesCallersAndRoutes(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"write": {RequestsPerMinute: 60, Burst: 1},
		"read":  {RequestsPerMinute: 60, Burst: 1},
	}, nil)
	write := limiter.Middleware("write")(okHandler())
	read := limiter.Middleware("read")(okHandler())

	alice := crypto.MustNewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x01}, crypto.AddressLength))
	bob := crypto.MustNewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x02}, crypto.AddressLength))
	as := func(addr crypto.Address) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/v1/stability/SOL/stake", nil)
		return req.WithContext(context.WithValue(req.Context(), ContextKeyCaller, addr))
	}

	for name, tc := range map[string]struct {
		handler http.Handler
		req     *http.Request
	}{
		"alice write": {write, as(alice)},
		"bob write":   {write, as(bob)},
		"alice read":  {read, as(alice)},
	} {
		res := httptest.NewRecorder()
		tc.handler.ServeHTTP(res, tc.req)
		if res.Code != http.StatusOK {
			t.Fatalf("%s: expected success, got %d", name, res.Code)
		}
	}
	res := httptest.NewRecorder()
	write.ServeHTTP(res, as(alice))
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected alice to be throttled on write, got %d", res.Code)
	}
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{"write": {RequestsPerMinute: 1, Burst: 1}}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	handler := limiter.Middleware("write")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/rate/update", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	now = now.Add(10 * time.Minute)
	limiter.obtainLimiter("other", RateLimit{})
	if _, ok := limiter.visitors["write|192.0.2.1"]; ok {
		t.Fatalf("expected idle visitor to be evicted")
	}
}

func TestUnconfiguredRouteIsNotLimited(t *testing.T) {
	limiter := NewRateLimiter(nil, nil)
	handler := limiter.Middleware("anything")(okHandler())
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("unexpected status %d", res.Code)
		}
	}
}
