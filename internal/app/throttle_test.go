package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestThrottleAllowsBurstPerClient(t *testing.T) {
	throttle := NewThrottle(0.001, 2, 16, time.Minute, false)

	req := httptest.NewRequest(http.MethodPost, "/rpc/chapter", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	for i := 0; i < 2; i++ {
		if _, ok := throttle.Allow(req); !ok {
			t.Fatalf("request %d: expected allowed within burst", i+1)
		}
	}
	wait, ok := throttle.Allow(req)
	if ok {
		t.Fatal("expected third request to be throttled")
	}
	if wait <= 0 {
		t.Fatalf("expected positive wait, got %v", wait)
	}

	other := httptest.NewRequest(http.MethodPost, "/rpc/chapter", nil)
	other.RemoteAddr = "10.0.0.2:5000"
	if _, ok := throttle.Allow(other); !ok {
		t.Fatal("expected other client to have its own bucket")
	}
}

func TestThrottleForwardedFor(t *testing.T) {
	throttle := NewThrottle(0.001, 1, 16, time.Minute, true)

	first := httptest.NewRequest(http.MethodPost, "/rpc/chapter", nil)
	first.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if _, ok := throttle.Allow(first); !ok {
		t.Fatal("expected first request allowed")
	}

	second := httptest.NewRequest(http.MethodPost, "/rpc/chapter", nil)
	second.Header.Set("X-Forwarded-For", "203.0.113.7")
	if _, ok := throttle.Allow(second); ok {
		t.Fatal("expected same forwarded client to be throttled")
	}

	proxied := httptest.NewRequest(http.MethodPost, "/rpc/chapter", nil)
	proxied.Header.Set("X-Real-Ip", "198.51.100.4")
	if _, ok := throttle.Allow(proxied); !ok {
		t.Fatal("expected X-Real-Ip client allowed")
	}
}

func TestThrottledRPCReturns429(t *testing.T) {
	svc := New(newTestDeps(t))
	handler := NewHTTPServer(svc, "*", zerolog.Nop(), nil).
		WithThrottle(NewThrottle(0.001, 1, 16, time.Minute, false)).
		Handler()

	body := map[string]any{"name": "Tale:One", "method": "meta"}
	expectStatus(t, doRequest(t, handler, http.MethodPost, "/rpc/chapter", body), http.StatusNotFound, "NOT_FOUND")

	rr := doRequest(t, handler, http.MethodPost, "/rpc/chapter", body)
	response := expectStatus(t, rr, http.StatusTooManyRequests, "RATE_LIMITED")
	if seconds, _ := response["retry_after"].(float64); seconds < 1 {
		t.Fatalf("expected retry_after >= 1, got %v", response["retry_after"])
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	expectStatus(t, doRequest(t, handler, http.MethodGet, "/api/health", nil), http.StatusOK, "")
}

func TestRetryAfterSeconds(t *testing.T) {
	if got := retryAfterSeconds(1500 * time.Millisecond); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := retryAfterSeconds(0); got != 1 {
		t.Fatalf("expected minimum of 1, got %d", got)
	}
}
