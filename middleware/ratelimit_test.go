package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chargegate/chargegate/pkg/chargegate"
)

func newTestMiddleware(t *testing.T, bucket chargegate.Bucket, cost float64) (http.Handler, *chargegate.FixedClock) {
	t.Helper()

	clock := chargegate.NewFixedClock(1000)
	limiter, err := chargegate.NewMemoryLimiter(chargegate.WithClock(clock))
	if err != nil {
		t.Fatalf("NewMemoryLimiter() unexpected error: %v", err)
	}

	rl := NewRateLimiter(Config{
		Charger: limiter,
		Bucket:  bucket,
		Cost:    cost,
	})

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	return handler, clock
}

func doRequest(handler http.Handler, client string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = client + ":12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_AllowsThenBlocks(t *testing.T) {
	bucket := chargegate.Bucket{Key: "mw", Rate: 1, Size: 2}
	handler, clock := newTestMiddleware(t, bucket, 1)

	for i := 0; i < 2; i++ {
		rec := doRequest(handler, "10.0.0.1")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
	}

	rec := doRequest(handler, "10.0.0.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want %q", got, "1")
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Errorf("X-RateLimit-Limit = %q, want %q", got, "2")
	}

	// a second of refill lets the next request through
	clock.Advance(1)
	rec = doRequest(handler, "10.0.0.1")
	if rec.Code != http.StatusOK {
		t.Errorf("status after refill = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestMiddleware_ClientsAreIsolated(t *testing.T) {
	bucket := chargegate.Bucket{Key: "mw_iso", Rate: 1, Size: 1}
	handler, _ := newTestMiddleware(t, bucket, 1)

	if rec := doRequest(handler, "10.0.0.1"); rec.Code != http.StatusOK {
		t.Fatalf("first client: status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec := doRequest(handler, "10.0.0.1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("first client again: status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}

	// a different client has its own bucket
	if rec := doRequest(handler, "10.0.0.2"); rec.Code != http.StatusOK {
		t.Errorf("second client: status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestMiddleware_ForwardedForWins(t *testing.T) {
	bucket := chargegate.Bucket{Key: "mw_xff", Rate: 1, Size: 1}
	handler, _ := newTestMiddleware(t, bucket, 1)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	// same forwarded client, different proxy hop: same bucket
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:9999"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}
