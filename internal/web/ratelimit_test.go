package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllowsBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("burst exhausted, should deny")
	}
	// A different client has its own bucket.
	if !rl.Allow("5.6.7.8") {
		t.Fatal("separate client should be allowed")
	}
}

func TestRateLimiterRefills(t *testing.T) {
	base := time.Now()
	rateLimitNow = func() time.Time { return base }
	defer func() { rateLimitNow = time.Now }()

	rl := NewRateLimiter(1, 1)
	if !rl.Allow("1.2.3.4") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("bucket empty, should deny")
	}
	rateLimitNow = func() time.Time { return base.Add(2 * time.Second) }
	if !rl.Allow("1.2.3.4") {
		t.Fatal("bucket should refill after waiting")
	}
}

func TestRateLimiterSweepsStaleClients(t *testing.T) {
	base := time.Now()
	rateLimitNow = func() time.Time { return base }
	defer func() { rateLimitNow = time.Now }()

	rl := NewRateLimiter(1, 1)
	rl.Allow("1.2.3.4")
	rateLimitNow = func() time.Time { return base.Add(11 * time.Minute) }
	rl.Allow("5.6.7.8")
	rl.mu.Lock()
	_, stale := rl.clients["1.2.3.4"]
	rl.mu.Unlock()
	if stale {
		t.Fatal("stale client entry should have been swept")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	h := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "1.2.3.4:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	if got := clientIP(req); got != "10.0.0.1" {
		t.Fatalf("clientIP: %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Fatalf("clientIP with XFF: %q", got)
	}
}
