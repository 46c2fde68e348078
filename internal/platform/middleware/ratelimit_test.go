package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/platform/auth"
)

func serveLimited(h echo.HandlerFunc, e *echo.Echo, ip, userID string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ip + ":1234"
	if userID != "" {
		req = req.WithContext(auth.WithUser(req.Context(), userID, nil))
	}
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func TestRateLimit_BurstThenLimited(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for i := 0; i < 2; i++ {
		rec, err := serveLimited(h, e, "10.0.0.1", "")
		if err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(1-i) {
			t.Errorf("request %d: expected remaining %d, got %s", i+1, 1-i, got)
		}
	}

	rec, err := serveLimited(h, e, "10.0.0.1", "")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if ra, _ := strconv.Atoi(rec.Header().Get("Retry-After")); ra < 1 {
		t.Errorf("expected Retry-After >= 1, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimit_KeysByUserBeforeIP(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1})(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	if _, err := serveLimited(h, e, "10.0.0.1", "patient-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Same IP, different user.
	if _, err := serveLimited(h, e, "10.0.0.1", "patient-b"); err != nil {
		t.Errorf("users sharing an IP should not share a bucket: %v", err)
	}
	if _, err := serveLimited(h, e, "10.0.0.9", "patient-a"); err == nil {
		t.Error("expected patient-a limited regardless of IP")
	}
	if _, err := serveLimited(h, e, "10.0.0.1", ""); err != nil {
		t.Errorf("anonymous IP bucket is separate: %v", err)
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	b := newTokenBucket(2, 1, now)
	if ok, _ := b.allow(now); !ok {
		t.Fatal("expected first token")
	}
	if ok, _ := b.allow(now); ok {
		t.Fatal("expected bucket empty")
	}
	if ok, _ := b.allow(now.Add(500 * time.Millisecond)); !ok {
		t.Error("expected one token after half a second at 2/s")
	}
}

func TestTokenBucket_RetryAfterWithZeroRate(t *testing.T) {
	b := newTokenBucket(0, 0, time.Now())
	if got := b.retryAfter(); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
}

func TestRateLimiterStore_EvictsIdleBuckets(t *testing.T) {
	s := newRateLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, MaxKeys: 2, IdleTTL: time.Minute})
	a := s.getBucket("a")
	if s.getBucket("a") != a {
		t.Fatal("expected the same bucket for the same key")
	}
	s.getBucket("b")
	s.getBucket("c")
	if s.getBucket("a") == a {
		t.Error("expected the least recently used bucket evicted")
	}
}
