package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

func rateLimited(cfg RateLimitConfig) echo.HandlerFunc {
	return RateLimit(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func hit(e *echo.Echo, h echo.HandlerFunc, remote, hospital string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote + ":1234"
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if hospital != "" {
		c.Set("jwt_tenant_id", hospital)
	}
	return rec, h(c)
}

func TestRateLimit_RequestsWithinBurst(t *testing.T) {
	e := echo.New()
	h := rateLimited(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	for i := 0; i < 5; i++ {
		rec, err := hit(e, h, "10.0.0.1", "")
		if err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("expected X-RateLimit-Limit 10, got %q", got)
		}
	}
}

func TestRateLimit_ExceedsBurst(t *testing.T) {
	e := echo.New()
	h := rateLimited(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})

	for i := 0; i < 2; i++ {
		if _, err := hit(e, h, "10.0.0.1", ""); err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
	}

	rec, err := hit(e, h, "10.0.0.1", "")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	retry, convErr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if convErr != nil || retry < 1 {
		t.Errorf("expected positive Retry-After, got %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_KeysAreIsolated(t *testing.T) {
	e := echo.New()
	h := rateLimited(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if _, err := hit(e, h, "10.0.0.1", ""); err != nil {
		t.Fatalf("first client: %v", err)
	}
	if _, err := hit(e, h, "10.0.0.2", ""); err != nil {
		t.Errorf("second address should have its own bucket: %v", err)
	}
	if _, err := hit(e, h, "10.0.0.1", "st_marys"); err != nil {
		t.Errorf("same address under another hospital should have its own bucket: %v", err)
	}
	if _, err := hit(e, h, "10.0.0.1", ""); err == nil {
		t.Error("expected first client to be throttled")
	}
}

func TestRateLimit_DisabledWithZeroRate(t *testing.T) {
	e := echo.New()
	h := rateLimited(RateLimitConfig{})
	for i := 0; i < 50; i++ {
		if _, err := hit(e, h, "10.0.0.1", ""); err != nil {
			t.Fatalf("request %d: expected no limit, got %v", i+1, err)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Now()
	l := rate.NewLimiter(rate.Limit(0.25), 1)
	l.AllowN(now, 1)

	if got := retryAfter(l, now); got != 4 {
		t.Errorf("expected 4 seconds, got %d", got)
	}
	// The lookahead reservation is handed back.
	if got := retryAfter(l, now); got != 4 {
		t.Errorf("expected the lookahead reservation to be cancelled, got %d", got)
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 100 || cfg.BurstSize != 200 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.MaxClients <= 0 || cfg.IdleTTL <= 0 {
		t.Errorf("expected bounded limiter store, got %+v", cfg)
	}
}
