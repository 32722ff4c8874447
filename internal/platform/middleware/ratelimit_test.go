package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/admissions/internal/platform/auth"
)

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

		if err := handler(c); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("expected X-RateLimit-Limit 10, got %q", got)
		}
	}
}

func TestRateLimit_ExceedingBurst(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	var last error
	var rec *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		rec = httptest.NewRecorder()
		last = handler(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec))
	}

	var he *echo.HTTPError
	if !errors.As(last, &he) || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on third request, got %v", last)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRateLimit_SeparateBucketsPerPrincipal(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{ID: uuid.New()}))
		if err := handler(e.NewContext(req, httptest.NewRecorder())); err != nil {
			t.Fatalf("principal %d: expected own bucket, got %v", i, err)
		}
	}
}
