package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1M", 1 << 20},
		{"10MB", 10 << 20},
		{"512K", 512 << 10},
		{"1G", 1 << 30},
		{"1024", 1024},
		{"", 1 << 20},
		{"invalid", 1 << 20},
		{"-5", 1 << 20},
	}

	for _, tt := range tests {
		if got := ParseLimit(tt.input); got != tt.want {
			t.Errorf("ParseLimit(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestBodyLimit_AllowsSmallBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(`{"first_name":"Ana"}`))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		if err != nil {
			t.Fatalf("failed to read body: %v", err)
		}
		return c.String(http.StatusOK, string(b))
	}

	if err := BodyLimit(1024, 4096)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Body.String() != `{"first_name":"Ana"}` {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestBodyLimit_RejectsByContentLength(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(strings.Repeat("x", 100)))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	err := BodyLimit(10, 4096)(func(c echo.Context) error {
		called = true
		return nil
	})(c)

	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %v", err)
	}
	if called {
		t.Error("handler must not run")
	}
}

func TestBodyLimit_RejectsUnknownLengthOnRead(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(strings.Repeat("x", 100)))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := BodyLimit(10, 4096)(func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	})(c)

	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from read, got %v", err)
	}
}

func TestBodyLimit_UploadLimitForAttachments(t *testing.T) {
	e := echo.New()
	path := "/api/v1/admissions/a/treatments/b/attachments"
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(strings.Repeat("x", 100)))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := BodyLimit(10, 4096)(func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	})(c)
	if err != nil {
		t.Fatalf("expected upload limit to apply, got %v", err)
	}
}
