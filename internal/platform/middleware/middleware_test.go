package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/admissions/internal/platform/auth"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		rid := c.Get("request_id").(string)
		if _, err := uuid.Parse(rid); err != nil {
			t.Errorf("expected generated uuid request_id, got %q", rid)
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := RequestID()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		if rid := c.Get("request_id").(string); rid != "my-custom-id" {
			t.Errorf("expected my-custom-id, got %s", rid)
		}
		return c.String(http.StatusOK, "ok")
	}

	RequestID()(handler)(c)

	if got := rec.Header().Get(RequestIDHeader); got != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", got)
	}
}

func TestLogger_AttachesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-1")

	handler := func(c echo.Context) error {
		zerolog.Ctx(c.Request().Context()).Info().Msg("inside")
		return c.String(http.StatusOK, "ok")
	}

	if err := Logger(logger)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}
	for _, line := range lines {
		var entry map[string]interface{}
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("invalid log line %s: %v", line, err)
		}
		if entry["request_id"] != "req-1" {
			t.Errorf("expected request_id on every line, got %v", entry["request_id"])
		}
	}
}

func TestLogger_RendersHandlerError(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "gone")
	}

	if err := Logger(zerolog.New(&buf))(handler)(c); err != nil {
		t.Fatalf("expected error to be rendered, got %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	var entry map[string]interface{}
	json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry)
	if entry["level"] != "warn" {
		t.Errorf("expected warn level, got %v", entry["level"])
	}
	if entry["status"] != float64(404) {
		t.Errorf("expected status 404, got %v", entry["status"])
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	logger := zerolog.New(os.Stderr).With().Logger()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		panic("test panic")
	}

	err := Recovery(logger)(handler)(c)
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	logger := zerolog.New(os.Stderr).With().Logger()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	if err := Recovery(logger)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAudit_LogsRouteParams(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(Audit(zerolog.New(&buf)))

	userID := uuid.New()
	e.POST("/api/v1/admissions/:id/treatments", func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	}, func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithPrincipal(c.Request().Context(), auth.Principal{ID: userID, Roles: []string{auth.RoleDoctor}})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})

	admissionID := uuid.NewString()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admissions/"+admissionID+"/treatments", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected one audit line, got %q: %v", buf.String(), err)
	}
	if entry["actor"] != userID.String() {
		t.Errorf("expected actor %s, got %v", userID, entry["actor"])
	}
	checks := map[string]interface{}{
		"action":       "create",
		"resource":     "treatments",
		"admission_id": admissionID,
		"route":        "/api/v1/admissions/:id/treatments",
		"status":       float64(http.StatusCreated),
	}
	for k, want := range checks {
		if entry[k] != want {
			t.Errorf("%s: expected %v, got %v", k, want, entry[k])
		}
	}
}

func TestAudit_SkipsNonAPIPaths(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(Audit(zerolog.New(&buf)))
	e.GET("/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if buf.Len() != 0 {
		t.Errorf("expected no audit output, got %s", buf.String())
	}
}

func TestAudit_RecordsErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(Audit(zerolog.New(&buf)))
	e.GET("/api/v1/patients/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "no")
	})

	patientID := uuid.NewString()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/patients/"+patientID, nil))

	var entry map[string]interface{}
	json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry)
	if entry["status"] != float64(http.StatusForbidden) {
		t.Errorf("expected 403, got %v", entry["status"])
	}
	if entry["level"] != "warn" {
		t.Errorf("expected warn level, got %v", entry["level"])
	}
	if entry["patient_id"] != patientID {
		t.Errorf("expected patient_id %s, got %v", patientID, entry["patient_id"])
	}
}

func TestResourceOf(t *testing.T) {
	tests := map[string]string{
		"/api/v1/patients":                             "patients",
		"/api/v1/patients/:id":                         "patients",
		"/api/v1/patients/:id/admissions":              "admissions",
		"/api/v1/admissions/:id/treatments/:record_id": "treatments",
		"/api/v1/":                                     "unknown",
	}
	for route, want := range tests {
		if got := resourceOf(route); got != want {
			t.Errorf("resourceOf(%q) = %q, want %q", route, got, want)
		}
	}
}
