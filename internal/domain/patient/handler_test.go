package patient

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/admissions/internal/platform/auth"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	h.now = func() time.Time { return now }
	return h, echo.New()
}

func TestHandler_CreatePatient(t *testing.T) {
	h, e := newTestHandler()

	body := `{"name":"Su Su","national_id":"NID-9","gender":"female"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var p Patient
	json.Unmarshal(rec.Body.Bytes(), &p)
	if p.Name != "Su Su" {
		t.Errorf("expected Su Su, got %s", p.Name)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	err := h.CreatePatient(e.NewContext(req, rec))
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate national id, got %v", err)
	}
}

func TestHandler_CreatePatient_Validation(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	err := h.CreatePatient(e.NewContext(req, rec))
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %v", err)
	}
}

func TestHandler_GetPatient_NotFound(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("00000000-0000-4000-8000-000000000099")

	err := h.GetPatient(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_Routes_RoleChecks(t *testing.T) {
	h, e := newTestHandler()
	api := e.Group("/api/v1", auth.DevAuthMiddleware())
	h.RegisterRoutes(api)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(`{"name":"X"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-Dev-Roles", auth.RoleNurse)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for nurse, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/patients?q=x", nil)
	req.Header.Set("X-Dev-Roles", auth.RoleNurse)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for nurse search, got %d", rec.Code)
	}
}
