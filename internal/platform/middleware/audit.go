package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/admissions/internal/platform/auth"
)

// AuditEntry records who touched which patient or admission, and how.
type AuditEntry struct {
	Actor       string
	Roles       []string
	Action      string // read, create, update, delete
	Resource    string
	PatientID   string
	AdmissionID string
	RecordID    string
	Route       string
	Method      string
	IPAddress   string
	StatusCode  int
	RequestID   string
	Timestamp   time.Time
}

// Audit logs an audit line for every /api/v1 request after the handler ran.
// It must be installed with Use, so the matched route and its params are
// known.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !strings.HasPrefix(c.Request().URL.Path, "/api/v1/") {
				return next(c)
			}
			err := next(c)

			entry := newAuditEntry(c)
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					entry.StatusCode = he.Code
				} else if entry.StatusCode < 400 {
					entry.StatusCode = http.StatusInternalServerError
				}
			}

			evt := logger.Info()
			if entry.StatusCode == http.StatusForbidden || entry.StatusCode == http.StatusUnauthorized {
				evt = logger.Warn()
			}
			evt.
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("actor", entry.Actor).
				Strs("roles", entry.Roles).
				Str("action", entry.Action).
				Str("resource", entry.Resource).
				Str("patient_id", entry.PatientID).
				Str("admission_id", entry.AdmissionID).
				Str("record_id", entry.RecordID).
				Str("method", entry.Method).
				Str("route", entry.Route).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Time("at", entry.Timestamp).
				Msg("access")

			return err
		}
	}
}

func newAuditEntry(c echo.Context) AuditEntry {
	req := c.Request()
	entry := AuditEntry{
		Action:     methodToAction(req.Method),
		Route:      c.Path(),
		Method:     req.Method,
		IPAddress:  c.RealIP(),
		StatusCode: c.Response().Status,
		Timestamp:  time.Now().UTC(),
	}
	if rid, ok := c.Get("request_id").(string); ok {
		entry.RequestID = rid
	}
	if p, ok := auth.PrincipalFromContext(req.Context()); ok {
		entry.Actor = p.ID.String()
		entry.Roles = p.Roles
	}

	entry.Resource = resourceOf(entry.Route)
	switch {
	case strings.HasPrefix(entry.Route, "/api/v1/patients/:id"):
		entry.PatientID = c.Param("id")
	case strings.HasPrefix(entry.Route, "/api/v1/admissions/:id"):
		entry.AdmissionID = c.Param("id")
	}
	entry.RecordID = c.Param("record_id")
	return entry
}

func methodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// resourceOf returns the last literal segment of a route template:
// /api/v1/admissions/:id/treatments/:record_id -> treatments.
func resourceOf(route string) string {
	segments := strings.Split(strings.TrimPrefix(route, "/api/v1/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if s := segments[i]; s != "" && !strings.HasPrefix(s, ":") {
			return s
		}
	}
	return "unknown"
}
