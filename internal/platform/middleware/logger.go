package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/admissions/internal/platform/auth"
)

// Logger attaches a request-scoped logger to the request context, so
// zerolog.Ctx works further down, and logs one line per request.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			reqLogger := logger.With().Str("request_id", rid).Logger()
			c.SetRequest(req.WithContext(reqLogger.WithContext(req.Context())))

			err := next(c)
			if err != nil {
				// Render now so the logged status is the one sent.
				c.Error(err)
			}

			status := c.Response().Status
			evt := reqLogger.Info()
			switch {
			case status >= 500:
				evt = reqLogger.Error().Err(err)
			case status >= 400:
				evt = reqLogger.Warn()
				if err != nil {
					evt = evt.AnErr("reason", err)
				}
			}
			if p, ok := auth.PrincipalFromContext(c.Request().Context()); ok {
				evt = evt.Str("actor", p.ID.String())
			}
			evt.
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("route", c.Path()).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return nil
		}
	}
}
