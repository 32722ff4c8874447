package idempotency

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/admissions/internal/platform/auth"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotency-Replayed"
	maxKeyLength   = 255
)

// Middleware replays the stored response for a repeated Idempotency-Key.
// Keys are scoped to the authenticated principal. Only 2xx responses are
// stored, so a rejected attempt may be retried with the same key. A key
// reused for a different method or path is rejected with 422, and a retry
// that arrives while the first attempt is still running gets 409.
func Middleware(store Store, ttl time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			switch req.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
			default:
				return next(c)
			}
			key := req.Header.Get(HeaderKey)
			if key == "" {
				return next(c)
			}
			if len(key) > maxKeyLength {
				return echo.NewHTTPError(http.StatusBadRequest, "Idempotency-Key is too long")
			}

			ctx := req.Context()
			p, _ := auth.PrincipalFromContext(ctx)
			scoped := p.ID.String() + ":" + key
			path := req.URL.Path

			cached, err := store.Get(ctx, scoped)
			switch {
			case err == nil:
				if cached.Method != req.Method || cached.Path != path {
					return echo.NewHTTPError(http.StatusUnprocessableEntity,
						"Idempotency-Key was already used for a different request")
				}
				return replay(c, cached)
			case !errors.Is(err, ErrNotFound):
				return err
			}

			ok, err := store.Reserve(ctx, scoped)
			if err != nil {
				return err
			}
			if !ok {
				return echo.NewHTTPError(http.StatusConflict, "a request with this Idempotency-Key is in progress")
			}
			defer func() {
				if err := store.Release(ctx, scoped); err != nil {
					zerolog.Ctx(ctx).Warn().Err(err).Msg("release idempotency key")
				}
			}()

			resp := c.Response()
			orig := resp.Writer
			rec := &recorder{ResponseWriter: orig, header: make(http.Header), status: http.StatusOK}
			resp.Writer = rec
			herr := next(c)
			resp.Writer = orig

			if !rec.wrote {
				// Nothing reached the client; the error handler renders herr on
				// the real writer.
				for k, v := range rec.header {
					orig.Header()[k] = v
				}
				return herr
			}

			if herr == nil && rec.status >= 200 && rec.status < 300 {
				entry := &Entry{
					Method:     req.Method,
					Path:       path,
					StatusCode: rec.status,
					Headers:    rec.header.Clone(),
					Body:       rec.body.Bytes(),
				}
				if err := store.Set(ctx, scoped, entry, ttl); err != nil {
					zerolog.Ctx(ctx).Warn().Err(err).Msg("store idempotent response")
				}
			}
			if err := flush(orig, rec.header, rec.status, rec.body.Bytes()); err != nil {
				return err
			}
			return herr
		}
	}
}

func replay(c echo.Context, e *Entry) error {
	h := e.Headers.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Set(HeaderReplayed, "true")
	c.Response().Committed = true
	c.Response().Status = e.StatusCode
	c.Response().Size = int64(len(e.Body))
	return flush(c.Response().Writer, h, e.StatusCode, e.Body)
}

func flush(w http.ResponseWriter, h http.Header, status int, body []byte) error {
	for k, v := range h {
		w.Header()[k] = v
	}
	w.WriteHeader(status)
	_, err := w.Write(body)
	return err
}

// recorder buffers the handler's response so it can be stored before it is
// sent.
type recorder struct {
	http.ResponseWriter
	header http.Header
	body   bytes.Buffer
	status int
	wrote  bool
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wrote {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(b)
}
