package idempotency

import (
	"bytes"
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/apperror"
	"github.com/hms/hms/internal/platform/auth"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "X-Idempotency-Replayed"
	maxKeyLength   = 255
)

// Middleware replays the stored response of a completed request that carried
// the same Idempotency-Key. Keys are scoped to the authenticated user.
//
//   - no key: the request passes through
//   - key reserved by a request still running: 409
//   - key used for a different method or path: 422
//   - key completed with a 2xx: the stored response is replayed
//   - a non-2xx or failed response releases the key
func Middleware(store Store) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			clientKey := req.Header.Get(HeaderKey)
			if clientKey == "" {
				return next(c)
			}
			if len(clientKey) > maxKeyLength {
				return echo.NewHTTPError(http.StatusBadRequest, "Idempotency-Key is too long")
			}

			ctx := req.Context()
			logger := zerolog.Ctx(ctx)
			key := auth.UserIDFromContext(ctx) + ":" + clientKey
			method, path := req.Method, req.URL.Path

			existing, reserved, err := store.Reserve(ctx, key, method, path)
			if err != nil {
				logger.Error().Err(err).Msg("idempotency reserve failed")
				return echo.NewHTTPError(http.StatusInternalServerError, apperror.GenericDependencyMessage)
			}
			if !reserved {
				return replay(c, existing, method, path)
			}

			origWriter := c.Response().Writer
			rec := &recorder{
				ResponseWriter: origWriter,
				body:           &bytes.Buffer{},
				statusCode:     http.StatusOK,
				headers:        make(http.Header),
			}
			c.Response().Writer = rec

			handlerErr := next(c)
			c.Response().Writer = origWriter

			// Store writes use a context detached from request cancellation.
			storeCtx := context.WithoutCancel(ctx)

			if handlerErr != nil || rec.statusCode < 200 || rec.statusCode >= 300 {
				if err := store.Release(storeCtx, key); err != nil {
					logger.Warn().Err(err).Msg("idempotency release failed")
				}
				if handlerErr != nil {
					return handlerErr
				}
				return flush(origWriter, rec)
			}

			entry := &Entry{
				Key:        key,
				Method:     method,
				Path:       path,
				StatusCode: rec.statusCode,
				Headers:    rec.headers.Clone(),
				Body:       rec.body.Bytes(),
			}
			if err := store.Complete(storeCtx, entry); err != nil {
				logger.Warn().Err(err).Msg("idempotency complete failed")
			}
			return flush(origWriter, rec)
		}
	}
}

func replay(c echo.Context, entry *Entry, method, path string) error {
	if entry.Method != method || entry.Path != path {
		return echo.NewHTTPError(http.StatusUnprocessableEntity,
			"Idempotency-Key was already used for a different request")
	}
	if entry.Pending {
		return echo.NewHTTPError(http.StatusConflict,
			"a request with this Idempotency-Key is still being processed")
	}

	resp := c.Response()
	for k, vals := range entry.Headers {
		for _, v := range vals {
			resp.Header().Add(k, v)
		}
	}
	resp.Header().Set(HeaderReplayed, "true")
	resp.WriteHeader(entry.StatusCode)
	_, err := resp.Write(entry.Body)
	return err
}

func flush(w http.ResponseWriter, rec *recorder) error {
	for k, vals := range rec.headers {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(rec.statusCode)
	_, err := w.Write(rec.body.Bytes())
	return err
}

// recorder buffers the downstream response so it can be stored before it is
// sent.
type recorder struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
	headers    http.Header
	wroteHead  bool
}

func (r *recorder) Header() http.Header {
	return r.headers
}

func (r *recorder) WriteHeader(code int) {
	if r.wroteHead {
		return
	}
	r.statusCode = code
	r.wroteHead = true
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHead {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(b)
}
