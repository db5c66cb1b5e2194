package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

const gatewayTimeoutBody = `{"message":"request processing exceeded the allowed time limit"}` + "\n"

// RequestTimeout sets a deadline on each request context. The handler writes
// into a buffer that is copied to the client only when it finishes in time.
// When the deadline passes first a 504 goes out, the buffer is discarded,
// and the middleware still waits for the handler to return so the echo
// context is never used after it goes back to the pool. A panic on the
// handler goroutine comes back as a *PanicError for Recovery to render.
// Paths under skipPrefixes (health checks) run without a deadline.
func RequestTimeout(timeout time.Duration, skipPrefixes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}
			path := c.Request().URL.Path
			for _, p := range skipPrefixes {
				if strings.HasPrefix(path, p) {
					return next(c)
				}
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			res := c.Response()
			orig := res.Writer
			tw := &timeoutWriter{header: orig.Header().Clone()}
			res.Writer = tw

			done := make(chan error, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- capturePanic(r)
					}
				}()
				done <- next(c)
			}()

			select {
			case err := <-done:
				return tw.finish(res, orig, err)
			case <-ctx.Done():
			}
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return tw.finish(res, orig, <-done)
			}

			tw.expire()
			n := writeGatewayTimeout(orig)
			err := <-done
			res.Writer = orig
			res.Status, res.Size, res.Committed = http.StatusGatewayTimeout, int64(n), true

			var pe *PanicError
			if errors.As(err, &pe) {
				return err
			}
			return nil
		}
	}
}

func writeGatewayTimeout(w http.ResponseWriter) int {
	w.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	w.WriteHeader(http.StatusGatewayTimeout)
	n, _ := w.Write([]byte(gatewayTimeoutBody))
	return n
}

// timeoutWriter buffers a handler's response until RequestTimeout decides
// whether it reaches the client.
type timeoutWriter struct {
	mu       sync.Mutex
	header   http.Header
	buf      bytes.Buffer
	status   int
	timedOut bool
}

func (w *timeoutWriter) Header() http.Header { return w.header }

func (w *timeoutWriter) WriteHeader(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timedOut || w.status != 0 {
		return
	}
	w.status = code
}

func (w *timeoutWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.buf.Write(p)
}

func (w *timeoutWriter) expire() {
	w.mu.Lock()
	w.timedOut = true
	w.mu.Unlock()
}

// finish restores the real writer once the handler has returned. A panicked
// handler's partial output is dropped so Recovery can still send a 500.
func (w *timeoutWriter) finish(res *echo.Response, orig http.ResponseWriter, err error) error {
	res.Writer = orig

	var pe *PanicError
	if errors.As(err, &pe) {
		res.Status, res.Size, res.Committed = http.StatusOK, 0, false
		return err
	}

	dst := orig.Header()
	for k, v := range w.header {
		dst[k] = v
	}
	if w.status != 0 {
		orig.WriteHeader(w.status)
		_, _ = orig.Write(w.buf.Bytes())
	}
	return err
}
