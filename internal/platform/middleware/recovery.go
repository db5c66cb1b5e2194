package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const panicStackSize = 4 << 10

// PanicError carries a panic recovered on a handler goroutine back to the
// goroutine serving the request, together with the stack it was raised on.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func capturePanic(r any) *PanicError {
	stack := make([]byte, panicStackSize)
	return &PanicError{Value: r, Stack: stack[:runtime.Stack(stack, false)]}
}

// Recovery turns handler panics into 500 responses. It also handles a
// *PanicError returned by an inner middleware that ran the handler on its
// own goroutine (see RequestTimeout). http.ErrAbortHandler is re-raised so
// net/http can abort the connection.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					if r == http.ErrAbortHandler {
						panic(r)
					}
					err = panicResponse(c, logger, capturePanic(r))
				}
			}()

			err = next(c)
			var pe *PanicError
			if errors.As(err, &pe) {
				return panicResponse(c, logger, pe)
			}
			return err
		}
	}
}

func panicResponse(c echo.Context, fallback zerolog.Logger, pe *PanicError) error {
	l := zerolog.Ctx(c.Request().Context())
	if l.GetLevel() == zerolog.Disabled {
		rid, _ := c.Get("request_id").(string)
		withID := fallback.With().Str("request_id", rid).Logger()
		l = &withID
	}
	l.Error().
		Str("method", c.Request().Method).
		Str("path", c.Request().URL.Path).
		Str("panic", fmt.Sprint(pe.Value)).
		Bytes("stack", pe.Stack).
		Msg("panic recovered")

	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(pe)
}
