package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// SecurityConfig selects the optional security headers.
type SecurityConfig struct {
	// HSTS adds Strict-Transport-Security. Only enable it behind TLS.
	HSTS bool
	// NoStorePrefixes marks responses under these paths Cache-Control: no-store.
	// Empty means every response.
	NoStorePrefixes []string
}

// SecurityHeaders sets the headers expected of a JSON API that is never
// framed or sniffed. Availability changes minute to minute, so API responses
// are not cacheable.
func SecurityHeaders(cfg SecurityConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			if cfg.HSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			if noStore(c.Request().URL.Path, cfg.NoStorePrefixes) {
				h.Set("Cache-Control", "no-store")
			}
			return next(c)
		}
	}
}

func noStore(path string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
