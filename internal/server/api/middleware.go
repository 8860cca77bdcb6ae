package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"docvault/internal/server/service"

	"github.com/labstack/echo/v4"
)

// selectorKey is the echo context key the session middleware stores
// the authenticated selector under.
const selectorKey = "session_selector"

// SessionAuth returns middleware that requires a valid Bearer session
// token and stores the asserted selector in the request context.
// Every failure mode (missing header, malformed token, bad signature,
// expiry) produces the same response body.
func SessionAuth(svc *service.VaultService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			tok, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tok == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired credentials"})
			}

			selector, err := svc.ValidateSession(tok)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired credentials"})
			}

			c.Set(selectorKey, selector)
			return next(c)
		}
	}
}

// sessionSelector returns the selector the session middleware stored.
// Only reachable behind SessionAuth.
func sessionSelector(c echo.Context) string {
	selector, _ := c.Get(selectorKey).(string)
	return selector
}

// RequestLogger returns an echo middleware that logs requests using slog.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			slog.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
				"user_agent", req.UserAgent(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
