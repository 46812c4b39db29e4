// Package middleware provides Echo middleware for logging, metrics and
// header hygiene.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"discord-proxy-go/internal/route"
)

// AccessLogger returns an Echo middleware that writes one access log line
// per request, tagged with the route family the request resolves to. The
// path is logged in its escaped form, matching what the proxy forwards.
func AccessLogger(logger *slog.Logger, classifier *route.Classifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()
			ident := classifier.Classify(req.Method, req.URL.EscapedPath())

			logger.Info("access",
				"method", req.Method,
				"path", req.URL.EscapedPath(),
				"route", ident.Label,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
