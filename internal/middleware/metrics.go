package middleware

import (
	"github.com/labstack/echo/v4"

	"discord-proxy-go/internal/metrics"
)

// InFlight returns an Echo middleware that tracks the number of requests
// currently being proxied. Route-labeled counters and latency are recorded
// by the pipeline itself, where the route identity is known.
func InFlight(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			return next(c)
		}
	}
}
