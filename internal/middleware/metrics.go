package middleware

import (
	"strconv"
	"time"

	"github.com/jamesmcfarland/keyforge/prometheus"
	"github.com/labstack/echo/v4"
)

// Metrics records request counts and latencies by route.
func Metrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()

		err := next(c)
		if err != nil {
			// the status is only final once the error handler ran
			c.Error(err)
		}

		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		prometheus.RecordHTTPRequest(c.Request().Method, path, strconv.Itoa(c.Response().Status), time.Since(start))
		return nil
	}
}
