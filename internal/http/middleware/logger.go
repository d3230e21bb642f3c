package middleware

import (
	"io"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"

	"pasteapi/internal/applog"
)

// Logger is a middleware that logs each HTTP request in JSON format to stdout.
func Logger() fiber.Handler {
	return LoggerWithWriter(os.Stdout, time.UTC)
}

// LoggerWithWriter logs one JSON line per request to w with timestamps in loc.
// Fields:
// - request_id (taken from context locals set by RequestID middleware)
// - method
// - path
// - status
// - latency (in milliseconds, as float)
// - ts
func LoggerWithWriter(w io.Writer, loc *time.Location) fiber.Handler {
	log := applog.New(w, loc)

	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		rid, _ := c.Locals(RequestIDLocalKey).(string)
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}

		log.Info("", applog.Fields{
			"request_id": rid,
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     status,
			"latency":    float64(time.Since(start).Microseconds()) / 1000,
		})

		return err
	}
}
