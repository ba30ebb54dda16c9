package app

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/xid"

	"pdfgen/internal/config"
	u "pdfgen/internal/infra/logging"
	"pdfgen/internal/infra/metrics"
)

// RegisterMiddleware attaches global middleware to the app. ready backs the
// /readyz probe.
func RegisterMiddleware(app *fiber.App, cfg config.Config, ready func() bool) {
	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(requestLogger())

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			u.Error("Panic recovered", "path", c.Path(), "panic", e, "request_id", requestIDOf(c))
		},
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORS.AllowOrigins,
	}))

	app.Use(healthcheck.New(healthcheck.Config{
		ReadinessProbe: func(c *fiber.Ctx) bool {
			return ready == nil || ready()
		},
	}))
}

// requestLogger logs every request and records HTTP metrics. Errors from the
// chain are passed to the app error handler here so the logged status is
// the one the client sees.
func requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		rid := requestIDOf(c)
		u.Info("Incoming request", "method", c.Method(), "path", c.Path(), "request_id", rid)

		if err := c.Next(); err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		route := c.Route().Path
		if status == fiber.StatusNotFound {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		metrics.ObserveHTTP(c.Method(), route, status, elapsed)
		u.Debug("Request completed", "method", c.Method(), "path", c.Path(), "status", status, "duration_ms", elapsed.Milliseconds(), "request_id", rid)
		return nil
	}
}

func requestIDOf(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok && id != "" {
		return id
	}
	requestID := c.Get(fiber.HeaderXRequestID)
	if requestID == "" {
		requestID = c.GetRespHeader(fiber.HeaderXRequestID)
	}
	return requestID
}
