package app

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"pdfgen/internal/config"
	"pdfgen/internal/handlers"
	"pdfgen/internal/infra/metrics"
	"pdfgen/internal/render"
)

// SetupApp creates and configures a new Fiber app instance
func SetupApp(cfg config.Config, engine render.Engine) *fiber.App {
	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		BodyLimit:             cfg.Limits.MaxBodyBytes,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		ErrorHandler:          handlers.ErrorHandler,
	})

	RegisterMiddleware(app, cfg, engine.Ready)
	RegisterRoutes(app, cfg, engine)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

// Endpoints lists the public routes advertised by GET /.
func Endpoints(cfg config.Config) []handlers.Endpoint {
	eps := []handlers.Endpoint{
		{Method: fiber.MethodPost, Path: "/generate-pdf", Description: "Generate PDF from HTML"},
		{Method: fiber.MethodGet, Path: "/health", Description: "Health check"},
		{Method: fiber.MethodGet, Path: "/", Description: "API information"},
	}
	if cfg.PDF.Engine == config.EngineChrome {
		eps = append(eps, handlers.Endpoint{Method: fiber.MethodGet, Path: "/chrome/stats", Description: "Chrome tab pool statistics"})
	}
	if cfg.Metrics.Enabled {
		eps = append(eps, handlers.Endpoint{Method: fiber.MethodGet, Path: cfg.Metrics.Path, Description: "Prometheus metrics"})
	}
	return eps
}

// RegisterRoutes mounts all route handlers to the app
func RegisterRoutes(app *fiber.App, cfg config.Config, engine render.Engine) {
	svc := handlers.NewPDFService(cfg, engine)

	app.Post("/generate-pdf", svc.HandleGenerate)
	app.Get("/health", handlers.Health)
	app.Get("/", handlers.Info(cfg, Endpoints(cfg)))
	if cfg.PDF.Engine == config.EngineChrome {
		app.Get("/chrome/stats", handlers.ChromeStats(engine))
	}

	if cfg.Metrics.Enabled {
		app.Get(cfg.Metrics.Path, metrics.Handler())
	}
	if cfg.Metrics.Monitor {
		app.Get("/monitor", monitor.New(monitor.Config{Title: cfg.Service.Name}))
	}
}
