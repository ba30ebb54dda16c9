package handlers

import (
	"github.com/gofiber/fiber/v2"

	"pdfgen/internal/config"
	"pdfgen/internal/infra/chrome"
	"pdfgen/internal/render"
)

// Endpoint describes one route in the info document.
type Endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// ServiceInfo is the body of GET /.
type ServiceInfo struct {
	Name      string     `json:"name"`
	Version   string     `json:"version"`
	Engine    string     `json:"engine"`
	Endpoints []Endpoint `json:"endpoints"`
}

// Health always answers {"status":"ok"}.
func Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Info returns a handler serving static service metadata.
func Info(cfg config.Config, endpoints []Endpoint) fiber.Handler {
	info := ServiceInfo{
		Name:      cfg.Service.Name,
		Version:   cfg.Service.Version,
		Engine:    cfg.PDF.Engine,
		Endpoints: append([]Endpoint(nil), endpoints...),
	}
	return func(c *fiber.Ctx) error {
		return c.JSON(info)
	}
}

type statser interface {
	Stats() chrome.Stats
}

// ChromeStats serves the tab pool statistics of a chrome engine, looking
// through render.Bounded wrappers.
func ChromeStats(e render.Engine) fiber.Handler {
	var src statser
	for e != nil {
		if s, ok := e.(statser); ok {
			src = s
			break
		}
		w, ok := e.(interface{ Unwrap() render.Engine })
		if !ok {
			break
		}
		e = w.Unwrap()
	}
	return func(c *fiber.Ctx) error {
		if src == nil {
			return fiber.NewError(fiber.StatusNotFound, "Chrome engine not in use")
		}
		return c.JSON(src.Stats())
	}
}
