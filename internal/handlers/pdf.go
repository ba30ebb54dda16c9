package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"pdfgen/internal/config"
	"pdfgen/internal/domain"
	u "pdfgen/internal/infra/logging"
	"pdfgen/internal/infra/metrics"
	"pdfgen/internal/render"
)

// PDFService bundles configuration and the renderer for /generate-pdf.
type PDFService struct {
	Config   *config.Config
	Renderer render.Renderer

	engine string
	now    func() time.Time
}

// NewPDFService creates a new PDFService instance. r should already be
// bounded (see render.NewBounded).
func NewPDFService(cfg config.Config, r render.Renderer) *PDFService {
	engine := cfg.PDF.Engine
	if e, ok := r.(render.Engine); ok {
		engine = e.Name()
	}
	return &PDFService{
		Config:   &cfg,
		Renderer: r,
		engine:   engine,
		now:      time.Now,
	}
}

// HandleGenerate validates the request, renders it and returns the PDF.
func (svc *PDFService) HandleGenerate(c *fiber.Ctx) error {
	req, err := svc.parseRequest(c)
	if err != nil {
		metrics.IncGenerate(validationOutcome(err))
		return err
	}

	rid := requestID(c)
	u.Info("Generating PDF", "filename", req.Filename, "html_bytes", len(req.HTML), "page_size", req.Setup.PageSize, "request_id", rid)

	doc, err := render.Prepare(req.HTML, render.PrepareOptions{
		StripScripts: svc.Config.PDF.StripScripts,
		BaseStyles:   svc.Config.PDF.BaseStyles,
	})
	if err != nil {
		metrics.IncGenerate(metrics.OutcomeRenderFailed)
		return domain.NewRenderError(err)
	}

	start := time.Now()
	done := metrics.StartRender(svc.engine)
	pdf, err := svc.Renderer.Render(c.UserContext(), doc, req.Setup)
	done()
	if err != nil {
		re := domain.NewRenderError(err)
		if re.Timeout() {
			metrics.IncGenerate(metrics.OutcomeTimeout)
		} else {
			metrics.IncGenerate(metrics.OutcomeRenderFailed)
		}
		return re
	}

	metrics.IncGenerate(metrics.OutcomeOK)
	metrics.ObservePDFSize(len(pdf))
	u.Info("PDF generated", "filename", req.Filename, "pdf_bytes", len(pdf), "duration_ms", time.Since(start).Milliseconds(), "request_id", rid)

	return sendPDF(c, req.Filename, pdf)
}

func (svc *PDFService) parseRequest(c *fiber.Ctx) (*domain.GenerationRequest, error) {
	ct := strings.ToLower(c.Get(fiber.HeaderContentType))
	if strings.HasPrefix(ct, fiber.MIMEApplicationForm) || strings.HasPrefix(ct, fiber.MIMEMultipartForm) {
		return parseFormRequest(c.FormValue("html"), c.FormValue("filename"), c.FormValue("options"), *svc.Config, svc.now())
	}
	return parseJSONRequest(c.Body(), *svc.Config, svc.now())
}

func validationOutcome(err error) string {
	var ve *domain.ValidationError
	if errors.As(err, &ve) && ve.Kind == domain.ValidationTooLarge {
		return metrics.OutcomeTooLarge
	}
	return metrics.OutcomeInvalid
}
