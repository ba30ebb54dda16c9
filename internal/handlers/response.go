package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"pdfgen/internal/domain"
	u "pdfgen/internal/infra/logging"
)

// Messages returned for failures whose details stay server-side.
const (
	msgRenderFailed   = "PDF generation failed"
	msgRenderTimeout  = "PDF generation timed out"
	msgInternalServer = "Internal Server Error"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// sendPDF frames a successful generation. The body is written in one piece.
func sendPDF(c *fiber.Ctx, filename string, pdf []byte) error {
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	c.Status(fiber.StatusOK)
	return c.Send(pdf)
}

// StatusFor maps an error to its HTTP status and caller-facing message.
func StatusFor(err error) (int, string) {
	var (
		ve *domain.ValidationError
		re *domain.RenderError
		fe *fiber.Error
	)
	switch {
	case errors.As(err, &ve):
		if ve.Kind == domain.ValidationTooLarge {
			return fiber.StatusRequestEntityTooLarge, ve.Message
		}
		return fiber.StatusBadRequest, ve.Message
	case errors.As(err, &re):
		if re.Timeout() {
			return fiber.StatusInternalServerError, msgRenderTimeout
		}
		return fiber.StatusInternalServerError, msgRenderFailed
	case errors.As(err, &fe):
		return fe.Code, fe.Message
	default:
		return fiber.StatusInternalServerError, msgInternalServer
	}
}

// ErrorHandler is the app-wide fiber error handler. Every failure leaves as
// {"error": "..."}; causes of 5xx responses are logged, never returned.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code, msg := StatusFor(err)

	if code >= fiber.StatusInternalServerError {
		u.Error("Request failed", "path", c.Path(), "status", code, "request_id", requestID(c), "error", err)
	} else {
		u.Warn("Request rejected", "path", c.Path(), "status", code, "message", msg, "request_id", requestID(c))
	}

	// Drop headers a partially framed success may have set.
	c.Response().Header.Del(fiber.HeaderContentDisposition)
	return c.Status(code).JSON(ErrorResponse{Error: msg})
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok && id != "" {
		return id
	}
	if id := c.Get(fiber.HeaderXRequestID); id != "" {
		return id
	}
	return c.GetRespHeader(fiber.HeaderXRequestID)
}
