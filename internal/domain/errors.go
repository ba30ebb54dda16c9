package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout marks a render that exceeded its wall-clock bound.
	ErrTimeout = errors.New("render timed out")
	// ErrInvalidPDF marks renderer output that is not a PDF document.
	ErrInvalidPDF = errors.New("renderer returned invalid pdf")
	// ErrPDFTooLarge marks renderer output above the configured limit.
	ErrPDFTooLarge = errors.New("pdf exceeds allowed size")
)

// ValidationKind distinguishes bad input from oversized input.
type ValidationKind int

const (
	ValidationInvalid ValidationKind = iota
	ValidationTooLarge
)

// ValidationError rejects a request before it reaches the renderer. Its
// message is safe to return to the caller.
type ValidationError struct {
	Kind    ValidationKind
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Invalid returns a ValidationError for malformed or missing input.
func Invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Kind: ValidationInvalid, Message: fmt.Sprintf(format, args...)}
}

// TooLarge returns a ValidationError for input above a size limit.
func TooLarge(format string, args ...any) *ValidationError {
	return &ValidationError{Kind: ValidationTooLarge, Message: fmt.Sprintf(format, args...)}
}

// RenderError wraps a renderer failure. The wrapped cause is for logs only.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	if e.Err == nil {
		return "render failed"
	}
	return "render failed: " + e.Err.Error()
}

func (e *RenderError) Unwrap() error { return e.Err }

// Timeout reports whether the render was cut off by its deadline.
func (e *RenderError) Timeout() bool { return errors.Is(e.Err, ErrTimeout) }

// NewRenderError wraps err unless it already is a RenderError.
func NewRenderError(err error) *RenderError {
	var re *RenderError
	if errors.As(err, &re) {
		return re
	}
	return &RenderError{Err: err}
}
