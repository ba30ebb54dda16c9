// Package render turns prepared HTML into PDF bytes.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"pdfgen/internal/config"
	"pdfgen/internal/domain"
)

var pdfMagic = []byte("%PDF-")

// Renderer converts an HTML document into a PDF.
type Renderer interface {
	Render(ctx context.Context, html string, setup domain.PageSetup) ([]byte, error)
}

// Engine is a Renderer with a lifecycle.
type Engine interface {
	Renderer
	Name() string
	Ready() bool
	Close() error
}

// New builds the engine selected by cfg.PDF.Engine, bounded by the
// configured render timeout and PDF size limit.
func New(cfg config.Config) (Engine, error) {
	var (
		engine Engine
		err    error
	)
	switch cfg.PDF.Engine {
	case config.EngineBasic:
		engine = NewBasic()
	case config.EngineChrome, "":
		engine, err = NewChrome(cfg)
	default:
		err = fmt.Errorf("unknown pdf engine %q", cfg.PDF.Engine)
	}
	if err != nil {
		return nil, err
	}
	return NewBounded(engine, cfg.RenderTimeout(), cfg.Limits.MaxPDFBytes), nil
}

// Bounded enforces a wall-clock limit on an engine and checks its output.
// The limit holds even when the engine ignores cancellation; a render that
// overruns keeps running in the background until the engine returns.
type Bounded struct {
	next     Engine
	timeout  time.Duration
	maxBytes int
}

// NewBounded wraps next. A zero timeout or maxBytes disables that check.
func NewBounded(next Engine, timeout time.Duration, maxBytes int) *Bounded {
	return &Bounded{next: next, timeout: timeout, maxBytes: maxBytes}
}

func (b *Bounded) Name() string { return b.next.Name() }
func (b *Bounded) Ready() bool  { return b.next.Ready() }
func (b *Bounded) Close() error { return b.next.Close() }

// Unwrap returns the wrapped engine.
func (b *Bounded) Unwrap() Engine { return b.next }

type result struct {
	buf []byte
	err error
}

// Render returns the PDF or a *domain.RenderError.
func (b *Bounded) Render(ctx context.Context, html string, setup domain.PageSetup) ([]byte, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%s engine panic: %v", b.next.Name(), r)}
			}
		}()
		buf, err := b.next.Render(ctx, html, setup)
		done <- result{buf: buf, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, b.timeoutError()
			}
			return nil, domain.NewRenderError(res.err)
		}
		return b.check(res.buf)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, b.timeoutError()
		}
		return nil, domain.NewRenderError(ctx.Err())
	}
}

func (b *Bounded) timeoutError() error {
	return &domain.RenderError{Err: fmt.Errorf("%w after %s", domain.ErrTimeout, b.timeout)}
}

func (b *Bounded) check(buf []byte) ([]byte, error) {
	if !bytes.HasPrefix(buf, pdfMagic) {
		return nil, &domain.RenderError{Err: domain.ErrInvalidPDF}
	}
	if b.maxBytes > 0 && len(buf) > b.maxBytes {
		return nil, &domain.RenderError{Err: fmt.Errorf("%w: %d > %d bytes", domain.ErrPDFTooLarge, len(buf), b.maxBytes)}
	}
	return buf, nil
}
