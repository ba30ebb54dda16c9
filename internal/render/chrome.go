package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"pdfgen/internal/config"
	"pdfgen/internal/domain"
	"pdfgen/internal/infra/chrome"
	u "pdfgen/internal/infra/logging"
)

const (
	defaultAcquireTimeout = 5 * time.Second
	readyTimeout          = 2 * time.Second
)

// browserNames are looked up in PATH when no chrome_path is configured.
var browserNames = []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable", "chrome"}

// Chrome renders through headless Chrome. With a pool the browser is
// shared between requests; without one every render starts a browser in
// a temporary profile directory.
type Chrome struct {
	cfg            config.Config
	pool           tabPool
	acquireTimeout time.Duration
	renderTab      func(ctx context.Context, html string, setup domain.PageSetup) ([]byte, error)
}

// tabPool is the part of *chrome.Pool the engine uses.
type tabPool interface {
	Acquire(ctx context.Context) (*chrome.Tab, error)
	Release(tab *chrome.Tab, renderErr error)
	RestartFrom(gen int) error
	Close()
	Closed() bool
	Stats(timeoutSecs int) chrome.Stats
}

// NewChrome creates the engine and, when chrome_pool_size > 0, its pool.
func NewChrome(cfg config.Config) (*Chrome, error) {
	c := &Chrome{cfg: cfg, acquireTimeout: defaultAcquireTimeout, renderTab: renderInTab}
	if cfg.PDF.ChromePoolSize > 0 {
		pool, err := chrome.NewPool(cfg)
		if err != nil {
			return nil, err
		}
		c.pool = pool
	}
	return c, nil
}

func (c *Chrome) Name() string { return config.EngineChrome }

// Ready reports whether a browser can be started.
func (c *Chrome) Ready() bool {
	if c.pool != nil && c.pool.Closed() {
		return false
	}
	if c.cfg.PDF.ChromePath != "" {
		st, err := os.Stat(c.cfg.PDF.ChromePath)
		return err == nil && !st.IsDir()
	}
	for _, name := range browserNames {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

func (c *Chrome) Close() error {
	if c.pool != nil {
		c.pool.Close()
	}
	return nil
}

// Stats returns pool statistics; Enabled is false without a pool.
func (c *Chrome) Stats() chrome.Stats {
	if c.pool == nil {
		return chrome.Stats{TimeoutSecs: c.cfg.PDF.TimeoutSecs}
	}
	return c.pool.Stats(c.cfg.PDF.TimeoutSecs)
}

func (c *Chrome) Render(ctx context.Context, html string, setup domain.PageSetup) ([]byte, error) {
	if c.pool == nil {
		return c.renderOnce(ctx, html, setup)
	}

	buf, err := c.renderPooled(ctx, html, setup)
	var lost *sessionLostError
	if !errors.As(err, &lost) {
		return buf, err
	}

	u.Warn("Chrome session lost; restarting browser and retrying once", "error", lost.err, "generation", lost.gen)
	if rerr := c.pool.RestartFrom(lost.gen); rerr != nil {
		return nil, rerr
	}
	buf, err = c.renderPooled(ctx, html, setup)
	if errors.As(err, &lost) {
		return nil, lost.err
	}
	return buf, err
}

// sessionLostError marks a render that failed because the tab's browser
// went away while the request was still alive.
type sessionLostError struct {
	gen int
	err error
}

func (e *sessionLostError) Error() string { return "chrome session lost: " + e.err.Error() }
func (e *sessionLostError) Unwrap() error { return e.err }

func (c *Chrome) renderPooled(ctx context.Context, html string, setup domain.PageSetup) ([]byte, error) {
	acquireCtx, acquireCancel := context.WithTimeout(ctx, c.acquireTimeout)
	tab, err := c.pool.Acquire(acquireCtx)
	acquireCancel()
	if err != nil {
		return nil, fmt.Errorf("acquire chrome tab: %w", err)
	}

	tabCtx, cancel := bindContext(tab.Ctx, ctx)
	buf, renderErr := c.renderTab(tabCtx, html, setup)
	lost := sessionLost(ctx, tab.Ctx, renderErr)
	cancel()

	c.pool.Release(tab, renderErr)
	if lost {
		return nil, &sessionLostError{gen: tab.Generation(), err: renderErr}
	}
	return buf, renderErr
}

// sessionLost reports whether err came from the tab's browser going away
// rather than from the request ending or the document failing. A
// cancellation only counts when it reached the tab from the browser side.
func sessionLost(reqCtx, tabCtx context.Context, err error) bool {
	switch {
	case err == nil || reqCtx.Err() != nil:
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, context.Canceled):
		return tabCtx.Err() != nil
	default:
		return chrome.IsSessionInterrupted(err)
	}
}

// renderOnce starts a throwaway browser in a temporary profile directory
// that is removed afterwards.
func (c *Chrome) renderOnce(ctx context.Context, html string, setup domain.PageSetup) ([]byte, error) {
	tmpDir, err := chrome.CreateProfileDir(c.cfg)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, chrome.AllocatorOptions(c.cfg, tmpDir)...)
	defer allocCancel()
	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	return c.renderTab(browserCtx, html, setup)
}

// bindContext derives a context from tabCtx that is also cancelled when
// reqCtx is done, so request deadlines reach the browser tab.
func bindContext(tabCtx, reqCtx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(tabCtx)
	if deadline, ok := reqCtx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		ctx, cancelDeadline = context.WithDeadline(ctx, deadline)
		prev := cancel
		cancel = func() { cancelDeadline(); prev() }
	}
	go func() {
		select {
		case <-reqCtx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// renderInTab loads html into a blank page and prints it.
func renderInTab(ctx context.Context, html string, setup domain.PageSetup) ([]byte, error) {
	var pdfBuf []byte
	actions := []chromedp.Action{
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frame, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frame.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return waitForRenderReady(ctx, readyTimeout)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdfBuf, _, err = printParams(setup).Do(ctx)
			return err
		}),
	}

	if err := chromedp.Run(ctx, actions...); err != nil {
		return nil, err
	}
	return pdfBuf, nil
}

func printParams(setup domain.PageSetup) *page.PrintToPDFParams {
	scale := setup.Scale
	if scale <= 0 {
		scale = 1
	}
	// Width and Height already reflect the orientation.
	return page.PrintToPDF().
		WithPrintBackground(setup.PrintBackground).
		WithPaperWidth(setup.Width).
		WithPaperHeight(setup.Height).
		WithMarginTop(setup.Margins.Top).
		WithMarginRight(setup.Margins.Right).
		WithMarginBottom(setup.Margins.Bottom).
		WithMarginLeft(setup.Margins.Left).
		WithScale(scale)
}

// waitForRenderReady polls document.readyState until it is "complete" or
// max elapses. Only ctx errors are returned.
func waitForRenderReady(ctx context.Context, max time.Duration) error {
	deadline := time.Now().Add(max)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var state string
		err := chromedp.Evaluate(`document.readyState`, &state).Do(ctx)
		if err == nil && state == "complete" {
			return nil
		}
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ Engine = (*Chrome)(nil)
