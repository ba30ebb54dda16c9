package chrome

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"pdfgen/internal/config"
)

// ErrPoolClosed is returned by Acquire and Restart after Close.
var ErrPoolClosed = errors.New("chrome pool closed")

// Tab is a browser tab checked out of a Pool.
type Tab struct {
	Ctx    context.Context
	cancel context.CancelFunc
	gen    int
}

// Generation identifies the browser instance the tab was opened in.
func (t *Tab) Generation() int { return t.gen }

// Stats is a point-in-time view of the pool.
type Stats struct {
	Enabled      bool      `json:"enabled"`
	Capacity     int       `json:"capacity"`
	Idle         int       `json:"idle"`
	InUse        int       `json:"in_use"`
	PoolSizeConf int       `json:"pool_size_conf"`
	ProfileDir   string    `json:"profile_dir"`
	TimeoutSecs  int       `json:"timeout_secs"`
	Restarts     int       `json:"restarts"`
	LastRestart  time.Time `json:"last_restart"`
	Failures     int       `json:"failures"`
	Running      bool      `json:"running"`
}

// Pool shares one headless browser between a bounded number of tabs.
type Pool struct {
	cfg config.Config

	mu            sync.Mutex
	sem           chan struct{}
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	profileDir    string
	closed        bool
	restarts      int
	lastRestart   time.Time
	failures      int
	running       bool
	gen           int

	// launch starts the browser behind browserCtx.
	launch func(ctx context.Context) error
}

// NewPool prepares a browser with cfg.PDF.ChromePoolSize tab slots. The
// browser process itself is launched by the first Acquire and shared by
// every tab after that.
func NewPool(cfg config.Config) (*Pool, error) {
	size := cfg.PDF.ChromePoolSize
	if size <= 0 {
		return nil, errors.New("chrome pool disabled: chrome_pool_size must be positive")
	}

	p := &Pool{cfg: cfg, sem: make(chan struct{}, size), launch: launchBrowser}
	if err := p.start(); err != nil {
		return nil, err
	}
	for i := 0; i < size; i++ {
		p.sem <- struct{}{}
	}
	return p, nil
}

// start must be called with mu held or before the pool is shared.
func (p *Pool) start() error {
	dir, err := CreateProfileDir(p.cfg)
	if err != nil {
		return err
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), AllocatorOptions(p.cfg, dir)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	p.profileDir = dir
	p.allocCancel = allocCancel
	p.browserCtx = browserCtx
	p.browserCancel = browserCancel
	p.running = false
	p.gen++
	return nil
}

// launchBrowser runs an empty action list on the browser context, which
// allocates the process. It must not get a derived context: chromedp ties
// the browser's lifetime to the context of its first Run.
func launchBrowser(browserCtx context.Context) error {
	return chromedp.Run(browserCtx)
}

// ensureRunning must be called with mu held. A failed launch leaves a fresh
// browser context behind so the next Acquire tries again.
func (p *Pool) ensureRunning() error {
	if p.running {
		return nil
	}
	if p.launch != nil {
		if err := p.launch(p.browserCtx); err != nil {
			p.failures++
			p.stop()
			if serr := p.start(); serr != nil {
				return fmt.Errorf("launch chrome: %w (reset: %v)", err, serr)
			}
			return fmt.Errorf("launch chrome: %w", err)
		}
	}
	p.running = true
	return nil
}

// stop must be called with mu held.
func (p *Pool) stop() {
	p.running = false
	if p.browserCancel != nil {
		p.browserCancel()
		p.browserCancel = nil
	}
	if p.allocCancel != nil {
		p.allocCancel()
		p.allocCancel = nil
	}
	if p.profileDir != "" {
		_ = os.RemoveAll(p.profileDir)
		p.profileDir = ""
	}
}

// Acquire waits for a free slot and opens a new tab in the shared browser.
func (p *Pool) Acquire(ctx context.Context) (*Tab, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	select {
	case <-p.sem:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.putToken()
		return nil, ErrPoolClosed
	}
	if err := p.ensureRunning(); err != nil {
		p.putToken()
		return nil, err
	}
	parent := p.browserCtx
	if parent == nil {
		parent = context.Background()
	}
	tabCtx, cancel := chromedp.NewContext(parent)
	return &Tab{Ctx: tabCtx, cancel: cancel, gen: p.gen}, nil
}

// Release closes the tab and frees its slot. A non-nil renderErr is
// counted in Stats.Failures.
func (p *Pool) Release(tab *Tab, renderErr error) {
	if tab != nil && tab.cancel != nil {
		tab.cancel()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if renderErr != nil {
		p.failures++
	}
	p.putToken()
}

func (p *Pool) putToken() {
	select {
	case p.sem <- struct{}{}:
	default:
	}
}

// Restart replaces the browser and its profile directory. Tabs that are
// still checked out fail with an interrupted session. The new browser is
// launched by the next Acquire.
func (p *Pool) Restart() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restartLocked()
}

// RestartFrom restarts the browser only if it is still the instance of
// generation gen, so several tabs losing the same browser cause one restart.
func (p *Pool) RestartFrom(gen int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if p.gen != gen {
		return nil
	}
	return p.restartLocked()
}

func (p *Pool) restartLocked() error {
	if p.closed {
		return ErrPoolClosed
	}
	p.stop()
	if err := p.start(); err != nil {
		return fmt.Errorf("restart chrome: %w", err)
	}
	p.restarts++
	p.lastRestart = time.Now()
	return nil
}

// Close shuts the browser down. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.stop()
}

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Stats reports capacity and current usage.
func (p *Pool) Stats(timeoutSecs int) Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	capacity := cap(p.sem)
	idle := len(p.sem)
	return Stats{
		Enabled:      !p.closed && capacity > 0,
		Capacity:     capacity,
		Idle:         idle,
		InUse:        capacity - idle,
		PoolSizeConf: p.cfg.PDF.ChromePoolSize,
		ProfileDir:   p.profileDir,
		TimeoutSecs:  timeoutSecs,
		Restarts:     p.restarts,
		LastRestart:  p.lastRestart,
		Failures:     p.failures,
		Running:      p.running,
	}
}

// AllocatorOptions returns the exec allocator flags used for every browser
// this service starts.
func AllocatorOptions(cfg config.Config, profileDir string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.UserDataDir(profileDir),
		// Force software rendering and avoid Vulkan/ANGLE issues in minimal container environments.
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-gpu-compositing", true),
		chromedp.Flag("disable-features", "Vulkan,UseSkiaRenderer"),
		chromedp.Flag("use-gl", "swiftshader"),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.PDF.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.PDF.ChromePath))
	}
	if cfg.PDF.ChromeNoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}
	return opts
}

// CreateProfileDir makes a fresh browser profile directory below
// cfg.PDF.UserDataDir, or below the system temp dir when unset.
func CreateProfileDir(cfg config.Config) (string, error) {
	base := cfg.PDF.UserDataDir
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o700); err != nil {
		return "", fmt.Errorf("cannot create profile base dir: %w", err)
	}
	dir, err := os.MkdirTemp(base, "chromedata-*")
	if err != nil {
		return "", fmt.Errorf("cannot create temp profile dir: %w", err)
	}
	return dir, nil
}

// IsSessionInterrupted reports errors caused by the browser or tab going
// away rather than by the document being rendered. Context errors are not
// session errors.
func IsSessionInterrupted(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"target closed", "session closed", "websocket", "browser closed", "invalid context"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
