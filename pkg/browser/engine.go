package browser

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/pageproof/pkg/logging"
)

// EngineOptions configures the shared browser process.
type EngineOptions struct {
	// Headless controls whether Chromium runs without a visible window
	Headless bool

	// Args are extra command line switches passed to Chromium
	Args []string

	// Install downloads the driver and Chromium before starting
	Install bool

	// UserAgent is the default user agent for new pages (empty keeps Chromium's)
	UserAgent string
}

// Engine owns the single Chromium process shared by every request.
// Each request borrows its own context and page through OpenPage, so no lock
// is held while pages are in use; the mutex only guards start/stop state.
type Engine struct {
	mu          sync.RWMutex
	playwright  *playwright.Playwright
	browser     playwright.Browser
	opts        EngineOptions
	initialized bool
	startedAt   time.Time
	activePages atomic.Int64
	log         *logging.Logger
}

// NewEngine creates an engine. Start must be called before pages can be opened.
func NewEngine(opts EngineOptions, log *logging.Logger) *Engine {
	return &Engine{
		opts: opts,
		log:  log,
	}
}

// Start installs (optionally) and runs Playwright, then launches Chromium.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}

	// Keep driver chatter out of the service logs
	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if e.opts.Install {
		e.log.Infof("installing playwright driver and chromium")
		if err := playwright.Install(runOpts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	headless := e.opts.Headless
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
		Args:     e.opts.Args,
	})
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	e.playwright = pw
	e.browser = browser
	e.initialized = true
	e.startedAt = time.Now()
	e.log.Infof("browser ready (chromium %s, headless=%v)", browser.Version(), headless)
	return nil
}

// Ready reports whether the shared browser is started and still connected.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized && e.browser != nil && e.browser.IsConnected()
}

// ActivePages returns the number of pages currently borrowed.
func (e *Engine) ActivePages() int {
	return int(e.activePages.Load())
}

// OpenPage creates an isolated browser context with a single page.
// The returned page must be released by the caller on every exit path.
func (e *Engine) OpenPage(opts PageOptions) (Page, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.initialized || e.browser == nil {
		return nil, ErrNotInitialized
	}

	viewport := opts.Viewport
	if viewport.Width <= 0 || viewport.Height <= 0 {
		viewport = Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}

	contextOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  viewport.Width,
			Height: viewport.Height,
		},
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = e.opts.UserAgent
	}
	if userAgent != "" {
		contextOpts.UserAgent = &userAgent
	}

	context, err := e.browser.NewContext(contextOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		_ = context.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	page.SetDefaultNavigationTimeout(float64(DefaultNavigationTimeout.Milliseconds()))

	e.activePages.Add(1)
	return &Session{
		context: context,
		page:    page,
		release: func() { e.activePages.Add(-1) },
	}, nil
}

// Uptime returns how long the browser has been running.
func (e *Engine) Uptime() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return 0
	}
	return time.Since(e.startedAt)
}

// Shutdown closes the browser and stops Playwright. Pages still in flight are
// not drained; their next call fails.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil
	}
	e.initialized = false

	var errs []error
	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			errs = append(errs, err)
		}
		e.browser = nil
	}
	if e.playwright != nil {
		if err := e.playwright.Stop(); err != nil {
			errs = append(errs, err)
		}
		e.playwright = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors stopping browser: %v", errs)
	}
	e.log.Infof("browser closed")
	return nil
}
