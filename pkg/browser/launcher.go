package browser

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/dencho/pkg/automation"
)

// BrowsersPathEnv is read by the Playwright driver to locate browser binaries.
const BrowsersPathEnv = "PLAYWRIGHT_BROWSERS_PATH"

// Options configures the Playwright driver.
type Options struct {
	// BrowsersPath overrides where browser binaries are installed; empty keeps Playwright's default
	BrowsersPath string

	// Viewport sets the page size of every session
	Viewport Viewport

	// Output receives driver install/run output; nil discards it
	Output io.Writer
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// Default viewport dimensions
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
)

func (o Options) runOptions() *playwright.RunOptions {
	out := o.Output
	if out == nil {
		out = io.Discard
	}
	return &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   out,
		Stderr:   out,
	}
}

func (o Options) applyEnv() error {
	if o.BrowsersPath == "" {
		return nil
	}
	if err := os.Setenv(BrowsersPathEnv, o.BrowsersPath); err != nil {
		return fmt.Errorf("failed to set %s: %w", BrowsersPathEnv, err)
	}
	return nil
}

// Install downloads the Playwright driver and Chromium. It is the one-time
// readiness step; Launcher assumes it has run.
func Install(opts Options) error {
	if err := opts.applyEnv(); err != nil {
		return err
	}
	if err := playwright.Install(opts.runOptions()); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}
	return nil
}

// Launcher starts Chromium sessions through a shared Playwright driver
// process. It implements automation.Launcher.
type Launcher struct {
	mu          sync.Mutex
	opts        Options
	playwright  *playwright.Playwright
	initialized bool
}

var _ automation.Launcher = (*Launcher)(nil)

// NewLauncher creates a launcher. The driver process starts on first use.
func NewLauncher(opts Options) *Launcher {
	if opts.Viewport.Width == 0 || opts.Viewport.Height == 0 {
		opts.Viewport = Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	return &Launcher{opts: opts}
}

// Initialize starts the Playwright driver process.
func (l *Launcher) Initialize() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initLocked()
}

func (l *Launcher) initLocked() error {
	if l.initialized {
		return nil
	}
	if err := l.opts.applyEnv(); err != nil {
		return err
	}

	pw, err := playwright.Run(l.opts.runOptions())
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	l.playwright = pw
	l.initialized = true
	return nil
}

// Launch starts a browser, a context seeded with the optional storage state,
// and a page. The caller owns the returned page and must Close it.
func (l *Launcher) Launch(ctx context.Context, opts automation.LaunchOptions) (automation.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.initLocked(); err != nil {
		return nil, err
	}

	headless := opts.Headless
	browser, err := l.playwright.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		AcceptDownloads: playwright.Bool(true),
		Viewport: &playwright.Size{
			Width:  l.opts.Viewport.Width,
			Height: l.opts.Viewport.Height,
		},
	}
	if opts.StorageState != nil {
		state, err := toStorageState(opts.StorageState)
		if err != nil {
			browser.Close()
			return nil, err
		}
		contextOpts.StorageState = state
	}

	browserContext, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	pwPage, err := browserContext.NewPage()
	if err != nil {
		browserContext.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	if opts.Timeout > 0 {
		pwPage.SetDefaultTimeout(milliseconds(opts.Timeout))
	}

	return &Page{
		browser: browser,
		context: browserContext,
		page:    pwPage,
	}, nil
}

// Shutdown stops the Playwright driver process.
func (l *Launcher) Shutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.initialized && l.playwright != nil {
		if err := l.playwright.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		l.initialized = false
		l.playwright = nil
	}
	return nil
}
