package automation

import (
	"context"
	"time"

	"github.com/entrhq/dencho/pkg/session"
)

// Launcher opens a fresh browser session.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Page, error)
}

// LaunchOptions configures a new browser session.
type LaunchOptions struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool

	// StorageState seeds the browser context; nil starts a clean session
	StorageState *session.Snapshot

	// Timeout is the default timeout for operations without an explicit one
	Timeout time.Duration
}

// Page is the single page of a browser session. Waiting methods return an
// error wrapping ErrTimeout when their bound expires.
type Page interface {
	// Goto navigates and waits for the document to load
	Goto(url string, timeout time.Duration) error

	// WaitForLoad waits for network activity to settle
	WaitForLoad(timeout time.Duration) error

	// URL returns the current page URL
	URL() string

	// Click activates the first element matching selector
	Click(selector string, timeout time.Duration) error

	// Fill types value into the input matching selector
	Fill(selector, value string, timeout time.Duration) error

	// WaitVisible waits for the first element matching selector to be visible
	WaitVisible(selector string, timeout time.Duration) error

	// WaitForURL waits until the page URL matches the glob pattern
	WaitForURL(pattern string, timeout time.Duration) error

	// ExpectDownload runs trigger and waits for the file transfer it starts
	ExpectDownload(trigger func() error, timeout time.Duration) (Download, error)

	// StorageState captures the session's cookies and local storage
	StorageState() (*session.Snapshot, error)

	// Close releases the page, its context and the browser
	Close() error
}

// Download is a completed file transfer.
type Download interface {
	// SaveAs copies the transferred file to path
	SaveAs(path string) error

	// SuggestedFilename is the name offered by the server
	SuggestedFilename() string
}

// Credentials authenticate at the identity provider. Both fields empty means
// the operator completes sign-in by hand.
type Credentials struct {
	Username string
	Password string
}

// Present reports whether both username and password are set.
func (c Credentials) Present() bool {
	return c.Username != "" && c.Password != ""
}

// Site holds the URLs, URL patterns and element selectors of the dashboard
// and its identity provider. Patterns are globs: * stops at '/', ** does not.
type Site struct {
	OrganizationsURL     string `yaml:"organizations_url" validate:"required,url"`
	OrganizationsPattern string `yaml:"organizations_pattern" validate:"required"`
	SignInPattern        string `yaml:"sign_in_pattern" validate:"required"`
	ProviderLoginPattern string `yaml:"provider_login_pattern" validate:"required"`

	ProviderButton   string `yaml:"provider_button" validate:"required"`
	UsernameField    string `yaml:"username_field" validate:"required"`
	PasswordField    string `yaml:"password_field" validate:"required"`
	SubmitButton     string `yaml:"submit_button" validate:"required"`
	OrganizationLink string `yaml:"organization_link" validate:"required"`
	BillingLink      string `yaml:"billing_link" validate:"required"`
	DownloadButton   string `yaml:"download_button" validate:"required"`
}

// DefaultSite returns the Supabase dashboard with GitHub sign-in.
func DefaultSite() Site {
	return Site{
		OrganizationsURL:     "https://supabase.com/dashboard/organizations",
		OrganizationsPattern: "**/dashboard/organizations",
		SignInPattern:        "**/dashboard/sign-in**",
		ProviderLoginPattern: "https://github.com/login*",

		ProviderButton:   `button:has-text("Continue with GitHub")`,
		UsernameField:    "#login_field",
		PasswordField:    "#password",
		SubmitButton:     `input[type="submit"][name="commit"]`,
		OrganizationLink: `a[href*="/dashboard/org/"]`,
		BillingLink:      `a[href$="/billing"]`,
		DownloadButton:   `button:has-text("Download invoice")`,
	}
}

// Config configures a Driver.
type Config struct {
	Site Site

	// DownloadDir receives supabase-invoice-YYYY-MM-DD.pdf
	DownloadDir string

	// ForceHeadless runs headless even without a session snapshot
	ForceHeadless bool

	// Credentials are used when a run supplies none of its own
	Credentials Credentials

	NavigationTimeout time.Duration
	AuthTimeout       time.Duration
	ElementTimeout    time.Duration
	DownloadTimeout   time.Duration
}

// Default wait bounds
const (
	DefaultNavigationTimeout = 60 * time.Second
	DefaultAuthTimeout       = 5 * time.Minute
	DefaultElementTimeout    = 30 * time.Second
	DefaultDownloadTimeout   = 60 * time.Second
)

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = DefaultNavigationTimeout
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = DefaultAuthTimeout
	}
	if c.ElementTimeout <= 0 {
		c.ElementTimeout = DefaultElementTimeout
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = DefaultDownloadTimeout
	}
	return c
}
