package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/dencho/pkg/automation"
	"github.com/entrhq/dencho/pkg/session"
)

// Page is one Playwright page together with the context and browser that
// exist only for it. It implements automation.Page.
type Page struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

var _ automation.Page = (*Page)(nil)

// Goto navigates to url and waits for the load event.
func (p *Page) Goto(url string, timeout time.Duration) error {
	waitUntil := playwright.WaitUntilState("load")
	ms := milliseconds(timeout)
	if _, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: &waitUntil,
		Timeout:   &ms,
	}); err != nil {
		return fmt.Errorf("navigation failed: %w", translate(err))
	}
	return nil
}

// WaitForLoad waits for the network to go idle.
func (p *Page) WaitForLoad(timeout time.Duration) error {
	state := playwright.LoadState("networkidle")
	ms := milliseconds(timeout)
	if err := p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   &state,
		Timeout: &ms,
	}); err != nil {
		return fmt.Errorf("wait for load failed: %w", translate(err))
	}
	return nil
}

// URL returns the current page URL.
func (p *Page) URL() string {
	return p.page.URL()
}

// Click clicks the first element matching selector.
func (p *Page) Click(selector string, timeout time.Duration) error {
	ms := milliseconds(timeout)
	if err := p.page.Locator(selector).First().Click(playwright.LocatorClickOptions{
		Timeout: &ms,
	}); err != nil {
		return fmt.Errorf("click %s failed: %w", selector, translate(err))
	}
	return nil
}

// Fill fills the first input matching selector.
func (p *Page) Fill(selector, value string, timeout time.Duration) error {
	ms := milliseconds(timeout)
	if err := p.page.Locator(selector).First().Fill(value, playwright.LocatorFillOptions{
		Timeout: &ms,
	}); err != nil {
		return fmt.Errorf("fill %s failed: %w", selector, translate(err))
	}
	return nil
}

// WaitVisible waits for the first element matching selector to be visible.
func (p *Page) WaitVisible(selector string, timeout time.Duration) error {
	state := playwright.WaitForSelectorState("visible")
	ms := milliseconds(timeout)
	if err := p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   &state,
		Timeout: &ms,
	}); err != nil {
		return fmt.Errorf("wait for %s failed: %w", selector, translate(err))
	}
	return nil
}

// WaitForURL waits until the URL matches the glob pattern.
func (p *Page) WaitForURL(pattern string, timeout time.Duration) error {
	ms := milliseconds(timeout)
	if err := p.page.WaitForURL(pattern, playwright.PageWaitForURLOptions{
		Timeout: &ms,
	}); err != nil {
		return fmt.Errorf("wait for url %s failed: %w", pattern, translate(err))
	}
	return nil
}

// ExpectDownload runs trigger and waits for the download it starts.
func (p *Page) ExpectDownload(trigger func() error, timeout time.Duration) (automation.Download, error) {
	ms := milliseconds(timeout)
	download, err := p.page.ExpectDownload(trigger, playwright.PageExpectDownloadOptions{
		Timeout: &ms,
	})
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", translate(err))
	}
	return download, nil
}

// StorageState captures the context's cookies and local storage.
func (p *Page) StorageState() (*session.Snapshot, error) {
	state, err := p.context.StorageState()
	if err != nil {
		return nil, fmt.Errorf("failed to read storage state: %w", err)
	}
	return fromStorageState(state)
}

// Close closes the page, context and browser, continuing past errors.
func (p *Page) Close() error {
	var errs []error
	if err := p.page.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.context.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.browser.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing session: %w", errors.Join(errs...))
	}
	return nil
}

// translate marks Playwright timeouts with automation.ErrTimeout.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", automation.ErrTimeout, err)
	}
	return err
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Snapshots share Playwright's storage-state JSON layout, so conversion
// goes through encoding/json rather than field-by-field copies.

func toStorageState(snapshot *session.Snapshot) (*playwright.OptionalStorageState, error) {
	normalized := session.Snapshot{
		Cookies: snapshot.Cookies,
		Origins: snapshot.Origins,
	}
	// the driver rejects null where it expects arrays
	if normalized.Cookies == nil {
		normalized.Cookies = []session.Cookie{}
	}
	if normalized.Origins == nil {
		normalized.Origins = []session.Origin{}
	}

	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session snapshot: %w", err)
	}
	var state playwright.OptionalStorageState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to convert session snapshot: %w", err)
	}
	return &state, nil
}

func fromStorageState(state *playwright.StorageState) (*session.Snapshot, error) {
	if state == nil {
		return nil, fmt.Errorf("storage state is nil")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode storage state: %w", err)
	}
	var snapshot session.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to convert storage state: %w", err)
	}
	return &snapshot, nil
}
