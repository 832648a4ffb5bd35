package automation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/entrhq/dencho/pkg/session"
)

const (
	orgsURL     = "https://supabase.com/dashboard/organizations"
	signInURL   = "https://supabase.com/dashboard/sign-in?returnTo=%2Forganizations"
	githubLogin = "https://github.com/login?client_id=abc&return_to=%2Flogin%2Foauth%2Fauthorize"
	twoFactor   = "https://github.com/sessions/two-factor/app"
	orgPageURL  = "https://supabase.com/dashboard/org/acme"
	billingURL  = "https://supabase.com/dashboard/org/acme/billing"
)

// fakePage scripts the dashboard's responses.
type fakePage struct {
	mu sync.Mutex

	site Site
	url  string

	landingURL       string // URL after Goto
	afterProviderURL string // URL after clicking the provider button
	authCompletes    bool   // WaitForURL succeeds
	authErr          error  // overrides the WaitForURL result when set
	missing          map[string]bool
	download         *fakeDownload
	storage          *session.Snapshot
	storageErr       error
	panicOn          string

	calls  []string
	filled map[string]string
	closed int
}

func newFakePage(site Site) *fakePage {
	return &fakePage{
		site:             site,
		url:              "about:blank",
		landingURL:       orgsURL,
		afterProviderURL: orgsURL,
		authCompletes:    true,
		missing:          map[string]bool{},
		download:         &fakeDownload{content: []byte("%PDF-1.4 fake invoice")},
		storage: &session.Snapshot{Cookies: []session.Cookie{
			{Name: "sb-access-token", Value: "fresh", Domain: ".supabase.com", Path: "/", Expires: -1},
		}},
		filled: map[string]string{},
	}
}

func (p *fakePage) record(format string, args ...any) {
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

func (p *fakePage) maybePanic(call string) {
	if p.panicOn == call {
		panic("browser crashed in " + call)
	}
}

func (p *fakePage) Goto(url string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("goto %s", url)
	p.maybePanic("goto")
	p.url = p.landingURL
	return nil
}

func (p *fakePage) WaitForLoad(timeout time.Duration) error {
	return nil
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Click(selector string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("click %s", selector)
	if p.missing[selector] {
		return fmt.Errorf("%w: selector %s", ErrTimeout, selector)
	}
	switch selector {
	case p.site.ProviderButton:
		p.url = p.afterProviderURL
	case p.site.OrganizationLink:
		p.url = orgPageURL
	case p.site.BillingLink:
		p.url = billingURL
	}
	return nil
}

func (p *fakePage) Fill(selector, value string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("fill %s", selector)
	if p.missing[selector] {
		return fmt.Errorf("%w: selector %s", ErrTimeout, selector)
	}
	p.filled[selector] = value
	return nil
}

func (p *fakePage) WaitVisible(selector string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("wait %s", selector)
	if p.missing[selector] {
		return fmt.Errorf("%w: selector %s", ErrTimeout, selector)
	}
	return nil
}

func (p *fakePage) WaitForURL(pattern string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("waiturl %s", pattern)
	if p.authErr != nil {
		return p.authErr
	}
	if !p.authCompletes {
		return fmt.Errorf("%w: waiting for %s", ErrTimeout, pattern)
	}
	p.url = orgsURL
	return nil
}

func (p *fakePage) ExpectDownload(trigger func() error, timeout time.Duration) (Download, error) {
	if err := trigger(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maybePanic("download")
	if p.download == nil {
		return nil, fmt.Errorf("%w: waiting for download", ErrTimeout)
	}
	return p.download, nil
}

func (p *fakePage) StorageState() (*session.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("storage")
	return p.storage, p.storageErr
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

type fakeDownload struct {
	content []byte
	err     error
}

func (d *fakeDownload) SaveAs(path string) error {
	if d.err != nil {
		return d.err
	}
	return os.WriteFile(path, d.content, 0644)
}

func (d *fakeDownload) SuggestedFilename() string {
	return "invoice.pdf"
}

// fakeLauncher hands out one page and records launch options.
type fakeLauncher struct {
	page     *fakePage
	err      error
	launches []LaunchOptions
}

func (l *fakeLauncher) Launch(ctx context.Context, opts LaunchOptions) (Page, error) {
	l.launches = append(l.launches, opts)
	if l.err != nil {
		return nil, l.err
	}
	return l.page, nil
}

// memoryStore is an in-memory session.Store.
type memoryStore struct {
	snapshot *session.Snapshot
	loadErr  error
	saveErr  error
	saves    int
}

func (s *memoryStore) Exists() bool {
	return s.snapshot != nil || s.loadErr != nil
}

func (s *memoryStore) Load() (*session.Snapshot, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.snapshot == nil {
		return nil, session.ErrNotFound
	}
	return s.snapshot, nil
}

func (s *memoryStore) Save(snapshot *session.Snapshot) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	if snapshot == nil {
		return errors.New("nil snapshot")
	}
	s.saves++
	s.snapshot = snapshot
	return nil
}
