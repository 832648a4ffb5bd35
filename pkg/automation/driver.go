package automation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/entrhq/dencho/pkg/invoice"
	"github.com/entrhq/dencho/pkg/logging"
	"github.com/entrhq/dencho/pkg/session"
)

// Driver performs retrieval runs. A Driver holds no per-run state and may be
// reused; callers must not run it concurrently against one store.
type Driver struct {
	launcher Launcher
	store    session.Store
	cfg      Config
	classify *urlClassifier
	logger   *logging.Logger
	now      func() time.Time
	inspect  func(path string) (*invoice.Report, error)
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger used when a run supplies none.
func WithLogger(logger *logging.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithClock replaces time.Now, which dates the saved invoice and judges
// snapshot expiry.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		d.now = now
	}
}

// WithInspector replaces the post-save PDF inspection. nil disables it.
func WithInspector(inspect func(path string) (*invoice.Report, error)) Option {
	return func(d *Driver) {
		d.inspect = inspect
	}
}

// NewDriver creates a driver for the configured site.
func NewDriver(launcher Launcher, store session.Store, cfg Config, opts ...Option) (*Driver, error) {
	if launcher == nil {
		return nil, fmt.Errorf("browser launcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.DownloadDir == "" {
		return nil, fmt.Errorf("download directory is required")
	}

	classify, err := newURLClassifier(cfg.Site)
	if err != nil {
		return nil, err
	}

	d := &Driver{
		launcher: launcher,
		store:    store,
		cfg:      cfg.withDefaults(),
		classify: classify,
		logger:   logging.Discard(),
		now:      time.Now,
		inspect:  invoice.Inspect,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// RunOptions carries per-run inputs.
type RunOptions struct {
	// Credentials override the configured ones when both fields are set
	Credentials Credentials

	// Logger overrides the driver's logger for this run
	Logger *logging.Logger
}

// Outcome is the result of one run: a saved invoice path, or a classified
// error. Trace lists every state entered, in order.
type Outcome struct {
	Path          string
	Err           *Error
	Trace         []State
	SnapshotSaved bool
}

// Succeeded reports whether the run reached Done.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// run is the mutable state of a single Driver.Run call.
type run struct {
	d             *Driver
	log           *logging.Logger
	state         State
	trace         []State
	creds         Credentials
	page          Page
	download      Download
	savedPath     string
	snapshotSaved bool
}

// Run performs one retrieval attempt. It always returns an Outcome; faults,
// including panics in the browser layer, are classified rather than
// propagated. The browser session is closed before Run returns.
func (d *Driver) Run(ctx context.Context, opts RunOptions) (out Outcome) {
	r := &run{
		d:     d,
		log:   d.logger,
		state: StateInit,
		trace: []State{StateInit},
		creds: d.cfg.Credentials,
	}
	if opts.Logger != nil {
		r.log = opts.Logger
	}
	if opts.Credentials.Present() {
		r.creds = opts.Credentials
	}

	defer r.closePage()
	defer func() {
		if p := recover(); p != nil {
			out = r.finish(failf(KindUnknown, r.state, fmt.Errorf("panic: %v", p),
				"unexpected failure during %s", r.state))
		}
	}()

	return r.finish(r.execute(ctx))
}

func (r *run) execute(ctx context.Context) *Error {
	steps := map[State]func(ctx context.Context) (State, *Error){
		StateInit:               r.initialize,
		StateNavigate:           r.navigate,
		StateAuthenticate:       r.authenticate,
		StatePersistSession:     r.persistSession,
		StateSelectOrganization: r.selectOrganization,
		StateNavigateBilling:    r.navigateBilling,
		StateDownload:           r.startDownload,
		StateSave:               r.save,
	}

	for !IsTerminal(r.state) {
		step, ok := steps[r.state]
		if !ok {
			return failf(KindUnknown, r.state, nil, "no handler for state %s", r.state)
		}
		next, err := step(ctx)
		if err != nil {
			return err
		}
		if err := r.transition(next); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) transition(next State) *Error {
	if !isAllowedTransition(r.state, next) {
		return failf(KindUnknown, r.state, nil, "disallowed transition %s -> %s", r.state, next)
	}
	r.log.Infof("state %s -> %s", r.state, next)
	r.state = next
	r.trace = append(r.trace, next)
	return nil
}

func (r *run) finish(err *Error) Outcome {
	if err != nil {
		if !IsTerminal(r.state) {
			r.log.Infof("state %s -> %s", r.state, StateFailed)
			r.state = StateFailed
			r.trace = append(r.trace, StateFailed)
		}
		r.log.Errorf("run failed: kind=%s state=%s detail=%s cause=%v", err.Kind, err.State, err.Detail, err.Err)
		return Outcome{Err: err, Trace: r.trace, SnapshotSaved: r.snapshotSaved}
	}

	r.log.Infof("run succeeded: saved %s", r.savedPath)
	return Outcome{Path: r.savedPath, Trace: r.trace, SnapshotSaved: r.snapshotSaved}
}

func (r *run) closePage() {
	if r.page == nil {
		return
	}
	if err := r.page.Close(); err != nil {
		r.log.Warnf("failed to close browser session: %v", err)
	}
	r.page = nil
	r.log.Debugf("browser session closed")
}

// loadSnapshot returns the snapshot to seed the session with, or nil to
// start clean. Unreadable and date-expired snapshots count as absent.
func (r *run) loadSnapshot() *session.Snapshot {
	if !r.d.store.Exists() {
		r.log.Infof("no session snapshot found; first sign-in needs the browser window")
		return nil
	}

	snapshot, err := r.d.store.Load()
	if err != nil {
		r.log.Warnf("ignoring unreadable session snapshot: %v", err)
		return nil
	}
	if snapshot.Empty() {
		r.log.Warnf("ignoring empty session snapshot")
		return nil
	}
	if snapshot.Expired(r.d.now()) {
		r.log.Warnf("session snapshot cookies have all expired; signing in again")
		return nil
	}

	r.log.Infof("reusing session snapshot (%d cookies)", len(snapshot.Cookies))
	return snapshot
}

func (r *run) initialize(ctx context.Context) (State, *Error) {
	if err := ctx.Err(); err != nil {
		return "", failf(KindUnknown, StateInit, err, "run cancelled before the browser started")
	}

	snapshot := r.loadSnapshot()
	headless := snapshot != nil || r.d.cfg.ForceHeadless
	if snapshot == nil && headless {
		r.log.Warnf("headless mode forced without a session snapshot; sign-in cannot be completed by hand")
	}

	r.log.Infof("launching browser (headless=%t)", headless)
	page, err := r.d.launcher.Launch(ctx, LaunchOptions{
		Headless:     headless,
		StorageState: snapshot,
		Timeout:      r.d.cfg.ElementTimeout,
	})
	if err != nil {
		return "", failf(KindUnknown, StateInit, err, "browser could not be started")
	}
	r.page = page
	return StateNavigate, nil
}

// settle waits for network activity to quiet down. It is best effort: the
// bounded element and URL waits that follow decide success.
func (r *run) settle() {
	if err := r.page.WaitForLoad(r.d.cfg.NavigationTimeout); err != nil {
		r.log.Warnf("page did not settle: %v", err)
	}
}

func (r *run) navigate(ctx context.Context) (State, *Error) {
	site := r.d.cfg.Site
	r.log.Infof("opening %s", redactURL(site.OrganizationsURL))
	if err := r.page.Goto(site.OrganizationsURL, r.d.cfg.NavigationTimeout); err != nil {
		return "", failf(KindNavigation, StateNavigate, err, "dashboard did not load")
	}
	r.settle()

	url := r.page.URL()
	auth := r.d.classify.landing(url)
	r.log.Infof("landed on %s (%s)", redactURL(url), auth)

	switch auth {
	case SignInRequired:
		return StateAuthenticate, nil
	default:
		return StateSelectOrganization, nil
	}
}

func (r *run) authenticate(ctx context.Context) (State, *Error) {
	site := r.d.cfg.Site
	if err := r.page.Click(site.ProviderButton, r.d.cfg.ElementTimeout); err != nil {
		return "", failf(KindNavigation, StateAuthenticate, err, "identity provider sign-in button did not appear")
	}
	r.settle()

	url := r.page.URL()
	auth := r.d.classify.afterProvider(url)
	r.log.Infof("identity provider returned %s (%s)", redactURL(url), auth)

	switch auth {
	case ProviderSessionReuse:
		return StatePersistSession, nil

	case CredentialEntryRequired:
		if r.creds.Present() {
			r.log.Infof("submitting configured credentials")
			if err := r.submitCredentials(); err != nil {
				return "", err
			}
		} else {
			r.log.Infof("enter the identity provider credentials in the browser window within %s", r.d.cfg.AuthTimeout)
		}
		return r.awaitDashboard()

	default:
		r.log.Infof("complete two-factor or passkey verification in the browser window within %s", r.d.cfg.AuthTimeout)
		return r.awaitDashboard()
	}
}

func (r *run) submitCredentials() *Error {
	site := r.d.cfg.Site
	timeout := r.d.cfg.ElementTimeout
	if err := r.page.Fill(site.UsernameField, r.creds.Username, timeout); err != nil {
		return failf(KindNavigation, StateAuthenticate, err, "username field did not appear")
	}
	if err := r.page.Fill(site.PasswordField, r.creds.Password, timeout); err != nil {
		return failf(KindNavigation, StateAuthenticate, err, "password field did not appear")
	}
	if err := r.page.Click(site.SubmitButton, timeout); err != nil {
		return failf(KindNavigation, StateAuthenticate, err, "sign-in form could not be submitted")
	}
	return nil
}

// awaitDashboard blocks until authentication lands on the organization
// listing or the auth bound expires.
func (r *run) awaitDashboard() (State, *Error) {
	timeout := r.d.cfg.AuthTimeout
	err := r.page.WaitForURL(r.d.cfg.Site.OrganizationsPattern, timeout)
	switch {
	case err == nil:
		r.log.Infof("authentication complete at %s", redactURL(r.page.URL()))
		return StatePersistSession, nil
	case errors.Is(err, ErrTimeout):
		r.log.Errorf("authentication timeout after %s (last url %s)", timeout, redactURL(r.page.URL()))
		return "", failf(KindAuthenticationTimeout, StateAuthenticate, err, "sign-in was not completed within %s", timeout)
	default:
		return "", failf(KindUnknown, StateAuthenticate, err, "browser session ended during sign-in")
	}
}

// persistSession stores the freshly authenticated session. A failed write
// is logged and does not fail the run; the next run signs in again.
func (r *run) persistSession(ctx context.Context) (State, *Error) {
	snapshot, err := r.page.StorageState()
	if err != nil {
		r.log.Errorf("failed to capture session state: %v", err)
		return StateSelectOrganization, nil
	}
	if err := r.d.store.Save(snapshot); err != nil {
		r.log.Errorf("failed to save session snapshot: %v", err)
		return StateSelectOrganization, nil
	}
	r.snapshotSaved = true
	r.log.Infof("session snapshot saved (%d cookies)", len(snapshot.Cookies))
	return StateSelectOrganization, nil
}

func (r *run) selectOrganization(ctx context.Context) (State, *Error) {
	site := r.d.cfg.Site
	timeout := r.d.cfg.ElementTimeout
	if err := r.page.WaitVisible(site.OrganizationLink, timeout); err != nil {
		return "", failf(KindNavigation, StateSelectOrganization, err, "no organization appeared within %s", timeout)
	}
	if err := r.page.Click(site.OrganizationLink, timeout); err != nil {
		return "", failf(KindNavigation, StateSelectOrganization, err, "organization could not be opened")
	}
	r.settle()
	r.log.Infof("organization opened at %s", redactURL(r.page.URL()))
	return StateNavigateBilling, nil
}

func (r *run) navigateBilling(ctx context.Context) (State, *Error) {
	if err := r.page.Click(r.d.cfg.Site.BillingLink, r.d.cfg.ElementTimeout); err != nil {
		return "", failf(KindNavigation, StateNavigateBilling, err, "billing section link did not appear")
	}
	r.settle()
	r.log.Infof("billing view at %s", redactURL(r.page.URL()))
	return StateDownload, nil
}

func (r *run) startDownload(ctx context.Context) (State, *Error) {
	site := r.d.cfg.Site
	if err := r.page.WaitVisible(site.DownloadButton, r.d.cfg.ElementTimeout); err != nil {
		return "", failf(KindNavigation, StateDownload, err, "invoice download control did not appear")
	}

	timeout := r.d.cfg.DownloadTimeout
	download, err := r.page.ExpectDownload(func() error {
		return r.page.Click(site.DownloadButton, r.d.cfg.ElementTimeout)
	}, timeout)
	if err != nil {
		return "", failf(KindDownload, StateDownload, err, "no file transfer started within %s", timeout)
	}

	r.log.Infof("download started (%s)", download.SuggestedFilename())
	r.download = download
	return StateSave, nil
}

// save writes the transfer to the dated target. A same-day re-run
// overwrites the earlier file.
func (r *run) save(ctx context.Context) (State, *Error) {
	target := invoice.Path(r.d.cfg.DownloadDir, r.d.now())

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", failf(KindSave, StateSave, err, "download directory could not be created")
	}

	part := target + ".part"
	if err := r.download.SaveAs(part); err != nil {
		os.Remove(part)
		return "", failf(KindSave, StateSave, err, "invoice could not be written")
	}
	if err := os.Rename(part, target); err != nil {
		os.Remove(part)
		return "", failf(KindSave, StateSave, err, "invoice could not be moved into place")
	}
	r.savedPath = target

	if r.d.inspect != nil {
		report, err := r.d.inspect(target)
		if err != nil {
			r.log.Warnf("saved file is not a readable PDF: %v", err)
		} else {
			r.log.Infof("invoice has %d pages, %d bytes (encrypted=%t)", report.PageCount, report.FileSize, report.IsEncrypted)
		}
	}
	return StateDone, nil
}
