package automation

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/entrhq/dencho/pkg/invoice"
	"github.com/entrhq/dencho/pkg/logging"
	"github.com/entrhq/dencho/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var runDay = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func validSnapshot() *session.Snapshot {
	return &session.Snapshot{Cookies: []session.Cookie{
		{Name: "sb-access-token", Value: "saved", Domain: ".supabase.com", Path: "/", Expires: float64(runDay.Add(24 * time.Hour).Unix())},
	}}
}

type harness struct {
	page     *fakePage
	launcher *fakeLauncher
	store    *memoryStore
	logs     *bytes.Buffer
	dir      string
	driver   *Driver
}

func newHarness(t *testing.T, mutate func(cfg *Config)) *harness {
	t.Helper()

	site := DefaultSite()
	page := newFakePage(site)
	h := &harness{
		page:     page,
		launcher: &fakeLauncher{page: page},
		store:    &memoryStore{},
		logs:     &bytes.Buffer{},
		dir:      filepath.Join(t.TempDir(), "downloads", "invoice"),
	}

	cfg := Config{
		Site:            site,
		DownloadDir:     h.dir,
		AuthTimeout:     50 * time.Millisecond,
		ElementTimeout:  10 * time.Millisecond,
		DownloadTimeout: 10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	driver, err := NewDriver(h.launcher, h.store, cfg,
		WithClock(func() time.Time { return runDay }),
		WithInspector(nil),
		WithLogger(logging.NewWriterLogger("driver", h.logs)),
	)
	require.NoError(t, err)
	h.driver = driver
	return h
}

func (h *harness) run() Outcome {
	return h.driver.Run(context.Background(), RunOptions{})
}

func TestNewDriver_Validation(t *testing.T) {
	store := &memoryStore{}
	launcher := &fakeLauncher{}

	_, err := NewDriver(nil, store, Config{Site: DefaultSite(), DownloadDir: "x"})
	assert.Error(t, err)

	_, err = NewDriver(launcher, nil, Config{Site: DefaultSite(), DownloadDir: "x"})
	assert.Error(t, err)

	_, err = NewDriver(launcher, store, Config{Site: DefaultSite()})
	assert.Error(t, err)

	site := DefaultSite()
	site.SignInPattern = "[unclosed"
	_, err = NewDriver(launcher, store, Config{Site: site, DownloadDir: "x"})
	assert.Error(t, err)
}

func TestRun_HappyPathWithSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	h.store.snapshot = validSnapshot()

	out := h.run()

	require.True(t, out.Succeeded(), "unexpected failure: %v", out.Err)
	assert.Equal(t, filepath.Join(h.dir, "supabase-invoice-2024-05-01.pdf"), out.Path)
	assert.True(t, strings.HasSuffix(filepath.ToSlash(out.Path), "downloads/invoice/supabase-invoice-2024-05-01.pdf"))
	assert.Equal(t, []State{
		StateInit, StateNavigate, StateSelectOrganization, StateNavigateBilling,
		StateDownload, StateSave, StateDone,
	}, out.Trace)
	assert.False(t, out.SnapshotSaved)

	content, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fake invoice", string(content))

	_, err = os.Stat(out.Path + ".part")
	assert.True(t, os.IsNotExist(err))

	require.Len(t, h.launcher.launches, 1)
	assert.True(t, h.launcher.launches[0].Headless, "snapshot runs are headless")
	assert.Equal(t, validSnapshot(), h.launcher.launches[0].StorageState)
	assert.Equal(t, 0, h.store.saves)
	assert.Equal(t, 1, h.page.closed)
}

func TestRun_NoSnapshotAuthenticates(t *testing.T) {
	h := newHarness(t, nil)
	h.page.landingURL = signInURL
	h.page.afterProviderURL = orgsURL

	out := h.run()

	require.True(t, out.Succeeded(), "unexpected failure: %v", out.Err)
	assert.Equal(t, []State{StateInit, StateNavigate, StateAuthenticate}, out.Trace[:3])
	assert.Contains(t, out.Trace, StatePersistSession)
	assert.True(t, out.SnapshotSaved)
	assert.Equal(t, 1, h.store.saves)
	assert.Equal(t, "fresh", h.store.snapshot.Cookies[0].Value)

	require.Len(t, h.launcher.launches, 1)
	assert.False(t, h.launcher.launches[0].Headless, "first sign-in runs headed")
	assert.Nil(t, h.launcher.launches[0].StorageState)
}

func TestRun_ForceHeadless(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.ForceHeadless = true })

	out := h.run()

	require.True(t, out.Succeeded())
	require.Len(t, h.launcher.launches, 1)
	assert.True(t, h.launcher.launches[0].Headless)
}

func TestRun_ExpiredSnapshotStartsClean(t *testing.T) {
	h := newHarness(t, nil)
	h.store.snapshot = &session.Snapshot{Cookies: []session.Cookie{
		{Name: "sb-access-token", Value: "old", Expires: float64(runDay.Add(-time.Hour).Unix())},
	}}

	out := h.run()

	require.True(t, out.Succeeded())
	require.Len(t, h.launcher.launches, 1)
	assert.False(t, h.launcher.launches[0].Headless)
	assert.Nil(t, h.launcher.launches[0].StorageState)
	assert.Contains(t, h.logs.String(), "expired")
}

func TestRun_UnreadableSnapshotStartsClean(t *testing.T) {
	h := newHarness(t, nil)
	h.store.loadErr = errors.New("failed to decode session snapshot")

	out := h.run()

	require.True(t, out.Succeeded())
	assert.Nil(t, h.launcher.launches[0].StorageState)
	assert.Contains(t, h.logs.String(), "ignoring unreadable session snapshot")
}

func TestRun_StaleSnapshotRejectedByDashboard(t *testing.T) {
	h := newHarness(t, nil)
	h.store.snapshot = validSnapshot()
	h.page.landingURL = signInURL

	out := h.run()

	require.True(t, out.Succeeded())
	assert.Contains(t, out.Trace, StateAuthenticate)
	assert.True(t, out.SnapshotSaved)
	assert.Equal(t, "fresh", h.store.snapshot.Cookies[0].Value)
}

func TestRun_CredentialEntryWithConfiguredCredentials(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Credentials = Credentials{Username: "octocat", Password: "hunter2"}
	})
	h.page.landingURL = signInURL
	h.page.afterProviderURL = githubLogin

	out := h.run()

	require.True(t, out.Succeeded(), "unexpected failure: %v", out.Err)
	site := DefaultSite()
	assert.Equal(t, "octocat", h.page.filled[site.UsernameField])
	assert.Equal(t, "hunter2", h.page.filled[site.PasswordField])
	assert.Contains(t, h.page.calls, "click "+site.SubmitButton)
	assert.Contains(t, h.page.calls, "waiturl "+site.OrganizationsPattern)
	assert.NotContains(t, h.logs.String(), "hunter2")
}

func TestRun_RunCredentialsOverrideConfigured(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Credentials = Credentials{Username: "configured", Password: "configured-pass"}
	})
	h.page.landingURL = signInURL
	h.page.afterProviderURL = githubLogin

	out := h.driver.Run(context.Background(), RunOptions{
		Credentials: Credentials{Username: "override", Password: "override-pass"},
	})

	require.True(t, out.Succeeded())
	assert.Equal(t, "override", h.page.filled[DefaultSite().UsernameField])
}

func TestRun_CredentialEntryWaitsForOperator(t *testing.T) {
	h := newHarness(t, nil)
	h.page.landingURL = signInURL
	h.page.afterProviderURL = githubLogin

	out := h.run()

	require.True(t, out.Succeeded())
	assert.Empty(t, h.page.filled)
	assert.Contains(t, h.logs.String(), "enter the identity provider credentials")
}

func TestRun_SecondaryAuth(t *testing.T) {
	h := newHarness(t, nil)
	h.page.landingURL = signInURL
	h.page.afterProviderURL = twoFactor

	out := h.run()

	require.True(t, out.Succeeded())
	assert.Empty(t, h.page.filled)
	assert.Contains(t, h.page.calls, "waiturl "+DefaultSite().OrganizationsPattern)
	assert.Contains(t, h.logs.String(), "SecondaryAuthRequired")
}

func TestRun_AuthenticationTimeout(t *testing.T) {
	h := newHarness(t, nil)
	h.page.landingURL = signInURL
	h.page.afterProviderURL = twoFactor
	h.page.authCompletes = false

	out := h.run()

	require.False(t, out.Succeeded())
	assert.Equal(t, KindAuthenticationTimeout, out.Err.Kind)
	assert.Equal(t, StateAuthenticate, out.Err.State)
	assert.Equal(t, StateFailed, out.Trace[len(out.Trace)-1])
	assert.False(t, out.SnapshotSaved)
	assert.Equal(t, 0, h.store.saves)
	assert.Contains(t, h.logs.String(), "authentication timeout")
	assert.Equal(t, 1, h.page.closed)
}

func TestRun_BrowserClosedDuringSignIn(t *testing.T) {
	h := newHarness(t, nil)
	h.page.landingURL = signInURL
	h.page.afterProviderURL = githubLogin
	h.page.authErr = errors.New("target closed")

	out := h.run()

	require.False(t, out.Succeeded())
	assert.Equal(t, KindUnknown, out.Err.Kind)
	assert.Equal(t, 0, h.store.saves)
}

func TestRun_SnapshotSaveFailureDoesNotFailRun(t *testing.T) {
	h := newHarness(t, nil)
	h.page.landingURL = signInURL
	h.store.saveErr = errors.New("disk full")

	out := h.run()

	require.True(t, out.Succeeded())
	assert.False(t, out.SnapshotSaved)
	assert.Contains(t, h.logs.String(), "failed to save session snapshot")
}

func TestRun_NoOrganization(t *testing.T) {
	h := newHarness(t, nil)
	h.store.snapshot = validSnapshot()
	h.page.missing[DefaultSite().OrganizationLink] = true

	out := h.run()

	require.False(t, out.Succeeded())
	assert.Equal(t, KindNavigation, out.Err.Kind)
	assert.Equal(t, StateSelectOrganization, out.Err.State)
	assert.Equal(t, 1, h.page.closed)
}

func TestRun_MissingProviderButton(t *testing.T) {
	h := newHarness(t, nil)
	h.page.landingURL = signInURL
	h.page.missing[DefaultSite().ProviderButton] = true

	out := h.run()

	require.False(t, out.Succeeded())
	assert.Equal(t, KindNavigation, out.Err.Kind)
	assert.Equal(t, StateAuthenticate, out.Err.State)
}

func TestRun_NoDownloadEvent(t *testing.T) {
	h := newHarness(t, nil)
	h.page.download = nil

	out := h.run()

	require.False(t, out.Succeeded())
	assert.Equal(t, KindDownload, out.Err.Kind)
	_, err := os.Stat(invoice.Path(h.dir, runDay))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_SaveFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.page.download = &fakeDownload{err: errors.New("permission denied")}

	out := h.run()

	require.False(t, out.Succeeded())
	assert.Equal(t, KindSave, out.Err.Kind)
	assert.NotContains(t, out.Err.Detail, h.dir, "detail must not expose paths")
}

func TestRun_LaunchFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.launcher.err = errors.New("executable doesn't exist")

	out := h.run()

	require.False(t, out.Succeeded())
	assert.Equal(t, KindUnknown, out.Err.Kind)
	assert.Equal(t, []State{StateInit, StateFailed}, out.Trace)
	assert.Equal(t, 0, h.page.closed)
}

func TestRun_PanicIsClassified(t *testing.T) {
	h := newHarness(t, nil)
	h.page.panicOn = "download"

	out := h.run()

	require.False(t, out.Succeeded())
	assert.Equal(t, KindUnknown, out.Err.Kind)
	assert.Equal(t, StateDownload, out.Err.State)
	assert.Equal(t, 1, h.page.closed, "browser closed after panic")
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := h.driver.Run(ctx, RunOptions{})

	require.False(t, out.Succeeded())
	assert.Empty(t, h.launcher.launches)
}

func TestRun_SameDayOverwrites(t *testing.T) {
	h := newHarness(t, nil)

	first := h.run()
	require.True(t, first.Succeeded())

	h.page.download = &fakeDownload{content: []byte("%PDF-1.4 second")}
	second := h.run()
	require.True(t, second.Succeeded())

	assert.Equal(t, first.Path, second.Path)
	content, err := os.ReadFile(second.Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 second", string(content))
}

func TestRun_LogsTransitions(t *testing.T) {
	h := newHarness(t, nil)

	out := h.run()
	require.True(t, out.Succeeded())

	logs := h.logs.String()
	assert.Contains(t, logs, "state Init -> Navigate")
	assert.Contains(t, logs, "state Save -> Done")
	assert.Contains(t, logs, "landed on "+orgsURL)
}

func TestRun_InspectorWarningDoesNotFail(t *testing.T) {
	h := newHarness(t, nil)
	h.driver.inspect = func(path string) (*invoice.Report, error) {
		return nil, errors.New("not a pdf")
	}

	out := h.run()

	require.True(t, out.Succeeded())
	assert.Contains(t, h.logs.String(), "saved file is not a readable PDF")
}

func TestRun_LogsOmitURLQueries(t *testing.T) {
	h := newHarness(t, nil)
	h.page.landingURL = signInURL
	h.page.afterProviderURL = twoFactor + "?code=one-time-code&state=s3cr3t"

	out := h.run()

	require.True(t, out.Succeeded(), "unexpected failure: %v", out.Err)
	logs := h.logs.String()
	assert.Contains(t, logs, "identity provider returned "+twoFactor+" (SecondaryAuthRequired)")
	assert.Contains(t, logs, "landed on https://supabase.com/dashboard/sign-in (SignInRequired)")
	assert.NotContains(t, logs, "one-time-code")
	assert.NotContains(t, logs, "s3cr3t")
	assert.NotContains(t, logs, "returnTo")
}
