package automation

import (
	"fmt"
	"net/url"

	"github.com/gobwas/glob"
)

// State is a step of the retrieval state machine.
type State string

const (
	StateInit               State = "Init"
	StateNavigate           State = "Navigate"
	StateAuthenticate       State = "Authenticate"
	StatePersistSession     State = "PersistSession"
	StateSelectOrganization State = "SelectOrganization"
	StateNavigateBilling    State = "NavigateBilling"
	StateDownload           State = "Download"
	StateSave               State = "Save"
	StateDone               State = "Done"
	StateFailed             State = "Failed"
)

// IsTerminal reports whether the state ends a run.
func IsTerminal(s State) bool {
	return s == StateDone || s == StateFailed
}

func isAllowedTransition(from, to State) bool {
	if to == StateFailed {
		return !IsTerminal(from)
	}
	switch from {
	case StateInit:
		return to == StateNavigate
	case StateNavigate:
		return to == StateAuthenticate || to == StateSelectOrganization
	case StateAuthenticate:
		return to == StatePersistSession
	case StatePersistSession:
		return to == StateSelectOrganization
	case StateSelectOrganization:
		return to == StateNavigateBilling
	case StateNavigateBilling:
		return to == StateDownload
	case StateDownload:
		return to == StateSave
	case StateSave:
		return to == StateDone
	default:
		return false
	}
}

// AuthState classifies a URL observed while establishing authentication.
type AuthState int

const (
	// AlreadyAuthenticated: the dashboard accepted the session on first load
	AlreadyAuthenticated AuthState = iota
	// SignInRequired: the dashboard redirected to its sign-in page
	SignInRequired
	// ProviderSessionReuse: the identity provider still had a session and sent us back
	ProviderSessionReuse
	// CredentialEntryRequired: the provider's username/password form is showing
	CredentialEntryRequired
	// SecondaryAuthRequired: two-factor, passkey, consent or an unrecognized page
	SecondaryAuthRequired
)

func (a AuthState) String() string {
	switch a {
	case AlreadyAuthenticated:
		return "AlreadyAuthenticated"
	case SignInRequired:
		return "SignInRequired"
	case ProviderSessionReuse:
		return "ProviderSessionReuse"
	case CredentialEntryRequired:
		return "CredentialEntryRequired"
	case SecondaryAuthRequired:
		return "SecondaryAuthRequired"
	default:
		return fmt.Sprintf("AuthState(%d)", int(a))
	}
}

// redactURL reduces raw to scheme://host/path for logging. OAuth redirects
// carry one-time codes and state in the query and fragment.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[unparseable url]"
	}
	u.User = nil
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// urlClassifier maps observed URLs onto AuthState values using the site's
// glob patterns.
type urlClassifier struct {
	organizations glob.Glob
	signIn        glob.Glob
	providerLogin glob.Glob
}

func newURLClassifier(site Site) (*urlClassifier, error) {
	organizations, err := glob.Compile(site.OrganizationsPattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid organizations pattern %q: %w", site.OrganizationsPattern, err)
	}
	signIn, err := glob.Compile(site.SignInPattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid sign-in pattern %q: %w", site.SignInPattern, err)
	}
	providerLogin, err := glob.Compile(site.ProviderLoginPattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid provider login pattern %q: %w", site.ProviderLoginPattern, err)
	}
	return &urlClassifier{
		organizations: organizations,
		signIn:        signIn,
		providerLogin: providerLogin,
	}, nil
}

// landing classifies the URL reached by loading the organization listing.
func (c *urlClassifier) landing(url string) AuthState {
	if c.signIn.Match(url) {
		return SignInRequired
	}
	return AlreadyAuthenticated
}

// afterProvider classifies the URL reached after activating the identity
// provider button. Anything unrecognized is treated as secondary auth.
func (c *urlClassifier) afterProvider(url string) AuthState {
	switch {
	case c.organizations.Match(url):
		return ProviderSessionReuse
	case c.providerLogin.Match(url):
		return CredentialEntryRequired
	default:
		return SecondaryAuthRequired
	}
}
