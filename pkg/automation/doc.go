// Package automation drives one browser session through the Supabase
// dashboard to retrieve the current billing invoice.
//
// A Driver run is a single pass through a fixed state machine:
//
//	Init -> Navigate -> SelectOrganization -> NavigateBilling -> Download -> Save -> Done
//	            \                 ^
//	             -> Authenticate -> PersistSession
//
// Any state may move to Failed. The run never retries internally: every wait
// has a bound and expiring it is a terminal failure returned to the caller.
//
// # Execution mode
//
// When a session snapshot exists (and has not expired by date), the browser
// context is seeded with it and runs headless. Without one the browser runs
// headed, since the first sign-in may need the operator for credentials,
// two-factor or a passkey. Config.ForceHeadless overrides this.
//
// # Authentication
//
// The landing page after Navigate is classified first, as AlreadyAuthenticated
// or SignInRequired; only SignInRequired enters Authenticate.
//
// After the sign-in page's identity provider button is activated, the
// resulting URL is classified once into an AuthState and the driver switches
// on it:
//
//   - ProviderSessionReuse: the provider still had a session; back at the dashboard
//   - CredentialEntryRequired: fill configured credentials, or wait for the operator
//   - SecondaryAuthRequired: two-factor, passkey, OAuth consent or anything unrecognized
//
// The two waiting branches share Config.AuthTimeout; expiry yields an
// AuthenticationTimeout failure and no snapshot is written.
//
// # Browser engine
//
// The package only depends on the Launcher and Page ports; pkg/browser
// implements them with Playwright.
package automation
