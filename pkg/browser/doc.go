// Package browser drives Chromium through playwright-go and adapts it to the
// ports declared by package automation.
//
// A Launcher owns one Playwright driver process for the life of the service.
// Every Launch starts a dedicated browser, context and page, and closing the
// returned Page tears all three down. Playwright's storage state and
// session.Snapshot share a JSON layout, so snapshots seed new contexts and
// are captured from live ones without loss.
//
// Install must run once per machine before the first Launch.
package browser
