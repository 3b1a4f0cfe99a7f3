// Package browser drives a Chromium session through Playwright on behalf of
// the session store, the authenticator and the post submitter.
//
// # Architecture
//
// Callers never touch Playwright types directly. They work against two narrow
// interfaces:
//
//   - Page: navigation, URL inspection, element lookup, keyboard, cookies and
//     page-scoped storage
//   - Element: click, clear, fill, per-keystroke typing and file selection
//
// Manager owns the Playwright driver and launches a persistent browser
// context on a profile directory. The returned Session implements Handle and
// must be closed on every exit path.
//
// # Candidate locators
//
// The target site's markup drifts. Every UI target is described as a Target:
// a logical name plus an ordered list of selectors. Resolve tries each
// selector in turn, bounded by a per-candidate wait, and returns the first
// element that reaches the requested state. Exhausting the list yields a
// *ResolveError naming the target so operators can tell which step broke.
//
// Selectors use Playwright syntax: CSS by default, "xpath=" and ":has-text()"
// where CSS cannot express the match.
//
// # Example Usage
//
//	manager := browser.NewManager(logger)
//	defer manager.Shutdown()
//
//	session, err := manager.Launch(ctx, browser.LaunchOptions{
//	    ProfileDir: "/tmp/postforge-profile",
//	    Headless:   true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer session.Close()
//
//	trigger := browser.Target{Name: "compose trigger", Selectors: []string{
//	    "button.share-box-feed-entry__trigger",
//	    "button:has-text('Start a post')",
//	}}
//	el, err := browser.Resolve(ctx, session.Page(), trigger, 10*time.Second)
package browser
