package browser

import (
	"context"
	"time"
)

// Page is the subset of a browser tab used by postforge.
type Page interface {
	// Navigate loads url and waits for the configured load state.
	Navigate(ctx context.Context, url string, opts NavigateOptions) error

	// URL returns the current page URL.
	URL() string

	// Find waits up to timeout for the first element matching selector to
	// reach state.
	Find(ctx context.Context, selector string, state ElementState, timeout time.Duration) (Element, error)

	// PressKey sends a key press to the focused element (e.g. "Enter").
	PressKey(key string) error

	// Cookies returns every cookie in the browser context.
	Cookies() ([]Cookie, error)

	// AddCookie injects a single cookie into the browser context.
	AddCookie(cookie Cookie) error

	// Storage returns all entries of a page-scoped storage area for the
	// current origin.
	Storage(area StorageArea) (map[string]string, error)

	// SetStorageItem writes one entry into a storage area for the current
	// origin.
	SetStorageItem(area StorageArea, key, value string) error

	// UserAgent returns the browser's user agent string.
	UserAgent() (string, error)
}

// Element is a resolved UI element.
type Element interface {
	// Click clicks the element, waiting up to timeout for it to be actionable.
	Click(timeout time.Duration) error

	// Clear empties an input or contenteditable region.
	Clear() error

	// Fill replaces the element's content in one operation.
	Fill(text string) error

	// Type sends text as individual keystrokes without delay.
	Type(text string) error

	// SetFiles sets the files of a native file input.
	SetFiles(paths ...string) error
}

// Handle is a launched browser that must be closed by its owner.
type Handle interface {
	Page() Page
	Close() error
}

// Launcher acquires a browser. Manager is the Playwright implementation.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Handle, error)
}

// ElementState is the condition an element must meet to be resolved.
type ElementState string

const (
	// StateVisible requires the element to be rendered and visible (default).
	StateVisible ElementState = "visible"

	// StateAttached requires the element to be present in the DOM only.
	// Native file inputs are usually hidden and need this state.
	StateAttached ElementState = "attached"
)

// StorageArea names a page-scoped storage area.
type StorageArea string

const (
	// LocalStorage is window.localStorage.
	LocalStorage StorageArea = "localStorage"

	// SessionStorage is window.sessionStorage.
	SessionStorage StorageArea = "sessionStorage"
)

// Cookie mirrors a browser cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // unix seconds, -1 for session cookies
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"same_site,omitempty"`
}

// NavigateOptions configures page navigation.
type NavigateOptions struct {
	// WaitUntil is one of "load", "domcontentloaded", "networkidle".
	WaitUntil string

	// Timeout bounds the navigation (0 means the page default).
	Timeout time.Duration
}

// LaunchOptions configures a new browser.
type LaunchOptions struct {
	// ProfileDir is the persistent user-data directory. Concurrent runs must
	// use distinct directories.
	ProfileDir string

	// Headless runs without a visible window.
	Headless bool

	// Viewport sets the window size. Zero values use the defaults.
	Viewport Viewport

	// SlowMo delays every Playwright operation, useful when watching a run.
	SlowMo time.Duration

	// Args are extra Chromium command-line flags.
	Args []string

	// DefaultTimeout applies to operations without an explicit timeout.
	DefaultTimeout time.Duration
}

// Viewport is the browser viewport size.
type Viewport struct {
	Width  int
	Height int
}

// Defaults for launched browsers.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800
	DefaultTimeout        = 30 * time.Second
)

func ms(d time.Duration) *float64 {
	v := float64(d.Milliseconds())
	return &v
}
