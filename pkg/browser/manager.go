package browser

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/entrhq/postforge/pkg/logging"
	"github.com/playwright-community/playwright-go"
)

// Manager owns the Playwright driver process and launches browser sessions.
type Manager struct {
	mu          sync.Mutex
	playwright  *playwright.Playwright
	initialized bool
	sessions    map[*Session]struct{}
	log         *logging.Logger
}

// NewManager creates a manager. The Playwright driver is started lazily by
// Initialize or the first Launch.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		sessions: make(map[*Session]struct{}),
		log:      log,
	}
}

// Initialize installs (if needed) and starts the Playwright driver with
// Chromium. Calling it again is a no-op.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initializeLocked()
}

func (m *Manager) initializeLocked() error {
	if m.initialized {
		return nil
	}

	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	m.playwright = pw
	m.initialized = true
	m.log.Infof("playwright driver started")
	return nil
}

// Launch starts Chromium on a persistent profile and returns its session.
func (m *Manager) Launch(ctx context.Context, opts LaunchOptions) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.initializeLocked(); err != nil {
		return nil, err
	}

	if opts.Viewport.Width == 0 {
		opts.Viewport.Width = DefaultViewportWidth
	}
	if opts.Viewport.Height == 0 {
		opts.Viewport.Height = DefaultViewportHeight
	}
	if opts.DefaultTimeout == 0 {
		opts.DefaultTimeout = DefaultTimeout
	}

	launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(opts.Headless),
		Viewport: &playwright.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		},
		Args: opts.Args,
	}
	if opts.SlowMo > 0 {
		launchOpts.SlowMo = ms(opts.SlowMo)
	}

	bctx, err := m.playwright.Chromium.LaunchPersistentContext(opts.ProfileDir, launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	var page playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else {
		page, err = bctx.NewPage()
		if err != nil {
			_ = bctx.Close()
			return nil, fmt.Errorf("failed to create page: %w", err)
		}
	}
	page.SetDefaultTimeout(float64(opts.DefaultTimeout.Milliseconds()))

	session := &Session{
		manager:   m,
		context:   bctx,
		page:      &pwPage{page: page, context: bctx},
		CreatedAt: time.Now(),
		Profile:   opts.ProfileDir,
	}
	m.sessions[session] = struct{}{}

	m.log.Infof("browser launched (headless=%t, profile=%s)", opts.Headless, opts.ProfileDir)
	return session, nil
}

func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s)
}

// Shutdown closes every open session and stops the Playwright driver.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		_ = s.Close() // continue cleanup
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized && m.playwright != nil {
		if err := m.playwright.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		m.initialized = false
		m.log.Infof("playwright driver stopped")
	}
	return nil
}

// Session is a launched persistent browser context with its active page.
type Session struct {
	manager   *Manager
	context   playwright.BrowserContext
	page      *pwPage
	closeOnce sync.Once
	closeErr  error

	// CreatedAt is when the browser was launched.
	CreatedAt time.Time

	// Profile is the user-data directory the browser runs on.
	Profile string
}

// Page returns the session's active page.
func (s *Session) Page() Page {
	return s.page
}

// Close closes the browser context, which ends the browser process of a
// persistent launch. Safe to call multiple times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if err := s.context.Close(); err != nil {
			s.closeErr = fmt.Errorf("failed to close browser: %w", err)
		}
		s.manager.forget(s)
	})
	return s.closeErr
}
