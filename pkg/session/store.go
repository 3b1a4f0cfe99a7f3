package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/postforge/pkg/browser"
	"github.com/entrhq/postforge/pkg/clock"
	"github.com/entrhq/postforge/pkg/logging"
)

// Default store settings.
const (
	DefaultMaxAge    = 7 * 24 * time.Hour
	DefaultFeedURL   = "https://www.linkedin.com/feed/"
	DefaultOriginURL = "https://www.linkedin.com"
)

// Options configures a Store.
type Options struct {
	// Path is the blob location. Empty means ~/.postforge/linkedin_session.json.
	Path string

	// MaxAge is the freshness window. Zero means DefaultMaxAge.
	MaxAge time.Duration

	// FeedURL is visited before capturing state.
	FeedURL string

	// OriginURL is visited before storage entries are replayed, so they land
	// in the right origin.
	OriginURL string

	// NavigateTimeout bounds each navigation. Zero uses the page default.
	NavigateTimeout time.Duration

	Clock  clock.Clock
	Logger *logging.Logger
}

// Store reads and writes the session blob.
type Store struct {
	opts Options
	mu   sync.Mutex
}

// NewStore creates a store, filling unset options with defaults.
func NewStore(opts Options) (*Store, error) {
	if opts.Path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		opts.Path = filepath.Join(homeDir, ".postforge", "linkedin_session.json")
	}
	if opts.MaxAge == 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.FeedURL == "" {
		opts.FeedURL = DefaultFeedURL
	}
	if opts.OriginURL == "" {
		opts.OriginURL = DefaultOriginURL
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	return &Store{opts: opts}, nil
}

// Path returns the blob location.
func (s *Store) Path() string {
	return s.opts.Path
}

// Save visits the feed, captures the page's session state and replaces the
// blob with it. It reports whether the blob was written.
func (s *Store) Save(ctx context.Context, page browser.Page) bool {
	log := s.opts.Logger

	if err := page.Navigate(ctx, s.opts.FeedURL, s.navigateOptions()); err != nil {
		log.Warnf("session save: failed to open feed: %v", err)
		return false
	}

	st, err := Capture(page, s.opts.Clock.Now())
	if err != nil {
		log.Warnf("session save: %v", err)
		return false
	}

	data, err := st.Encode()
	if err != nil {
		log.Warnf("session save: failed to encode state: %v", err)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(data); err != nil {
		log.Warnf("session save: %v", err)
		return false
	}

	log.Infof("Saved session with %d cookies to %s", len(st.Cookies), s.opts.Path)
	return true
}

// Load replays the saved state into page. It returns false when there is no
// usable blob or when no cookie could be applied. An unreadable blob leaves
// the page untouched; an expired one is deleted.
func (s *Store) Load(ctx context.Context, page browser.Page) bool {
	log := s.opts.Logger

	st, err := s.Current()
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			log.Debugf("session load: no blob at %s", s.opts.Path)
		} else {
			log.Warnf("session load: %v", err)
		}
		return false
	}

	applied := 0
	for _, c := range st.Cookies {
		if err := page.AddCookie(c); err != nil {
			log.Debugf("session load: skipping cookie %s (%s): %v", c.Name, c.Domain, err)
			continue
		}
		applied++
	}
	if applied == 0 {
		log.Warnf("session load: none of %d cookies could be applied", len(st.Cookies))
		return false
	}

	if err := page.Navigate(ctx, s.opts.OriginURL, s.navigateOptions()); err != nil {
		log.Warnf("session load: failed to open origin, storage not replayed: %v", err)
		return true
	}

	restored := s.replayStorage(page, browser.LocalStorage, st.LocalStorage) +
		s.replayStorage(page, browser.SessionStorage, st.SessionStorage)

	log.Infof("Loaded session from %s: %d/%d cookies, %d storage entries (captured %s)",
		s.opts.Path, applied, len(st.Cookies), restored, st.CapturedAt.Format(time.RFC3339))
	return true
}

func (s *Store) replayStorage(page browser.Page, area browser.StorageArea, entries map[string]string) int {
	n := 0
	for k, v := range entries {
		if err := page.SetStorageItem(area, k, v); err != nil {
			s.opts.Logger.Debugf("session load: skipping %s entry %q: %v", area, k, err)
			continue
		}
		n++
	}
	return n
}

// Current reads and validates the blob. A blob past the freshness window is
// deleted and ErrExpired is returned.
func (s *Store) Current() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return nil, err
	}

	st, err := Decode(data)
	if err != nil {
		return nil, err
	}

	if !st.Fresh(s.opts.Clock.Now(), s.opts.MaxAge) {
		if rmErr := os.Remove(s.opts.Path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.opts.Logger.Warnf("failed to delete expired session: %v", rmErr)
		}
		return nil, fmt.Errorf("%w: captured %s", ErrExpired, st.CapturedAt.Format(time.RFC3339))
	}
	return st, nil
}

// ExportPortable returns the blob as a standard base64 string.
func (s *Store) ExportPortable() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return "", err
	}
	if _, err := Decode(data); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// ImportPortable decodes a string produced by ExportPortable and replaces
// the blob with it. Input that is not a readable state is rejected and the
// existing blob is kept.
func (s *Store) ImportPortable(encoded string) error {
	encoded = strings.Join(strings.Fields(encoded), "")
	if encoded == "" {
		return fmt.Errorf("%w: empty portable session", ErrCorrupt)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: invalid base64: %v", ErrCorrupt, err)
	}
	if _, err := Decode(data); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(data)
}

// Clear deletes the blob. A missing blob is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.opts.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *Store) read() ([]byte, error) {
	data, err := os.ReadFile(s.opts.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	return data, nil
}

// write replaces the blob atomically. Callers hold s.mu.
func (s *Store) write(data []byte) error {
	dir := filepath.Dir(s.opts.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tempPath := s.opts.Path + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write session: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, s.opts.Path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (s *Store) navigateOptions() browser.NavigateOptions {
	return browser.NavigateOptions{WaitUntil: "domcontentloaded", Timeout: s.opts.NavigateTimeout}
}
