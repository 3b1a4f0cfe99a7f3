// Package session persists LinkedIn browser session state between runs.
//
// A State captures the cookies, both web storage areas and the user agent of
// an authenticated page. The Store writes it as a JSON blob on disk and can
// replay it into a fresh browser so that a later run skips the login form.
// The blob also travels as a base64 string through an external secret
// channel (see Store.ExportPortable and Store.ImportPortable).
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/postforge/pkg/browser"
)

// FormatVersion is the blob format written by this package. Blobs with any
// other version are unreadable.
const FormatVersion = 1

var (
	// ErrNoSession is returned when no blob exists at the store path.
	ErrNoSession = errors.New("no saved session")

	// ErrExpired is returned when the blob is older than the freshness window.
	ErrExpired = errors.New("saved session expired")

	// ErrCorrupt is returned when the blob cannot be decoded or has an
	// unknown format version.
	ErrCorrupt = errors.New("saved session unreadable")
)

// State is a snapshot of an authenticated browser session. A State is never
// updated in place; each capture produces a new one that replaces the blob.
type State struct {
	Version        int               `json:"version"`
	Cookies        []browser.Cookie  `json:"cookies"`
	LocalStorage   map[string]string `json:"local_storage"`
	SessionStorage map[string]string `json:"session_storage"`

	// UserAgent is recorded for diagnostics and never reapplied.
	UserAgent  string    `json:"user_agent"`
	CapturedAt time.Time `json:"captured_at"`
}

// Capture reads the session state of page.
func Capture(page browser.Page, now time.Time) (*State, error) {
	cookies, err := page.Cookies()
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	local, err := page.Storage(browser.LocalStorage)
	if err != nil {
		return nil, fmt.Errorf("failed to read local storage: %w", err)
	}

	sess, err := page.Storage(browser.SessionStorage)
	if err != nil {
		return nil, fmt.Errorf("failed to read session storage: %w", err)
	}

	// The user agent is informational; a failure leaves it empty.
	ua, _ := page.UserAgent()

	return &State{
		Version:        FormatVersion,
		Cookies:        cookies,
		LocalStorage:   local,
		SessionStorage: sess,
		UserAgent:      ua,
		CapturedAt:     now,
	}, nil
}

// Decode parses a blob. Malformed JSON and unknown versions wrap ErrCorrupt.
func Decode(data []byte) (*State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if st.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, st.Version)
	}
	if st.CapturedAt.IsZero() {
		return nil, fmt.Errorf("%w: missing capture time", ErrCorrupt)
	}
	return &st, nil
}

// Encode serializes the state as indented JSON.
func (s *State) Encode() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Fresh reports whether the state is younger than maxAge at now. A
// non-positive maxAge disables the age check. State captured after now is
// never fresh.
func (s *State) Fresh(now time.Time, maxAge time.Duration) bool {
	if s.CapturedAt.After(now) {
		return false
	}
	if maxAge <= 0 {
		return true
	}
	return now.Sub(s.CapturedAt) < maxAge
}
