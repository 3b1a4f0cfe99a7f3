// Package auth establishes an authenticated LinkedIn session in a browser.
//
// Authentication runs a small state machine. A saved session is replayed
// first and verified by probing for a post-login marker. When replay fails
// the login form is filled with human-paced typing and submitted, and the
// resulting page is classified. Passive verification challenges (an email
// approval, a device checkpoint) are polled on a bounded schedule; a
// CAPTCHA is never attempted and fails immediately.
package auth

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/entrhq/postforge/pkg/browser"
	"github.com/entrhq/postforge/pkg/clock"
	"github.com/entrhq/postforge/pkg/logging"
)

// State is a step of an authentication attempt.
type State string

const (
	StateStart          State = "start"
	StateTryReplay      State = "try_replay"
	StateReplayVerified State = "replay_verified"
	StateFreshLogin     State = "fresh_login"
	StateSubmitted      State = "submitted"
	StateVerified       State = "verified"
	StateChallenged     State = "challenged"
	StateFailed         State = "failed"
)

// Success reports whether s is a terminal success state.
func (s State) Success() bool {
	return s == StateReplayVerified || s == StateVerified
}

// SessionStore is the persistence the authenticator needs. *session.Store
// implements it.
type SessionStore interface {
	Load(ctx context.Context, page browser.Page) bool
	Save(ctx context.Context, page browser.Page) bool
	ImportPortable(encoded string) error
}

// Targets are the login page elements.
type Targets struct {
	Email    browser.Target
	Password browser.Target
	Submit   browser.Target

	// LoggedIn is an element only present for an authenticated member.
	LoggedIn browser.Target

	// Captcha is an element only present on a CAPTCHA page.
	Captcha browser.Target
}

// Markers are URL substrings used to classify the page after login.
// Landing markers match the URL path only, so a redirect target carried in
// the query string never counts as having landed.
type Markers struct {
	Landing   []string
	Challenge []string
	Captcha   []string
}

// Options configures an Authenticator.
type Options struct {
	LoginURL string
	FeedURL  string

	// PortableSession, when set, is imported into the store before replay.
	PortableSession string

	// ElementWait bounds resolution of each login form candidate.
	ElementWait time.Duration

	// MarkerWait bounds the post-login marker probe after a replay.
	MarkerWait time.Duration

	// CaptchaWait bounds each captcha element check, after submission and on
	// every challenge poll.
	CaptchaWait time.Duration

	// Settle is the pause between submitting the form and classifying.
	Settle time.Duration

	TypingMinDelay time.Duration
	TypingMaxDelay time.Duration

	MaxPolls     int
	PollInterval time.Duration

	Targets Targets
	Markers Markers
}

// DefaultOptions returns the LinkedIn login flow settings.
func DefaultOptions() Options {
	return Options{
		LoginURL:       "https://www.linkedin.com/login",
		FeedURL:        "https://www.linkedin.com/feed/",
		ElementWait:    10 * time.Second,
		MarkerWait:     10 * time.Second,
		CaptchaWait:    2 * time.Second,
		Settle:         5 * time.Second,
		TypingMinDelay: 50 * time.Millisecond,
		TypingMaxDelay: 150 * time.Millisecond,
		MaxPolls:       30,
		PollInterval:   10 * time.Second,
		Targets:        DefaultTargets(),
		Markers: Markers{
			Landing:   []string{"/feed"},
			Challenge: []string{"checkpoint", "challenge"},
			Captcha:   []string{"captcha"},
		},
	}
}

// DefaultTargets returns the candidate selectors for the login page.
func DefaultTargets() Targets {
	return Targets{
		Email: browser.Target{Name: "email field", Selectors: []string{
			"#username",
			"input[name='session_key']",
			"input[autocomplete='username']",
			"input[type='email']",
			"xpath=//input[@id='username']",
		}},
		Password: browser.Target{Name: "password field", Selectors: []string{
			"#password",
			"input[name='session_password']",
			"input[autocomplete='current-password']",
			"input[type='password']",
			"xpath=//input[@id='password']",
		}},
		Submit: browser.Target{Name: "sign in button", Selectors: []string{
			"button[type='submit']",
			"button[data-litms-control-urn='login-submit']",
			"button.btn__primary--large",
			"button:has-text('Sign in')",
			"xpath=//button[@aria-label='Sign in']",
		}},
		LoggedIn: browser.Target{Name: "post-login marker", Selectors: []string{
			"div.feed-identity-module",
			"button.share-box-feed-entry__trigger",
			"img.global-nav__me-photo",
			"nav.global-nav",
			"#global-nav",
		}},
		Captcha: browser.Target{Name: "captcha", Selectors: []string{
			"#captcha-internal",
			"iframe[src*='captcha']",
			"iframe[title*='captcha' i]",
		}},
	}
}

// Outcome describes a finished authentication attempt.
type Outcome struct {
	State  State
	Saved  bool
	Reason string
	Polls  int
}

// Option customizes an Authenticator.
type Option func(*Authenticator)

// WithClock sets the clock used for every wait.
func WithClock(c clock.Clock) Option {
	return func(a *Authenticator) {
		a.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Authenticator) {
		a.log = l
	}
}

// WithRand sets the source of typing delays.
func WithRand(r *rand.Rand) Option {
	return func(a *Authenticator) {
		a.rand = r
	}
}

// Authenticator drives one page through login.
type Authenticator struct {
	page  browser.Page
	store SessionStore
	opts  Options
	clock clock.Clock
	log   *logging.Logger
	rand  *rand.Rand
	state State
}

// New creates an authenticator for page backed by store.
func New(page browser.Page, store SessionStore, opts Options, options ...Option) *Authenticator {
	a := &Authenticator{
		page:  page,
		store: store,
		opts:  opts,
		state: StateStart,
	}
	for _, opt := range options {
		opt(a)
	}
	if a.clock == nil {
		a.clock = clock.New()
	}
	if a.rand == nil {
		a.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return a
}

// State returns the state the last attempt reached.
func (a *Authenticator) State() State {
	return a.state
}

// Ensure authenticates the page and reports success.
func (a *Authenticator) Ensure(ctx context.Context, creds Credentials) bool {
	return a.Attempt(ctx, creds).State.Success()
}

// Attempt runs the state machine to a terminal state.
func (a *Authenticator) Attempt(ctx context.Context, creds Credentials) Outcome {
	a.transition(StateStart)
	if a.opts.PortableSession != "" {
		if err := a.store.ImportPortable(a.opts.PortableSession); err != nil {
			a.log.Warnf("ignoring portable session: %v", err)
		} else {
			a.log.Infof("Imported portable session")
		}
	}

	a.transition(StateTryReplay)
	if a.replay(ctx) {
		return a.finish(Outcome{State: StateReplayVerified, Reason: "saved session replayed"})
	}
	if err := ctx.Err(); err != nil {
		return a.finish(Outcome{State: StateFailed, Reason: err.Error()})
	}

	if err := creds.Validate(); err != nil {
		return a.finish(Outcome{State: StateFailed, Reason: err.Error()})
	}

	a.transition(StateFreshLogin)
	if err := a.login(ctx, creds); err != nil {
		return a.finish(Outcome{State: StateFailed, Reason: err.Error()})
	}

	a.transition(StateSubmitted)
	if err := a.clock.Sleep(ctx, a.opts.Settle); err != nil {
		return a.finish(Outcome{State: StateFailed, Reason: err.Error()})
	}

	next, reason := a.classify(ctx)
	switch next {
	case StateVerified:
		return a.finish(Outcome{State: StateVerified, Saved: a.store.Save(ctx, a.page), Reason: reason})
	case StateChallenged:
		a.transition(StateChallenged)
		return a.finish(a.pollChallenge(ctx))
	default:
		return a.finish(Outcome{State: StateFailed, Reason: reason})
	}
}

func (a *Authenticator) replay(ctx context.Context) bool {
	if !a.store.Load(ctx, a.page) {
		return false
	}
	if err := a.page.Navigate(ctx, a.opts.FeedURL, browser.NavigateOptions{WaitUntil: "domcontentloaded"}); err != nil {
		a.log.Warnf("replay: failed to open feed: %v", err)
		return false
	}
	if !browser.Present(ctx, a.page, a.opts.Targets.LoggedIn, a.opts.MarkerWait) {
		a.log.Infof("Saved session did not reach the feed (at %s), logging in", a.page.URL())
		return false
	}
	return true
}

func (a *Authenticator) login(ctx context.Context, creds Credentials) error {
	if err := a.page.Navigate(ctx, a.opts.LoginURL, browser.NavigateOptions{WaitUntil: "domcontentloaded"}); err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}

	typist := &browser.Typist{
		Clock:    a.clock,
		Rand:     a.rand,
		MinDelay: a.opts.TypingMinDelay,
		MaxDelay: a.opts.TypingMaxDelay,
	}

	if err := a.enter(ctx, typist, a.opts.Targets.Email, creds.Email); err != nil {
		return err
	}
	if err := a.enter(ctx, typist, a.opts.Targets.Password, creds.Password); err != nil {
		return err
	}

	submit, err := browser.Resolve(ctx, a.page, a.opts.Targets.Submit, a.opts.ElementWait)
	if err == nil {
		err = submit.Click(a.opts.ElementWait)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.log.Debugf("sign in button unavailable (%v), pressing Enter", err)
		if err := a.page.PressKey("Enter"); err != nil {
			return fmt.Errorf("failed to submit login form: %w", err)
		}
	}
	return nil
}

func (a *Authenticator) enter(ctx context.Context, typist *browser.Typist, target browser.Target, value string) error {
	el, err := browser.Resolve(ctx, a.page, target, a.opts.ElementWait)
	if err != nil {
		return err
	}
	if err := el.Click(a.opts.ElementWait); err != nil {
		return fmt.Errorf("failed to focus %s: %w", target.Name, err)
	}
	if err := el.Clear(); err != nil {
		return fmt.Errorf("failed to clear %s: %w", target.Name, err)
	}
	if err := typist.Type(ctx, el, value); err != nil {
		return fmt.Errorf("failed to type into %s: %w", target.Name, err)
	}
	return nil
}

// classify maps the page reached after submitting the form to the next
// state. A captcha wins over every other marker.
func (a *Authenticator) classify(ctx context.Context) (State, string) {
	current := a.page.URL()
	switch {
	case a.isCaptcha(ctx, current):
		return StateFailed, "captcha challenge is not supported"
	case containsAny(current, a.opts.Markers.Challenge):
		return StateChallenged, "verification challenge"
	case a.landed(current):
		return StateVerified, "logged in"
	case strings.Contains(current, "login"):
		return StateFailed, "login rejected; check LINKEDIN_EMAIL and LINKEDIN_PASSWORD"
	default:
		return StateFailed, fmt.Sprintf("unrecognized page after login: %s", current)
	}
}

func (a *Authenticator) isCaptcha(ctx context.Context, current string) bool {
	if containsAny(current, a.opts.Markers.Captcha) {
		return true
	}
	if len(a.opts.Targets.Captcha.Selectors) == 0 {
		return false
	}
	return browser.Present(ctx, a.page, a.opts.Targets.Captcha, a.opts.CaptchaWait)
}

// landed reports whether current is a post-login page. A URL that still
// carries a challenge marker has not landed.
func (a *Authenticator) landed(current string) bool {
	if containsAny(current, a.opts.Markers.Challenge) {
		return false
	}
	return containsAny(urlPath(current), a.opts.Markers.Landing)
}

func (a *Authenticator) pollChallenge(ctx context.Context) Outcome {
	a.log.Warnf("Login challenge at %s, waiting up to %s for it to be resolved",
		a.page.URL(), time.Duration(a.opts.MaxPolls)*a.opts.PollInterval)

	var result Outcome
	polls, err := clock.Poll(ctx, a.clock, a.opts.PollInterval, a.opts.MaxPolls, func(ctx context.Context, attempt int) (bool, error) {
		current := a.page.URL()
		a.log.Debugf("challenge poll %d/%d: %s", attempt, a.opts.MaxPolls, current)
		switch {
		case a.isCaptcha(ctx, current):
			result = Outcome{State: StateFailed, Reason: "captcha challenge is not supported"}
			return true, nil
		case a.landed(current):
			result = Outcome{State: StateVerified, Reason: "challenge resolved"}
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		reason := err.Error()
		if errors.Is(err, clock.ErrPollExhausted) {
			reason = fmt.Sprintf("challenge not resolved after %d polls", polls)
		}
		return Outcome{State: StateFailed, Reason: reason, Polls: polls}
	}

	result.Polls = polls
	if result.State == StateVerified {
		result.Saved = a.store.Save(ctx, a.page)
	}
	return result
}

func (a *Authenticator) transition(s State) {
	a.log.Debugf("auth: %s -> %s", a.state, s)
	a.state = s
}

func (a *Authenticator) finish(o Outcome) Outcome {
	a.transition(o.State)
	if o.State.Success() {
		a.log.Infof("Authenticated (%s)", o.Reason)
	} else {
		a.log.Errorf("Authentication failed: %s", o.Reason)
	}
	return o
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// urlPath returns the path of raw, or raw itself when it does not parse.
func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}
