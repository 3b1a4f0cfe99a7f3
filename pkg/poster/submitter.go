// Package poster publishes a post through the LinkedIn feed composer.
//
// Submit walks a fixed sequence of UI steps: open the composer, enter the
// text, optionally attach one media file, and click Post. Each step resolves
// its element from an ordered candidate list, so markup changes on one
// selector fall through to the next. The page must already be authenticated.
package poster

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/entrhq/postforge/pkg/browser"
	"github.com/entrhq/postforge/pkg/clock"
	"github.com/entrhq/postforge/pkg/logging"
)

// Step names a stage of a submission. Failures report the step they
// stopped at.
type Step string

const (
	StepValidate Step = "validate"
	StepCompose  Step = "compose"
	StepText     Step = "text"
	StepMedia    Step = "media"
	StepSubmit   Step = "submit"
	StepConfirm  Step = "confirm"
)

// Request is one post to publish.
type Request struct {
	Text string

	// MediaPath is an optional image or video attached to the post.
	MediaPath string
}

// Validate checks the request before the browser is touched.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return errors.New("post text is empty")
	}
	if !utf8.ValidString(r.Text) {
		return errors.New("post text is not valid UTF-8")
	}
	if r.MediaPath == "" {
		return nil
	}
	info, err := os.Stat(r.MediaPath)
	if err != nil {
		return fmt.Errorf("media file %s: %w", r.MediaPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("media file %s is a directory", r.MediaPath)
	}
	return nil
}

// Result is the outcome of Submit.
type Result struct {
	Success bool
	Message string
	Step    Step

	// Confirmed is true when the success toast was seen. It is advisory.
	Confirmed bool
}

// Targets are the composer elements.
type Targets struct {
	ComposeTrigger browser.Target
	Composer       browser.Target
	AddMedia       browser.Target
	FileInput      browser.Target
	UploadPreview  browser.Target
	MediaNext      browser.Target
	Submit         browser.Target
	SuccessToast   browser.Target
}

// Options configures a Submitter.
type Options struct {
	// ElementWait bounds the resolution of each candidate.
	ElementWait time.Duration

	// UploadWait bounds the wait for the media preview after a file is set.
	UploadWait time.Duration

	// ToastWait bounds the success toast probe.
	ToastWait time.Duration

	// StepPause is slept between steps so the composer can animate.
	StepPause time.Duration

	// Settle is slept after clicking Post.
	Settle time.Duration

	// HumanTyping types the text per character instead of filling it.
	HumanTyping    bool
	TypingMinDelay time.Duration
	TypingMaxDelay time.Duration

	Targets Targets
}

// DefaultOptions returns the composer settings for the LinkedIn feed.
func DefaultOptions() Options {
	return Options{
		ElementWait:    10 * time.Second,
		UploadWait:     30 * time.Second,
		ToastWait:      5 * time.Second,
		StepPause:      2 * time.Second,
		Settle:         5 * time.Second,
		HumanTyping:    true,
		TypingMinDelay: 50 * time.Millisecond,
		TypingMaxDelay: 150 * time.Millisecond,
		Targets:        DefaultTargets(),
	}
}

// DefaultTargets returns candidate selectors for the feed composer.
func DefaultTargets() Targets {
	return Targets{
		ComposeTrigger: browser.Target{Name: "compose trigger", Selectors: []string{
			"button.share-box-feed-entry__trigger",
			"xpath=//button//strong[text()='Start a post']",
			"button:has-text('Start a post')",
			"div.share-box-feed-entry__top-bar button",
			"[data-control-name='share.sharebox_focus']",
		}},
		Composer: browser.Target{Name: "composer", Selectors: []string{
			"div.ql-editor",
			"xpath=//div[contains(@class,'ql-editor')]",
			"div[role='textbox'][contenteditable='true']",
			"div.share-creation-state__text-editor div[contenteditable='true']",
			"[data-placeholder='What do you want to talk about?']",
		}},
		AddMedia: browser.Target{Name: "add media button", Selectors: []string{
			"button[aria-label='Add media']",
			"button[aria-label='Add a photo']",
			"button.share-promoted-detour-button",
			"xpath=//button[.//span[text()='Add media']]",
			"button:has-text('Media')",
		}},
		FileInput: browser.Target{Name: "file input", State: browser.StateAttached, Selectors: []string{
			"input[type='file'][accept*='image']",
			"input#media-editor-file-selector__file-input",
			"input.media-editor-file-selector__upload-media-input",
			"input[type='file']",
			"xpath=//input[@type='file']",
		}},
		UploadPreview: browser.Target{Name: "upload preview", Selectors: []string{
			"div.share-media-editor__preview img",
			"div.image-sharing-detour-container img",
			"img.media-editor-image",
			"div.share-box-image-preview img",
			"[data-test-media-preview]",
		}},
		MediaNext: browser.Target{Name: "media next button", Selectors: []string{
			"button.share-box-footer__primary-btn",
			"button[aria-label='Next']",
			"xpath=//button[.//span[text()='Next']]",
			"button:has-text('Next')",
			"button:has-text('Done')",
		}},
		Submit: browser.Target{Name: "post button", Selectors: []string{
			"button.share-actions__primary-action",
			"xpath=//button[contains(@class,'share-actions__primary-action')]//span[text()='Post']",
			"button[aria-label='Post']",
			"xpath=//button[contains(., 'Post')]",
			"button:has-text('Post')",
		}},
		SuccessToast: browser.Target{Name: "success toast", Selectors: []string{
			"div.artdeco-toast-item--visible",
			"div[data-test-artdeco-toast-item-type='success']",
			"xpath=//*[contains(text(),'Post successful')]",
			"p.artdeco-toast-item__message",
			"a:has-text('View post')",
		}},
	}
}

// Option customizes a Submitter.
type Option func(*Submitter)

// WithClock sets the clock used for pauses and typing.
func WithClock(c clock.Clock) Option {
	return func(s *Submitter) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Submitter) {
		s.log = l
	}
}

// WithRand sets the source of typing delays.
func WithRand(r *rand.Rand) Option {
	return func(s *Submitter) {
		s.rand = r
	}
}

// Submitter publishes posts on an authenticated page.
type Submitter struct {
	page  browser.Page
	opts  Options
	clock clock.Clock
	log   *logging.Logger
	rand  *rand.Rand
}

// New creates a submitter for page.
func New(page browser.Page, opts Options, options ...Option) *Submitter {
	s := &Submitter{page: page, opts: opts}
	for _, opt := range options {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.rand == nil {
		s.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s
}

// stepError carries the step a submission failed at.
type stepError struct {
	step Step
	err  error
}

func (e *stepError) Error() string {
	return fmt.Sprintf("%s step failed: %v", e.step, e.err)
}

func (e *stepError) Unwrap() error {
	return e.err
}

// Submit publishes req. It never panics on UI failures; every error is
// reported as an unsuccessful Result naming the step.
func (s *Submitter) Submit(ctx context.Context, req Request) Result {
	if err := req.Validate(); err != nil {
		return s.fail(&stepError{step: StepValidate, err: err})
	}

	steps := []struct {
		step Step
		run  func(context.Context, Request) error
	}{
		{StepCompose, s.openComposer},
		{StepText, s.enterText},
		{StepMedia, s.attachMedia},
		{StepSubmit, s.publish},
	}

	for _, st := range steps {
		if st.step == StepMedia && req.MediaPath == "" {
			continue
		}
		s.log.Debugf("poster: %s", st.step)
		if err := st.run(ctx, req); err != nil {
			return s.fail(&stepError{step: st.step, err: err})
		}
	}

	confirmed := s.confirm(ctx)
	msg := "Post published"
	if !confirmed {
		msg = "Post submitted (no confirmation toast seen)"
	}
	s.log.Infof("%s", msg)
	return Result{Success: true, Message: msg, Step: StepConfirm, Confirmed: confirmed}
}

func (s *Submitter) fail(err *stepError) Result {
	s.log.Errorf("post failed: %v", err)
	return Result{Success: false, Message: err.Error(), Step: err.step}
}

func (s *Submitter) openComposer(ctx context.Context, _ Request) error {
	if err := s.click(ctx, s.opts.Targets.ComposeTrigger); err != nil {
		return err
	}
	return s.clock.Sleep(ctx, s.opts.StepPause)
}

func (s *Submitter) enterText(ctx context.Context, req Request) error {
	editor, err := browser.Resolve(ctx, s.page, s.opts.Targets.Composer, s.opts.ElementWait)
	if err != nil {
		return err
	}
	if err := editor.Click(s.opts.ElementWait); err != nil {
		return fmt.Errorf("failed to focus composer: %w", err)
	}
	if err := editor.Clear(); err != nil {
		return fmt.Errorf("failed to clear composer: %w", err)
	}

	if s.opts.HumanTyping {
		typist := &browser.Typist{
			Clock:    s.clock,
			Rand:     s.rand,
			MinDelay: s.opts.TypingMinDelay,
			MaxDelay: s.opts.TypingMaxDelay,
		}
		err = typist.Type(ctx, editor, req.Text)
	} else {
		err = editor.Fill(req.Text)
	}
	if err != nil {
		return fmt.Errorf("failed to enter text: %w", err)
	}
	return s.clock.Sleep(ctx, s.opts.StepPause)
}

func (s *Submitter) attachMedia(ctx context.Context, req Request) error {
	path, err := filepath.Abs(req.MediaPath)
	if err != nil {
		return fmt.Errorf("failed to resolve media path: %w", err)
	}

	if err := s.click(ctx, s.opts.Targets.AddMedia); err != nil {
		return err
	}

	input, err := browser.Resolve(ctx, s.page, s.opts.Targets.FileInput, s.opts.ElementWait)
	if err != nil {
		return err
	}
	if err := input.SetFiles(path); err != nil {
		return fmt.Errorf("failed to set media file: %w", err)
	}

	if _, err := browser.Resolve(ctx, s.page, s.opts.Targets.UploadPreview, s.opts.UploadWait); err != nil {
		return fmt.Errorf("upload did not complete: %w", err)
	}

	if err := s.click(ctx, s.opts.Targets.MediaNext); err != nil {
		return err
	}
	return s.clock.Sleep(ctx, s.opts.StepPause)
}

func (s *Submitter) publish(ctx context.Context, _ Request) error {
	return s.click(ctx, s.opts.Targets.Submit)
}

func (s *Submitter) confirm(ctx context.Context) bool {
	if err := s.clock.Sleep(ctx, s.opts.Settle); err != nil {
		return false
	}
	return browser.Present(ctx, s.page, s.opts.Targets.SuccessToast, s.opts.ToastWait)
}

func (s *Submitter) click(ctx context.Context, target browser.Target) error {
	el, err := browser.Resolve(ctx, s.page, target, s.opts.ElementWait)
	if err != nil {
		return err
	}
	if err := el.Click(s.opts.ElementWait); err != nil {
		return fmt.Errorf("failed to click %s: %w", target.Name, err)
	}
	return nil
}
