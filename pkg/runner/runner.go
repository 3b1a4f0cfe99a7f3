// Package runner wires configuration into a complete postforge run: it
// checks credentials, optionally generates content and an image, launches
// the browser, authenticates and submits the post, and always releases the
// browser before returning a Report.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/entrhq/postforge/pkg/auth"
	"github.com/entrhq/postforge/pkg/browser"
	"github.com/entrhq/postforge/pkg/clock"
	"github.com/entrhq/postforge/pkg/config"
	"github.com/entrhq/postforge/pkg/imagegen"
	"github.com/entrhq/postforge/pkg/llm"
	"github.com/entrhq/postforge/pkg/llm/openai"
	"github.com/entrhq/postforge/pkg/logging"
	"github.com/entrhq/postforge/pkg/pipeline"
	"github.com/entrhq/postforge/pkg/poster"
	"github.com/entrhq/postforge/pkg/session"
)

// Job is one post to publish.
type Job struct {
	Text      string
	MediaPath string

	// ImagePrompt, when set and MediaPath is empty, generates an image to
	// attach. A failed generation posts the text alone.
	ImagePrompt string
}

// PipelineJob generates the post from a topic before publishing it.
type PipelineJob struct {
	Topic         string
	GenerateImage bool

	// MediaPath attaches an existing file instead of generating one.
	MediaPath string
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock sets the clock passed to every component.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithLogger sets the logger. Components log under their own tag.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithCredentials overrides LINKEDIN_EMAIL and LINKEDIN_PASSWORD.
func WithCredentials(c auth.Credentials) Option {
	return func(r *Runner) { r.creds = &c }
}

// WithImageGenerator replaces the generator built from the image section.
func WithImageGenerator(g imagegen.Generator) Option {
	return func(r *Runner) { r.images = g }
}

// WithProvider replaces the text model built from the llm section.
func WithProvider(p llm.Provider) Option {
	return func(r *Runner) { r.provider = p }
}

// WithFetcher replaces the pipeline's source fetcher.
func WithFetcher(f pipeline.SourceFetcher) Option {
	return func(r *Runner) { r.fetcher = f }
}

// Runner executes jobs against a browser launcher.
type Runner struct {
	cfg      *config.Config
	launcher browser.Launcher
	clock    clock.Clock
	log      *logging.Logger
	creds    *auth.Credentials
	images   imagegen.Generator
	provider llm.Provider
	fetcher  pipeline.SourceFetcher
}

// New validates cfg and creates a runner.
func New(cfg *config.Config, launcher browser.Launcher, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("runner requires a configuration")
	}
	if launcher == nil {
		return nil, errors.New("runner requires a browser launcher")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	r := &Runner{cfg: cfg, launcher: launcher}
	for _, opt := range opts {
		opt(r)
	}
	if r.clock == nil {
		r.clock = clock.New()
	}
	return r, nil
}

// Post publishes job.
func (r *Runner) Post(ctx context.Context, job Job) (rep Report) {
	rep = r.begin()
	defer r.end(&rep)
	return r.publish(ctx, job, rep)
}

func (r *Runner) publish(ctx context.Context, job Job, start Report) (rep Report) {
	rep = start
	rep.Text = job.Text
	rep.MediaPath = job.MediaPath
	rep.ImagePrompt = job.ImagePrompt

	creds := r.credentials()
	if err := creds.Validate(); err != nil {
		return fail(rep, StageCredentials, err)
	}

	if job.MediaPath == "" && strings.TrimSpace(job.ImagePrompt) != "" {
		path, err := r.generateImage(ctx, job.ImagePrompt)
		if err != nil {
			r.log.Warnf("image generation failed, posting text only: %v", err)
			rep.warn("image generation failed: %v", err)
		} else {
			job.MediaPath = path
			rep.MediaPath = path
		}
	}

	req := poster.Request{Text: job.Text, MediaPath: job.MediaPath}
	if err := req.Validate(); err != nil {
		return fail(rep, StageValidate, err)
	}

	storeOpts := sessionOptions(r.cfg)
	storeOpts.Clock = r.clock
	storeOpts.Logger = r.log.WithComponent("session")
	store, err := session.NewStore(storeOpts)
	if err != nil {
		return fail(rep, StageAuth, err)
	}

	r.log.Infof("launching browser (headless=%t, profile=%s)", r.cfg.Browser.Headless, r.cfg.Browser.ProfileDir)
	handle, err := r.launcher.Launch(ctx, launchOptions(r.cfg))
	if err != nil {
		return fail(rep, StageLaunch, fmt.Errorf("failed to launch browser: %w", err))
	}
	page := handle.Page()

	authenticator := auth.New(page, store,
		authOptions(r.cfg, os.Getenv(r.cfg.Session.PortableEnv)),
		auth.WithClock(r.clock),
		auth.WithLogger(r.log.WithComponent("auth")),
	)
	defer r.teardown(ctx, handle, store, authenticator, &rep)

	outcome := authenticator.Attempt(ctx, creds)
	rep.AuthState = string(outcome.State)
	rep.SessionSaved = outcome.Saved
	if !outcome.State.Success() {
		return fail(rep, StageAuth, fmt.Errorf("authentication failed: %s", outcome.Reason))
	}

	submitter := poster.New(page, posterOptions(r.cfg),
		poster.WithClock(r.clock),
		poster.WithLogger(r.log.WithComponent("poster")),
	)
	res := submitter.Submit(ctx, req)
	rep.Confirmed = res.Confirmed
	if !res.Success {
		return fail(rep, string(res.Step), errors.New(res.Message))
	}

	rep.Success = true
	rep.Message = res.Message
	return rep
}

// Pipeline generates a post about job.Topic and publishes it.
func (r *Runner) Pipeline(ctx context.Context, job PipelineJob) (rep Report) {
	rep = r.begin()
	defer r.end(&rep)

	// Credentials are checked before any model call is spent.
	if err := r.credentials().Validate(); err != nil {
		return fail(rep, StageCredentials, err)
	}

	out, err := r.Generate(ctx, job.Topic)
	if err != nil {
		return fail(rep, StageContent, err)
	}

	post := Job{Text: out.Post, MediaPath: job.MediaPath}
	if job.GenerateImage && job.MediaPath == "" {
		post.ImagePrompt = out.ImagePrompt
		if post.ImagePrompt == "" {
			rep.warn("pipeline produced no image prompt")
		}
	}

	return r.publish(ctx, post, rep)
}

// Generate runs the content pipeline without publishing.
func (r *Runner) Generate(ctx context.Context, topic string) (*pipeline.Output, error) {
	provider, err := r.textProvider()
	if err != nil {
		return nil, err
	}

	defs, err := pipeline.LoadDefinitions(r.cfg.Pipeline.AgentsFile, r.cfg.Pipeline.TasksFile)
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithClock(r.clock),
		pipeline.WithLogger(r.log.WithComponent("pipeline")),
		pipeline.WithStageDelay(r.cfg.Pipeline.StageDelay),
	}
	if r.fetcher != nil {
		opts = append(opts, pipeline.WithFetcher(r.fetcher))
	}

	p, err := pipeline.New(provider, defs, opts...)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, pipeline.Inputs{Topic: topic})
}

// ExportSession returns the stored session in portable form.
func (r *Runner) ExportSession() (string, error) {
	store, err := session.NewStore(sessionOptions(r.cfg))
	if err != nil {
		return "", err
	}
	return store.ExportPortable()
}

// ImportSession stores a portable session string.
func (r *Runner) ImportSession(encoded string) error {
	store, err := session.NewStore(sessionOptions(r.cfg))
	if err != nil {
		return err
	}
	return store.ImportPortable(encoded)
}

// ResetSession deletes the stored session.
func (r *Runner) ResetSession() error {
	store, err := session.NewStore(sessionOptions(r.cfg))
	if err != nil {
		return err
	}
	return store.Clear()
}

func (r *Runner) credentials() auth.Credentials {
	if r.creds != nil {
		return *r.creds
	}
	return auth.CredentialsFromEnv()
}

func (r *Runner) generateImage(ctx context.Context, prompt string) (string, error) {
	g := r.images
	if g == nil {
		key := config.ResolveAPIKey("", r.cfg.Image.APIKeyEnv, r.cfg.Image.APIKey)
		built, err := imagegen.New(r.cfg.Image, key)
		if err != nil {
			return "", err
		}
		g = built
	}

	r.log.Infof("generating image")
	path, err := g.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	r.log.Infof("image written to %s", path)
	return path, nil
}

func (r *Runner) textProvider() (llm.Provider, error) {
	if r.provider != nil {
		return r.provider, nil
	}

	key := config.ResolveAPIKey("", r.cfg.LLM.APIKeyEnv, r.cfg.LLM.APIKey)
	return openai.NewProvider(key,
		openai.WithModel(r.cfg.LLM.Model),
		openai.WithBaseURL(r.cfg.LLM.BaseURL),
		openai.WithTemperature(r.cfg.LLM.Temperature),
		openai.WithRateLimit(r.cfg.LLM.MaxRPM),
	)
}

// teardown saves a still-authenticated session and releases the browser.
// The save runs even when ctx has been cancelled.
func (r *Runner) teardown(ctx context.Context, handle browser.Handle, store *session.Store, a *auth.Authenticator, rep *Report) {
	if a.State().Success() {
		if store.Save(context.WithoutCancel(ctx), handle.Page()) {
			rep.SessionSaved = true
		}
	}
	if err := handle.Close(); err != nil {
		r.log.Warnf("failed to close browser: %v", err)
		rep.warn("failed to close browser: %v", err)
	}
}

func (r *Runner) begin() Report {
	return Report{RunID: uuid.NewString(), StartTime: r.clock.Now()}
}

func (r *Runner) end(rep *Report) {
	rep.EndTime = r.clock.Now()
	rep.Duration = rep.EndTime.Sub(rep.StartTime)
	if rep.Success {
		r.log.Infof("run %s succeeded: %s", rep.RunID, rep.Message)
	} else {
		r.log.Errorf("run %s failed at %s: %s", rep.RunID, rep.Stage, rep.Message)
	}
}

func fail(rep Report, stage string, err error) Report {
	rep.Success = false
	rep.Stage = stage
	rep.Err = err
	rep.Message = err.Error()
	return rep
}
