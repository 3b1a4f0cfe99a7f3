package runner

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/postforge/pkg/auth"
	"github.com/entrhq/postforge/pkg/browser"
	"github.com/entrhq/postforge/pkg/browser/browsertest"
	"github.com/entrhq/postforge/pkg/clock"
	"github.com/entrhq/postforge/pkg/config"
	"github.com/entrhq/postforge/pkg/llm"
)

const (
	feedURL  = "https://www.linkedin.com/feed/"
	trigger  = "button.share-box-feed-entry__trigger"
	editor   = "div.ql-editor"
	addMedia = "button[aria-label='Add media']"
	file     = "input[type='file'][accept*='image']"
	preview  = "div.share-media-editor__preview img"
	next     = "button.share-box-footer__primary-btn"
	post     = "button.share-actions__primary-action"
	toast    = "div.artdeco-toast-item--visible"
)

var testCreds = auth.Credentials{Email: "member@example.com", Password: "hunter2"}

// site models the login form and the feed composer on one page. Signing in
// lands on landing.
func site(landing string) *browsertest.Page {
	page := browsertest.NewPage()
	page.SetCookies([]browser.Cookie{{Name: "li_at", Value: "member-token", Domain: ".linkedin.com", Path: "/"}})
	page.Add("#username")
	page.Add("#password")
	page.Add("button[type='submit']").OnClick(func() { page.SetURL(landing) })

	composer := page.Add(editor, browsertest.Hidden())
	page.Add(trigger).OnClick(composer.Show)
	page.Add(addMedia).OnClick(func() {
		page.Add(file, browsertest.Hidden()).OnFiles(func([]string) {
			page.Add(preview)
		})
	})
	page.Add(next)
	page.Add(post).OnClick(func() { page.Add(toast) })
	return page
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Browser.Headless = true
	cfg.Browser.ProfileDir = filepath.Join(dir, "profile")
	cfg.Session.Path = filepath.Join(dir, "session.json")
	cfg.Session.PortableEnv = "POSTFORGE_RUNNER_TEST_SESSION"
	cfg.Image.OutputDir = filepath.Join(dir, "images")
	cfg.Typing.MinDelay = time.Millisecond
	cfg.Typing.MaxDelay = time.Millisecond
	return cfg
}

func newRunner(t *testing.T, cfg *config.Config, launcher *browsertest.Launcher, opts ...Option) *Runner {
	t.Helper()
	opts = append([]Option{
		WithClock(clock.NewFake(time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC))),
		WithCredentials(testCreds),
	}, opts...)
	r, err := New(cfg, launcher, opts...)
	require.NoError(t, err)
	return r
}

type fakeImages struct {
	path    string
	err     error
	prompts []string
}

func (f *fakeImages) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.path, f.err
}

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "generated.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n"), 0644))
	return path
}

func TestNew_Validates(t *testing.T) {
	launcher := browsertest.NewLauncher(browsertest.NewPage())

	_, err := New(nil, launcher)
	require.Error(t, err)

	_, err = New(config.DefaultConfig(), nil)
	require.Error(t, err)

	cfg := config.DefaultConfig()
	cfg.Challenge.MaxPolls = 0
	_, err = New(cfg, launcher)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestPost_FreshLoginPublishes(t *testing.T) {
	cfg := testConfig(t)
	page := site(feedURL)
	launcher := browsertest.NewLauncher(page)

	rep := newRunner(t, cfg, launcher).Post(context.Background(), Job{Text: "Hello network"})

	require.True(t, rep.Success, rep.Message)
	assert.Equal(t, "Post published", rep.Message)
	assert.Equal(t, string(auth.StateVerified), rep.AuthState)
	assert.True(t, rep.SessionSaved)
	assert.True(t, rep.Confirmed)
	assert.NotEmpty(t, rep.RunID)
	assert.Empty(t, rep.Stage)

	assert.Equal(t, 1, launcher.Launches())
	assert.Equal(t, 1, launcher.Closes())
	opts := launcher.LastOptions()
	assert.True(t, opts.Headless)
	assert.Equal(t, cfg.Browser.ProfileDir, opts.ProfileDir)
	assert.Equal(t, 1280, opts.Viewport.Width)

	assert.FileExists(t, cfg.Session.Path)
	assert.Equal(t, "Hello network", page.Element(editor).Value())
}

func TestPost_MissingCredentialsNeverLaunches(t *testing.T) {
	cfg := testConfig(t)
	launcher := browsertest.NewLauncher(site(feedURL))
	images := &fakeImages{path: writeImage(t)}

	r := newRunner(t, cfg, launcher, WithCredentials(auth.Credentials{Email: "member@example.com"}), WithImageGenerator(images))
	rep := r.Post(context.Background(), Job{Text: "Hello", ImagePrompt: "a lighthouse"})

	assert.False(t, rep.Success)
	assert.Equal(t, StageCredentials, rep.Stage)
	assert.ErrorIs(t, rep.Err, auth.ErrMissingCredentials)
	assert.Equal(t, 0, launcher.Launches())
	assert.Empty(t, images.prompts, "no image is generated for a run that cannot post")
}

func TestPost_LaunchFailure(t *testing.T) {
	launchErr := errors.New("chromium not installed")
	launcher := browsertest.NewLauncher(site(feedURL))
	launcher.FailWith(launchErr)

	rep := newRunner(t, testConfig(t), launcher).Post(context.Background(), Job{Text: "Hello"})

	assert.False(t, rep.Success)
	assert.Equal(t, StageLaunch, rep.Stage)
	assert.ErrorIs(t, rep.Err, launchErr)
	assert.Contains(t, rep.Message, "failed to launch browser")
	assert.Equal(t, 0, launcher.Closes())
}

func TestPost_InvalidRequestNeverLaunches(t *testing.T) {
	launcher := browsertest.NewLauncher(site(feedURL))
	r := newRunner(t, testConfig(t), launcher)

	rep := r.Post(context.Background(), Job{Text: "Hello", MediaPath: filepath.Join(t.TempDir(), "missing.png")})

	assert.Equal(t, StageValidate, rep.Stage)
	assert.Equal(t, 0, launcher.Launches())

	rep = r.Post(context.Background(), Job{Text: "   "})
	assert.Equal(t, StageValidate, rep.Stage)
}

func TestPost_ImageFailureContinuesTextOnly(t *testing.T) {
	page := site(feedURL)
	launcher := browsertest.NewLauncher(page)
	images := &fakeImages{err: errors.New("quota exceeded")}

	rep := newRunner(t, testConfig(t), launcher, WithImageGenerator(images)).
		Post(context.Background(), Job{Text: "Hello", ImagePrompt: "a lighthouse at dawn"})

	require.True(t, rep.Success, rep.Message)
	assert.Equal(t, []string{"a lighthouse at dawn"}, images.prompts)
	assert.Empty(t, rep.MediaPath)
	require.Len(t, rep.Warnings, 1)
	assert.Contains(t, rep.Warnings[0], "quota exceeded")
	assert.Empty(t, page.ActionsOf(browsertest.ActionFiles))
}

func TestPost_GeneratedImageIsAttached(t *testing.T) {
	page := site(feedURL)
	launcher := browsertest.NewLauncher(page)
	images := &fakeImages{path: writeImage(t)}

	rep := newRunner(t, testConfig(t), launcher, WithImageGenerator(images)).
		Post(context.Background(), Job{Text: "Hello", ImagePrompt: "a lighthouse"})

	require.True(t, rep.Success, rep.Message)
	assert.Equal(t, images.path, rep.MediaPath)
	assert.Equal(t, []string{images.path}, page.Element(file).Files())
}

func TestPost_ExistingMediaSkipsGeneration(t *testing.T) {
	images := &fakeImages{path: "unused"}
	media := writeImage(t)

	rep := newRunner(t, testConfig(t), browsertest.NewLauncher(site(feedURL)), WithImageGenerator(images)).
		Post(context.Background(), Job{Text: "Hello", MediaPath: media, ImagePrompt: "ignored"})

	require.True(t, rep.Success, rep.Message)
	assert.Empty(t, images.prompts)
	assert.Equal(t, media, rep.MediaPath)
}

func TestPost_AuthFailureReleasesBrowser(t *testing.T) {
	cfg := testConfig(t)
	launcher := browsertest.NewLauncher(site("https://www.linkedin.com/login?error=true"))

	rep := newRunner(t, cfg, launcher).Post(context.Background(), Job{Text: "Hello"})

	assert.False(t, rep.Success)
	assert.Equal(t, StageAuth, rep.Stage)
	assert.Equal(t, string(auth.StateFailed), rep.AuthState)
	assert.Contains(t, rep.Message, "login rejected")
	assert.False(t, rep.SessionSaved)
	assert.Equal(t, 1, launcher.Closes())
	assert.NoFileExists(t, cfg.Session.Path)
}

func TestPost_SubmitFailureReportsStepAndKeepsSession(t *testing.T) {
	cfg := testConfig(t)
	page := site(feedURL)
	page.Remove(post)
	launcher := browsertest.NewLauncher(page)

	rep := newRunner(t, cfg, launcher).Post(context.Background(), Job{Text: "Hello"})

	assert.False(t, rep.Success)
	assert.Equal(t, "submit", rep.Stage)
	assert.Contains(t, rep.Message, "submit step failed")
	assert.True(t, rep.SessionSaved)
	assert.FileExists(t, cfg.Session.Path)
	assert.Equal(t, 1, launcher.Closes())
}

func TestPost_ReplaysSavedSession(t *testing.T) {
	cfg := testConfig(t)
	r := newRunner(t, cfg, browsertest.NewLauncher(site(feedURL)))
	require.True(t, r.Post(context.Background(), Job{Text: "first"}).Success)

	// The second run must not need the login form.
	page := site(feedURL)
	page.Remove("#username")
	rep := newRunner(t, cfg, browsertest.NewLauncher(page)).Post(context.Background(), Job{Text: "second"})

	require.True(t, rep.Success, rep.Message)
	assert.Equal(t, string(auth.StateReplayVerified), rep.AuthState)
}

// scriptedProvider answers each Complete call with the next reply.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
}

func (p *scriptedProvider) StreamCompletion(ctx context.Context, messages []llm.Message) (<-chan *llm.StreamChunk, error) {
	return nil, errors.New("not used")
}

func (p *scriptedProvider) Complete(ctx context.Context, messages []llm.Message) (*llm.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if len(p.replies) == 0 {
		return nil, errors.New("no scripted reply left")
	}
	msg := llm.AssistantMessage(p.replies[0])
	p.replies = p.replies[1:]
	return &msg, nil
}

func (p *scriptedProvider) GetModel() string { return "scripted" }

func TestPipeline_GeneratesImageAndPosts(t *testing.T) {
	page := site(feedURL)
	images := &fakeImages{path: writeImage(t)}
	provider := &scriptedProvider{replies: []string{
		"trend",
		"brief",
		"Edge inference is here.",
		"a glowing chip on a desk",
	}}

	rep := newRunner(t, testConfig(t), browsertest.NewLauncher(page),
		WithProvider(provider), WithImageGenerator(images)).
		Pipeline(context.Background(), PipelineJob{Topic: "AI hardware", GenerateImage: true})

	require.True(t, rep.Success, rep.Message)
	assert.Equal(t, 4, provider.calls)
	assert.Equal(t, "Edge inference is here.", rep.Text)
	assert.Equal(t, []string{"a glowing chip on a desk"}, images.prompts)
	assert.Equal(t, images.path, rep.MediaPath)
	assert.Equal(t, "Edge inference is here.", page.Element(editor).Value())
}

func TestPipeline_WithoutImage(t *testing.T) {
	images := &fakeImages{path: writeImage(t)}
	provider := &scriptedProvider{replies: []string{"a", "b", "post text", "prompt"}}

	rep := newRunner(t, testConfig(t), browsertest.NewLauncher(site(feedURL)),
		WithProvider(provider), WithImageGenerator(images)).
		Pipeline(context.Background(), PipelineJob{Topic: "AI"})

	require.True(t, rep.Success, rep.Message)
	assert.Empty(t, images.prompts)
	assert.Empty(t, rep.ImagePrompt)
}

func TestPipeline_ContentFailureNeverLaunches(t *testing.T) {
	launcher := browsertest.NewLauncher(site(feedURL))
	provider := &scriptedProvider{err: errors.New("model unavailable")}

	rep := newRunner(t, testConfig(t), launcher, WithProvider(provider)).
		Pipeline(context.Background(), PipelineJob{Topic: "AI"})

	assert.False(t, rep.Success)
	assert.Equal(t, StageContent, rep.Stage)
	assert.Contains(t, rep.Message, "model unavailable")
	assert.Equal(t, 0, launcher.Launches())
}

func TestPipeline_MissingCredentialsSpendsNoTokens(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"a"}}

	rep := newRunner(t, testConfig(t), browsertest.NewLauncher(site(feedURL)),
		WithProvider(provider), WithCredentials(auth.Credentials{})).
		Pipeline(context.Background(), PipelineJob{Topic: "AI"})

	assert.Equal(t, StageCredentials, rep.Stage)
	assert.Equal(t, 0, provider.calls)
}

func TestSessionCommands(t *testing.T) {
	cfg := testConfig(t)
	r := newRunner(t, cfg, browsertest.NewLauncher(site(feedURL)))

	_, err := r.ExportSession()
	require.Error(t, err)

	require.True(t, r.Post(context.Background(), Job{Text: "Hello"}).Success)

	encoded, err := r.ExportSession()
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)

	require.NoError(t, r.ResetSession())
	assert.NoFileExists(t, cfg.Session.Path)
	require.NoError(t, r.ResetSession())

	require.Error(t, r.ImportSession("definitely not base64!"))
	require.NoError(t, r.ImportSession(encoded))
	assert.FileExists(t, cfg.Session.Path)
}

func TestReport_WriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.json")
	rep := fail(Report{RunID: "abc"}, StageAuth, errors.New("captcha challenge is not supported"))
	rep.warn("image generation failed: %s", "timeout")

	require.NoError(t, rep.WriteJSON(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, false, decoded["success"])
	assert.Equal(t, "auth", decoded["stage"])
	assert.Equal(t, "captcha challenge is not supported", decoded["message"])
	assert.NotContains(t, string(data), "Err")
	assert.Contains(t, string(data), "image generation failed: timeout")
}
