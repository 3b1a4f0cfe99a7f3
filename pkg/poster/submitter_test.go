package poster

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/entrhq/postforge/pkg/browser/browsertest"
	"github.com/entrhq/postforge/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	trigger  = "button.share-box-feed-entry__trigger"
	editor   = "div.ql-editor"
	addMedia = "button[aria-label='Add media']"
	file     = "input[type='file'][accept*='image']"
	preview  = "div.share-media-editor__preview img"
	next     = "button.share-box-footer__primary-btn"
	post     = "button.share-actions__primary-action"
	toast    = "div.artdeco-toast-item--visible"
)

// feedPage models the composer: the editor appears after the trigger is
// clicked, the preview after a file is set and the toast after posting.
func feedPage() *browsertest.Page {
	page := browsertest.NewPage()
	page.SetURL("https://www.linkedin.com/feed/")

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

func testOptions() Options {
	opts := DefaultOptions()
	opts.TypingMinDelay = time.Millisecond
	opts.TypingMaxDelay = time.Millisecond
	return opts
}

func newSubmitter(page *browsertest.Page, opts Options) (*Submitter, *clock.Fake) {
	fake := clock.NewFake(time.Unix(0, 0))
	return New(page, opts, WithClock(fake), WithRand(rand.New(rand.NewSource(7)))), fake
}

func mediaFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "x.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n"), 0644))
	return path
}

func interactions(page *browsertest.Page) []string {
	var out []string
	for _, a := range page.Actions() {
		out = append(out, a.String())
	}
	return out
}

func TestSubmit_TextOnlyRunsFourSteps(t *testing.T) {
	page := feedPage()
	s, _ := newSubmitter(page, testOptions())

	res := s.Submit(context.Background(), Request{Text: "Hello"})

	require.True(t, res.Success, res.Message)
	assert.True(t, res.Confirmed)
	assert.Equal(t, StepConfirm, res.Step)
	assert.Equal(t, "Post published", res.Message)
	assert.Equal(t, []string{
		"click " + trigger,
		"click " + editor,
		"clear " + editor,
		`type ` + editor + ` "Hello"`,
		"click " + post,
	}, interactions(page))
}

func TestSubmit_MediaBranchBetweenTextAndSubmit(t *testing.T) {
	page := feedPage()
	s, _ := newSubmitter(page, testOptions())
	path := mediaFile(t)

	res := s.Submit(context.Background(), Request{Text: "Hello", MediaPath: path})

	require.True(t, res.Success, res.Message)
	assert.Equal(t, []string{
		"click " + trigger,
		"click " + editor,
		"clear " + editor,
		`type ` + editor + ` "Hello"`,
		"click " + addMedia,
		"files " + file + ` "[` + path + `]"`,
		"click " + next,
		"click " + post,
	}, interactions(page))
	assert.Equal(t, []string{path}, page.Element(file).Files())
}

func TestSubmit_WaitsForUploadPreview(t *testing.T) {
	page := feedPage()
	// The file input accepts the file but the preview never renders.
	page.Element(addMedia).OnClick(func() { page.Add(file, browsertest.Hidden()) })

	s, _ := newSubmitter(page, testOptions())
	res := s.Submit(context.Background(), Request{Text: "Hello", MediaPath: mediaFile(t)})

	assert.False(t, res.Success)
	assert.Equal(t, StepMedia, res.Step)
	assert.Contains(t, res.Message, "upload did not complete")
	assert.Zero(t, page.Element(post).Clicks())
	assert.Zero(t, page.Element(next).Clicks())
}

func TestSubmit_StepIsolation(t *testing.T) {
	t.Run("no compose trigger", func(t *testing.T) {
		page := feedPage()
		page.Remove(trigger)
		s, _ := newSubmitter(page, testOptions())

		res := s.Submit(context.Background(), Request{Text: "Hello"})

		assert.False(t, res.Success)
		assert.Equal(t, StepCompose, res.Step)
		assert.Contains(t, res.Message, "could not locate compose trigger")
		assert.Empty(t, page.Actions())
		assert.NotContains(t, page.Finds(), editor)
	})

	t.Run("no composer", func(t *testing.T) {
		page := feedPage()
		page.Element(trigger).OnClick(nil)
		s, _ := newSubmitter(page, testOptions())

		res := s.Submit(context.Background(), Request{Text: "Hello"})

		assert.False(t, res.Success)
		assert.Equal(t, StepText, res.Step)
		assert.Zero(t, page.Element(post).Clicks())
	})

	t.Run("typing fails", func(t *testing.T) {
		page := feedPage()
		page.Remove(editor)
		composer := page.Add(editor, browsertest.Hidden(), browsertest.TypeError(errors.New("element detached")))
		page.Element(trigger).OnClick(composer.Show)
		s, _ := newSubmitter(page, testOptions())

		res := s.Submit(context.Background(), Request{Text: "Hello"})

		assert.False(t, res.Success)
		assert.Equal(t, StepText, res.Step)
		assert.Contains(t, res.Message, "element detached")
		assert.Zero(t, page.Element(post).Clicks())
	})
}

func TestSubmit_LocatedButUnclickable(t *testing.T) {
	page := feedPage()
	page.Remove(post)
	page.Add(post, browsertest.ClickError(errors.New("element is not enabled")))
	s, _ := newSubmitter(page, testOptions())

	res := s.Submit(context.Background(), Request{Text: "Hello"})

	assert.False(t, res.Success)
	assert.Equal(t, StepSubmit, res.Step)
	assert.Equal(t, "submit step failed: failed to click post button: element is not enabled", res.Message)
}

func TestSubmit_ToastIsAdvisory(t *testing.T) {
	page := feedPage()
	page.Element(post).OnClick(nil)
	s, fake := newSubmitter(page, testOptions())

	res := s.Submit(context.Background(), Request{Text: "Hi"})

	assert.True(t, res.Success)
	assert.False(t, res.Confirmed)
	assert.Contains(t, res.Message, "no confirmation toast")

	sleeps := fake.Sleeps()
	require.NotEmpty(t, sleeps)
	assert.Equal(t, 5*time.Second, sleeps[len(sleeps)-1], "settle delay precedes the toast probe")
}

func TestSubmit_BulkFill(t *testing.T) {
	page := feedPage()
	opts := testOptions()
	opts.HumanTyping = false
	s, fake := newSubmitter(page, opts)

	res := s.Submit(context.Background(), Request{Text: "Hello world"})

	require.True(t, res.Success)
	fills := page.ActionsOf(browsertest.ActionFill)
	require.Len(t, fills, 1)
	assert.Equal(t, "Hello world", fills[0].Value)
	assert.Empty(t, page.ActionsOf(browsertest.ActionType))
	// Two step pauses and the settle delay, no keystroke pauses.
	assert.Equal(t, 9*time.Second, fake.Slept())
}

func TestSubmit_AllCandidatesPresentUsesFirst(t *testing.T) {
	page := browsertest.NewPage()
	targets := DefaultTargets()
	for _, target := range []struct {
		name      string
		selectors []string
	}{
		{"trigger", targets.ComposeTrigger.Selectors},
		{"composer", targets.Composer.Selectors},
		{"submit", targets.Submit.Selectors},
		{"toast", targets.SuccessToast.Selectors},
	} {
		require.Len(t, target.selectors, 5, target.name)
		for _, sel := range target.selectors {
			page.Add(sel)
		}
	}

	s, _ := newSubmitter(page, testOptions())
	res := s.Submit(context.Background(), Request{Text: "Hello"})

	require.True(t, res.Success)
	assert.Equal(t, []string{
		targets.ComposeTrigger.Selectors[0],
		targets.Composer.Selectors[0],
		targets.Submit.Selectors[0],
		targets.SuccessToast.Selectors[0],
	}, page.Finds())
	assert.Empty(t, page.ActionsOf(browsertest.ActionFiles))
}

func TestSubmit_ValidationBeforeAnyStep(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{name: "empty text", req: Request{Text: "  \n"}, want: "post text is empty"},
		{name: "invalid utf-8", req: Request{Text: "caf\xe9 launch"}, want: "not valid UTF-8"},
		{name: "missing media", req: Request{Text: "Hello", MediaPath: "/nonexistent/x.png"}, want: "media file /nonexistent/x.png"},
		{name: "media is a directory", req: Request{Text: "Hello", MediaPath: os.TempDir()}, want: "is a directory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := feedPage()
			s, _ := newSubmitter(page, testOptions())

			res := s.Submit(context.Background(), tt.req)

			assert.False(t, res.Success)
			assert.Equal(t, StepValidate, res.Step)
			assert.Contains(t, res.Message, tt.want)
			assert.Empty(t, page.Actions())
			assert.Empty(t, page.Finds())
		})
	}
}

func TestSubmit_CancelledContext(t *testing.T) {
	page := feedPage()
	s, _ := newSubmitter(page, testOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := s.Submit(ctx, Request{Text: "Hello"})

	assert.False(t, res.Success)
	assert.Equal(t, StepCompose, res.Step)
	assert.Contains(t, res.Message, "context canceled")
}
