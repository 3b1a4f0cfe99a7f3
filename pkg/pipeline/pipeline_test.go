package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/postforge/pkg/clock"
	"github.com/entrhq/postforge/pkg/llm"
)

// scriptedProvider answers each Complete call with the next reply.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   [][]llm.Message
}

func (p *scriptedProvider) StreamCompletion(ctx context.Context, messages []llm.Message) (<-chan *llm.StreamChunk, error) {
	return nil, errors.New("not used")
}

func (p *scriptedProvider) Complete(ctx context.Context, messages []llm.Message) (*llm.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, messages)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.replies) == 0 {
		return nil, errors.New("no scripted reply left")
	}
	reply := p.replies[0]
	p.replies = p.replies[1:]
	msg := llm.AssistantMessage(reply)
	return &msg, nil
}

func (p *scriptedProvider) GetModel() string { return "scripted" }

var start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestRun_DefaultPipeline(t *testing.T) {
	defs, err := DefaultDefinitions()
	require.NoError(t, err)

	provider := &scriptedProvider{replies: []string{
		"Trend: small models",
		"<thinking>let me outline</thinking>Brief: small models are cheap",
		"Small models are winning. What do you think?",
		"A tiny robot lifting a huge gear, flat illustration",
	}}
	fake := clock.NewFake(start)

	p, err := New(provider, defs, WithClock(fake), WithStageDelay(10*time.Second))
	require.NoError(t, err)

	out, err := p.Run(context.Background(), Inputs{Topic: "AI"})
	require.NoError(t, err)

	assert.Equal(t, "Small models are winning. What do you think?", out.Post)
	assert.Equal(t, "A tiny robot lifting a huge gear, flat illustration", out.ImagePrompt)
	assert.Equal(t, "Brief: small models are cheap", out.Outputs["research_topic_task"])

	require.Len(t, provider.calls, 4)

	first := provider.calls[0]
	require.Len(t, first, 2)
	assert.Equal(t, llm.RoleSystem, first[0].Role)
	assert.Contains(t, first[0].Content, "You are a Technology Trend Researcher.")
	assert.Contains(t, first[0].Content, "Find the single most discussed development in AI this week")
	assert.Contains(t, first[1].Content, "today is 2026-03-02")
	assert.Contains(t, first[1].Content, "Expected output:")

	// {{.Previous}} carries the stripped output forward.
	assert.Contains(t, provider.calls[1][1].Content, "Trend: small models")
	assert.Contains(t, provider.calls[2][1].Content, "Brief: small models are cheap")
	assert.NotContains(t, provider.calls[2][1].Content, "let me outline")
	assert.Contains(t, provider.calls[3][1].Content, "Small models are winning.")

	assert.Equal(t, []time.Duration{10 * time.Second}, fake.Sleeps())
}

func TestRun_StageDelayCancelled(t *testing.T) {
	defs, err := DefaultDefinitions()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	fake := clock.NewFake(start)
	fake.OnSleep(func(time.Time) { cancel() })

	provider := &scriptedProvider{replies: []string{"a", "b", "c", "d"}}
	p, err := New(provider, defs, WithClock(fake), WithStageDelay(time.Second))
	require.NoError(t, err)

	_, err = p.Run(ctx, Inputs{Topic: "AI"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, provider.calls, 3)
}

func TestRun_StopsAtFirstFailure(t *testing.T) {
	defs, err := DefaultDefinitions()
	require.NoError(t, err)

	provider := &scriptedProvider{err: errors.New("quota exceeded")}
	p, err := New(provider, defs, WithClock(clock.NewFake(start)))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), Inputs{Topic: "AI"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task find_trends_task: quota exceeded")
	assert.Len(t, provider.calls, 1)
}

func TestRun_EmptyResponse(t *testing.T) {
	defs, err := DefaultDefinitions()
	require.NoError(t, err)

	provider := &scriptedProvider{replies: []string{"<think>only reasoning</think>"}}
	p, err := New(provider, defs, WithClock(clock.NewFake(start)))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), Inputs{Topic: "AI"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response")
}

func TestRun_RequiresTopic(t *testing.T) {
	defs, err := DefaultDefinitions()
	require.NoError(t, err)

	p, err := New(&scriptedProvider{}, defs)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), Inputs{Topic: "  "})
	require.Error(t, err)
}

func TestRun_UnknownOutputReference(t *testing.T) {
	defs, err := ParseDefinitions(
		[]byte("writer:\n  role: Writer\n"),
		[]byte("t:\n  agent: writer\n  description: '{{.Outputs.later}}'\n"),
	)
	require.NoError(t, err)

	provider := &scriptedProvider{replies: []string{"x"}}
	p, err := New(provider, defs)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), Inputs{Topic: "AI"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to render prompt")
	assert.Empty(t, provider.calls)
}

func TestRun_Sources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/news" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><head><title>Weekly news</title></head><body><p>Chips got faster.</p></body></html>"))
	}))
	defer srv.Close()

	defs, err := ParseDefinitions(
		[]byte("writer:\n  role: Writer\n"),
		[]byte(fmt.Sprintf(`
t:
  agent: writer
  output: post
  description: "Read:{{.Sources}}"
  sources:
    - %s/news
    - %s/gone
`, srv.URL, srv.URL)),
	)
	require.NoError(t, err)

	provider := &scriptedProvider{replies: []string{"post"}}
	p, err := New(provider, defs)
	require.NoError(t, err)

	out, err := p.Run(context.Background(), Inputs{Topic: "chips"})
	require.NoError(t, err)
	assert.Equal(t, "post", out.Post)

	prompt := provider.calls[0][1].Content
	assert.Contains(t, prompt, "Source: "+srv.URL+"/news")
	assert.Contains(t, prompt, "Title: Weekly news")
	assert.Contains(t, prompt, "Chips got faster.")
	assert.NotContains(t, prompt, "/gone")
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, &Definitions{})
	require.Error(t, err)

	_, err = New(&scriptedProvider{}, nil)
	require.Error(t, err)

	_, err = New(&scriptedProvider{}, &Definitions{})
	require.Error(t, err)
}
