package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/entrhq/postforge/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, deltas []string, capture func(*http.Request, map[string]interface{})) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if capture != nil {
			capture(r, body)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"role":"assistant"}}]}`+"\n\n")
		for _, d := range deltas {
			payload, _ := json.Marshal(map[string]interface{}{
				"choices": []map[string]interface{}{{"delta": map[string]string{"content": d}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestNewProvider_RequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-env")
	_, err := NewProvider("")
	assert.Error(t, err, "the key is not taken from the environment")
}

func TestNewProvider_Options(t *testing.T) {
	p, err := NewProvider("sk-test", WithModel("gpt-4o"), WithBaseURL("http://localhost:8080/v1/"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", p.GetModel())
	assert.Equal(t, "http://localhost:8080/v1", p.GetBaseURL())

	p, err = NewProvider("sk-test", WithModel(""), WithBaseURL(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, p.GetModel())
	assert.Equal(t, DefaultBaseURL, p.GetBaseURL())
}

func TestComplete_StripsThinking(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}
	srv := sseServer(t, []string{"<think", "ing>outline first</thinking>", "AI agents ", "shipped this week."}, func(r *http.Request, body map[string]interface{}) {
		gotAuth = r.Header.Get("Authorization")
		gotBody = body
	})
	defer srv.Close()

	p, err := NewProvider("sk-text", WithBaseURL(srv.URL), WithModel("gpt-4o-mini"), WithTemperature(0.2))
	require.NoError(t, err)

	msg, err := p.Complete(context.Background(), []llm.Message{
		llm.SystemMessage("You are a writer."),
		llm.UserMessage("Write."),
	})
	require.NoError(t, err)

	assert.Equal(t, llm.RoleAssistant, msg.Role)
	assert.Equal(t, "AI agents shipped this week.", msg.Content)
	assert.Equal(t, "Bearer sk-text", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotBody["model"])
	assert.Equal(t, true, gotBody["stream"])
	assert.InDelta(t, 0.2, gotBody["temperature"], 1e-9)

	msgs, ok := gotBody["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])
	assert.Equal(t, "user", msgs[1].(map[string]interface{})["role"])
}

func TestStreamCompletion_ChunkTypes(t *testing.T) {
	srv := sseServer(t, []string{"<thinking>plan</thinking>", "Post"}, nil)
	defer srv.Close()

	p, err := NewProvider("sk", WithBaseURL(srv.URL))
	require.NoError(t, err)

	stream, err := p.StreamCompletion(context.Background(), []llm.Message{llm.UserMessage("hi")})
	require.NoError(t, err)

	var thinking, message strings.Builder
	finished := false
	for chunk := range stream {
		require.False(t, chunk.IsError(), "unexpected error: %v", chunk.Error)
		switch {
		case chunk.Finished:
			finished = true
		case chunk.Type == llm.ContentTypeThinking:
			thinking.WriteString(chunk.Content)
		case chunk.Type == llm.ContentTypeMessage:
			message.WriteString(chunk.Content)
			assert.Equal(t, "assistant", chunk.Role)
		}
	}

	assert.True(t, finished)
	assert.Equal(t, "plan", thinking.String())
	assert.Equal(t, "Post", message.String())
}

func TestStreamCompletion_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid api key"}}`)
	}))
	defer srv.Close()

	p, err := NewProvider("sk-bad", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), []llm.Message{llm.UserMessage("hi")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestRateLimit_WaitsBetweenRequests(t *testing.T) {
	srv := sseServer(t, []string{"ok"}, nil)
	defer srv.Close()

	p, err := NewProvider("sk", WithBaseURL(srv.URL), WithRateLimit(1))
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), []llm.Message{llm.UserMessage("first")})
	require.NoError(t, err)

	// The second request needs a token a minute away; the deadline wins.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Complete(ctx, []llm.Message{llm.UserMessage("second")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
}

func TestConvertToOpenAIMessages(t *testing.T) {
	out := convertToOpenAIMessages([]llm.Message{
		llm.SystemMessage("s"),
		llm.UserMessage("u"),
		llm.AssistantMessage("a"),
		{Role: "tool", Content: "x"},
	})
	require.Len(t, out, 4)

	data, err := json.Marshal(out)
	require.NoError(t, err)
	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "system", decoded[0]["role"])
	assert.Equal(t, "user", decoded[1]["role"])
	assert.Equal(t, "assistant", decoded[2]["role"])
	assert.Equal(t, "user", decoded[3]["role"])
}
