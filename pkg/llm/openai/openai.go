// Package openai provides an OpenAI-compatible LLM provider implementation.
//
// Example usage:
//
//	provider, err := openai.NewProvider(
//	    apiKey,
//	    openai.WithModel("gpt-4o-mini"),
//	    openai.WithRateLimit(20),
//	)
//	if err != nil {
//	    return err
//	}
//
//	stream, err := provider.StreamCompletion(ctx, messages)
//	if err != nil {
//	    return err
//	}
//	for chunk := range stream {
//	    if chunk.Type == llm.ContentTypeMessage {
//	        fmt.Print(chunk.Content)
//	    }
//	}
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/entrhq/postforge/pkg/llm"
	"github.com/entrhq/postforge/pkg/llm/parser"
	"github.com/openai/openai-go"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when WithModel is not given.
	DefaultModel = "gpt-4o-mini"
)

// Provider implements the LLM provider interface for OpenAI-compatible APIs.
type Provider struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	model       string
	temperature *float64
	limiter     *rate.Limiter
}

// ProviderOption is a function that configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model to use for completions.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs.
// This enables using Azure OpenAI, local models, or other compatible services.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ProviderOption {
	return func(p *Provider) {
		p.temperature = &t
	}
}

// WithRateLimit caps requests at rpm per minute. Zero disables limiting.
func WithRateLimit(rpm int) ProviderOption {
	return func(p *Provider) {
		if rpm <= 0 {
			p.limiter = nil
			return
		}
		p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	}
}

// NewProvider creates a new OpenAI provider with the given API key.
//
// The key is never read from the environment here; each caller passes the
// key for its own role.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	p := &Provider{
		model:      DefaultModel,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    DefaultBaseURL,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// StreamCompletion sends messages to the OpenAI API and streams back response chunks.
//
// This implementation uses raw HTTP streaming to handle SSE events directly,
// which provides better compatibility with OpenAI-compatible APIs that may
// include SSE comments or have slight format variations.
func (p *Provider) StreamCompletion(ctx context.Context, messages []llm.Message) (<-chan *llm.StreamChunk, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	resp, err := p.sendStreamRequest(ctx, messages)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *llm.StreamChunk, 10)
	go p.processStreamResponse(ctx, resp, chunks)
	return chunks, nil
}

// sendStreamRequest creates and sends the HTTP request for streaming
func (p *Provider) sendStreamRequest(ctx context.Context, messages []llm.Message) (*http.Response, error) {
	reqBody := map[string]interface{}{
		"model":    p.model,
		"messages": convertToOpenAIMessages(messages),
		"stream":   true,
	}
	if p.temperature != nil {
		reqBody["temperature"] = *p.temperature
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := p.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("API request failed with status %d (failed to read error body: %w)", resp.StatusCode, readErr)
		}
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return resp, nil
}

// processStreamResponse processes the SSE stream and sends chunks to the channel
func (p *Provider) processStreamResponse(ctx context.Context, resp *http.Response, chunks chan<- *llm.StreamChunk) {
	defer close(chunks)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	splitter := parser.NewSplitter()
	role := ""

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			if p.flush(ctx, splitter, role, chunks) {
				p.send(ctx, &llm.StreamChunk{Role: role, Finished: true}, chunks)
			}
			return
		}

		var event struct {
			Choices []struct {
				Delta struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil || len(event.Choices) == 0 {
			continue // Skip malformed chunks silently
		}

		delta := event.Choices[0].Delta
		if role == "" && delta.Role != "" {
			role = delta.Role
		}
		if delta.Content != "" {
			thinking, message := splitter.Feed(delta.Content)
			if !p.emit(ctx, role, thinking, message, chunks) {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		p.send(ctx, &llm.StreamChunk{Error: fmt.Errorf("stream read error: %w", err)}, chunks)
		return
	}
	if p.flush(ctx, splitter, role, chunks) {
		p.send(ctx, &llm.StreamChunk{Role: role, Finished: true}, chunks)
	}
}

func (p *Provider) flush(ctx context.Context, splitter *parser.Splitter, role string, chunks chan<- *llm.StreamChunk) bool {
	thinking, message := splitter.Flush()
	return p.emit(ctx, role, thinking, message, chunks)
}

func (p *Provider) emit(ctx context.Context, role, thinking, message string, chunks chan<- *llm.StreamChunk) bool {
	if thinking != "" && !p.send(ctx, &llm.StreamChunk{Role: role, Content: thinking, Type: llm.ContentTypeThinking}, chunks) {
		return false
	}
	if message != "" && !p.send(ctx, &llm.StreamChunk{Role: role, Content: message, Type: llm.ContentTypeMessage}, chunks) {
		return false
	}
	return true
}

// send delivers chunk unless ctx ends first, in which case the error is
// reported in place of the chunk.
func (p *Provider) send(ctx context.Context, chunk *llm.StreamChunk, chunks chan<- *llm.StreamChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		select {
		case chunks <- &llm.StreamChunk{Error: ctx.Err()}:
		default:
		}
		return false
	}
}

// Complete sends messages to the OpenAI API and returns the full response.
// Reasoning chunks are dropped.
func (p *Provider) Complete(ctx context.Context, messages []llm.Message) (*llm.Message, error) {
	stream, err := p.StreamCompletion(ctx, messages)
	if err != nil {
		return nil, err
	}

	var content strings.Builder
	for chunk := range stream {
		if chunk.IsError() {
			return nil, chunk.Error
		}
		if chunk.Type == llm.ContentTypeMessage {
			content.WriteString(chunk.Content)
		}
	}

	return &llm.Message{
		Role:    llm.RoleAssistant,
		Content: strings.TrimSpace(content.String()),
	}, nil
}

// GetModel returns the model name being used.
func (p *Provider) GetModel() string {
	return p.model
}

// GetBaseURL returns the base URL being used.
func (p *Provider) GetBaseURL() string {
	return p.baseURL
}

// convertToOpenAIMessages converts our Message format to OpenAI's ChatCompletionMessageParamUnion format.
func convertToOpenAIMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	openaiMessages := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			openaiMessages = append(openaiMessages, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			openaiMessages = append(openaiMessages, openai.AssistantMessage(msg.Content))
		default:
			openaiMessages = append(openaiMessages, openai.UserMessage(msg.Content))
		}
	}

	return openaiMessages
}
