// Package llm provides abstractions for LLM provider integration.
//
// Example usage:
//
//	provider, err := openai.NewProvider(
//	    os.Getenv("OPENAI_API_KEY_TEXT"),
//	    openai.WithModel("gpt-4o-mini"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	reply, err := provider.Complete(ctx, []llm.Message{
//	    llm.SystemMessage("You write LinkedIn posts."),
//	    llm.UserMessage("Summarize this week's AI news."),
//	})
package llm

import (
	"context"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    Role
	Content string
}

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ContentType distinguishes model reasoning from answer text.
type ContentType string

const (
	ContentTypeMessage  ContentType = "message"
	ContentTypeThinking ContentType = "thinking"
)

// StreamChunk is one piece of a streamed completion.
type StreamChunk struct {
	Role     string
	Content  string
	Type     ContentType
	Finished bool
	Error    error
}

// IsError reports whether the chunk carries a stream error.
func (c *StreamChunk) IsError() bool {
	return c != nil && c.Error != nil
}

// Provider defines the interface for LLM integrations.
type Provider interface {
	// StreamCompletion sends messages to the LLM and streams back response
	// chunks. The channel is closed when the stream ends. Stream-time errors
	// arrive as chunks with Error set.
	StreamCompletion(ctx context.Context, messages []Message) (<-chan *StreamChunk, error)

	// Complete returns the full answer text with reasoning removed.
	Complete(ctx context.Context, messages []Message) (*Message, error)

	// GetModel returns the model name being used.
	GetModel() string
}
