// ABOUTME: Completion client interface, stream abstraction, and typed error
// ABOUTME: Shared by the OpenAI-backed client and the scripted test client

package completion

import (
	"context"
	"fmt"
	"net/http"
)

// Message is one turn of history with its content already reduced to text.
type Message struct {
	Role    string
	Content string
}

// Usage is the token accounting reported by the provider, when it reports any.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Result is a full, non-streamed completion.
type Result struct {
	Text  string
	Model string
	Usage Usage
}

// Stream yields text deltas until the provider signals end-of-stream.
// After Next returns false, Err reports why; nil means a normal end.
type Stream interface {
	Next() bool
	Delta() string
	Usage() Usage
	Err() error
	Close() error
}

// Client issues chat-completion requests.
type Client interface {
	Stream(ctx context.Context, model string, history []Message) (Stream, error)
	Complete(ctx context.Context, model string, history []Message) (*Result, error)
}

// Error is a failed completion request.
type Error struct {
	Op         string // "stream" or "complete"
	StatusCode int    // HTTP status from the provider, 0 if none was received
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion %s: provider returned %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("completion %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ProviderMessage returns the message suitable for showing to an end user.
func (e *Error) ProviderMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if e.StatusCode != 0 {
		return http.StatusText(e.StatusCode)
	}
	return "completion failed"
}
