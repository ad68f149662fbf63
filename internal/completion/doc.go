// Package completion is a thin transport wrapper around an external
// chat-completion API.
//
// The Client interface has two calls. Stream returns a lazy, finite,
// non-restartable sequence of text deltas; Complete blocks for the whole
// reply. Both forward the message history exactly as given. There are no
// retries, no prompt rewriting, and no caching.
//
// OpenAIClient implements Client on github.com/openai/openai-go/v3 and works
// with any OpenAI-compatible endpoint via BaseURL. Provider failures are
// returned as *Error, carrying the provider's message when it sent one.
//
// Scripted is an in-process Client for tests that need deterministic deltas
// or failures without an HTTP server.
package completion
