// ABOUTME: Store interface and data types for dialog-relay persistence
// ABOUTME: Defines Conversation, Message, Turn and the user-scoped Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation does not exist or belongs to
// another user. The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("not found")

// DefaultModel is the fallback model for conversations created without one.
const DefaultModel = "gpt-4o"

// Message roles as persisted.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation is a user-owned chat thread.
type Conversation struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Title     string     `json:"title"`
	Model     string     `json:"model"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Messages  []*Message `json:"messages,omitempty"`
}

// Message is one persisted turn within a conversation.
type Message struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversationId"`
	Role            string    `json:"role"`
	Content         string    `json:"content"`
	Tokens          *int      `json:"tokens,omitempty"`
	ThinkingProcess *string   `json:"thinkingProcess,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// NewMessage carries the fields a caller supplies when appending a message.
type NewMessage struct {
	Role            string
	Content         string
	Tokens          *int
	ThinkingProcess *string
}

// Turn is one user message plus the assistant reply, persisted atomically.
// An empty ConversationID asks SaveTurn to create the conversation using
// Title and Model.
type Turn struct {
	UserID         string
	ConversationID string
	Title          string
	Model          string
	User           NewMessage
	Assistant      NewMessage
}

// SavedTurn is the result of SaveTurn.
type SavedTurn struct {
	ConversationID string
	Created        bool
	User           *Message
	Assistant      *Message
}

// UsageStats summarizes one user's stored history.
type UsageStats struct {
	Conversations   int `json:"conversations"`
	Messages        int `json:"messages"`
	AssistantTokens int `json:"assistantTokens"`
}

// Store defines conversation and message persistence. Every operation that
// takes a userID fails with ErrNotFound when the conversation is not owned
// by that user.
type Store interface {
	CreateConversation(ctx context.Context, userID, title, model string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*Conversation, error)
	GetConversation(ctx context.Context, id, userID string) (*Conversation, error)
	DeleteConversation(ctx context.Context, id, userID string) error

	GetMessages(ctx context.Context, conversationID, userID string) ([]*Message, error)

	// AddMessage appends without an ownership check; the caller has already
	// resolved the conversation for an authenticated user.
	AddMessage(ctx context.Context, conversationID string, msg NewMessage) (*Message, error)

	// SaveTurn resolves or creates the conversation and stores both messages
	// in one transaction.
	SaveTurn(ctx context.Context, turn Turn) (*SavedTurn, error)

	UsageStats(ctx context.Context, userID string) (*UsageStats, error)

	// Ping reports whether the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

// DefaultTitle is the title given to conversations created without one.
func DefaultTitle(now time.Time) string {
	return "New Chat " + now.Format("2006-01-02")
}
