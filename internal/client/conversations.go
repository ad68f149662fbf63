// ABOUTME: Conversation CRUD, usage, and transcript calls
// ABOUTME: Thin wrappers over the envelope-returning chat routes

package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Conversation mirrors the server's conversation representation.
type Conversation struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Model     string     `json:"model"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Messages  []*Message `json:"messages,omitempty"`
}

// Message is one stored message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Tokens         *int      `json:"tokens,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Usage summarizes the caller's stored history.
type Usage struct {
	Conversations   int `json:"conversations"`
	Messages        int `json:"messages"`
	AssistantTokens int `json:"assistantTokens"`
}

// ListConversations returns the caller's conversations, most recent first.
func (c *Client) ListConversations(ctx context.Context) ([]*Conversation, error) {
	var convs []*Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// CreateConversation creates an empty conversation. Empty title or model
// leave the choice to the server.
func (c *Client) CreateConversation(ctx context.Context, title, model string) (*Conversation, error) {
	body := map[string]string{}
	if title != "" {
		body["title"] = title
	}
	if model != "" {
		body["model"] = model
	}

	var conv Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetConversation returns a conversation with its messages.
func (c *Client) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// DeleteConversation deletes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(id), nil, nil)
}

// GetMessages returns a conversation's messages oldest first.
func (c *Client) GetMessages(ctx context.Context, id string) ([]*Message, error) {
	var msgs []*Message
	if err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id)+"/messages", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Usage returns the caller's usage totals.
func (c *Client) Usage(ctx context.Context) (*Usage, error) {
	var u Usage
	if err := c.do(ctx, http.MethodGet, "/usage", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Transcript returns the rendered transcript, "markdown" or "html".
func (c *Client) Transcript(ctx context.Context, id, format string) (string, error) {
	path := "/conversations/" + url.PathEscape(id) + "/transcript?format=" + url.QueryEscape(format)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", readAPIError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading transcript: %w", err)
	}
	return string(body), nil
}
