// ABOUTME: Dialog calls: streaming with delta callback, non-streaming completion,
// ABOUTME: and the conversation change feed

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/2389/dialog-relay/internal/message"
	"github.com/2389/dialog-relay/internal/sse"
)

// DialogRequest is one turn sent to the dialog endpoints.
type DialogRequest struct {
	Messages       []message.Message `json:"messages"`
	ConversationID string            `json:"conversationId,omitempty"`
	Model          string            `json:"model,omitempty"`

	// IdempotencyKey, when set, is sent as the Idempotency-Key header.
	IdempotencyKey string `json:"-"`
}

// Outcome is the result of a finished dialog stream.
type Outcome struct {
	ConversationID string
	Text           string
	// Redirect is true when the request named no conversation and the
	// server created one.
	Redirect bool
}

// Notice is one conversationsUpdated event from the change feed.
type Notice struct {
	ConversationID string `json:"conversationId"`
	Reason         string `json:"reason"`
}

// StreamDialog posts req to the streaming endpoint. onDelta, when non-nil,
// receives every text frame in arrival order. Cancelling ctx abandons the
// stream and returns ctx.Err() without partial text.
func (c *Client) StreamDialog(ctx context.Context, req DialogRequest, onDelta func(string)) (*Outcome, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/dialog/stream", req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}

	var text strings.Builder
	dec := sse.NewDecoder(resp.Body)
	for {
		frame, err := dec.Next()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return nil, ErrIncompleteStream
		}
		if err != nil {
			return nil, err
		}

		switch frame.Event {
		case "":
			text.WriteString(frame.Data)
			if onDelta != nil {
				onDelta(frame.Data)
			}

		case sse.EventConversationComplete:
			var payload sse.CompletePayload
			if err := json.Unmarshal([]byte(frame.Data), &payload); err != nil {
				return nil, fmt.Errorf("decoding %s: %w", frame.Event, err)
			}
			return &Outcome{
				ConversationID: payload.ConversationID,
				Text:           text.String(),
				Redirect:       req.ConversationID == "" && payload.ConversationID != "",
			}, nil

		case sse.EventError:
			var payload sse.ErrorPayload
			if err := json.Unmarshal([]byte(frame.Data), &payload); err != nil || payload.Message == "" {
				payload.Message = "An error occurred"
			}
			return nil, &StreamError{Message: payload.Message}
		}
	}
}

// CompletionResult is the body of a successful non-streaming dialog.
type CompletionResult struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversationId"`
}

// Complete posts req to the non-streaming endpoint.
func (c *Client) Complete(ctx context.Context, req DialogRequest) (*CompletionResult, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/dialog/completion", req)
	if err != nil {
		return nil, err
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}

	var result CompletionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &result, nil
}

// WatchConversations subscribes to the change feed and calls onNotice for
// every update until ctx is cancelled or the server ends the stream.
func (c *Client) WatchConversations(ctx context.Context, onNotice func(Notice)) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/conversations/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}

	dec := sse.NewDecoder(resp.Body)
	for {
		frame, err := dec.Next()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if frame.Event != sse.EventConversationsUpdated {
			continue
		}

		var n Notice
		if err := json.Unmarshal([]byte(frame.Data), &n); err != nil {
			return fmt.Errorf("decoding %s: %w", frame.Event, err)
		}
		onNotice(n)
	}
}
