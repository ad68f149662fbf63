// ABOUTME: Dialog endpoints: request parsing and validation, the duplicate-send
// ABOUTME: guard, the SSE streaming handler, and the JSON completion handler

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/2389/dialog-relay/internal/auth"
	"github.com/2389/dialog-relay/internal/dedupe"
	"github.com/2389/dialog-relay/internal/dialog"
	"github.com/2389/dialog-relay/internal/message"
	"github.com/2389/dialog-relay/internal/sse"
	"github.com/2389/dialog-relay/internal/store"
)

// IdempotencyHeader carries the client's duplicate-send key.
const IdempotencyHeader = "Idempotency-Key"

// dialogRequest is the body of both dialog endpoints.
type dialogRequest struct {
	Messages       []message.Message `json:"messages"`
	ConversationID string            `json:"conversationId"`
	Model          string            `json:"model"`
}

// completionResponse is the success body of POST /dialog/completion.
type completionResponse struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversationId"`
}

// completionError is the failure body of POST /dialog/completion.
type completionError struct {
	Error          string `json:"error"`
	ConversationID string `json:"conversationId,omitempty"`
}

// requestError is a rejection that happens before orchestration.
type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

func badRequest(format string, args ...any) *requestError {
	return &requestError{status: http.StatusBadRequest, message: fmt.Sprintf(format, args...)}
}

// parseDialogRequest decodes and validates the body, returning the
// orchestrator request for the authenticated user.
func parseDialogRequest(w http.ResponseWriter, r *http.Request) (dialog.Request, *requestError) {
	var body dialogRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return dialog.Request{}, &requestError{status: http.StatusRequestEntityTooLarge, message: "Request body too large"}
		}
		if errors.Is(err, io.EOF) {
			return dialog.Request{}, badRequest("Request body is required")
		}
		return dialog.Request{}, badRequest("Invalid JSON body")
	}

	if err := validateMessages(body.Messages); err != nil {
		return dialog.Request{}, err
	}

	return dialog.Request{
		UserID:         auth.UserID(r.Context()),
		ConversationID: strings.TrimSpace(body.ConversationID),
		Model:          strings.TrimSpace(body.Model),
		Messages:       body.Messages,
	}, nil
}

func validateMessages(msgs []message.Message) *requestError {
	if len(msgs) == 0 {
		return badRequest("messages must be a non-empty array")
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return badRequest("message %d: role must be user, assistant or system", i)
		}
		if strings.TrimSpace(m.Content.Text()) == "" {
			return badRequest("message %d: content must not be empty", i)
		}
	}
	if msgs[len(msgs)-1].Role != message.RoleUser {
		return badRequest("the last message must be from the user")
	}
	return nil
}

// claimIdempotencyKey applies the duplicate-send guard. It returns the
// claimed cache key, "" when the request carries no key, or a rejection.
func (g *Gateway) claimIdempotencyKey(r *http.Request, userID string) (string, *requestError) {
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key == "" {
		return "", nil
	}
	if len(key) > dedupe.MaxKeyLength {
		return "", badRequest("%s must be at most %d characters", IdempotencyHeader, dedupe.MaxKeyLength)
	}

	cacheKey := dedupe.Key(userID, key)
	if !g.dedupe.Claim(cacheKey) {
		g.logger.Info("duplicate dialog request rejected", "user_id", userID)
		return "", &requestError{status: http.StatusConflict, message: "Duplicate request"}
	}
	return cacheKey, nil
}

// handleDialogStream relays one turn as server-sent events. Failures after
// validation, including an unknown conversation, arrive as an error frame
// on a 200 stream.
func (g *Gateway) handleDialogStream(w http.ResponseWriter, r *http.Request) {
	req, rerr := parseDialogRequest(w, r)
	if rerr != nil {
		writeError(w, rerr.status, rerr.message)
		return
	}
	claimed, rerr := g.claimIdempotencyKey(r, req.UserID)
	if rerr != nil {
		writeError(w, rerr.status, rerr.message)
		return
	}

	sw, err := sse.NewWriter(w)
	if err != nil {
		g.logger.Error("streaming unsupported", "error", err)
		if claimed != "" {
			g.dedupe.Release(claimed)
		}
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	ctx := r.Context()
	events := g.dialog.Stream(ctx, req)
	if claimed != "" {
		events = releaseOnEarlyFailure(ctx, events, func() { g.dedupe.Release(claimed) })
	}
	if err := sse.Relay(ctx, sw, events); err != nil {
		g.logger.Debug("dialog stream ended early", "user_id", req.UserID, "error", err)
	}
}

// releaseOnEarlyFailure forwards events and calls release when the first
// event is an error. In that case no delta was sent and nothing was stored,
// so the idempotency key may be reused.
func releaseOnEarlyFailure(ctx context.Context, in <-chan dialog.Event, release func()) <-chan dialog.Event {
	out := make(chan dialog.Event, cap(in))
	go func() {
		defer close(out)
		first := true
		for ev := range in {
			if first && ev.Kind == dialog.EventError {
				release()
			}
			first = false
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// handleDialogCompletion runs one turn and answers with the whole reply.
func (g *Gateway) handleDialogCompletion(w http.ResponseWriter, r *http.Request) {
	req, rerr := parseDialogRequest(w, r)
	if rerr != nil {
		writeError(w, rerr.status, rerr.message)
		return
	}
	claimed, rerr := g.claimIdempotencyKey(r, req.UserID)
	if rerr != nil {
		writeError(w, rerr.status, rerr.message)
		return
	}

	res := g.dialog.Complete(r.Context(), req)
	if res.Status != dialog.StatusSuccess {
		// Nothing was stored, so a retry with the same key is allowed.
		if claimed != "" {
			g.dedupe.Release(claimed)
		}
		writeJSON(w, completionStatus(res.Err), completionError{
			Error:          res.Error,
			ConversationID: res.ConversationID,
		})
		return
	}

	writeJSON(w, http.StatusOK, completionResponse{
		Text:           res.Text,
		ConversationID: res.ConversationID,
	})
}

func completionStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dialog.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, dialog.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
