// ABOUTME: Tagged-variant events emitted by the dialog orchestrator
// ABOUTME: One type carries deltas, the terminal completion, and failures

package dialog

import (
	"errors"

	"github.com/2389/dialog-relay/internal/completion"
	"github.com/2389/dialog-relay/internal/store"
)

// Kind tags an Event.
type Kind int

const (
	// EventDelta carries one non-empty text increment in Delta.
	EventDelta Kind = iota + 1
	// EventComplete ends every invocation. ConversationID is the resolved
	// conversation, or NoConversation when a failure happened before one
	// existed. Text is the full reply on success and empty after a failure.
	EventComplete
	// EventError reports a failure in Err. It is always followed by an
	// EventComplete.
	EventError
)

func (k Kind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventComplete:
		return "complete"
	case EventError:
		return "error"
	}
	return "unknown"
}

// NoConversation marks a completion that has no conversation to point at.
const NoConversation = ""

// Event is one step of a streaming dialog.
type Event struct {
	Kind           Kind
	Delta          string
	ConversationID string
	Text           string
	Err            error
}

// ErrUnauthorized is returned when a request has no user id.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInvalidRequest is returned for requests that cannot be orchestrated.
var ErrInvalidRequest = errors.New("invalid dialog request")

// PublicMessage turns an orchestration error into text safe to show the
// end user. Provider messages pass through; storage details do not.
func PublicMessage(err error) string {
	var cerr *completion.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrInvalidRequest):
		return err.Error()
	case errors.Is(err, store.ErrNotFound):
		return "Conversation not found or access denied"
	case errors.As(err, &cerr):
		return cerr.ProviderMessage()
	default:
		return "Failed to save conversation"
	}
}
