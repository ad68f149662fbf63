// ABOUTME: Server-side SSE frame writer over http.ResponseWriter
// ABOUTME: Sets streaming headers and flushes after every frame

package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/2389/dialog-relay/internal/message"
)

// Event names written by the gateway.
const (
	EventConversationComplete = "conversationComplete"
	EventError                = "error"
	EventConversationsUpdated = "conversationsUpdated"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// CompletePayload is the body of a conversationComplete frame.
type CompletePayload struct {
	ConversationID string `json:"conversationId"`
}

// ErrorPayload is the body of an error frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Writer writes SSE frames. It is not safe for concurrent use.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

// NewWriter wraps w. It fails when w does not implement http.Flusher.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &Writer{w: w, flusher: flusher}, nil
}

// Start sends the streaming headers and a 200 status. Frame methods call it
// implicitly.
func (sw *Writer) Start() {
	if sw.started {
		return
	}
	sw.started = true

	h := sw.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	sw.w.WriteHeader(http.StatusOK)
	sw.flusher.Flush()
}

// Data writes an unlabeled frame. Each line of text becomes its own data
// line so the reader can rejoin them with "\n"; CR and CRLF breaks arrive
// as "\n".
func (sw *Writer) Data(text string) error {
	return sw.write(formatFrame("", text))
}

// Event writes a labeled frame with v encoded as JSON.
func (sw *Writer) Event(name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", name, err)
	}
	return sw.write(formatFrame(name, string(payload)))
}

// Comment writes a comment line, used as a keep-alive.
func (sw *Writer) Comment(text string) error {
	return sw.write(": " + text + "\n\n")
}

func (sw *Writer) write(frame string) error {
	sw.Start()
	if _, err := fmt.Fprint(sw.w, frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	sw.flusher.Flush()
	return nil
}

// formatFrame renders one frame. An empty name yields an unlabeled frame.
// Any of CRLF, CR or LF in data starts a new data line.
func formatFrame(name, data string) string {
	var b strings.Builder
	if name != "" {
		b.WriteString("event: ")
		b.WriteString(name)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(message.NormalizeNewlines(data), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}
