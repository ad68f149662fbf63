// ABOUTME: Relays orchestrator events onto an SSE Writer
// ABOUTME: Deltas become data frames; the outcome becomes one terminal labeled frame

package sse

import (
	"context"

	"github.com/2389/dialog-relay/internal/dialog"
)

// Relay drains events into w until the channel closes. Exactly one terminal
// frame is written: error when the dialog failed, conversationComplete
// otherwise. It returns early with the context or write error when the
// client goes away.
func Relay(ctx context.Context, w *Writer, events <-chan dialog.Event) error {
	w.Start()

	failed := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return nil
			}

			var err error
			switch ev.Kind {
			case dialog.EventDelta:
				err = w.Data(ev.Delta)
			case dialog.EventError:
				failed = true
				err = w.Event(EventError, ErrorPayload{Message: dialog.PublicMessage(ev.Err)})
			case dialog.EventComplete:
				if !failed {
					err = w.Event(EventConversationComplete, CompletePayload{ConversationID: ev.ConversationID})
				}
			}
			if err != nil {
				return err
			}
		}
	}
}
