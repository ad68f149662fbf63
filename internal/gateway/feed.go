// ABOUTME: Conversation change feed over server-sent events
// ABOUTME: Relays per-user Broadcaster notices as conversationsUpdated frames

package gateway

import (
	"net/http"
	"time"

	"github.com/2389/dialog-relay/internal/auth"
	"github.com/2389/dialog-relay/internal/sse"
)

// handleConversationEvents streams the caller's conversation changes until
// the client disconnects or the gateway shuts down.
func (g *Gateway) handleConversationEvents(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	sw, err := sse.NewWriter(w)
	if err != nil {
		g.logger.Error("streaming unsupported", "error", err)
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	ctx := r.Context()
	notices, subID := g.broadcaster.Subscribe(ctx, userID)
	defer g.broadcaster.Unsubscribe(userID, subID)

	sw.Start()
	g.logger.Debug("change feed opened", "user_id", userID, "sub_id", subID)

	ticker := time.NewTicker(g.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Debug("change feed closed by client", "user_id", userID, "sub_id", subID)
			return

		case n, ok := <-notices:
			if !ok {
				return
			}
			if err := sw.Event(sse.EventConversationsUpdated, n); err != nil {
				g.logger.Debug("change feed write failed", "user_id", userID, "error", err)
				return
			}

		case <-ticker.C:
			if err := sw.Comment("ping"); err != nil {
				return
			}
		}
	}
}
