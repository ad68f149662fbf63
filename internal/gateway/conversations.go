// ABOUTME: Conversation CRUD, message listing, and usage handlers
// ABOUTME: Every lookup is scoped to the authenticated user; foreign ids read as 404

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/dialog-relay/internal/auth"
	"github.com/2389/dialog-relay/internal/dialog"
	"github.com/2389/dialog-relay/internal/store"
)

const notFoundMessage = "Conversation not found or access denied"

// conversationView is the client-facing conversation. The owner id stays
// server-side.
type conversationView struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Model     string           `json:"model"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
	Messages  []*store.Message `json:"messages,omitempty"`
}

func toView(c *store.Conversation) conversationView {
	return conversationView{
		ID:        c.ID,
		Title:     c.Title,
		Model:     c.Model,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Messages:  c.Messages,
	}
}

// createConversationRequest is the optional body of POST /conversations.
type createConversationRequest struct {
	Title string `json:"title"`
	Model string `json:"model"`
}

func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	convs, err := g.store.ListConversations(r.Context(), userID)
	if err != nil {
		g.logger.Error("listing conversations", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list conversations")
		return
	}

	views := make([]conversationView, 0, len(convs))
	for _, c := range convs {
		v := toView(c)
		v.Messages = nil
		views = append(views, v)
	}
	writeSuccess(w, http.StatusOK, views)
}

// handleCreateConversation accepts an empty or non-JSON body; defaults
// apply to whatever is missing.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req createConversationRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			g.logger.Debug("ignoring non-JSON create body", "user_id", userID, "error", err)
			req = createConversationRequest{}
		}
	}

	conv, err := g.store.CreateConversation(r.Context(), userID, strings.TrimSpace(req.Title), strings.TrimSpace(req.Model))
	if err != nil {
		g.logger.Error("creating conversation", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create conversation")
		return
	}

	g.broadcaster.Publish(userID, dialog.Notice{ConversationID: conv.ID, Reason: dialog.ReasonCreated})
	writeSuccess(w, http.StatusCreated, toView(conv))
}

func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	conv, err := g.store.GetConversation(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		g.writeStoreError(w, "getting conversation", userID, err)
		return
	}

	v := toView(conv)
	if v.Messages == nil {
		v.Messages = []*store.Message{}
	}
	writeSuccess(w, http.StatusOK, v)
}

func (g *Gateway) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	id := r.PathValue("id")

	if err := g.store.DeleteConversation(r.Context(), id, userID); err != nil {
		g.writeStoreError(w, "deleting conversation", userID, err)
		return
	}

	g.logger.Info("conversation deleted", "conversation_id", id, "user_id", userID)
	g.broadcaster.Publish(userID, dialog.Notice{ConversationID: id, Reason: dialog.ReasonDeleted})
	writeSuccessMessage(w, "Conversation deleted")
}

func (g *Gateway) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	msgs, err := g.store.GetMessages(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		g.writeStoreError(w, "getting messages", userID, err)
		return
	}
	writeSuccess(w, http.StatusOK, msgs)
}

func (g *Gateway) handleUsage(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	stats, err := g.store.UsageStats(r.Context(), userID)
	if err != nil {
		g.logger.Error("computing usage", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to compute usage")
		return
	}
	writeSuccess(w, http.StatusOK, stats)
}

// writeStoreError maps ErrNotFound to 404 and everything else to 500.
func (g *Gateway) writeStoreError(w http.ResponseWriter, op, userID string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFoundMessage)
		return
	}
	g.logger.Error(op, "user_id", userID, "error", err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}
