// ABOUTME: Transcript export of one conversation as Markdown or HTML
// ABOUTME: HTML is the Markdown rendering passed through goldmark

package gateway

import (
	"bytes"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389/dialog-relay/internal/auth"
	"github.com/2389/dialog-relay/internal/store"
)

// Transcript formats.
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

func (g *Gateway) handleTranscript(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	format := r.URL.Query().Get("format")
	if format == "" {
		format = FormatMarkdown
	}
	if format != FormatMarkdown && format != FormatHTML {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("format must be %q or %q", FormatMarkdown, FormatHTML))
		return
	}

	conv, err := g.store.GetConversation(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		g.writeStoreError(w, "exporting transcript", userID, err)
		return
	}

	md := RenderMarkdown(conv)
	if format == FormatMarkdown {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(md))
		return
	}

	page, err := RenderHTML(conv.Title, md)
	if err != nil {
		g.logger.Error("rendering transcript", "conversation_id", conv.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to render transcript")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

// RenderMarkdown writes the conversation as a heading followed by one
// section per message.
func RenderMarkdown(conv *store.Conversation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", conv.Title)
	fmt.Fprintf(&b, "_Model: %s · Created: %s_\n", conv.Model, conv.CreatedAt.UTC().Format("2006-01-02 15:04 MST"))

	for _, m := range conv.Messages {
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", roleHeading(m.Role), strings.TrimRight(m.Content, "\n"))
	}
	return b.String()
}

func roleHeading(role string) string {
	switch role {
	case store.RoleUser:
		return "User"
	case store.RoleAssistant:
		return "Assistant"
	case store.RoleSystem:
		return "System"
	}
	return role
}

// RenderHTML converts Markdown to a standalone HTML page. Raw HTML in
// message content is not passed through.
func RenderHTML(title, md string) ([]byte, error) {
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(md), &body); err != nil {
		return nil, fmt.Errorf("converting markdown: %w", err)
	}

	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>")
	page.WriteString(html.EscapeString(title))
	page.WriteString("</title>\n</head>\n<body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.Bytes(), nil
}
