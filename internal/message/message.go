// ABOUTME: Chat message types with string-or-parts content decoding
// ABOUTME: Normalizes message content to plain text and derives conversation titles

package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Role identifies the author of a message.
type Role string

// Message roles accepted from clients and persisted by the store.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// PartTypeText is the only part type kept by normalization.
const PartTypeText = "text"

// Part is one element of list-typed content. Fields other than Type and Text
// are kept raw so unknown part types round-trip untouched.
type Part struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	Raw  json.RawMessage `json:"-"`
}

// Content is either a plain string or an ordered list of parts.
// The zero value is absent content.
type Content struct {
	str   *string
	parts []Part
}

// Text returns string content.
func Text(s string) Content {
	return Content{str: &s}
}

// Parts returns list-typed content.
func Parts(parts ...Part) Content {
	if parts == nil {
		parts = []Part{}
	}
	return Content{parts: parts}
}

// IsParts reports whether the content is list-typed.
func (c Content) IsParts() bool {
	return c.str == nil && c.parts != nil
}

// Text normalizes the content to a single string. See Normalize.
func (c Content) Text() string {
	return Normalize(c)
}

// Normalize returns string content unchanged, joins the text parts of list
// content with newlines, and returns "" for absent content.
func Normalize(c Content) string {
	if c.str != nil {
		return *c.str
	}
	texts := make([]string, 0, len(c.parts))
	for _, p := range c.parts {
		if p.Type == PartTypeText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// NormalizeNewlines rewrites CRLF and bare CR line breaks as LF, the only
// break an event-stream data line can round-trip.
func NormalizeNewlines(s string) string {
	if !strings.ContainsRune(s, '\r') {
		return s
	}
	return lineBreaks.Replace(s)
}

// UnmarshalJSON accepts a string, an array of parts, or null.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*c = Content{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		c.str = &s
		return nil
	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return err
		}
		parts := make([]Part, 0, len(raws))
		for i, raw := range raws {
			var p Part
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("content part %d: %w", i, err)
			}
			p.Raw = raw
			parts = append(parts, p)
		}
		c.parts = parts
		return nil
	}
	return fmt.Errorf("content must be a string or an array of parts")
}

// MarshalJSON writes the content back in the form it was received.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.str != nil {
		return json.Marshal(*c.str)
	}
	if c.parts == nil {
		return []byte("null"), nil
	}
	out := make([]json.RawMessage, 0, len(c.parts))
	for _, p := range c.parts {
		if len(p.Raw) > 0 {
			out = append(out, p.Raw)
			continue
		}
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return json.Marshal(out)
}

// Message is a single chat turn as submitted by a client.
type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// New builds a message with string content.
func New(role Role, text string) Message {
	return Message{Role: role, Content: Text(text)}
}

// FirstUserText returns the normalized text of the first user message, or ""
// when there is none.
func FirstUserText(msgs []Message) string {
	for _, m := range msgs {
		if m.Role == RoleUser {
			return m.Content.Text()
		}
	}
	return ""
}

// DefaultTitleLength bounds titles derived from message text.
const DefaultTitleLength = 50

// Title collapses whitespace in text and truncates it to max runes, marking
// the cut with an ellipsis. A non-positive max means DefaultTitleLength.
func Title(text string, max int) string {
	if max <= 0 {
		max = DefaultTitleLength
	}
	title := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(title) <= max {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:max])) + "…"
}
