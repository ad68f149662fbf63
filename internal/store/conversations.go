// ABOUTME: Conversation and message operations for SQLiteStore
// ABOUTME: All user-scoped reads and writes go through conversationForUser

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const conversationColumns = `id, user_id, title, model, created_at, updated_at`

const messageColumns = `id, conversation_id, role, content, tokens, thinking_process, created_at`

// conversationForUser loads a conversation owned by userID.
// Missing rows and rows owned by someone else both yield ErrNotFound.
func conversationForUser(ctx context.Context, q querier, id, userID string) (*Conversation, error) {
	if id == "" || userID == "" {
		return nil, ErrNotFound
	}

	row := q.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// CreateConversation creates a conversation for userID. An empty title gets
// DefaultTitle and an empty model gets the store's default model.
func (s *SQLiteStore) CreateConversation(ctx context.Context, userID, title, model string) (*Conversation, error) {
	conv := s.newConversation(userID, title, model)
	if err := insertConversation(ctx, s.db, conv); err != nil {
		return nil, err
	}

	s.logger.Debug("created conversation", "id", conv.ID, "user_id", userID, "model", conv.Model)
	return conv, nil
}

func (s *SQLiteStore) newConversation(userID, title, model string) *Conversation {
	now := s.now()
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle(now)
	}
	if strings.TrimSpace(model) == "" {
		model = s.defaultModel
	}
	return &Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func insertConversation(ctx context.Context, q querier, conv *Conversation) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, title, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		conv.ID,
		conv.UserID,
		conv.Title,
		conv.Model,
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// ListConversations returns the user's conversations, most recently updated
// first, without messages.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user_id = ?
		ORDER BY updated_at DESC, rowid DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	convs := []*Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		convs = append(convs, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return convs, nil
}

// GetConversation returns the conversation with its messages oldest first.
func (s *SQLiteStore) GetConversation(ctx context.Context, id, userID string) (*Conversation, error) {
	conv, err := conversationForUser(ctx, s.db, id, userID)
	if err != nil {
		return nil, err
	}

	conv.Messages, err = listMessages(ctx, s.db, conv.ID)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// DeleteConversation removes the conversation and, by cascade, its messages.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id, userID string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := conversationForUser(ctx, tx, id, userID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("deleted conversation", "id", id, "user_id", userID)
	return nil
}

// GetMessages returns the conversation's messages oldest first.
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID, userID string) ([]*Message, error) {
	if _, err := conversationForUser(ctx, s.db, conversationID, userID); err != nil {
		return nil, err
	}
	return listMessages(ctx, s.db, conversationID)
}

// AddMessage appends a message and bumps the conversation's updated_at.
// It returns ErrNotFound when the conversation does not exist.
func (s *SQLiteStore) AddMessage(ctx context.Context, conversationID string, msg NewMessage) (*Message, error) {
	var stored *Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		stored, err = insertMessage(ctx, tx, conversationID, msg, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("added message", "id", stored.ID, "conversation_id", conversationID, "role", stored.Role)
	return stored, nil
}

// SaveTurn stores a user message and the assistant reply in one transaction,
// creating the conversation first when turn.ConversationID is empty.
func (s *SQLiteStore) SaveTurn(ctx context.Context, turn Turn) (*SavedTurn, error) {
	if turn.UserID == "" {
		return nil, errors.New("saving turn: user id is required")
	}

	saved := &SavedTurn{ConversationID: turn.ConversationID}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if saved.ConversationID == "" {
			conv := s.newConversation(turn.UserID, turn.Title, turn.Model)
			if err := insertConversation(ctx, tx, conv); err != nil {
				return err
			}
			saved.ConversationID = conv.ID
			saved.Created = true
		} else if _, err := conversationForUser(ctx, tx, saved.ConversationID, turn.UserID); err != nil {
			return err
		}

		now := s.now()
		var err error
		saved.User, err = insertMessage(ctx, tx, saved.ConversationID, turn.User, now)
		if err != nil {
			return err
		}

		// Strictly later than the user message so created_at alone orders the turn.
		saved.Assistant, err = insertMessage(ctx, tx, saved.ConversationID, turn.Assistant, now.Add(time.Microsecond))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("saved turn",
		"conversation_id", saved.ConversationID,
		"user_id", turn.UserID,
		"created", saved.Created,
	)
	return saved, nil
}

func insertMessage(ctx context.Context, q querier, conversationID string, msg NewMessage, now time.Time) (*Message, error) {
	stored := &Message{
		ID:              uuid.New().String(),
		ConversationID:  conversationID,
		Role:            msg.Role,
		Content:         msg.Content,
		Tokens:          msg.Tokens,
		ThinkingProcess: msg.ThinkingProcess,
		CreatedAt:       now,
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, tokens, thinking_process, created_at, seq)
		SELECT ?, ?, ?, ?, ?, ?, ?, COALESCE(MAX(seq), 0) + 1
		FROM messages
		WHERE conversation_id = ?
	`,
		stored.ID,
		stored.ConversationID,
		stored.Role,
		stored.Content,
		nullInt(stored.Tokens),
		nullString(stored.ThinkingProcess),
		formatTime(stored.CreatedAt),
		stored.ConversationID,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	_, err = q.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		formatTime(now), conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("touching conversation: %w", err)
	}
	return stored, nil
}

func listMessages(ctx context.Context, q querier, conversationID string) ([]*Message, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	msgs := []*Message{}
	for rows.Next() {
		var msg Message
		var createdAtStr string
		var tokens sql.NullInt64
		var thinking sql.NullString

		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &tokens, &thinking, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		if tokens.Valid {
			n := int(tokens.Int64)
			msg.Tokens = &n
		}
		if thinking.Valid {
			msg.ThinkingProcess = &thinking.String
		}
		msgs = append(msgs, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return msgs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var createdAtStr, updatedAtStr string

	if err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.Model, &createdAtStr, &updatedAtStr); err != nil {
		return nil, err
	}

	var err error
	conv.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &conv, nil
}

// withTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
