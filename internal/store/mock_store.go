// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject storage failures

package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	messages      map[string][]*Message    // keyed by conversation ID
	clock         time.Time

	// SaveTurnErr, when set, is returned by SaveTurn without writing anything.
	SaveTurnErr error
	// SaveTurnCalls counts SaveTurn invocations, successful or not.
	SaveTurnCalls int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		clock:         time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick advances the mock clock so every write gets a distinct timestamp.
func (m *MockStore) tick() time.Time {
	m.clock = m.clock.Add(time.Millisecond)
	return m.clock
}

func (m *MockStore) ownedLocked(id, userID string) (*Conversation, error) {
	conv, ok := m.conversations[id]
	if !ok || conv.UserID != userID {
		return nil, ErrNotFound
	}
	return conv, nil
}

func (m *MockStore) createLocked(userID, title, model string) *Conversation {
	now := m.tick()
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle(now)
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	conv := &Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.conversations[conv.ID] = conv
	return conv
}

func (m *MockStore) addLocked(conversationID string, msg NewMessage) (*Message, error) {
	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	now := m.tick()
	stored := &Message{
		ID:              uuid.New().String(),
		ConversationID:  conversationID,
		Role:            msg.Role,
		Content:         msg.Content,
		Tokens:          msg.Tokens,
		ThinkingProcess: msg.ThinkingProcess,
		CreatedAt:       now,
	}
	m.messages[conversationID] = append(m.messages[conversationID], stored)
	conv.UpdatedAt = now

	cp := *stored
	return &cp, nil
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, userID, title, model string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv := m.createLocked(userID, title, model)
	cp := *conv
	return &cp, nil
}

// ListConversations returns the user's conversations newest first.
func (m *MockStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*Conversation{}
	for _, c := range m.conversations {
		if c.UserID == userID {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

// GetConversation returns an owned conversation with its messages.
func (m *MockStore) GetConversation(ctx context.Context, id, userID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, err := m.ownedLocked(id, userID)
	if err != nil {
		return nil, err
	}
	cp := *conv
	cp.Messages = m.copyMessagesLocked(id)
	return &cp, nil
}

// DeleteConversation removes an owned conversation and its messages.
func (m *MockStore) DeleteConversation(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.ownedLocked(id, userID); err != nil {
		return err
	}
	delete(m.conversations, id)
	delete(m.messages, id)
	return nil
}

// GetMessages returns an owned conversation's messages.
func (m *MockStore) GetMessages(ctx context.Context, conversationID, userID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := m.ownedLocked(conversationID, userID); err != nil {
		return nil, err
	}
	return m.copyMessagesLocked(conversationID), nil
}

func (m *MockStore) copyMessagesLocked(conversationID string) []*Message {
	result := make([]*Message, 0, len(m.messages[conversationID]))
	for _, msg := range m.messages[conversationID] {
		cp := *msg
		result = append(result, &cp)
	}
	return result
}

// AddMessage appends a message without an ownership check.
func (m *MockStore) AddMessage(ctx context.Context, conversationID string, msg NewMessage) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.addLocked(conversationID, msg)
}

// SaveTurn mirrors SQLiteStore.SaveTurn: nothing is written on failure.
func (m *MockStore) SaveTurn(ctx context.Context, turn Turn) (*SavedTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveTurnCalls++
	if m.SaveTurnErr != nil {
		return nil, m.SaveTurnErr
	}
	if turn.UserID == "" {
		return nil, errors.New("saving turn: user id is required")
	}

	saved := &SavedTurn{ConversationID: turn.ConversationID}
	if saved.ConversationID == "" {
		saved.ConversationID = m.createLocked(turn.UserID, turn.Title, turn.Model).ID
		saved.Created = true
	} else if _, err := m.ownedLocked(saved.ConversationID, turn.UserID); err != nil {
		return nil, err
	}

	var err error
	if saved.User, err = m.addLocked(saved.ConversationID, turn.User); err != nil {
		return nil, err
	}
	if saved.Assistant, err = m.addLocked(saved.ConversationID, turn.Assistant); err != nil {
		return nil, err
	}
	return saved, nil
}

// UsageStats aggregates the user's stored history.
func (m *MockStore) UsageStats(ctx context.Context, userID string) (*UsageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats UsageStats
	for id, c := range m.conversations {
		if c.UserID != userID {
			continue
		}
		stats.Conversations++
		for _, msg := range m.messages[id] {
			stats.Messages++
			if msg.Role == RoleAssistant && msg.Tokens != nil {
				stats.AssistantTokens += *msg.Tokens
			}
		}
	}
	return &stats, nil
}

// ConversationCount returns the number of stored conversations across all users.
func (m *MockStore) ConversationCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

// Ping always succeeds.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
