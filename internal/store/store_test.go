// ABOUTME: Tests for SQLiteStore conversation and message operations
// ABOUTME: Covers defaults, ordering, ownership scoping, cascade delete, and ping

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// steppedClock returns a clock that advances by one second per call.
func steppedClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func TestStore_CreateConversation_Defaults(t *testing.T) {
	store := setupTestStore(t)
	store.now = func() time.Time { return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "user-1", "", "")
	require.NoError(t, err)

	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "user-1", conv.UserID)
	assert.Equal(t, "New Chat 2025-03-14", conv.Title)
	assert.Equal(t, DefaultModel, conv.Model)
	assert.Equal(t, conv.CreatedAt, conv.UpdatedAt)
}

func TestStore_CreateConversation_ExplicitValues(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "user-1", "Trip planning", "gpt-4o-mini")
	require.NoError(t, err)

	got, err := store.GetConversation(ctx, conv.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Trip planning", got.Title)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Empty(t, got.Messages)
	assert.True(t, conv.CreatedAt.Equal(got.CreatedAt))
}

func TestStore_WithDefaultModel(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), WithDefaultModel("local-llama"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	conv, err := store.CreateConversation(context.Background(), "user-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, "local-llama", conv.Model)
}

func TestStore_ListConversations_NewestFirstAndScoped(t *testing.T) {
	store := setupTestStore(t)
	store.now = steppedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	first, err := store.CreateConversation(ctx, "user-1", "first", "")
	require.NoError(t, err)
	second, err := store.CreateConversation(ctx, "user-1", "second", "")
	require.NoError(t, err)
	_, err = store.CreateConversation(ctx, "user-2", "someone else", "")
	require.NoError(t, err)

	convs, err := store.ListConversations(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, second.ID, convs[0].ID)
	assert.Equal(t, first.ID, convs[1].ID)

	// A new message moves the older conversation to the top.
	_, err = store.AddMessage(ctx, first.ID, NewMessage{Role: RoleUser, Content: "bump"})
	require.NoError(t, err)

	convs, err = store.ListConversations(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, convs[0].ID)
	assert.Nil(t, convs[0].Messages, "list is a summary projection")
}

func TestStore_ListConversations_EmptyIsNotNil(t *testing.T) {
	store := setupTestStore(t)

	convs, err := store.ListConversations(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, convs)
	assert.Empty(t, convs)
}

func TestStore_OwnershipIsEnforced(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "owner", "private", "")
	require.NoError(t, err)
	_, err = store.AddMessage(ctx, conv.ID, NewMessage{Role: RoleUser, Content: "secret"})
	require.NoError(t, err)

	_, err = store.GetConversation(ctx, conv.ID, "intruder")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetMessages(ctx, conv.ID, "intruder")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.DeleteConversation(ctx, conv.ID, "intruder")
	assert.ErrorIs(t, err, ErrNotFound)

	// Still there for the owner.
	got, err := store.GetConversation(ctx, conv.ID, "owner")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 1)
}

func TestStore_MissingConversationIsNotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetConversation(ctx, "does-not-exist", "user-1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetMessages(ctx, "does-not-exist", "user-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.DeleteConversation(ctx, "does-not-exist", "user-1"), ErrNotFound)
}

func TestStore_DeleteConversation_CascadesMessages(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "user-1", "", "")
	require.NoError(t, err)
	for _, content := range []string{"one", "two", "three"} {
		_, err := store.AddMessage(ctx, conv.ID, NewMessage{Role: RoleUser, Content: content})
		require.NoError(t, err)
	}

	require.NoError(t, store.DeleteConversation(ctx, conv.ID, "user-1"))

	_, err = store.GetConversation(ctx, conv.ID, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)

	var orphans int
	err = store.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conv.ID).Scan(&orphans)
	require.NoError(t, err)
	assert.Zero(t, orphans)
}

func TestStore_AddMessage_OrderAndOptionalFields(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "user-1", "", "")
	require.NoError(t, err)

	tokens := 42
	thinking := "considered the options"
	_, err = store.AddMessage(ctx, conv.ID, NewMessage{Role: RoleUser, Content: "question"})
	require.NoError(t, err)
	added, err := store.AddMessage(ctx, conv.ID, NewMessage{
		Role:            RoleAssistant,
		Content:         "answer",
		Tokens:          &tokens,
		ThinkingProcess: &thinking,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)
	assert.Equal(t, conv.ID, added.ConversationID)

	msgs, err := store.GetMessages(ctx, conv.ID, "user-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "question", msgs[0].Content)
	assert.Nil(t, msgs[0].Tokens)
	assert.Nil(t, msgs[0].ThinkingProcess)

	assert.Equal(t, RoleAssistant, msgs[1].Role)
	require.NotNil(t, msgs[1].Tokens)
	assert.Equal(t, 42, *msgs[1].Tokens)
	require.NotNil(t, msgs[1].ThinkingProcess)
	assert.Equal(t, thinking, *msgs[1].ThinkingProcess)
	assert.False(t, msgs[1].CreatedAt.Before(msgs[0].CreatedAt))
}

func TestStore_AddMessage_SameTimestampKeepsInsertOrder(t *testing.T) {
	store := setupTestStore(t)
	fixed := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "user-1", "", "")
	require.NoError(t, err)
	for _, content := range []string{"a", "b", "c", "d"} {
		_, err := store.AddMessage(ctx, conv.ID, NewMessage{Role: RoleUser, Content: content})
		require.NoError(t, err)
	}

	msgs, err := store.GetMessages(ctx, conv.ID, "user-1")
	require.NoError(t, err)
	var got []string
	for _, m := range msgs {
		got = append(got, m.Content)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestStore_AddMessage_UnknownConversation(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.AddMessage(context.Background(), "missing", NewMessage{Role: RoleUser, Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_AddMessage_RejectsUnknownRole(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "user-1", "", "")
	require.NoError(t, err)

	_, err = store.AddMessage(ctx, conv.ID, NewMessage{Role: "tool", Content: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestStore_Ping(t *testing.T) {
	store := setupTestStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}
