// Package store provides conversation persistence for dialog-relay using SQLite.
//
// # Data Model
//
//   - Conversation: a user-owned thread with a title and model
//   - Message: one stored turn (user, assistant or system) with optional
//     token count and reasoning text
//
// Messages reference their conversation with ON DELETE CASCADE, so deleting
// a conversation removes its messages.
//
// # Ownership
//
// Every user-scoped operation resolves the conversation through
// conversationForUser. A conversation that does not exist and one owned by
// another user both produce ErrNotFound, so callers cannot probe for ids.
//
// # Turns
//
// SaveTurn writes a complete exchange in one transaction: it creates the
// conversation when none is given, inserts the user message and the
// assistant reply, and bumps updated_at. A failure leaves nothing behind.
//
// # Implementations
//
// SQLiteStore uses the pure-Go modernc.org/sqlite driver with WAL mode and
// foreign keys enabled. MockStore is an in-memory implementation for tests
// that can inject SaveTurn failures.
package store
