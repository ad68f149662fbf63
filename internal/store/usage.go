// ABOUTME: Per-user usage aggregation over stored conversations and messages
// ABOUTME: Reports conversation count, message count, and assistant token totals

package store

import (
	"context"
	"fmt"
)

// UsageStats aggregates the user's stored history. Assistant tokens count
// only messages whose token count was reported by the provider.
func (s *SQLiteStore) UsageStats(ctx context.Context, userID string) (*UsageStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM conversations WHERE user_id = ?) AS conversation_count,
			COUNT(m.id) AS message_count,
			COALESCE(SUM(CASE WHEN m.role = 'assistant' THEN m.tokens END), 0) AS assistant_tokens
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.user_id = ?
	`

	var stats UsageStats
	err := s.db.QueryRowContext(ctx, query, userID, userID).Scan(
		&stats.Conversations,
		&stats.Messages,
		&stats.AssistantTokens,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage stats: %w", err)
	}

	return &stats, nil
}
