// ABOUTME: In-memory per-user fan-out of conversation change notices
// ABOUTME: Lets open clients refresh their conversation list without polling

package dialog

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 16
)

// Notice reasons.
const (
	ReasonCreated = "created"
	ReasonTurn    = "turn"
	ReasonDeleted = "deleted"
)

// Notice tells a user's clients that a conversation changed.
type Notice struct {
	ConversationID string `json:"conversationId"`
	Reason         string `json:"reason"`
}

// Notifier receives change notices. Broadcaster implements it.
type Notifier interface {
	Publish(userID string, n Notice)
}

// Broadcaster provides in-memory pub/sub of Notices keyed by user id.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Notice // userID -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Notice),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for the user's notices. The subscription is removed
// and the channel closed when ctx is cancelled or the broadcaster closes.
func (b *Broadcaster) Subscribe(ctx context.Context, userID string) (<-chan Notice, string) {
	subID := uuid.New().String()
	ch := make(chan Notice, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[userID]; !ok {
		b.subscribers[userID] = make(map[string]chan Notice)
	}
	b.subscribers[userID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "user_id", userID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(userID, subID)
	}()

	return ch, subID
}

// Publish delivers n to every subscriber of userID.
// Non-blocking: notices are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(userID string, n Notice) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers[userID] {
		select {
		case ch <- n:
		default:
			b.logger.Debug("dropped notice for slow subscriber",
				"user_id", userID,
				"sub_id", subID,
				"conversation_id", n.ConversationID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(userID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[userID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, userID)
	}

	b.logger.Debug("subscriber removed", "user_id", userID, "sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions for userID.
func (b *Broadcaster) SubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[userID])
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for userID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, userID)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}

var _ Notifier = (*Broadcaster)(nil)
