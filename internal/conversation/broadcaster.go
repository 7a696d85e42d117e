// ABOUTME: In-memory fan-out of recorded turns to live subscribers
// ABOUTME: Subscribers watch one user or AllUsers and receive each turn as it is logged

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-relay/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// AllUsers subscribes to every user's turns.
	AllUsers = "*"
)

// TurnBroadcaster provides in-memory pub/sub for recorded turns.
// Publishing never blocks: a subscriber whose channel is full misses the turn.
type TurnBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *store.TurnRecord // userID -> subID -> ch
	logger      *slog.Logger
}

// NewTurnBroadcaster creates a broadcaster. Pass nil logger for default.
func NewTurnBroadcaster(logger *slog.Logger) *TurnBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnBroadcaster{
		subscribers: make(map[string]map[string]chan *store.TurnRecord),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for turns of userID (or AllUsers). The subscription is
// removed and its channel closed when ctx is cancelled.
func (b *TurnBroadcaster) Subscribe(ctx context.Context, userID string) (<-chan *store.TurnRecord, string) {
	subID := uuid.New().String()
	ch := make(chan *store.TurnRecord, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[userID]; !ok {
		b.subscribers[userID] = make(map[string]chan *store.TurnRecord)
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

// Publish delivers turn to subscribers of its user and of AllUsers.
func (b *TurnBroadcaster) Publish(turn *store.TurnRecord) {
	b.mu.RLock()
	var targets []chan *store.TurnRecord
	for _, key := range []string{turn.UserID, AllUsers} {
		for _, ch := range b.subscribers[key] {
			targets = append(targets, ch)
		}
	}
	// Sends happen under the read lock so Unsubscribe cannot close a channel mid-send.
	for _, ch := range targets {
		select {
		case ch <- turn:
		default:
			b.logger.Debug("dropped turn for slow subscriber", "user_id", turn.UserID, "turn_id", turn.ID)
		}
	}
	b.mu.RUnlock()
}

// Unsubscribe removes a subscription and closes its channel.
func (b *TurnBroadcaster) Unsubscribe(userID, subID string) {
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

// Close closes all subscriber channels.
func (b *TurnBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for userID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, userID)
	}

	b.logger.Debug("broadcaster closed")
}
