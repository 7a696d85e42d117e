// ABOUTME: Tests for TurnBroadcaster fan-out
// ABOUTME: Covers subscribe/unsubscribe, AllUsers delivery, slow subscribers and close

package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-relay/internal/store"
)

func TestTurnBroadcaster_UnsubscribeOnCancel(t *testing.T) {
	b := NewTurnBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "u1")
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel closes after cancel")
	case <-time.After(time.Second):
		t.Fatal("subscription not cleaned up")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(&store.TurnRecord{UserID: "u1"})
}

func TestTurnBroadcaster_SlowSubscriberDrops(t *testing.T) {
	b := NewTurnBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), AllUsers)
	for i := 0; i < subscriberBufferSize+10; i++ {
		b.Publish(&store.TurnRecord{UserID: "u1"})
	}
	assert.Len(t, ch, subscriberBufferSize)
}

func TestTurnBroadcaster_Close(t *testing.T) {
	b := NewTurnBroadcaster(nil)
	ch, subID := b.Subscribe(context.Background(), "u1")
	require.NotEmpty(t, subID)

	b.Close()
	_, ok := <-ch
	assert.False(t, ok)

	// Unsubscribing after close is a no-op.
	b.Unsubscribe("u1", subID)
}
