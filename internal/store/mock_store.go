// ABOUTME: Mock TurnStore implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory TurnStore implementation for testing.
type MockStore struct {
	mu    sync.RWMutex
	turns []*TurnRecord // insertion order

	// SaveErr, when set, is returned by SaveTurn.
	SaveErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// SaveTurn stores a copy of turn.
func (m *MockStore) SaveTurn(ctx context.Context, turn *TurnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	if turn.Status == "" {
		turn.Status = TurnStatusOK
	}

	// Make a copy to avoid external modification
	t := *turn
	m.turns = append(m.turns, &t)
	return nil
}

// GetTurn retrieves a turn by ID.
func (m *MockStore) GetTurn(ctx context.Context, id string) (*TurnRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.turns {
		if t.ID == id {
			c := *t
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// ListTurns returns turns newest first.
func (m *MockStore) ListTurns(ctx context.Context, userID string, limit int) ([]*TurnRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*TurnRecord
	for i := len(m.turns) - 1; i >= 0; i-- {
		t := m.turns[i]
		if userID != "" && t.UserID != userID {
			continue
		}
		c := *t
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Stats aggregates the stored turns.
func (m *MockStore) Stats(ctx context.Context) (*TurnStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats TurnStats
	users := make(map[string]struct{})
	var total time.Duration
	for _, t := range m.turns {
		stats.Total++
		if t.Status == TurnStatusError {
			stats.Failed++
		}
		users[t.UserID] = struct{}{}
		total += t.Latency.Truncate(time.Millisecond)
	}
	stats.Users = len(users)
	if stats.Total > 0 {
		stats.AvgLatency = total / time.Duration(stats.Total)
	}
	return &stats, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Turns returns a snapshot of every stored turn in insertion order.
func (m *MockStore) Turns() []TurnRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]TurnRecord, len(m.turns))
	for i, t := range m.turns {
		out[i] = *t
	}
	return out
}

var _ TurnStore = (*MockStore)(nil)
