// ABOUTME: Store interface and data types for the relay's conversation log
// ABOUTME: Defines TurnRecord, TurnStats and the TurnStore interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Turn status values.
const (
	TurnStatusOK    = "ok"
	TurnStatusError = "error"
)

// TurnRecord is one handled user turn: what came in, what went out and how long it took.
type TurnRecord struct {
	ID        string
	UserID    string
	SessionID string // empty when no session was reached
	MediaType string // "", "image" or "audio"
	Input     string
	Reply     string
	Status    string // ok, error
	Error     string
	Latency   time.Duration
	CreatedAt time.Time
}

// TurnStats aggregates the conversation log.
type TurnStats struct {
	Total      int
	Failed     int
	Users      int
	AvgLatency time.Duration
}

// TurnStore persists the conversation log.
type TurnStore interface {
	// SaveTurn appends a record. ID and CreatedAt are filled in when empty.
	SaveTurn(ctx context.Context, turn *TurnRecord) error

	// GetTurn returns a single record or ErrNotFound.
	GetTurn(ctx context.Context, id string) (*TurnRecord, error)

	// ListTurns returns the newest records first. An empty userID lists all
	// users; limit <= 0 means no limit.
	ListTurns(ctx context.Context, userID string, limit int) ([]*TurnRecord, error)

	// Stats aggregates every stored record.
	Stats(ctx context.Context) (*TurnStats, error)

	Close() error
}
