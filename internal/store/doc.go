// Package store provides the relay's conversation log using SQLite.
//
// # Architecture
//
// TurnStore is the only interface. SQLiteStore implements it on
// modernc.org/sqlite (pure Go, no cgo) and MockStore implements it in memory
// for tests of packages that record turns.
//
// The log is an audit trail, not conversation state: sessions live in the
// session registry and the assistant backend. Losing the database loses
// history and statistics, nothing else.
//
// # Data Model
//
//   - TurnRecord: one handled turn with its input, reply, status, latency and
//     the session it ran on
//   - TurnStats: totals, failures, distinct users and average latency
//
// # Schema
//
// The schema is created on open. Timestamps are stored as fixed-width UTC
// strings so that ORDER BY created_at is chronological. Latency is stored in
// whole milliseconds.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("~/.local/share/coven-relay/relay.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	err = s.SaveTurn(ctx, &store.TurnRecord{UserID: room, Input: text, Reply: reply})
//	recent, err := s.ListTurns(ctx, room, 20)
//	stats, err := s.Stats(ctx)
package store
