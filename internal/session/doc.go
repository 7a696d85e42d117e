// Package session keeps the mapping from chat users to assistant sessions.
//
// # Overview
//
// Every chat user gets one long-lived session on the assistant backend. The
// Store remembers which session belongs to which user so that follow-up
// messages continue the same conversation:
//
//	store := session.Open(session.NewJSONFile(path), logger)
//	id, ok := store.Get(userID)
//
// # Session IDs
//
// Session ids are opaque backend tokens. The only thing the relay knows about
// them is their shape: a "thread_" prefix and a minimum length. ParseID is
// the single place that shape is checked, and every id that enters the
// process (registry load, Set, backend responses) goes through it. A Store
// never hands out an id that failed ParseID.
//
// # Persistence
//
// The registry is a flat JSON object of user id to session id, read whole on
// startup and written whole after every Set and Remove. Writes go to a temp
// file that is renamed into place.
//
// Loading is self-healing:
//
//   - values are coerced to strings (numbers, {"id": ...} objects) and validated
//   - invalid entries are dropped and the cleaned registry is written back
//   - a file that is not JSON at all is moved to <path>.corrupt
//
// Write failures are logged as PersistenceError and otherwise ignored; the
// in-memory map stays authoritative until the process exits.
//
// # Reset Policy
//
// The conversation layer calls Remove whenever a turn fails, so the next
// message from that user starts a fresh session.
package session
