// ABOUTME: In-memory session registry backed by a self-healing persisted file
// ABOUTME: Maps chat users to backend session ids and drops invalid ids on load

package session

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Session binds one chat user to one backend conversation session.
type Session struct {
	UserID     string
	ID         ID
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Store is the process-wide session registry. Construct one with Open at
// startup and pass it to the components that need it.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	persister Persister
	logger    *slog.Logger
	now       func() time.Time
}

// Open loads the registry through p, keeps only entries whose value coerces
// to a valid id and rewrites the persisted registry when anything was dropped.
// Load failures are logged and leave the store empty; they are never fatal.
func Open(p Persister, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		sessions:  make(map[string]*Session),
		persister: p,
		logger:    logger.With("component", "session"),
		now:       time.Now,
	}
	s.load()
	return s
}

func (s *Store) load() {
	if s.persister == nil {
		return
	}

	entries, err := s.persister.Load()
	if err != nil {
		s.logger.Error("failed to load session registry", "error", err)
		if !errors.Is(err, ErrCorruptRegistry) {
			return
		}
		if q, ok := s.persister.(interface{ Quarantine() (string, error) }); ok {
			if dest, qerr := q.Quarantine(); qerr != nil {
				s.logger.Error("failed to move corrupt registry aside", "error", qerr)
			} else {
				s.logger.Warn("corrupt registry moved aside", "path", dest)
			}
		}
		s.saveLocked()
		return
	}

	now := s.now()
	dropped := 0
	for userID, raw := range entries {
		id, err := ParseID(Coerce(raw))
		if userID == "" || err != nil {
			dropped++
			s.logger.Warn("dropping invalid registry entry", "user", userID, "error", err)
			continue
		}
		s.sessions[userID] = &Session{UserID: userID, ID: id, CreatedAt: now, LastUsedAt: now}
	}

	s.logger.Info("session registry loaded", "sessions", len(s.sessions), "dropped", dropped)
	if dropped > 0 {
		s.saveLocked()
	}
}

// Get returns the user's session id, if a valid one exists.
func (s *Store) Get(userID string) (ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return "", false
	}
	return sess.ID, true
}

// Set validates raw, stores it for userID and persists the registry before
// returning. Validation failures leave the registry untouched.
func (s *Store) Set(userID, raw string) (ID, error) {
	id, err := ParseID(raw)
	if err != nil {
		s.logger.Warn("rejected session id", "user", userID, "error", err)
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if sess, ok := s.sessions[userID]; ok {
		sess.ID = id
		sess.LastUsedAt = now
	} else {
		s.sessions[userID] = &Session{UserID: userID, ID: id, CreatedAt: now, LastUsedAt: now}
	}
	s.saveLocked()

	s.logger.Debug("session set", "user", userID, "session_id", id)
	return id, nil
}

// Remove forgets the user's session. Removing an absent user is a no-op.
func (s *Store) Remove(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[userID]; !ok {
		return
	}
	delete(s.sessions, userID)
	s.saveLocked()

	s.logger.Info("session removed", "user", userID)
}

// IsFirstInteraction reports whether the user has no valid session.
func (s *Store) IsFirstInteraction(userID string) bool {
	_, ok := s.Get(userID)
	return !ok
}

// Touch records that the user's session was just used.
func (s *Store) Touch(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[userID]; ok {
		sess.LastUsedAt = s.now()
	}
}

// Snapshot returns a copy of all sessions ordered by user id.
func (s *Store) Snapshot() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Len returns the number of sessions held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// saveLocked writes the registry. Must be called with mu held (or before the
// store is shared). Failures are logged, not returned.
func (s *Store) saveLocked() {
	if s.persister == nil {
		return
	}
	entries := make(map[string]string, len(s.sessions))
	for userID, sess := range s.sessions {
		entries[userID] = string(sess.ID)
	}
	if err := s.persister.Save(entries); err != nil {
		perr := &PersistenceError{Op: "save", Err: err}
		s.logger.Error("failed to persist session registry", "error", perr, "sessions", len(entries))
	}
}
