// ABOUTME: TTL and size bounded set of transport event ids already accepted
// ABOUTME: Keeps redelivered chat events from being queued twice

package inbound

import (
	"container/list"
	"sync"
	"time"
)

const (
	DefaultSeenTTL  = 10 * time.Minute
	DefaultSeenSize = 10000
)

type seenEntry struct {
	at      time.Time
	element *list.Element
}

// seenSet remembers keys in arrival order. Expired keys are pruned from the
// front on every call, so there is no background goroutine to stop.
type seenSet struct {
	mu      sync.Mutex
	entries map[string]*seenEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

func newSeenSet(ttl time.Duration, maxSize int) *seenSet {
	if ttl <= 0 {
		ttl = DefaultSeenTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultSeenSize
	}
	return &seenSet{
		entries: make(map[string]*seenEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// seen reports whether key was already recorded within the TTL and records it
// if not. Check and record are one atomic step.
func (s *seenSet) seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)

	if _, ok := s.entries[key]; ok {
		return true
	}

	if len(s.entries) >= s.maxSize {
		s.removeLocked(s.order.Front())
	}
	s.entries[key] = &seenEntry{at: now, element: s.order.PushBack(key)}
	return false
}

func (s *seenSet) pruneLocked(now time.Time) {
	for e := s.order.Front(); e != nil; e = s.order.Front() {
		key, _ := e.Value.(string)
		if now.Sub(s.entries[key].at) < s.ttl {
			return
		}
		s.removeLocked(e)
	}
}

func (s *seenSet) removeLocked(e *list.Element) {
	if e == nil {
		return
	}
	key, _ := e.Value.(string)
	s.order.Remove(e)
	delete(s.entries, key)
}

func (s *seenSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
