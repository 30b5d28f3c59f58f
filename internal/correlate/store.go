// Package correlate implements the short-lived store that reunites an
// outbound fax submission with its delivery-status callback. The key is
// the transmission SID returned by the fax provider; the value is the
// reply draft built from the originating email.
package correlate

import (
	"sync"
	"time"

	"github.com/shineum/fax-gateway/internal/email"
)

// Store is a process-local TTL cache of pending reply drafts. Entries
// are write-once, read-once-or-never: the one status callback per
// transmission consumes the entry, and entries whose callback never
// arrives expire after the TTL. Restart loses in-flight correlations.
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry

	// now is overridable for tests.
	now func() time.Time
}

type entry struct {
	draft     *email.Draft
	createdAt time.Time
}

// New creates a Store whose entries expire after ttl.
func New(ttl time.Duration) *Store {
	return &Store{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Put inserts or overwrites the pending draft for the given transmission
// SID. Expired entries are swept opportunistically so the map stays
// bounded even when callbacks never arrive.
func (s *Store) Put(sid string, draft *email.Draft) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.entries {
		if now.Sub(e.createdAt) > s.ttl {
			delete(s.entries, key)
		}
	}
	s.entries[sid] = entry{draft: draft, createdAt: now}
}

// TakeOrDefault returns and removes the stored draft for sid. When no
// unexpired entry exists the factory result is returned instead; the
// default is not inserted. A callback for an expired or unknown SID thus
// still yields a usable draft.
func (s *Store) TakeOrDefault(sid string, factory func() *email.Draft) *email.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sid]
	if ok {
		delete(s.entries, sid)
		if s.now().Sub(e.createdAt) <= s.ttl {
			return e.draft
		}
	}
	return factory()
}

// Len reports the number of entries currently held, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
