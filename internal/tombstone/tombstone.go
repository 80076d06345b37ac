// Package tombstone implements the daemon's short-TTL negative cache that
// prevents late or out-of-order events from resurrecting an ended session.
package tombstone

import (
	"sync"
	"time"

	"github.com/xcawolfe-amzn/capacitor/internal/protocol"
)

// TTL is the window during which a tombstoned session suppresses incoming
// events other than session_start/session_end.
const TTL = 60 * time.Second

// Record is one tombstone row.
type Record struct {
	SessionID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store is the tombstone table: an in-memory map guarded by a mutex, backed
// durably by whatever Persist implementation the caller wires in (the
// event log's session_tombstones table in production).
type Store struct {
	mu      sync.Mutex
	entries map[string]Record
	persist Persister
}

// Persister durably records tombstone writes/clears so a restart can
// reconstruct the table via C8 replay. A nil Persister makes the Store
// purely in-memory, which is sufficient for tests.
type Persister interface {
	UpsertTombstone(r Record) error
	ClearTombstone(sessionID string) error
}

// NewStore creates an empty tombstone table. persist may be nil.
func NewStore(persist Persister) *Store {
	return &Store{entries: make(map[string]Record), persist: persist}
}

// ShouldSuppress reports whether an event of eventType for sessionID,
// recorded at recordedAt, must be dropped because a live tombstone exists.
// Per spec §4.3 and the upstream's explicit design choice, the comparison
// is against the tombstone's expires_at using the event's own recorded_at,
// never wall-clock now() — a burst of events timestamped after expiry is
// admissible even if delivered well past expiry in real time.
func (s *Store) ShouldSuppress(sessionID string, eventType protocol.EventType, recordedAt time.Time) bool {
	if eventType == protocol.EventSessionStart || eventType == protocol.EventSessionEnd {
		return false
	}

	s.mu.Lock()
	rec, ok := s.entries[sessionID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return recordedAt.Before(rec.ExpiresAt)
}

// Write installs or refreshes a tombstone for sessionID, TTL seconds from
// createdAt. Called by the orchestrator upon a reducer Delete outcome
// (session_end), and again on a session_end received during an already-live
// tombstone (which simply resets the window).
func (s *Store) Write(sessionID string, createdAt time.Time) error {
	rec := Record{SessionID: sessionID, CreatedAt: createdAt, ExpiresAt: createdAt.Add(TTL)}
	s.mu.Lock()
	s.entries[sessionID] = rec
	s.mu.Unlock()
	if s.persist != nil {
		return s.persist.UpsertTombstone(rec)
	}
	return nil
}

// Clear removes any tombstone for sessionID. Called unconditionally when a
// session_start is processed — resurrection always wins over a live
// tombstone.
func (s *Store) Clear(sessionID string) error {
	s.mu.Lock()
	_, existed := s.entries[sessionID]
	delete(s.entries, sessionID)
	s.mu.Unlock()
	if existed && s.persist != nil {
		return s.persist.ClearTombstone(sessionID)
	}
	return nil
}

// Load replaces the in-memory table wholesale — used by C8 replay to
// reconstruct tombstone state from the durable store on startup.
func (s *Store) Load(records []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Record, len(records))
	for _, r := range records {
		s.entries[r.SessionID] = r
	}
}

// Get returns the tombstone for sessionID, if any.
func (s *Store) Get(sessionID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[sessionID]
	return r, ok
}
