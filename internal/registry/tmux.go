package registry

import (
	"sync"
	"time"
)

// TmuxClientSignal is one attached tmux client.
type TmuxClientSignal struct {
	ClientTTY       string
	SessionName     string
	PaneCurrentPath string
	CapturedAt      time.Time
}

// TmuxSessionSignal is one tmux session and the current paths of its panes.
type TmuxSessionSignal struct {
	SessionName string
	PanePaths   []string
	CapturedAt  time.Time
}

// TmuxSnapshot is a full point-in-time read of the multiplexer.
type TmuxSnapshot struct {
	CapturedAt time.Time
	Clients    []TmuxClientSignal
	Sessions   []TmuxSessionSignal
}

// TmuxRegistry holds the most recently published tmux snapshot for queries
// that want the current state without waiting on the next poll tick.
type TmuxRegistry struct {
	mu       sync.Mutex
	snapshot TmuxSnapshot
}

// NewTmuxRegistry creates an empty tmux registry.
func NewTmuxRegistry() *TmuxRegistry {
	return &TmuxRegistry{}
}

// Publish replaces the stored snapshot.
func (r *TmuxRegistry) Publish(snap TmuxSnapshot) {
	r.mu.Lock()
	r.snapshot = snap
	r.mu.Unlock()
}

// Current returns the most recently published snapshot.
func (r *TmuxRegistry) Current() TmuxSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot
}
