// Package registry holds the daemon's in-memory shell, multiplexer, and
// process-liveness caches (C5): the signals the activation/routing engine
// (internal/are) fuses into a routing decision. Each cache is a small
// mutex-guarded map whose critical sections are pure in-memory scans —
// never I/O — per the concurrency model's "no worker holds a lock across a
// socket read/write" rule.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/xcawolfe-amzn/capacitor/internal/procwalk"
)

// ShellSignal is one interactive shell's last-known position, keyed by
// (PID, ProcStart).
type ShellSignal struct {
	PID           int
	ProcStart     string
	CWD           string
	TTY           string
	ParentApp     string
	TmuxSession   string
	TmuxClientTTY string
	TmuxPane      string
	RecordedAt    time.Time
}

// Key returns the ShellSignal's map key.
func (s ShellSignal) Key() string { return shellKey(s.PID, s.ProcStart) }

func shellKey(pid int, procStart string) string {
	return fmt.Sprintf("%d\x00%s", pid, procStart)
}

// ProcessLiveness mirrors spec §3's ProcessLiveness tuple.
type ProcessLiveness struct {
	PID             int
	ProcStarted     string
	LastSeenAt      time.Time
	IsAlive         bool
	IdentityMatches bool
}

// ShellRegistry is C5's in-memory shell-beacon cache.
type ShellRegistry struct {
	mu     sync.Mutex
	shells map[string]ShellSignal
}

// NewShellRegistry creates an empty shell registry.
func NewShellRegistry() *ShellRegistry {
	return &ShellRegistry{shells: make(map[string]ShellSignal)}
}

// Upsert records or refreshes a shell beacon.
func (r *ShellRegistry) Upsert(sig ShellSignal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shells[sig.Key()] = sig
}

// Remove drops a shell beacon, e.g. once its PID is confirmed dead.
func (r *ShellRegistry) Remove(pid int, procStart string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.shells, shellKey(pid, procStart))
}

// All returns a snapshot of every known shell signal.
func (r *ShellRegistry) All() []ShellSignal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ShellSignal, 0, len(r.shells))
	for _, s := range r.shells {
		out = append(out, s)
	}
	return out
}

// Load replaces the registry contents wholesale (used by C8 replay).
func (r *ShellRegistry) Load(signals []ShellSignal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shells = make(map[string]ShellSignal, len(signals))
	for _, s := range signals {
		r.shells[s.Key()] = s
	}
}

// ProcessRegistry is C5's in-memory process-liveness cache.
type ProcessRegistry struct {
	mu       sync.Mutex
	liveness map[int]ProcessLiveness
}

// NewProcessRegistry creates an empty process registry.
func NewProcessRegistry() *ProcessRegistry {
	return &ProcessRegistry{liveness: make(map[int]ProcessLiveness)}
}

// Probe checks pid's liveness with a zero-signal probe and records the
// result, comparing the freshly observed start time against storedStart
// (the start time recorded when the PID was first seen) to detect reuse
// within the ±2s tolerance spec §5 mandates.
func (r *ProcessRegistry) Probe(pid int, storedStart string, now time.Time) ProcessLiveness {
	alive := procwalk.IsAlive(pid)
	currentStart := ""
	if alive {
		currentStart, _ = procwalk.StartTime(pid)
	}

	live := ProcessLiveness{
		PID:         pid,
		ProcStarted: storedStart,
		LastSeenAt:  now,
		IsAlive:     alive,
	}
	if alive {
		live.IdentityMatches = procwalk.IdentityMatches(storedStart, currentStart)
		if storedStart == "" {
			live.ProcStarted = currentStart
		}
	}

	r.mu.Lock()
	r.liveness[pid] = live
	r.mu.Unlock()
	return live
}

// Get returns the last recorded liveness snapshot for pid.
func (r *ProcessRegistry) Get(pid int) (ProcessLiveness, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.liveness[pid]
	return l, ok
}

// Load replaces the registry contents wholesale (used by C8 replay).
func (r *ProcessRegistry) Load(rows []ProcessLiveness) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.liveness = make(map[int]ProcessLiveness, len(rows))
	for _, row := range rows {
		r.liveness[row.PID] = row
	}
}
