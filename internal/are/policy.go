// Package are implements the activation/routing engine (C6): fusing shell,
// tmux, and process-liveness signals from internal/registry into a ranked
// per-workspace routing decision.
package are

import (
	"sort"
	"strings"
	"time"

	"github.com/xcawolfe-amzn/capacitor/internal/registry"
)

// PathMatch classifies how a shell's cwd relates to a project path.
type PathMatch int

const (
	PathParent PathMatch = iota
	PathChild
	PathExact
)

func (m PathMatch) rank() int {
	switch m {
	case PathExact:
		return 2
	case PathChild:
		return 1
	default:
		return 0
	}
}

// PolicyTable documents the selection policy in the order it is applied,
// for the engine's human-readable decision trace.
var PolicyTable = []string{
	"live shells beat dead shells",
	"path specificity: exact > child > parent",
	"tmux preference (only when attached and path specificity ties)",
	"known parent app beats unknown parent app",
	"most recent timestamp wins (invalid timestamps lose)",
	"higher PID breaks ties deterministically",
}

// Candidate is one shell signal scored against a project path.
type Candidate struct {
	PID             int
	Shell           registry.ShellSignal
	IsLive          bool
	HasTmux         bool
	HasKnownParent  bool
	MatchType       PathMatch
	Timestamp       time.Time
	TimestampValid  bool
}

// SelectionPolicy is C6's ranking policy: a strict lexicographic tuple
// comparison, largest wins (spec §4.5).
type SelectionPolicy struct {
	PreferTmux bool
}

// Compare returns true if candidate outranks best under this policy.
func (p SelectionPolicy) Compare(candidate, best Candidate) bool {
	if candidate.IsLive != best.IsLive {
		return candidate.IsLive
	}
	if candidate.MatchType.rank() != best.MatchType.rank() {
		return candidate.MatchType.rank() > best.MatchType.rank()
	}
	if p.PreferTmux && candidate.MatchType.rank() == best.MatchType.rank() {
		if candidate.HasTmux != best.HasTmux {
			return candidate.HasTmux
		}
	}
	if candidate.HasKnownParent != best.HasKnownParent {
		return candidate.HasKnownParent
	}
	switch compareTimestamp(candidate, best) {
	case 1:
		return true
	case -1:
		return false
	}
	return candidate.PID > best.PID
}

// compareTimestamp returns 1 if candidate's timestamp wins, -1 if best's
// wins, 0 if tied. A missing/invalid timestamp always loses to a valid one.
func compareTimestamp(candidate, best Candidate) int {
	switch {
	case candidate.TimestampValid && best.TimestampValid:
		if candidate.Timestamp.After(best.Timestamp) {
			return 1
		}
		if candidate.Timestamp.Before(best.Timestamp) {
			return -1
		}
		return 0
	case candidate.TimestampValid && !best.TimestampValid:
		return 1
	case !candidate.TimestampValid && best.TimestampValid:
		return -1
	default:
		return 0
	}
}

// SelectionOutcome is the result of scoring every candidate shell for a
// project path: the winner (if any) plus the full scored set in ranked
// order, for the engine's decision trace.
type SelectionOutcome struct {
	Best       *Candidate
	Candidates []Candidate
}

// SelectBestShell scores every shell signal against projectPath and picks
// the winner under policy. isLive/hasKnownParent are supplied by the
// caller (backed by internal/registry's process-liveness cache and
// parent-app detection) since policy.go has no process-introspection
// dependency of its own.
func SelectBestShell(
	shells []registry.ShellSignal,
	projectPath, homeDir string,
	policy SelectionPolicy,
	isLive func(pid int) bool,
	hasKnownParent func(sig registry.ShellSignal) bool,
) SelectionOutcome {
	projectNorm := normalizePath(projectPath)
	homeNorm := normalizePath(homeDir)

	var candidates []Candidate
	for _, sig := range shells {
		shellNorm := normalizePath(sig.CWD)
		matchType, ok := MatchTypeExcludingHome(shellNorm, projectNorm, homeNorm)
		if !ok {
			continue
		}

		ts, valid := parseTimestamp(sig.RecordedAt)
		candidates = append(candidates, Candidate{
			PID:            sig.PID,
			Shell:          sig,
			IsLive:         isLive(sig.PID),
			HasTmux:        sig.TmuxSession != "",
			HasKnownParent: hasKnownParent(sig),
			MatchType:      matchType,
			Timestamp:      ts,
			TimestampValid: valid,
		})
	}

	var best *Candidate
	for i := range candidates {
		c := candidates[i]
		if best == nil || policy.Compare(c, *best) {
			cc := c
			best = &cc
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return policy.Compare(candidates[i], candidates[j])
	})

	return SelectionOutcome{Best: best, Candidates: candidates}
}

func parseTimestamp(t time.Time) (time.Time, bool) {
	if t.IsZero() {
		return t, false
	}
	return t, true
}

// managedWorktreesMarker identifies a daemon-managed worktree checkout; two
// paths under different managed worktrees never match each other, keeping
// parallel worktrees isolated in routing decisions.
const managedWorktreesMarker = "/.capacitor/worktrees/"

// MatchTypeExcludingHome classifies shellPath against projectPath, treating
// homeDir as too broad to ever count as a "parent" match, and refusing to
// match across distinct managed-worktree roots.
func MatchTypeExcludingHome(shellPath, projectPath, homeDir string) (PathMatch, bool) {
	if shellPath == projectPath {
		return PathExact, true
	}

	if !pathsShareManagedWorktree(shellPath, projectPath) {
		return 0, false
	}

	shorter, longer := shellPath, projectPath
	if len(projectPath) < len(shellPath) {
		shorter, longer = projectPath, shellPath
	}

	if shorter == homeDir {
		return 0, false
	}

	rest, ok := strings.CutPrefix(longer, shorter)
	if !ok || !strings.HasPrefix(rest, "/") {
		return 0, false
	}

	if shorter == projectPath {
		return PathChild, true
	}
	return PathParent, true
}

func pathsShareManagedWorktree(a, b string) bool {
	aRoot, aOK := managedWorktreeRoot(a)
	bRoot, bOK := managedWorktreeRoot(b)
	if !aOK && !bOK {
		return true
	}
	if aOK && bOK {
		return aRoot == bRoot
	}
	return false
}

func managedWorktreeRoot(path string) (string, bool) {
	idx := strings.Index(path, managedWorktreesMarker)
	if idx < 0 {
		return "", false
	}
	rootStart := idx + len(managedWorktreesMarker)
	remainder := path[rootStart:]
	end := strings.IndexByte(remainder, '/')
	if end == 0 {
		return "", false
	}
	if end < 0 {
		end = len(remainder)
	}
	return path[:rootStart+end], true
}

func normalizePath(path string) string {
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		return strings.TrimRight(path, "/")
	}
	return path
}
