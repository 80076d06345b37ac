package are

import (
	"fmt"
	"time"

	"github.com/xcawolfe-amzn/capacitor/internal/registry"
)

// RoutingStatus mirrors spec §3's RoutingSnapshot.status.
type RoutingStatus string

const (
	StatusAttached RoutingStatus = "attached"
	StatusDetached RoutingStatus = "detached"
	StatusUnknown  RoutingStatus = "unknown"
)

// Confidence mirrors spec §3's RoutingSnapshot.confidence.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Target identifies what a routing decision points at: a live shell PID,
// or nothing when no candidate qualified.
type Target struct {
	Kind  string
	Value string
}

// RoutingSnapshot is C6's published per-workspace routing decision.
type RoutingSnapshot struct {
	WorkspaceID string
	ProjectPath string
	Status      RoutingStatus
	Target      Target
	Confidence  Confidence
	ReasonCode  string
	Reason      string
	Evidence    []string
	UpdatedAt   time.Time
}

// Engine computes routing decisions for a workspace from the candidate
// shells registry.ShellRegistry holds, plus liveness and tmux signals, and
// tracks legacy-vs-ARE divergence for the rollout metric surface.
type Engine struct {
	Policy  SelectionPolicy
	metrics Metrics
}

// Metrics is the legacy-divergence counter surface (spec §4.5), exposed
// over get_are_metrics.
type Metrics struct {
	LegacyVsAREStatusMismatch int
	LegacyVsARETargetMismatch int
}

// NewEngine creates a routing engine with the given selection policy.
func NewEngine(policy SelectionPolicy) *Engine {
	return &Engine{Policy: policy}
}

// LegacyDecision is a decision produced by the older file-scanning
// heuristic, supplied by callers that still run it alongside ARE during
// rollout so the two can be compared.
type LegacyDecision struct {
	Status RoutingStatus
	Target Target
}

// Decide computes a RoutingSnapshot for workspaceID/projectPath from the
// given shells, and if legacy is non-nil, folds any divergence into the
// engine's metrics.
func (e *Engine) Decide(
	workspaceID, projectPath, homeDir string,
	shells []registry.ShellSignal,
	isLive func(pid int) bool,
	hasKnownParent func(sig registry.ShellSignal) bool,
	now time.Time,
	legacy *LegacyDecision,
) RoutingSnapshot {
	outcome := SelectBestShell(shells, projectPath, homeDir, e.Policy, isLive, hasKnownParent)

	snap := RoutingSnapshot{
		WorkspaceID: workspaceID,
		ProjectPath: projectPath,
		UpdatedAt:   now,
	}

	if outcome.Best == nil {
		snap.Status = StatusDetached
		snap.Confidence = ConfidenceLow
		snap.ReasonCode = "no_candidate"
		snap.Reason = "no shell signal matched this workspace"
	} else {
		best := outcome.Best
		snap.Target = Target{Kind: "pid", Value: fmt.Sprintf("%d", best.PID)}
		if best.IsLive {
			snap.Status = StatusAttached
		} else {
			snap.Status = StatusDetached
		}
		snap.Confidence = confidenceFor(*best)
		snap.ReasonCode = reasonCodeFor(*best)
		snap.Reason = reasonFor(*best)
	}

	for _, c := range outcome.Candidates {
		snap.Evidence = append(snap.Evidence, evidenceLine(c))
	}

	if legacy != nil {
		e.recordDivergence(*legacy, snap)
	}

	return snap
}

func confidenceFor(c Candidate) Confidence {
	switch {
	case c.MatchType == PathExact:
		return ConfidenceHigh
	case c.IsLive:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func reasonCodeFor(c Candidate) string {
	if !c.IsLive {
		return "best_candidate_dead"
	}
	switch c.MatchType {
	case PathExact:
		return "exact_path_match"
	case PathChild:
		return "child_path_match"
	default:
		return "parent_path_match"
	}
}

func reasonFor(c Candidate) string {
	switch {
	case !c.IsLive:
		return "the best-ranked candidate shell is no longer alive"
	case c.MatchType == PathExact:
		return "shell cwd exactly matches the project path"
	case c.MatchType == PathChild:
		return "shell cwd is a subdirectory of the project path"
	default:
		return "shell cwd is an ancestor directory of the project path"
	}
}

func evidenceLine(c Candidate) string {
	return fmt.Sprintf("pid=%d live=%v match=%d tmux=%v known_parent=%v", c.PID, c.IsLive, c.MatchType.rank(), c.HasTmux, c.HasKnownParent)
}

// recordDivergence bumps the legacy-vs-ARE counters when the two decisions
// disagree. Not goroutine-safe: the counters are plain fields with no lock,
// and nothing serializes concurrent Decide calls that pass a legacy
// decision.
func (e *Engine) recordDivergence(legacy LegacyDecision, snap RoutingSnapshot) {
	if legacy.Status != snap.Status {
		e.metrics.LegacyVsAREStatusMismatch++
	}
	if legacy.Target != snap.Target {
		e.metrics.LegacyVsARETargetMismatch++
	}
}

// MetricsSnapshot returns the current legacy-divergence counters.
func (e *Engine) MetricsSnapshot() Metrics {
	return e.metrics
}
