// Package reducer implements the daemon's pure session state machine: a
// single function that folds one validated event onto a session's prior
// state and produces an intent (upsert, delete, or skip) for the caller
// to apply. The function performs no I/O and consults no external state,
// so replay (internal/replay) can apply it deterministically to any
// ordered event history.
package reducer

import (
	"time"

	"github.com/xcawolfe-amzn/capacitor/internal/protocol"
)

// State is a session's position in the lifecycle state machine. The zero
// value is never used as a live state — absence of a SessionRecord (the
// Idle state from spec §1) is represented by a nil *Session, not a State.
type State string

const (
	StateReady      State = "Ready"
	StateWorking    State = "Working"
	StateCompacting State = "Compacting"
	StateWaiting    State = "Waiting"
)

// Session is the reducer's view of session state — the fields Reduce reads
// and writes. internal/eventlog's SessionRow additionally stores project
// identity alongside this, derived from the event's cwd via internal/identity.
type Session struct {
	SessionID      string
	State          State
	StateChangedAt time.Time
	UpdatedAt      time.Time
	WorkingOn      string
	NextStep       string
}

// OutcomeKind tags which of the three reducer intents an Outcome carries.
type OutcomeKind int

const (
	Skip OutcomeKind = iota
	Upsert
	Delete
)

// Outcome is the reducer's verdict for one event: what the caller should
// do to its session store. Session is populated only for Upsert.
type Outcome struct {
	Kind    OutcomeKind
	Session *Session
}

// Reduce computes the next reducer outcome for event ev applied to the
// optional prior session state. It is pure: the same (prior, ev) pair
// always yields the same Outcome, which is what makes replay (C8)
// deterministic (spec P1, P4).
func Reduce(prior *Session, ev protocol.EventEnvelope) Outcome {
	switch ev.EventType {
	case protocol.EventSessionStart:
		return upsertState(prior, ev, StateReady, true)

	case protocol.EventUserPromptSubmit:
		return upsertState(prior, ev, StateWorking, true)

	case protocol.EventPostToolUse:
		// post_tool_use always resumes Working, from any prior state
		// (including absent) — this is how permission-prompt and
		// auto-compact recoveries happen.
		return upsertState(prior, ev, StateWorking, true)

	case protocol.EventPermissionRequest:
		if prior == nil {
			return Outcome{Kind: Skip}
		}
		return upsertState(prior, ev, StateWaiting, true)

	case protocol.EventPreCompact:
		if prior == nil {
			return Outcome{Kind: Skip}
		}
		if ev.Trigger != "auto" {
			return upsertState(prior, ev, prior.State, false)
		}
		return upsertState(prior, ev, StateCompacting, true)

	case protocol.EventStop:
		if prior == nil {
			return Outcome{Kind: Skip}
		}
		return upsertState(prior, ev, StateReady, true)

	case protocol.EventNotification:
		if prior == nil {
			return Outcome{Kind: Skip}
		}
		if ev.NotificationType != "idle_prompt" {
			return upsertState(prior, ev, prior.State, false)
		}
		return upsertState(prior, ev, StateReady, true)

	case protocol.EventSessionEnd:
		if prior == nil {
			return Outcome{Kind: Skip}
		}
		return Outcome{Kind: Delete}

	case protocol.EventPreToolUse:
		// Deliberately unspecified: leave state unchanged. Callers may
		// still persist the raw event and attribute activity from it,
		// but the reducer itself never transitions on pre_tool_use.
		return Outcome{Kind: Skip}

	default:
		return Outcome{Kind: Skip}
	}
}

// upsertState builds an Upsert outcome, carrying forward WorkingOn/NextStep
// metadata from the event when present. changed indicates whether this
// event moves state_changed_at forward (a state-machine edge) or merely
// refreshes updated_at on a self-loop.
func upsertState(prior *Session, ev protocol.EventEnvelope, next State, changed bool) Outcome {
	sess := &Session{
		SessionID: ev.SessionID,
		State:     next,
		UpdatedAt: ev.RecordedAt,
	}
	if prior != nil {
		sess.StateChangedAt = prior.StateChangedAt
		sess.WorkingOn = prior.WorkingOn
		sess.NextStep = prior.NextStep
	}
	if changed || prior == nil {
		sess.StateChangedAt = ev.RecordedAt
	}
	if v, ok := ev.Metadata["working_on"]; ok {
		sess.WorkingOn = v
	}
	if v, ok := ev.Metadata["next_step"]; ok {
		sess.NextStep = v
	}
	return Outcome{Kind: Upsert, Session: sess}
}
