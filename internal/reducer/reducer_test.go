package reducer

import (
	"testing"
	"time"

	"github.com/xcawolfe-amzn/capacitor/internal/protocol"
)

func ev(t time.Time, typ protocol.EventType, mutate func(*protocol.EventEnvelope)) protocol.EventEnvelope {
	e := protocol.EventEnvelope{
		EventID:    "e-" + string(typ),
		EventType:  typ,
		SessionID:  "S1",
		PID:        100,
		CWD:        "/repo",
		RecordedAt: t,
	}
	if mutate != nil {
		mutate(&e)
	}
	return e
}

func TestSessionStartFromAbsentYieldsReady(t *testing.T) {
	out := Reduce(nil, ev(time.Now(), protocol.EventSessionStart, nil))
	if out.Kind != Upsert || out.Session.State != StateReady {
		t.Fatalf("got %+v", out)
	}
}

func TestUserPromptSubmitFromAbsentYieldsWorking(t *testing.T) {
	out := Reduce(nil, ev(time.Now(), protocol.EventUserPromptSubmit, nil))
	if out.Kind != Upsert || out.Session.State != StateWorking {
		t.Fatalf("got %+v", out)
	}
}

func TestPostToolUseResumesFromWaiting(t *testing.T) {
	prior := &Session{SessionID: "S1", State: StateWaiting}
	out := Reduce(prior, ev(time.Now(), protocol.EventPostToolUse, nil))
	if out.Kind != Upsert || out.Session.State != StateWorking {
		t.Fatalf("got %+v", out)
	}
}

func TestPostToolUseResumesFromCompacting(t *testing.T) {
	prior := &Session{SessionID: "S1", State: StateCompacting}
	out := Reduce(prior, ev(time.Now(), protocol.EventPostToolUse, nil))
	if out.Kind != Upsert || out.Session.State != StateWorking {
		t.Fatalf("got %+v", out)
	}
}

func TestPermissionRequestYieldsWaiting(t *testing.T) {
	prior := &Session{SessionID: "S1", State: StateWorking}
	out := Reduce(prior, ev(time.Now(), protocol.EventPermissionRequest, nil))
	if out.Kind != Upsert || out.Session.State != StateWaiting {
		t.Fatalf("got %+v", out)
	}
}

func TestPreCompactAutoYieldsCompacting(t *testing.T) {
	prior := &Session{SessionID: "S1", State: StateWorking}
	out := Reduce(prior, ev(time.Now(), protocol.EventPreCompact, func(e *protocol.EventEnvelope) {
		e.Trigger = "auto"
	}))
	if out.Kind != Upsert || out.Session.State != StateCompacting {
		t.Fatalf("got %+v", out)
	}
}

func TestPreCompactManualIgnored(t *testing.T) {
	prior := &Session{SessionID: "S1", State: StateWorking}
	out := Reduce(prior, ev(time.Now(), protocol.EventPreCompact, func(e *protocol.EventEnvelope) {
		e.Trigger = "manual"
	}))
	if out.Kind != Upsert || out.Session.State != StateWorking {
		t.Fatalf("got %+v", out)
	}
}

func TestStopYieldsReady(t *testing.T) {
	prior := &Session{SessionID: "S1", State: StateWorking}
	out := Reduce(prior, ev(time.Now(), protocol.EventStop, nil))
	if out.Kind != Upsert || out.Session.State != StateReady {
		t.Fatalf("got %+v", out)
	}
}

func TestNotificationIdlePromptForcesReadyFromWorking(t *testing.T) {
	prior := &Session{SessionID: "S1", State: StateWorking}
	out := Reduce(prior, ev(time.Now(), protocol.EventNotification, func(e *protocol.EventEnvelope) {
		e.NotificationType = "idle_prompt"
	}))
	if out.Kind != Upsert || out.Session.State != StateReady {
		t.Fatalf("got %+v", out)
	}
}

func TestNotificationOtherIgnored(t *testing.T) {
	prior := &Session{SessionID: "S1", State: StateWorking}
	out := Reduce(prior, ev(time.Now(), protocol.EventNotification, func(e *protocol.EventEnvelope) {
		e.NotificationType = "other"
	}))
	if out.Kind != Upsert || out.Session.State != StateWorking {
		t.Fatalf("got %+v", out)
	}
}

func TestSessionEndDeletes(t *testing.T) {
	prior := &Session{SessionID: "S1", State: StateReady}
	out := Reduce(prior, ev(time.Now(), protocol.EventSessionEnd, nil))
	if out.Kind != Delete {
		t.Fatalf("got %+v", out)
	}
}

func TestSessionEndOnAbsentSkips(t *testing.T) {
	out := Reduce(nil, ev(time.Now(), protocol.EventSessionEnd, nil))
	if out.Kind != Skip {
		t.Fatalf("got %+v", out)
	}
}

func TestPreToolUseNeverTransitions(t *testing.T) {
	prior := &Session{SessionID: "S1", State: StateWorking}
	out := Reduce(prior, ev(time.Now(), protocol.EventPreToolUse, nil))
	if out.Kind != Skip {
		t.Fatalf("expected skip, got %+v", out)
	}
}

// S1: full lifecycle ends in a Delete intent for session_end.
func TestScenarioS1Lifecycle(t *testing.T) {
	base := time.Now()
	var sess *Session

	steps := []struct {
		typ    protocol.EventType
		offset time.Duration
	}{
		{protocol.EventSessionStart, 0},
		{protocol.EventUserPromptSubmit, time.Second},
		{protocol.EventPostToolUse, 2 * time.Second},
		{protocol.EventStop, 3 * time.Second},
	}
	for _, step := range steps {
		out := Reduce(sess, ev(base.Add(step.offset), step.typ, nil))
		if out.Kind != Upsert {
			t.Fatalf("step %v: expected upsert, got %+v", step.typ, out)
		}
		sess = out.Session
	}

	finalOut := Reduce(sess, ev(base.Add(4*time.Second), protocol.EventSessionEnd, nil))
	if finalOut.Kind != Delete {
		t.Fatalf("expected delete at session_end, got %+v", finalOut)
	}
}

// S2: permission then recovery.
func TestScenarioS2PermissionThenRecovery(t *testing.T) {
	base := time.Now()
	sess := &Session{SessionID: "S1", State: StateWorking}

	out := Reduce(sess, ev(base, protocol.EventPermissionRequest, nil))
	if out.Session.State != StateWaiting {
		t.Fatalf("expected waiting, got %+v", out)
	}

	out2 := Reduce(out.Session, ev(base.Add(time.Second), protocol.EventPostToolUse, nil))
	if out2.Session.State != StateWorking {
		t.Fatalf("expected working, got %+v", out2)
	}
}

func TestReduceIsPure(t *testing.T) {
	prior := &Session{SessionID: "S1", State: StateWorking, UpdatedAt: time.Unix(100, 0)}
	event := ev(time.Unix(200, 0), protocol.EventPostToolUse, nil)

	out1 := Reduce(prior, event)
	out2 := Reduce(prior, event)

	if out1.Session.State != out2.Session.State || out1.Session.UpdatedAt != out2.Session.UpdatedAt {
		t.Fatalf("reduce is not deterministic: %+v vs %+v", out1, out2)
	}
}

func TestWorkingOnMetadataCarriesForward(t *testing.T) {
	prior := &Session{SessionID: "S1", State: StateWorking, WorkingOn: "old task"}
	out := Reduce(prior, ev(time.Now(), protocol.EventPostToolUse, func(e *protocol.EventEnvelope) {
		e.Metadata = map[string]string{"working_on": "new task"}
	}))
	if out.Session.WorkingOn != "new task" {
		t.Fatalf("expected metadata to update working_on, got %q", out.Session.WorkingOn)
	}
}
