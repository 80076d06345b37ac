package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func validEnvelope() EventEnvelope {
	return EventEnvelope{
		EventID:    "evt-1",
		EventType:  EventSessionStart,
		SessionID:  "sess-1",
		RecordedAt: time.Now(),
		PID:        1234,
		CWD:        "/tmp/project",
	}
}

func TestEventEnvelopeValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*EventEnvelope)
		wantErr error
	}{
		{"valid", func(e *EventEnvelope) {}, nil},
		{"missing event id", func(e *EventEnvelope) { e.EventID = "" }, ErrMissingField},
		{"missing session id", func(e *EventEnvelope) { e.SessionID = "" }, ErrMissingField},
		{"bad event type", func(e *EventEnvelope) { e.EventType = "bogus" }, ErrInvalidEventType},
		{"zero pid", func(e *EventEnvelope) { e.PID = 0 }, ErrInvalidPID},
		{"negative pid", func(e *EventEnvelope) { e.PID = -5 }, ErrInvalidPID},
		{"missing cwd", func(e *EventEnvelope) { e.CWD = "" }, ErrMissingField},
		{"zero recorded_at", func(e *EventEnvelope) { e.RecordedAt = time.Time{} }, ErrMissingField},
		{"shell_cwd requires tty not session_id", func(e *EventEnvelope) {
			e.EventType = EventShellCwd
			e.SessionID = ""
			e.TTY = "/dev/ttys001"
		}, nil},
		{"shell_cwd missing tty", func(e *EventEnvelope) {
			e.EventType = EventShellCwd
			e.SessionID = ""
		}, ErrMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := validEnvelope()
			tt.mutate(&env)
			err := env.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	resp, err := NewOK("req-1", map[string]string{"status": "ok"})
	if err != nil {
		t.Fatalf("NewOK: %v", err)
	}
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Response
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.OK || decoded.ID != "req-1" {
		t.Fatalf("unexpected decoded response: %+v", decoded)
	}
}

func TestErrorCodeMapping(t *testing.T) {
	r := NewError("req-2", ErrorCode(ErrUnknownMethod), ErrUnknownMethod)
	if r.OK {
		t.Fatal("expected OK=false")
	}
	if r.Error.Code != "unknown_method" {
		t.Fatalf("unexpected code: %s", r.Error.Code)
	}
}
