package tombstone

import (
	"testing"
	"time"

	"github.com/xcawolfe-amzn/capacitor/internal/protocol"
)

func TestStragglerWithinTTLSuppressed(t *testing.T) {
	s := NewStore(nil)
	t0 := time.Now()
	if err := s.Write("S1", t0); err != nil {
		t.Fatal(err)
	}

	if !s.ShouldSuppress("S1", protocol.EventPostToolUse, t0.Add(30*time.Second)) {
		t.Fatal("expected straggler within TTL to be suppressed")
	}
}

func TestStragglerAfterTTLAdmitted(t *testing.T) {
	// Per spec §9's open question: suppression compares the event's own
	// recorded_at to expires_at, not wall-clock now. An event timestamped
	// before expiry is suppressed even if "delivered" long after, and one
	// timestamped after expiry is admissible.
	s := NewStore(nil)
	t0 := time.Now()
	if err := s.Write("S1", t0); err != nil {
		t.Fatal(err)
	}

	if s.ShouldSuppress("S1", protocol.EventPostToolUse, t0.Add(61*time.Second)) {
		t.Fatal("expected event timestamped after expiry to be admissible")
	}
}

func TestSessionStartAndEndAlwaysPassThrough(t *testing.T) {
	s := NewStore(nil)
	t0 := time.Now()
	if err := s.Write("S1", t0); err != nil {
		t.Fatal(err)
	}

	if s.ShouldSuppress("S1", protocol.EventSessionStart, t0.Add(time.Second)) {
		t.Fatal("session_start must never be suppressed")
	}
	if s.ShouldSuppress("S1", protocol.EventSessionEnd, t0.Add(time.Second)) {
		t.Fatal("session_end must never be suppressed")
	}
}

func TestClearRemovesTombstone(t *testing.T) {
	s := NewStore(nil)
	t0 := time.Now()
	if err := s.Write("S1", t0); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear("S1"); err != nil {
		t.Fatal(err)
	}
	if s.ShouldSuppress("S1", protocol.EventPostToolUse, t0.Add(time.Second)) {
		t.Fatal("expected no suppression after clear")
	}
}

func TestNoTombstoneNeverSuppresses(t *testing.T) {
	s := NewStore(nil)
	if s.ShouldSuppress("never-seen", protocol.EventPostToolUse, time.Now()) {
		t.Fatal("expected no suppression for unknown session")
	}
}
