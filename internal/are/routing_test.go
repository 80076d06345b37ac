package are

import (
	"testing"
	"time"

	"github.com/xcawolfe-amzn/capacitor/internal/registry"
)

func TestEngineDecideExactMatchIsHighConfidence(t *testing.T) {
	engine := NewEngine(SelectionPolicy{PreferTmux: true})
	shells := []registry.ShellSignal{{PID: 42, CWD: "/repo"}}

	snap := engine.Decide("ws1", "/repo", "/home/pete", shells,
		func(int) bool { return true },
		func(registry.ShellSignal) bool { return false },
		time.Now(), nil)

	if snap.Status != StatusAttached || snap.Confidence != ConfidenceHigh {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Target.Value != "42" {
		t.Fatalf("expected target pid 42, got %+v", snap.Target)
	}
}

func TestEngineDecideNoCandidateIsDetachedLow(t *testing.T) {
	engine := NewEngine(SelectionPolicy{})
	snap := engine.Decide("ws1", "/repo", "/home/pete", nil,
		func(int) bool { return false },
		func(registry.ShellSignal) bool { return false },
		time.Now(), nil)

	if snap.Status != StatusDetached || snap.Confidence != ConfidenceLow {
		t.Fatalf("unexpected snapshot for empty candidate set: %+v", snap)
	}
}

func TestEngineRecordsLegacyDivergence(t *testing.T) {
	engine := NewEngine(SelectionPolicy{})
	shells := []registry.ShellSignal{{PID: 42, CWD: "/repo"}}

	legacy := &LegacyDecision{Status: StatusDetached, Target: Target{Kind: "pid", Value: "99"}}
	engine.Decide("ws1", "/repo", "/home/pete", shells,
		func(int) bool { return true },
		func(registry.ShellSignal) bool { return false },
		time.Now(), legacy)

	metrics := engine.MetricsSnapshot()
	if metrics.LegacyVsAREStatusMismatch != 1 || metrics.LegacyVsARETargetMismatch != 1 {
		t.Fatalf("expected both counters to bump on full divergence, got %+v", metrics)
	}
}

func TestEngineNoDivergenceWhenLegacyAgrees(t *testing.T) {
	engine := NewEngine(SelectionPolicy{})
	shells := []registry.ShellSignal{{PID: 42, CWD: "/repo"}}

	legacy := &LegacyDecision{Status: StatusAttached, Target: Target{Kind: "pid", Value: "42"}}
	engine.Decide("ws1", "/repo", "/home/pete", shells,
		func(int) bool { return true },
		func(registry.ShellSignal) bool { return false },
		time.Now(), legacy)

	metrics := engine.MetricsSnapshot()
	if metrics.LegacyVsAREStatusMismatch != 0 || metrics.LegacyVsARETargetMismatch != 0 {
		t.Fatalf("expected no divergence when legacy agrees, got %+v", metrics)
	}
}
