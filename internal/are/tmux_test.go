package are

import (
	"testing"
	"time"

	"github.com/xcawolfe-amzn/capacitor/internal/registry"
)

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return ts
}

func TestComputeTmuxDiffDetectsAddRemoveUpdate(t *testing.T) {
	previous := &registry.TmuxSnapshot{
		CapturedAt: at(t, "2026-02-14T10:00:00Z"),
		Clients: []registry.TmuxClientSignal{
			{ClientTTY: "/dev/ttys001", SessionName: "alpha", PaneCurrentPath: "/repo/a"},
			{ClientTTY: "/dev/ttys002", SessionName: "beta", PaneCurrentPath: "/repo/b"},
		},
		Sessions: []registry.TmuxSessionSignal{
			{SessionName: "alpha", PanePaths: []string{"/repo/a"}},
		},
	}
	current := &registry.TmuxSnapshot{
		CapturedAt: at(t, "2026-02-14T10:00:01Z"),
		Clients: []registry.TmuxClientSignal{
			{ClientTTY: "/dev/ttys001", SessionName: "alpha", PaneCurrentPath: "/repo/a/next"},
			{ClientTTY: "/dev/ttys003", SessionName: "gamma", PaneCurrentPath: "/repo/c"},
		},
		Sessions: []registry.TmuxSessionSignal{
			{SessionName: "alpha", PanePaths: []string{"/repo/a/next"}},
			{SessionName: "gamma", PanePaths: []string{"/repo/c"}},
		},
	}

	diff := computeTmuxDiff(previous, current)
	if diff.ClientsAdded != 1 || diff.ClientsRemoved != 1 || diff.ClientsUpdated != 1 {
		t.Fatalf("unexpected client diff: %+v", diff)
	}
	if diff.SessionsAdded != 1 || diff.SessionsRemoved != 0 || diff.SessionsUpdated != 1 {
		t.Fatalf("unexpected session diff: %+v", diff)
	}
}

func TestComputeTmuxDiffZeroForIdenticalSnapshot(t *testing.T) {
	snapshot := &registry.TmuxSnapshot{
		CapturedAt: at(t, "2026-02-14T10:00:00Z"),
		Clients: []registry.TmuxClientSignal{
			{ClientTTY: "/dev/ttys001", SessionName: "alpha", PaneCurrentPath: "/repo/a"},
		},
		Sessions: []registry.TmuxSessionSignal{
			{SessionName: "alpha", PanePaths: []string{"/repo/a"}},
		},
	}

	diff := computeTmuxDiff(snapshot, snapshot)
	if diff != (TmuxDiff{}) {
		t.Fatalf("expected zero diff for identical snapshots, got %+v", diff)
	}
}

func TestComputeTmuxDiffFirstPollIsAllAdds(t *testing.T) {
	current := &registry.TmuxSnapshot{
		Clients:  []registry.TmuxClientSignal{{ClientTTY: "/dev/ttys001", SessionName: "alpha"}},
		Sessions: []registry.TmuxSessionSignal{{SessionName: "alpha"}},
	}
	diff := computeTmuxDiff(nil, current)
	if diff.ClientsAdded != 1 || diff.SessionsAdded != 1 {
		t.Fatalf("expected first poll to be all adds, got %+v", diff)
	}
}

func TestParseTmuxClientsIgnoresInvalidLinesAndNormalizesPaths(t *testing.T) {
	captured := at(t, "2026-02-14T10:00:00Z")
	raw := "/dev/ttys001\talpha\t/Users/pete/Code/capacitor\n" +
		"/dev/ttys002\tbeta\t\n" +
		"invalid\n"

	parsed := parseTmuxClients(raw, captured)
	if len(parsed) != 2 {
		t.Fatalf("expected 2 valid clients, got %d: %+v", len(parsed), parsed)
	}
	if parsed[0].ClientTTY != "/dev/ttys001" || parsed[0].SessionName != "alpha" {
		t.Fatalf("unexpected first client: %+v", parsed[0])
	}
	if parsed[0].PaneCurrentPath != "/Users/pete/Code/capacitor" {
		t.Fatalf("unexpected pane path: %+v", parsed[0])
	}
	if parsed[1].ClientTTY != "/dev/ttys002" || parsed[1].PaneCurrentPath != "" {
		t.Fatalf("unexpected second client: %+v", parsed[1])
	}
}

func TestParseTmuxPanesGroupsPathsBySession(t *testing.T) {
	captured := at(t, "2026-02-14T10:00:00Z")
	raw := "alpha\t/Users/pete/Code/a\n" +
		"alpha\t/Users/pete/Code/a\n" +
		"alpha\t/Users/pete/Code/a/sub\n" +
		"beta\t/Users/pete/Code/b\n" +
		"invalid\n"

	sessions := parseTmuxPanes(raw, captured)
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d: %+v", len(sessions), sessions)
	}
	if sessions[0].SessionName != "alpha" || len(sessions[0].PanePaths) != 2 {
		t.Fatalf("unexpected alpha session: %+v", sessions[0])
	}
	if sessions[0].PanePaths[0] != "/Users/pete/Code/a" || sessions[0].PanePaths[1] != "/Users/pete/Code/a/sub" {
		t.Fatalf("unexpected alpha pane paths: %+v", sessions[0].PanePaths)
	}
	if sessions[1].SessionName != "beta" || len(sessions[1].PanePaths) != 1 {
		t.Fatalf("unexpected beta session: %+v", sessions[1])
	}
}

type fakeTmuxAdapter struct {
	snapshots []registry.TmuxSnapshot
	idx       int
}

func (f *fakeTmuxAdapter) Snapshot() (registry.TmuxSnapshot, error) {
	snap := f.snapshots[f.idx]
	f.idx++
	return snap, nil
}

func TestTmuxPollerTracksPreviousSnapshotForIncrementalDiffing(t *testing.T) {
	snap1 := registry.TmuxSnapshot{
		Clients:  []registry.TmuxClientSignal{{ClientTTY: "/dev/ttys001", SessionName: "alpha", PaneCurrentPath: "/repo/a"}},
		Sessions: []registry.TmuxSessionSignal{{SessionName: "alpha", PanePaths: []string{"/repo/a"}}},
	}
	snap2 := registry.TmuxSnapshot{
		Clients: []registry.TmuxClientSignal{
			{ClientTTY: "/dev/ttys001", SessionName: "alpha", PaneCurrentPath: "/repo/a/next"},
			{ClientTTY: "/dev/ttys002", SessionName: "beta", PaneCurrentPath: "/repo/b"},
		},
		Sessions: []registry.TmuxSessionSignal{
			{SessionName: "alpha", PanePaths: []string{"/repo/a/next"}},
			{SessionName: "beta", PanePaths: []string{"/repo/b"}},
		},
	}

	poller := NewTmuxPoller(&fakeTmuxAdapter{snapshots: []registry.TmuxSnapshot{snap1, snap2}})

	_, firstDiff, err := poller.PollOnce()
	if err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if firstDiff.ClientsAdded != 1 || firstDiff.SessionsAdded != 1 {
		t.Fatalf("unexpected first diff: %+v", firstDiff)
	}

	_, secondDiff, err := poller.PollOnce()
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if secondDiff.ClientsAdded != 1 || secondDiff.ClientsUpdated != 1 {
		t.Fatalf("unexpected second diff clients: %+v", secondDiff)
	}
	if secondDiff.SessionsAdded != 1 || secondDiff.SessionsUpdated != 1 {
		t.Fatalf("unexpected second diff sessions: %+v", secondDiff)
	}
}
