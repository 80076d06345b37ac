package adapter

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTranscript(t *testing.T, path string, lines []string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
}

func TestIsInstalledReflectsProjectsDir(t *testing.T) {
	home := t.TempDir()
	a := &ClaudeAdapter{home: home}
	if a.IsInstalled() {
		t.Fatal("expected not installed before projects dir exists")
	}

	if err := os.MkdirAll(filepath.Join(home, ".claude", "projects"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if !a.IsInstalled() {
		t.Fatal("expected installed once the projects dir exists")
	}
}

func TestDetectSessionFindsLatestTranscript(t *testing.T) {
	home := t.TempDir()
	a := &ClaudeAdapter{home: home}
	projectPath := "/repo/project"
	dir := filepath.Join(home, ".claude", "projects", slugifyPath(projectPath))

	writeTranscript(t, filepath.Join(dir, "s1.jsonl"), []string{`{"summary":"old work"}`})
	time.Sleep(10 * time.Millisecond)
	writeTranscript(t, filepath.Join(dir, "s2.jsonl"), []string{`{"summary":"new work"}`})

	sess, ok := a.DetectSession(projectPath)
	if !ok {
		t.Fatal("expected a detected session")
	}
	if sess.SessionID != "s2" {
		t.Fatalf("expected latest transcript s2, got %s", sess.SessionID)
	}
	if sess.WorkingOn != "new work" {
		t.Fatalf("expected summary 'new work', got %q", sess.WorkingOn)
	}
}

func TestDetectSessionMissingProjectReturnsFalse(t *testing.T) {
	home := t.TempDir()
	a := &ClaudeAdapter{home: home}
	if _, ok := a.DetectSession("/nope"); ok {
		t.Fatal("expected no session for a project with no transcripts")
	}
}

func TestAllSessionsWalksEveryProjectDir(t *testing.T) {
	home := t.TempDir()
	a := &ClaudeAdapter{home: home}

	writeTranscript(t, filepath.Join(home, ".claude", "projects", "-repo-a", "s1.jsonl"), []string{`{"summary":"a work"}`})
	writeTranscript(t, filepath.Join(home, ".claude", "projects", "-repo-b", "s2.jsonl"), []string{`{"summary":"b work"}`})

	sessions := a.AllSessions()
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
}
