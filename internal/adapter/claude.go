package adapter

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ClaudeAdapter detects Claude Code sessions from the transcripts it writes
// under ~/.claude/projects/<slugified-cwd>/<session-id>.jsonl. It is the
// fallback path used when the daemon socket is unreachable: read-only,
// best-effort, and never blocking on anything but local disk I/O.
type ClaudeAdapter struct {
	// home overrides $HOME for tests; empty means use os.UserHomeDir.
	home string
}

// NewClaudeAdapter constructs the default adapter, rooted at the real
// user home directory.
func NewClaudeAdapter() *ClaudeAdapter {
	return &ClaudeAdapter{}
}

func (a *ClaudeAdapter) ID() string          { return "claude" }
func (a *ClaudeAdapter) DisplayName() string { return "Claude Code" }

func (a *ClaudeAdapter) projectsDir() string {
	home := a.home
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".claude", "projects")
}

func (a *ClaudeAdapter) IsInstalled() bool {
	info, err := os.Stat(a.projectsDir())
	return err == nil && info.IsDir()
}

func (a *ClaudeAdapter) StateMTime() (time.Time, bool) {
	info, err := os.Stat(a.projectsDir())
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// slugifyPath mirrors Claude Code's own project-directory naming: every
// path separator becomes a hyphen.
func slugifyPath(path string) string {
	return strings.ReplaceAll(path, string(filepath.Separator), "-")
}

// DetectSession looks for the most recently modified transcript under
// path's slugified project directory.
func (a *ClaudeAdapter) DetectSession(path string) (*Session, bool) {
	dir := filepath.Join(a.projectsDir(), slugifyPath(path))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, false
	}

	var latest os.DirEntry
	var latestMTime time.Time
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestMTime) {
			latest = entry
			latestMTime = info.ModTime()
		}
	}
	if latest == nil {
		return nil, false
	}

	sessionID := strings.TrimSuffix(latest.Name(), ".jsonl")
	workingOn := lastSummaryLine(filepath.Join(dir, latest.Name()))
	return &Session{
		SessionID:   sessionID,
		ProjectPath: path,
		WorkingOn:   workingOn,
		UpdatedAt:   latestMTime,
	}, true
}

// AllSessions lists every session transcript under every project directory.
func (a *ClaudeAdapter) AllSessions() []Session {
	root := a.projectsDir()
	projectDirs, err := os.ReadDir(root)
	if err != nil {
		return nil
	}

	var sessions []Session
	for _, projectDir := range projectDirs {
		if !projectDir.IsDir() {
			continue
		}
		projectPath := filepath.Join(root, projectDir.Name())
		entries, err := os.ReadDir(projectPath)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			sessions = append(sessions, Session{
				SessionID:   strings.TrimSuffix(entry.Name(), ".jsonl"),
				ProjectPath: unslugifyPath(projectDir.Name()),
				WorkingOn:   lastSummaryLine(filepath.Join(projectPath, entry.Name())),
				UpdatedAt:   info.ModTime(),
			})
		}
	}
	return sessions
}

func unslugifyPath(slug string) string {
	return strings.ReplaceAll(slug, "-", string(filepath.Separator))
}

// lastSummaryLine scans a transcript for the most recent top-level
// "summary" field, a best-effort approximation of "what the session is
// working on" without parsing the full message schema.
func lastSummaryLine(transcriptPath string) string {
	f, err := os.Open(transcriptPath)
	if err != nil {
		return ""
	}
	defer f.Close()

	var summary string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var entry struct {
			Summary string `json:"summary"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry.Summary != "" {
			summary = entry.Summary
		}
	}
	return summary
}
