// Package shellbeacon implements the shell precmd hook's CWD report: try
// the daemon socket first, and when it's unreachable, fall back to an
// flock-guarded local rewrite of shell-cwd.json plus an append to
// shell-history.jsonl. Ported from the original shell-cwd hook's
// tempfile-then-rename persistence, adding internal/lock's cross-process
// guard so concurrent shell-beacon invocations cannot interleave their
// rewrites of the same files. The daemon itself never touches them.
package shellbeacon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xcawolfe-amzn/capacitor/internal/client"
	"github.com/xcawolfe-amzn/capacitor/internal/lock"
	"github.com/xcawolfe-amzn/capacitor/internal/procwalk"
	"github.com/xcawolfe-amzn/capacitor/internal/protocol"
)

// knownParentApps mirrors the original hook's KNOWN_APPS table: terminal
// emulators and IDEs whose presence in the ancestor chain is worth
// recording as the shell's parent_app.
var knownParentApps = map[string]bool{
	"Cursor Helper": true, "Cursor": true, "Code Helper": true, "Code - Insiders": true, "Code": true,
	"Ghostty": true, "iTerm2": true, "Terminal": true, "Alacritty": true, "kitty": true,
	"WarpTerminal": true, "Warp": true, "tmux": true,
}

// ShellEntry is one PID's last-known position, the durable shape written
// into shell-cwd.json.
type ShellEntry struct {
	CWD       string    `json:"cwd"`
	TTY       string    `json:"tty"`
	ParentApp string    `json:"parent_app,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// shellCwdState is shell-cwd.json's top-level shape.
type shellCwdState struct {
	Version int                   `json:"version"`
	Shells  map[string]ShellEntry `json:"shells"`
}

// Report is the shell-beacon's public entry point: detect the parent
// application, try the daemon socket, and fall back to the local files
// when the socket can't be reached within client.DefaultDialTimeout.
func Report(home, path string, pid int, tty string) error {
	normalized := normalizePath(path)
	parentApp, _ := procwalk.FindParentApp(pid, 20, knownParentApps)

	env := protocol.EventEnvelope{
		EventID:    uuid.NewString(),
		EventType:  protocol.EventShellCwd,
		RecordedAt: time.Now(),
		PID:        pid,
		CWD:        normalized,
		TTY:        tty,
		ParentApp:  parentApp,
	}

	socketPath := filepath.Join(home, "daemon.sock")
	if resp, err := client.SendEvent(socketPath, env, client.DefaultDialTimeout); err == nil && resp.OK {
		return nil
	}

	return reportLocal(home, normalized, pid, tty, parentApp)
}

func normalizePath(path string) string {
	if path == "/" {
		return "/"
	}
	return strings.TrimRight(path, "/")
}

func reportLocal(home, cwd string, pid int, tty, parentApp string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("creating capacitor home: %w", err)
	}

	cwdPath := filepath.Join(home, "shell-cwd.json")
	historyPath := filepath.Join(home, "shell-history.jsonl")

	release, err := lock.Acquire(filepath.Join(home, "shell-cwd.lock"))
	if err != nil {
		return fmt.Errorf("acquiring shell-cwd lock: %w", err)
	}
	defer release()

	state, err := loadShellCwdState(cwdPath)
	if err != nil {
		return err
	}

	key := strconv.Itoa(pid)
	previous, existed := state.Shells[key]
	changed := !existed || previous.CWD != cwd

	state.Shells[key] = ShellEntry{CWD: cwd, TTY: tty, ParentApp: parentApp, UpdatedAt: time.Now()}
	cleanupDeadPIDs(state)

	if err := writeShellCwdStateAtomic(cwdPath, state); err != nil {
		return err
	}

	if changed {
		if err := appendHistory(historyPath, cwd, pid, tty, parentApp); err != nil {
			return err
		}
	}
	return nil
}

func loadShellCwdState(path string) (*shellCwdState, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &shellCwdState{Version: 1, Shells: map[string]ShellEntry{}}, nil
		}
		return nil, fmt.Errorf("reading shell-cwd state: %w", err)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return &shellCwdState{Version: 1, Shells: map[string]ShellEntry{}}, nil
	}

	var state shellCwdState
	if err := json.Unmarshal(b, &state); err != nil || state.Version != 1 {
		return &shellCwdState{Version: 1, Shells: map[string]ShellEntry{}}, nil
	}
	if state.Shells == nil {
		state.Shells = map[string]ShellEntry{}
	}
	return &state, nil
}

func writeShellCwdStateAtomic(path string, state *shellCwdState) error {
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling shell-cwd state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("writing shell-cwd state: %w", err)
	}
	return os.Rename(tmp, path)
}

func cleanupDeadPIDs(state *shellCwdState) {
	for pidStr := range state.Shells {
		pid, err := strconv.Atoi(pidStr)
		if err != nil || !procwalk.IsAlive(pid) {
			delete(state.Shells, pidStr)
		}
	}
}

func appendHistory(path, cwd string, pid int, tty, parentApp string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening shell history: %w", err)
	}
	defer f.Close()

	entry := map[string]any{
		"cwd": cwd, "pid": pid, "tty": tty, "timestamp": time.Now().Format(time.RFC3339),
	}
	if parentApp != "" {
		entry["parent_app"] = parentApp
	} else {
		entry["parent_app"] = nil
	}

	w := bufio.NewWriter(f)
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling history entry: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
