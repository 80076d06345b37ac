package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
)

// State is the small status snapshot `capctl daemon status` reads back —
// not the event log itself, just enough to answer "is it running, since
// when, how many ARE polls has it done."
type State struct {
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	LastPollAt time.Time `json:"last_poll_at"`
	PollCount  int       `json:"poll_count"`
}

func pidFilePath(home string) string   { return filepath.Join(home, "daemon.pid") }
func stateFilePath(home string) string { return filepath.Join(home, "state.json") }
func lockFilePath(home string) string  { return filepath.Join(home, "daemon.lock") }
func LogFilePath(home string) string   { return filepath.Join(home, "daemon.log") }

func writePIDFile(home string, pid int) error {
	return os.WriteFile(pidFilePath(home), []byte(fmt.Sprintf("%d\n", pid)), 0o644)
}

func removePIDFile(home string) {
	os.Remove(pidFilePath(home))
}

// SaveState persists the status snapshot atomically (temp file + rename),
// mirroring internal/backoff's persistence idiom.
func SaveState(home string, st State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshaling daemon state: %w", err)
	}
	tmp := stateFilePath(home) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("writing daemon state: %w", err)
	}
	return os.Rename(tmp, stateFilePath(home))
}

// LoadState reads the status snapshot last written by SaveState.
func LoadState(home string) (State, error) {
	b, err := os.ReadFile(stateFilePath(home))
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("reading daemon state: %w", err)
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return State{}, fmt.Errorf("parsing daemon state: %w", err)
	}
	return st, nil
}

// IsRunning reports whether a daemon holds the singleton lock under home,
// and if so, the PID recorded in the PID file. A lock that can be acquired
// here means any previously recorded PID is stale.
func IsRunning(home string) (bool, int, error) {
	fl := flock.New(lockFilePath(home))
	locked, err := fl.TryLock()
	if err != nil {
		return false, 0, fmt.Errorf("probing daemon lock: %w", err)
	}
	if locked {
		fl.Unlock()
		removePIDFile(home)
		return false, 0, nil
	}

	b, err := os.ReadFile(pidFilePath(home))
	if err != nil {
		// Lock is held but the PID file is missing or unreadable — still
		// running, just can't report which PID.
		return true, 0, nil
	}
	var pid int
	if _, err := fmt.Sscanf(string(b), "%d", &pid); err != nil {
		return true, 0, nil
	}
	return true, pid, nil
}

// StopDaemon sends SIGTERM to the running daemon and waits briefly for the
// lock to be released, confirming a clean shutdown.
func StopDaemon(home string) error {
	running, pid, err := IsRunning(home)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("daemon is not running")
	}
	if pid == 0 {
		return fmt.Errorf("daemon is running but its PID is unknown; remove %s manually if needed", lockFilePath(home))
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signaling daemon process %d: %w", pid, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if running, _, err := IsRunning(home); err == nil && !running {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not exit within the timeout")
}
