package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ShellStateRow is the durable form of a ShellSignal (spec §3), keyed by
// (pid, proc_start).
type ShellStateRow struct {
	PID           int
	ProcStart     string
	CWD           string
	TTY           string
	ParentApp     string
	TmuxSession   string
	TmuxClientTTY string
	TmuxPane      string
	RecordedAt    time.Time
}

// UpsertShellState durably records a shell CWD beacon.
func (s *Store) UpsertShellState(ctx context.Context, r ShellStateRow) error {
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO shell_state (pid, proc_start, cwd, tty, parent_app, tmux_session,
			tmux_client_tty, tmux_pane, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pid, proc_start) DO UPDATE SET
			cwd=excluded.cwd, tty=excluded.tty, parent_app=excluded.parent_app,
			tmux_session=excluded.tmux_session, tmux_client_tty=excluded.tmux_client_tty,
			tmux_pane=excluded.tmux_pane, recorded_at=excluded.recorded_at`,
		r.PID, r.ProcStart, r.CWD, r.TTY, nullable(r.ParentApp), nullable(r.TmuxSession),
		nullable(r.TmuxClientTTY), nullable(r.TmuxPane), r.RecordedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upserting shell state: %w", err)
	}
	return nil
}

// ListShellState returns every known shell beacon row.
func (s *Store) ListShellState(ctx context.Context) ([]ShellStateRow, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT pid, proc_start, cwd, tty, parent_app, tmux_session, tmux_client_tty, tmux_pane, recorded_at
		FROM shell_state`)
	if err != nil {
		return nil, fmt.Errorf("listing shell state: %w", err)
	}
	defer rows.Close()

	var out []ShellStateRow
	for rows.Next() {
		var r ShellStateRow
		var parentApp, tmuxSession, tmuxClientTTY, tmuxPane sql.NullString
		var recordedAt string
		if err := rows.Scan(&r.PID, &r.ProcStart, &r.CWD, &r.TTY, &parentApp, &tmuxSession,
			&tmuxClientTTY, &tmuxPane, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning shell state row: %w", err)
		}
		r.ParentApp = parentApp.String
		r.TmuxSession = tmuxSession.String
		r.TmuxClientTTY = tmuxClientTTY.String
		r.TmuxPane = tmuxPane.String
		r.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteShellState removes a single beacon row, e.g. once its PID is
// confirmed dead. The shell-beacon CLI does not call it; its dead-PID
// pruning applies only to shell-cwd.json.
func (s *Store) DeleteShellState(ctx context.Context, pid int, procStart string) error {
	if _, err := s.writer.ExecContext(ctx, `DELETE FROM shell_state WHERE pid = ? AND proc_start = ?`, pid, procStart); err != nil {
		return fmt.Errorf("deleting shell state: %w", err)
	}
	return nil
}

// ProcessLivenessRow is the durable form of a ProcessLiveness snapshot.
type ProcessLivenessRow struct {
	PID         int
	ProcStarted string
	LastSeenAt  time.Time
	IsAlive     bool
}

// UpsertProcessLiveness durably records the latest liveness probe for pid.
func (s *Store) UpsertProcessLiveness(ctx context.Context, r ProcessLivenessRow) error {
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO process_liveness (pid, proc_started, last_seen_at, is_alive)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(pid) DO UPDATE SET
			proc_started=excluded.proc_started, last_seen_at=excluded.last_seen_at, is_alive=excluded.is_alive`,
		r.PID, nullable(r.ProcStarted), r.LastSeenAt.Format(time.RFC3339Nano), boolToInt(r.IsAlive))
	if err != nil {
		return fmt.Errorf("upserting process liveness: %w", err)
	}
	return nil
}

// GetProcessLiveness returns the latest liveness row for pid, if known.
func (s *Store) GetProcessLiveness(ctx context.Context, pid int) (*ProcessLivenessRow, error) {
	row := s.reader.QueryRowContext(ctx, `
		SELECT pid, proc_started, last_seen_at, is_alive FROM process_liveness WHERE pid = ?`, pid)
	var r ProcessLivenessRow
	var procStarted sql.NullString
	var lastSeenAt string
	var isAlive int
	if err := row.Scan(&r.PID, &procStarted, &lastSeenAt, &isAlive); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning process liveness row: %w", err)
	}
	r.ProcStarted = procStarted.String
	r.LastSeenAt, _ = time.Parse(time.RFC3339Nano, lastSeenAt)
	r.IsAlive = isAlive != 0
	return &r, nil
}
