// Package eventlog is the daemon's single embedded relational store: the
// append-only event log plus every table derived from it (sessions,
// session_tombstones, activity, shell_state, process_liveness). It is
// backed by modernc.org/sqlite, a pure-Go driver, so the daemon ships with
// no cgo dependency.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/xcawolfe-amzn/capacitor/internal/protocol"
)

// ErrDuplicateEvent is never actually returned by Insert — a duplicate
// event_id is a successful no-op, per the log's idempotence contract — but
// is exposed for callers that want to name a dedup in logs/metrics; Insert
// itself reports one as inserted == false.
var ErrDuplicateEvent = errors.New("eventlog: duplicate event_id")

const schema = `
CREATE TABLE IF NOT EXISTS events (
	event_id TEXT PRIMARY KEY,
	recorded_at TEXT NOT NULL,
	recorded_at_unix INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	session_id TEXT,
	pid INTEGER,
	cwd TEXT,
	tool TEXT,
	file_path TEXT,
	parent_app TEXT,
	tty TEXT,
	tmux_session TEXT,
	tmux_client_tty TEXT,
	notification_type TEXT,
	trigger_kind TEXT,
	stop_hook_active INTEGER,
	metadata_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_recorded_at ON events(recorded_at_unix, event_id);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);

CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	project_id TEXT,
	project_path TEXT,
	workspace_id TEXT,
	state TEXT NOT NULL,
	state_changed_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	working_on TEXT,
	next_step TEXT
);

CREATE TABLE IF NOT EXISTS session_tombstones (
	session_id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	expires_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS activity (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	project_path TEXT,
	file_path TEXT,
	tool_name TEXT,
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_session ON activity(session_id);

CREATE TABLE IF NOT EXISTS shell_state (
	pid INTEGER NOT NULL,
	proc_start TEXT,
	cwd TEXT NOT NULL,
	tty TEXT NOT NULL,
	parent_app TEXT,
	tmux_session TEXT,
	tmux_client_tty TEXT,
	tmux_pane TEXT,
	recorded_at TEXT NOT NULL,
	PRIMARY KEY (pid, proc_start)
);

CREATE TABLE IF NOT EXISTS process_liveness (
	pid INTEGER PRIMARY KEY,
	proc_started TEXT,
	last_seen_at TEXT NOT NULL,
	is_alive INTEGER NOT NULL
);
`

// Store wraps two *sql.DB handles over the same sqlite file: a single-writer
// connection (SetMaxOpenConns(1), matching SQLite's single-writer model)
// and a higher-concurrency read-only connection for query traffic, so a
// get_* request never blocks behind an in-flight event write.
type Store struct {
	writer *sql.DB
	reader *sql.DB
}

// Open creates (if needed) and opens the sqlite database at path, applying
// the schema idempotently.
func Open(path string) (*Store, error) {
	writer, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening event log writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	reader, err := sql.Open("sqlite", path)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("opening event log reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	if _, err := writer.Exec(schema); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("applying event log schema: %w", err)
	}

	return &Store{writer: writer, reader: reader}, nil
}

// Close releases both underlying connections.
func (s *Store) Close() error {
	werr := s.writer.Close()
	rerr := s.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// Insert persists env. A duplicate event_id is a no-op returning (false, nil)
// so callers (and metrics) can distinguish a fresh insert from a dedup.
func (s *Store) Insert(ctx context.Context, env protocol.EventEnvelope) (inserted bool, err error) {
	metadataJSON := "null"
	if env.Metadata != nil {
		b, merr := json.Marshal(env.Metadata)
		if merr != nil {
			return false, fmt.Errorf("marshaling event metadata: %w", merr)
		}
		metadataJSON = string(b)
	}

	res, err := s.writer.ExecContext(ctx, `
		INSERT OR IGNORE INTO events (
			event_id, recorded_at, recorded_at_unix, event_type, session_id, pid, cwd,
			tool, file_path, parent_app, tty, tmux_session, tmux_client_tty,
			notification_type, trigger_kind, stop_hook_active, metadata_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		env.EventID, env.RecordedAt.Format(time.RFC3339Nano), env.RecordedAt.UnixNano(), string(env.EventType),
		nullable(env.SessionID), env.PID, nullable(env.CWD), nullable(env.Tool), nullable(env.FilePath),
		nullable(env.ParentApp), nullable(env.TTY), nullable(env.TmuxSession), nullable(env.TmuxClientTTY),
		nullable(env.NotificationType), nullable(env.Trigger), boolToInt(env.StopHookActive), metadataJSON,
	)
	if err != nil {
		return false, fmt.Errorf("inserting event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking insert result: %w", err)
	}
	return n > 0, nil
}

// ListSessionAffectingSince returns all events whose event_type affects
// session state (everything but shell_cwd), ordered by parsed recorded_at
// ascending then event_id as tiebreaker — the order C8 replay depends on
// for determinism. since, if non-nil, restricts to events recorded at or
// after that instant (for catch-up replay).
func (s *Store) ListSessionAffectingSince(ctx context.Context, since *time.Time) ([]protocol.EventEnvelope, error) {
	query := `
		SELECT event_id, recorded_at, event_type, session_id, pid, cwd, tool, file_path,
		       parent_app, tty, tmux_session, tmux_client_tty, notification_type,
		       trigger_kind, stop_hook_active, metadata_json
		FROM events
		WHERE event_type != ?`
	args := []any{string(protocol.EventShellCwd)}
	if since != nil {
		query += " AND recorded_at_unix >= ?"
		args = append(args, since.UnixNano())
	}
	query += " ORDER BY recorded_at_unix ASC, event_id ASC"

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing session-affecting events: %w", err)
	}
	defer rows.Close()

	var out []protocol.EventEnvelope
	for rows.Next() {
		var e protocol.EventEnvelope
		var recordedAt string
		var sessionID, cwd, tool, filePath, parentApp, tty, tmuxSession, tmuxClientTTY sql.NullString
		var notificationType, triggerKind, metadataJSON sql.NullString
		var stopHookActive int
		if err := rows.Scan(&e.EventID, &recordedAt, &e.EventType, &sessionID, &e.PID, &cwd, &tool, &filePath,
			&parentApp, &tty, &tmuxSession, &tmuxClientTTY, &notificationType, &triggerKind,
			&stopHookActive, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		ts, perr := time.Parse(time.RFC3339Nano, recordedAt)
		if perr != nil {
			ts, perr = time.Parse(time.RFC3339, recordedAt)
		}
		if perr != nil {
			continue // corrupt row at the boundary: skip with no fatal error
		}
		e.RecordedAt = ts
		e.SessionID = sessionID.String
		e.CWD = cwd.String
		e.Tool = tool.String
		e.FilePath = filePath.String
		e.ParentApp = parentApp.String
		e.TTY = tty.String
		e.TmuxSession = tmuxSession.String
		e.TmuxClientTTY = tmuxClientTTY.String
		e.NotificationType = notificationType.String
		e.Trigger = triggerKind.String
		e.StopHookActive = stopHookActive != 0
		if metadataJSON.Valid && metadataJSON.String != "null" && metadataJSON.String != "" {
			_ = json.Unmarshal([]byte(metadataJSON.String), &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
