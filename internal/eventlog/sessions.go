package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xcawolfe-amzn/capacitor/internal/reducer"
	"github.com/xcawolfe-amzn/capacitor/internal/tombstone"
)

// SessionRow is a SessionRecord as stored, including the project-identity
// fields the reducer itself never computes (those come from internal/identity
// resolving the event's cwd, per invariant I3).
type SessionRow struct {
	reducer.Session
	ProjectID   string
	ProjectPath string
	WorkspaceID string
}

// UpsertSession writes or replaces the session row.
func (s *Store) UpsertSession(ctx context.Context, row SessionRow) error {
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO sessions (session_id, project_id, project_path, workspace_id, state,
			state_changed_at, updated_at, working_on, next_step)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			project_id=excluded.project_id, project_path=excluded.project_path,
			workspace_id=excluded.workspace_id, state=excluded.state,
			state_changed_at=excluded.state_changed_at, updated_at=excluded.updated_at,
			working_on=excluded.working_on, next_step=excluded.next_step`,
		row.SessionID, row.ProjectID, row.ProjectPath, row.WorkspaceID, string(row.State),
		row.StateChangedAt.Format(time.RFC3339Nano), row.UpdatedAt.Format(time.RFC3339Nano),
		nullable(row.WorkingOn), nullable(row.NextStep))
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}
	return nil
}

// DeleteSession removes the session row and its activity, per the rule
// that activity is deleted when its session is deleted.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.writer.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if _, err := s.writer.ExecContext(ctx, `DELETE FROM activity WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting session activity: %w", err)
	}
	return nil
}

// GetSession returns the session row for sessionID, if present.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*SessionRow, error) {
	row := s.reader.QueryRowContext(ctx, `
		SELECT session_id, project_id, project_path, workspace_id, state, state_changed_at,
		       updated_at, working_on, next_step
		FROM sessions WHERE session_id = ?`, sessionID)
	return scanSessionRow(row)
}

// ListSessions returns every live session row.
func (s *Store) ListSessions(ctx context.Context) ([]SessionRow, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT session_id, project_id, project_path, workspace_id, state, state_changed_at,
		       updated_at, working_on, next_step
		FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		r, err := scanSessionRowFromRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ClearSessions deletes every session, tombstone, and activity row — used
// by C8's rebuild_from_events before a full replay.
func (s *Store) ClearSessions(ctx context.Context) error {
	for _, table := range []string{"sessions", "session_tombstones", "activity"} {
		if _, err := s.writer.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionRow(row *sql.Row) (*SessionRow, error) {
	r, err := scanSessionRowGeneric(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func scanSessionRowFromRows(rows *sql.Rows) (*SessionRow, error) {
	return scanSessionRowGeneric(rows)
}

func scanSessionRowGeneric(rs rowScanner) (*SessionRow, error) {
	var r SessionRow
	var projectID, projectPath, workspaceID, workingOn, nextStep sql.NullString
	var stateChangedAt, updatedAt string
	if err := rs.Scan(&r.SessionID, &projectID, &projectPath, &workspaceID, &r.State,
		&stateChangedAt, &updatedAt, &workingOn, &nextStep); err != nil {
		return nil, err
	}
	r.ProjectID = projectID.String
	r.ProjectPath = projectPath.String
	r.WorkspaceID = workspaceID.String
	r.WorkingOn = workingOn.String
	r.NextStep = nextStep.String
	if ts, err := time.Parse(time.RFC3339Nano, stateChangedAt); err == nil {
		r.StateChangedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		r.UpdatedAt = ts
	}
	return &r, nil
}

// UpsertTombstone implements tombstone.Persister.
func (s *Store) UpsertTombstone(r tombstone.Record) error {
	_, err := s.writer.Exec(`
		INSERT INTO session_tombstones (session_id, created_at, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET created_at=excluded.created_at, expires_at=excluded.expires_at`,
		r.SessionID, r.CreatedAt.Format(time.RFC3339Nano), r.ExpiresAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upserting tombstone: %w", err)
	}
	return nil
}

// ClearTombstone implements tombstone.Persister.
func (s *Store) ClearTombstone(sessionID string) error {
	if _, err := s.writer.Exec(`DELETE FROM session_tombstones WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clearing tombstone: %w", err)
	}
	return nil
}

// ListTombstones returns every tombstone row — used by C8 replay to
// reconstruct tombstone.Store state on startup.
func (s *Store) ListTombstones(ctx context.Context) ([]tombstone.Record, error) {
	rows, err := s.reader.QueryContext(ctx, `SELECT session_id, created_at, expires_at FROM session_tombstones`)
	if err != nil {
		return nil, fmt.Errorf("listing tombstones: %w", err)
	}
	defer rows.Close()

	var out []tombstone.Record
	for rows.Next() {
		var r tombstone.Record
		var createdAt, expiresAt string
		if err := rows.Scan(&r.SessionID, &createdAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning tombstone row: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		r.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertActivity records the side-effect ActivityEntry that intake and
// replay emit on post_tool_use with a file_path (spec §4.2).
func (s *Store) InsertActivity(ctx context.Context, sessionID, projectPath, filePath, toolName string, recordedAt time.Time) error {
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO activity (session_id, project_path, file_path, tool_name, recorded_at)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, projectPath, filePath, toolName, recordedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting activity: %w", err)
	}
	return nil
}
