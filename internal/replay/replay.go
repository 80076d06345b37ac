// Package replay implements C8: replaying the durable event log through
// the reducer to (re)populate session, tombstone, and activity state after
// a restart or an operational repair.
package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/xcawolfe-amzn/capacitor/internal/eventlog"
	"github.com/xcawolfe-amzn/capacitor/internal/protocol"
	"github.com/xcawolfe-amzn/capacitor/internal/reducer"
	"github.com/xcawolfe-amzn/capacitor/internal/tombstone"
)

// ProjectResolver maps an event's cwd to the project identity fields a
// SessionRow carries, so replay applies invariant I3 exactly the way live
// intake does. Implemented by internal/identity in production.
type ProjectResolver func(cwd string) (projectID, projectPath, workspaceID string)

// Rebuild clears all session, tombstone, and activity state and replays
// the entire session-affecting event history from scratch. Used by tests
// and by operational repair when derived state is suspected corrupt.
func Rebuild(ctx context.Context, store *eventlog.Store, ts *tombstone.Store, resolve ProjectResolver) error {
	if err := store.ClearSessions(ctx); err != nil {
		return fmt.Errorf("clearing session state before rebuild: %w", err)
	}
	ts.Load(nil)
	return CatchUpSince(ctx, store, ts, nil, resolve)
}

// CatchUpSince replays session-affecting events recorded at or after since
// (or the full history if since is nil) and applies them through the
// reducer. Safe to call repeatedly with an advancing since for fast
// restart without a full rebuild.
func CatchUpSince(ctx context.Context, store *eventlog.Store, ts *tombstone.Store, since *time.Time, resolve ProjectResolver) error {
	events, err := store.ListSessionAffectingSince(ctx, since)
	if err != nil {
		return fmt.Errorf("listing events for replay: %w", err)
	}

	prior := make(map[string]*reducer.Session, len(events))
	for _, ev := range events {
		if err := applyOne(ctx, store, ts, resolve, prior, ev); err != nil {
			return err
		}
	}
	return nil
}

func applyOne(
	ctx context.Context,
	store *eventlog.Store,
	ts *tombstone.Store,
	resolve ProjectResolver,
	prior map[string]*reducer.Session,
	ev protocol.EventEnvelope,
) error {
	if ts.ShouldSuppress(ev.SessionID, ev.EventType, ev.RecordedAt) {
		return nil
	}

	sess, seen := prior[ev.SessionID]
	if !seen {
		row, err := store.GetSession(ctx, ev.SessionID)
		if err != nil {
			return fmt.Errorf("loading stored session %s for replay: %w", ev.SessionID, err)
		}
		if row != nil {
			sess = &row.Session
		}
	}

	outcome := reducer.Reduce(sess, ev)
	switch outcome.Kind {
	case reducer.Skip:
		return nil

	case reducer.Delete:
		delete(prior, ev.SessionID)
		if err := store.DeleteSession(ctx, ev.SessionID); err != nil {
			return fmt.Errorf("replaying delete for session %s: %w", ev.SessionID, err)
		}
		if err := ts.Write(ev.SessionID, ev.RecordedAt); err != nil {
			return fmt.Errorf("writing tombstone during replay for session %s: %w", ev.SessionID, err)
		}
		return nil

	case reducer.Upsert:
		if ev.EventType == protocol.EventSessionStart {
			if err := ts.Clear(ev.SessionID); err != nil {
				return fmt.Errorf("clearing tombstone during replay for session %s: %w", ev.SessionID, err)
			}
		}
		prior[ev.SessionID] = outcome.Session
		projectID, projectPath, workspaceID := resolve(ev.CWD)
		row := eventlog.SessionRow{
			Session:     *outcome.Session,
			ProjectID:   projectID,
			ProjectPath: projectPath,
			WorkspaceID: workspaceID,
		}
		if err := store.UpsertSession(ctx, row); err != nil {
			return fmt.Errorf("replaying upsert for session %s: %w", ev.SessionID, err)
		}
		if ev.EventType == protocol.EventPostToolUse && ev.FilePath != "" {
			if err := store.InsertActivity(ctx, ev.SessionID, projectPath, ev.FilePath, ev.Tool, ev.RecordedAt); err != nil {
				return fmt.Errorf("replaying activity for session %s: %w", ev.SessionID, err)
			}
		}
		return nil
	}

	return nil
}
