// Package intake implements the daemon's socket server (C7): one JSON
// request per connection, dispatched to the reducer/tombstone/event-log/
// registry/ARE components and answered with one JSON response before the
// connection is closed. No pipelining, per spec §4.4.
package intake

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/xcawolfe-amzn/capacitor/internal/are"
	"github.com/xcawolfe-amzn/capacitor/internal/eventlog"
	"github.com/xcawolfe-amzn/capacitor/internal/protocol"
	"github.com/xcawolfe-amzn/capacitor/internal/reducer"
	"github.com/xcawolfe-amzn/capacitor/internal/registry"
	"github.com/xcawolfe-amzn/capacitor/internal/tombstone"
)

// BuildVersion is stamped at link time in production; left as a package
// variable here the way the teacher's daemon reports its own version.
var BuildVersion = "dev"

// Resolver maps an event's cwd to project identity, the same contract
// internal/replay uses for C8.
type Resolver func(cwd string) (projectID, projectPath, workspaceID string)

// Server is the C7 intake server. All fields besides the atomic counters
// are set once at construction and never mutated afterward; Store,
// Tombstones, Shells, Processes, and Tmuxes each own their own internal
// synchronization. Engine has none; the server calls its Decide with a nil
// legacy decision, which leaves Engine's counters untouched.
type Server struct {
	Listener   net.Listener
	Store      *eventlog.Store
	Tombstones *tombstone.Store
	Shells     *registry.ShellRegistry
	Processes  *registry.ProcessRegistry
	Tmuxes     *registry.TmuxRegistry
	Engine     *are.Engine
	Resolve    Resolver
	HomeDir    string

	MaxConnections  int
	MaxRequestBytes int64
	ReadDeadline    time.Duration
	WriteDeadline   time.Duration
	Logger          *log.Logger

	pid int

	sem                chan struct{}
	rejectedConnections int64
}

// New constructs a Server and its connection-cap semaphore. Callers finish
// wiring (Store, Tombstones, ...) before calling Serve.
func New(listener net.Listener, maxConnections int, maxRequestBytes int64, readDeadline, writeDeadline time.Duration, logger *log.Logger, pid int) *Server {
	return &Server{
		Listener:        listener,
		MaxConnections:  maxConnections,
		MaxRequestBytes: maxRequestBytes,
		ReadDeadline:    readDeadline,
		WriteDeadline:   writeDeadline,
		Logger:          logger,
		pid:             pid,
		sem:             make(chan struct{}, maxConnections),
	}
}

// Serve accepts connections until ctx is cancelled or the listener errors.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.Listener.Close()
	}()

	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}

		select {
		case s.sem <- struct{}{}:
			go func() {
				defer func() { <-s.sem }()
				s.handleConn(ctx, conn)
			}()
		default:
			atomic.AddInt64(&s.rejectedConnections, 1)
			s.rejectConnection(conn)
		}
	}
}

func (s *Server) rejectConnection(conn net.Conn) {
	defer conn.Close()
	resp := protocol.NewError("", "too_many_connections", errors.New("connection cap reached"))
	s.writeResponse(conn, resp)
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if s.ReadDeadline > 0 {
		conn.SetReadDeadline(time.Now().Add(s.ReadDeadline))
	}

	line, err := readLine(conn, s.MaxRequestBytes)
	if err != nil {
		resp := protocol.NewError("", errCode(err), err)
		s.writeResponse(conn, resp)
		return
	}

	var req protocol.Request
	dec := json.NewDecoder(bytesReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		resp := protocol.NewError("", "malformed_json", protocol.ErrMalformedJSON)
		s.writeResponse(conn, resp)
		return
	}

	if req.ProtocolVersion != protocol.ProtocolVersion {
		s.writeResponse(conn, protocol.NewError(req.ID, "protocol_mismatch", protocol.ErrProtocolMismatch))
		return
	}

	resp := s.dispatch(ctx, req)

	if s.WriteDeadline > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.WriteDeadline))
	}
	s.writeResponse(conn, resp)
}

func (s *Server) dispatch(ctx context.Context, req protocol.Request) *protocol.Response {
	switch req.Method {
	case protocol.MethodGetHealth:
		return s.handleGetHealth(req.ID)
	case protocol.MethodEvent:
		return s.handleEvent(ctx, req)
	case protocol.MethodGetProcessLiveness:
		return s.handleGetProcessLiveness(req)
	case protocol.MethodGetSession:
		return s.handleGetSession(ctx, req)
	case protocol.MethodGetSessions:
		return s.handleGetSessions(ctx, req)
	case protocol.MethodGetRoutingSnapshot:
		return s.handleGetRoutingSnapshot(req)
	case protocol.MethodGetRoutingSnapshots:
		return s.handleGetRoutingSnapshots(req)
	case protocol.MethodGetAREMetrics:
		return s.handleGetAREMetrics(req)
	default:
		return protocol.NewError(req.ID, "unknown_method", protocol.ErrUnknownMethod)
	}
}

type healthResponse struct {
	Status          string         `json:"status"`
	PID             int            `json:"pid"`
	BuildVersion    string         `json:"build_version"`
	ProtocolVersion int            `json:"protocol_version"`
	Security        securityHealth `json:"security"`
}

type securityHealth struct {
	RejectedConnections int64 `json:"rejected_connections"`
}

func (s *Server) handleGetHealth(id string) *protocol.Response {
	resp, err := protocol.NewOK(id, healthResponse{
		Status:          "ok",
		PID:             s.pid,
		BuildVersion:    BuildVersion,
		ProtocolVersion: protocol.ProtocolVersion,
		Security: securityHealth{
			RejectedConnections: atomic.LoadInt64(&s.rejectedConnections),
		},
	})
	if err != nil {
		return protocol.NewError(id, "internal_error", err)
	}
	return resp
}

func (s *Server) handleEvent(ctx context.Context, req protocol.Request) *protocol.Response {
	var env protocol.EventEnvelope
	if err := json.Unmarshal(req.Params, &env); err != nil {
		return protocol.NewError(req.ID, "malformed_json", protocol.ErrMalformedJSON)
	}
	if err := env.Validate(); err != nil {
		return protocol.NewError(req.ID, protocol.ErrorCode(err), err)
	}

	if _, err := s.Store.Insert(ctx, env); err != nil {
		return protocol.NewError(req.ID, "internal_error", err)
	}

	if env.EventType == protocol.EventShellCwd {
		s.applyShellCwd(ctx, env)
		resp, _ := protocol.NewOK(req.ID, map[string]bool{"applied": true})
		return resp
	}

	if err := s.applySessionEvent(ctx, env); err != nil {
		return protocol.NewError(req.ID, "internal_error", err)
	}

	resp, _ := protocol.NewOK(req.ID, map[string]bool{"applied": true})
	return resp
}

func (s *Server) applyShellCwd(ctx context.Context, env protocol.EventEnvelope) {
	sig := registry.ShellSignal{
		PID: env.PID, CWD: env.CWD, TTY: env.TTY, ParentApp: env.ParentApp,
		TmuxSession: env.TmuxSession, TmuxClientTTY: env.TmuxClientTTY, RecordedAt: env.RecordedAt,
	}
	if s.Shells != nil {
		s.Shells.Upsert(sig)
	}
	if s.Store != nil {
		_ = s.Store.UpsertShellState(ctx, eventlog.ShellStateRow{
			PID: env.PID, CWD: env.CWD, TTY: env.TTY, ParentApp: env.ParentApp,
			TmuxSession: env.TmuxSession, TmuxClientTTY: env.TmuxClientTTY, RecordedAt: env.RecordedAt,
		})
	}
}

// applySessionEvent mirrors internal/replay's applyOne for one live event:
// tombstone check, reducer, then durable session/activity writes.
func (s *Server) applySessionEvent(ctx context.Context, env protocol.EventEnvelope) error {
	if s.Tombstones.ShouldSuppress(env.SessionID, env.EventType, env.RecordedAt) {
		return nil
	}

	prior, err := s.Store.GetSession(ctx, env.SessionID)
	if err != nil {
		return fmt.Errorf("loading prior session state: %w", err)
	}

	var priorSession *reducer.Session
	if prior != nil {
		priorSession = &prior.Session
	}

	outcome := reducer.Reduce(priorSession, env)
	switch outcome.Kind {
	case reducer.Skip:
		return nil

	case reducer.Delete:
		if err := s.Store.DeleteSession(ctx, env.SessionID); err != nil {
			return err
		}
		return s.Tombstones.Write(env.SessionID, env.RecordedAt)

	case reducer.Upsert:
		if env.EventType == protocol.EventSessionStart {
			if err := s.Tombstones.Clear(env.SessionID); err != nil {
				return err
			}
		}
		projectID, projectPath, workspaceID := "", "", ""
		if s.Resolve != nil {
			projectID, projectPath, workspaceID = s.Resolve(env.CWD)
		}
		row := eventlog.SessionRow{
			Session: *outcome.Session, ProjectID: projectID, ProjectPath: projectPath, WorkspaceID: workspaceID,
		}
		if err := s.Store.UpsertSession(ctx, row); err != nil {
			return err
		}
		if env.EventType == protocol.EventPostToolUse && env.FilePath != "" {
			return s.Store.InsertActivity(ctx, env.SessionID, projectPath, env.FilePath, env.Tool, env.RecordedAt)
		}
	}
	return nil
}

type pidParams struct {
	PID int `json:"pid"`
}

func (s *Server) handleGetProcessLiveness(req protocol.Request) *protocol.Response {
	var p pidParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.PID <= 0 {
		return protocol.NewError(req.ID, "invalid_pid", protocol.ErrInvalidPID)
	}
	live := s.Processes.Probe(p.PID, "", time.Now())
	resp, _ := protocol.NewOK(req.ID, live)
	return resp
}

type sessionIDParams struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleGetSession(ctx context.Context, req protocol.Request) *protocol.Response {
	var p sessionIDParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.SessionID == "" {
		return protocol.NewError(req.ID, "missing_field", protocol.ErrMissingField)
	}
	row, err := s.Store.GetSession(ctx, p.SessionID)
	if err != nil {
		return protocol.NewError(req.ID, "internal_error", err)
	}
	resp, _ := protocol.NewOK(req.ID, row)
	return resp
}

func (s *Server) handleGetSessions(ctx context.Context, req protocol.Request) *protocol.Response {
	rows, err := s.Store.ListSessions(ctx)
	if err != nil {
		return protocol.NewError(req.ID, "internal_error", err)
	}
	resp, _ := protocol.NewOK(req.ID, rows)
	return resp
}

type routingParams struct {
	ProjectPath string `json:"project_path"`
	WorkspaceID string `json:"workspace_id"`
}

func (s *Server) handleGetRoutingSnapshot(req protocol.Request) *protocol.Response {
	var p routingParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.ProjectPath == "" {
		return protocol.NewError(req.ID, "missing_field", protocol.ErrMissingField)
	}
	snap := s.Engine.Decide(p.WorkspaceID, p.ProjectPath, s.HomeDir, s.Shells.All(),
		func(pid int) bool { l, ok := s.Processes.Get(pid); return ok && l.IsAlive },
		func(sig registry.ShellSignal) bool { return sig.ParentApp != "" },
		time.Now(), nil)
	resp, _ := protocol.NewOK(req.ID, snap)
	return resp
}

func (s *Server) handleGetRoutingSnapshots(req protocol.Request) *protocol.Response {
	var ps []routingParams
	if err := json.Unmarshal(req.Params, &ps); err != nil {
		return protocol.NewError(req.ID, "malformed_json", protocol.ErrMalformedJSON)
	}
	snaps := make([]are.RoutingSnapshot, 0, len(ps))
	for _, p := range ps {
		snaps = append(snaps, s.Engine.Decide(p.WorkspaceID, p.ProjectPath, s.HomeDir, s.Shells.All(),
			func(pid int) bool { l, ok := s.Processes.Get(pid); return ok && l.IsAlive },
			func(sig registry.ShellSignal) bool { return sig.ParentApp != "" },
			time.Now(), nil))
	}
	resp, _ := protocol.NewOK(req.ID, snaps)
	return resp
}

func (s *Server) handleGetAREMetrics(req protocol.Request) *protocol.Response {
	resp, _ := protocol.NewOK(req.ID, s.Engine.MetricsSnapshot())
	return resp
}

func (s *Server) writeResponse(conn net.Conn, resp *protocol.Response) {
	b, err := json.Marshal(resp)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Printf("marshaling response: %v", err)
		}
		return
	}
	b = append(b, '\n')
	if _, err := conn.Write(b); err != nil && s.Logger != nil {
		s.Logger.Printf("writing response: %v", err)
	}
}

// RejectedConnections returns the monotonic connection-cap rejection
// counter, surfaced in get_health's security block.
func (s *Server) RejectedConnections() int64 {
	return atomic.LoadInt64(&s.rejectedConnections)
}

var errConnectionClosed = errors.New("intake: connection closed before a request was received")

func readLine(conn net.Conn, maxBytes int64) ([]byte, error) {
	reader := bufio.NewReaderSize(io.LimitReader(conn, maxBytes+1), 4096)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, errReadTimeoutSentinel
		}
		if err != io.EOF {
			return nil, fmt.Errorf("reading request: %w", err)
		}
		if len(line) == 0 {
			return nil, errConnectionClosed
		}
		// EOF with a partial trailing line: fall through and let the
		// caller's size check and JSON decode judge the payload.
	}
	if int64(len(line)) > maxBytes {
		return nil, protocol.ErrRequestTooLarge
	}
	return line, nil
}

var errReadTimeoutSentinel = errors.New("intake: read timeout")

func errCode(err error) string {
	switch {
	case errors.Is(err, errReadTimeoutSentinel):
		return "read_timeout"
	case errors.Is(err, protocol.ErrRequestTooLarge):
		return "request_too_large"
	default:
		return "read_error"
	}
}

func bytesReader(b []byte) io.Reader {
	return &byteReader{b: b}
}

type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
