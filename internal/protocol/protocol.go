// Package protocol defines the wire-level request/response types exchanged
// over the daemon's local stream socket, and the validation rules every
// inbound envelope must pass before it reaches the reducer.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ProtocolVersion is the only version this daemon speaks. A client sending
// any other value gets ErrProtocolMismatch, not a best-effort negotiation.
const ProtocolVersion = 1

// MaxRequestBytes bounds a single request so a misbehaving client can't
// exhaust the daemon's memory with an unbounded line.
const MaxRequestBytes = 1 << 20 // 1 MiB

// MaxConnections bounds concurrent in-flight connections.
const MaxConnections = 64

// Method enumerates the daemon's wire methods.
type Method string

const (
	MethodGetHealth            Method = "get_health"
	MethodEvent                Method = "event"
	MethodGetProcessLiveness   Method = "get_process_liveness"
	MethodGetSession           Method = "get_session"
	MethodGetSessions          Method = "get_sessions"
	MethodGetRoutingSnapshot   Method = "get_routing_snapshot"
	MethodGetRoutingSnapshots  Method = "get_routing_snapshots"
	MethodGetAREMetrics        Method = "get_are_metrics"
)

// EventType enumerates the ten recognized hook/beacon event kinds.
type EventType string

const (
	EventSessionStart     EventType = "session_start"
	EventSessionEnd       EventType = "session_end"
	EventUserPromptSubmit EventType = "user_prompt_submit"
	EventPreToolUse       EventType = "pre_tool_use"
	EventPostToolUse      EventType = "post_tool_use"
	EventPermissionRequest EventType = "permission_request"
	EventNotification     EventType = "notification"
	EventStop             EventType = "stop"
	EventPreCompact       EventType = "pre_compact"
	EventShellCwd         EventType = "shell_cwd"
)

var validEventTypes = map[EventType]bool{
	EventSessionStart: true, EventSessionEnd: true, EventUserPromptSubmit: true,
	EventPreToolUse: true, EventPostToolUse: true, EventPermissionRequest: true,
	EventNotification: true, EventStop: true, EventPreCompact: true, EventShellCwd: true,
}

// Sentinel errors surfaced to the intake layer; each maps to a stable error
// code in Response.Error so clients can branch on it without string matching.
var (
	ErrProtocolMismatch  = errors.New("protocol: unsupported protocol_version")
	ErrUnknownMethod     = errors.New("protocol: unknown method")
	ErrRequestTooLarge   = errors.New("protocol: request exceeds size limit")
	ErrMalformedJSON     = errors.New("protocol: malformed json")
	ErrUnknownField      = errors.New("protocol: unknown field")
	ErrMissingField      = errors.New("protocol: missing required field")
	ErrInvalidEventType  = errors.New("protocol: invalid event_type")
	ErrInvalidPID        = errors.New("protocol: invalid pid")
	ErrTooManyConns      = errors.New("protocol: too many connections")
)

// Request is the single top-level object a client sends, newline-terminated.
type Request struct {
	ProtocolVersion int             `json:"protocol_version"`
	Method          Method          `json:"method"`
	ID              string          `json:"id,omitempty"`
	Params          json.RawMessage `json:"params,omitempty"`
}

// Response is the single top-level object the daemon returns, newline-terminated.
type Response struct {
	OK    bool            `json:"ok"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ErrorInfo      `json:"error,omitempty"`
}

// ErrorInfo carries a stable machine-readable code plus a human message.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventEnvelope is the payload of the "event" method: one hook invocation or
// shell beacon, as reported by an agent adapter or the shell-beacon CLI.
type EventEnvelope struct {
	EventID          string            `json:"event_id"`
	EventType        EventType         `json:"event_type"`
	SessionID        string            `json:"session_id"`
	RecordedAt       time.Time         `json:"recorded_at"`
	PID              int               `json:"pid"`
	CWD              string            `json:"cwd"`
	Tool             string            `json:"tool,omitempty"`
	FilePath         string            `json:"file_path,omitempty"`
	ParentApp        string            `json:"parent_app,omitempty"`
	TTY              string            `json:"tty,omitempty"`
	TmuxSession      string            `json:"tmux_session,omitempty"`
	TmuxClientTTY    string            `json:"tmux_client_tty,omitempty"`
	NotificationType string            `json:"notification_type,omitempty"`
	Trigger          string            `json:"trigger,omitempty"`
	StopHookActive   bool              `json:"stop_hook_active,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Validate checks the structural invariants every envelope must satisfy
// before it is handed to the event log or reducer. It does not consult
// any external state (no filesystem, no database) — purely a shape check.
func (e *EventEnvelope) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("%w: event_id", ErrMissingField)
	}
	if len(e.EventID) > 128 {
		return fmt.Errorf("%w: event_id exceeds 128 chars", ErrInvalidEventType)
	}
	if !validEventTypes[e.EventType] {
		return fmt.Errorf("%w: %q", ErrInvalidEventType, e.EventType)
	}
	if e.PID <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPID, e.PID)
	}
	if e.CWD == "" {
		return fmt.Errorf("%w: cwd", ErrMissingField)
	}
	if e.RecordedAt.IsZero() {
		return fmt.Errorf("%w: recorded_at", ErrMissingField)
	}

	if e.EventType == EventShellCwd {
		if e.TTY == "" {
			return fmt.Errorf("%w: tty", ErrMissingField)
		}
		return nil
	}

	if e.SessionID == "" {
		return fmt.Errorf("%w: session_id", ErrMissingField)
	}
	return nil
}

// NewOK builds a successful Response carrying the given payload.
func NewOK(id string, data any) (*Response, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshaling response data: %w", err)
		}
		raw = b
	}
	return &Response{OK: true, ID: id, Data: raw}, nil
}

// NewError builds a failure Response from a sentinel error and message.
func NewError(id string, code string, err error) *Response {
	return &Response{OK: false, ID: id, Error: &ErrorInfo{Code: code, Message: err.Error()}}
}

// ErrorCode maps a sentinel error to the stable wire code clients branch on.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrProtocolMismatch):
		return "protocol_mismatch"
	case errors.Is(err, ErrUnknownMethod):
		return "unknown_method"
	case errors.Is(err, ErrRequestTooLarge):
		return "request_too_large"
	case errors.Is(err, ErrMalformedJSON):
		return "malformed_json"
	case errors.Is(err, ErrUnknownField):
		return "unknown_field"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrInvalidEventType):
		return "invalid_event_type"
	case errors.Is(err, ErrInvalidPID):
		return "invalid_pid"
	case errors.Is(err, ErrTooManyConns):
		return "too_many_connections"
	default:
		return "internal_error"
	}
}
