// Package client is a minimal, allocation-light client for the daemon's
// Unix socket — used by the shell-beacon hook, which needs to fire a single
// request and move on within a tight deadline rather than hold a
// persistent connection open.
package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/xcawolfe-amzn/capacitor/internal/protocol"
)

// DefaultDialTimeout is the beacon's latency budget for reaching the
// daemon before falling back to local-only behavior.
const DefaultDialTimeout = 150 * time.Millisecond

// Call dials socketPath, sends one request, and returns the decoded
// response. The whole round trip is bounded by timeout. Any failure to
// dial, write, or read is returned as an error — callers are expected to
// treat that as "daemon unavailable" and fall back accordingly.
func Call(socketPath string, req protocol.Request, timeout time.Duration) (*protocol.Response, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("dialing daemon socket: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("setting socket deadline: %w", err)
	}

	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	b = append(b, '\n')
	if _, err := conn.Write(b); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var resp protocol.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}

// SendEvent is the common case: wrap an EventEnvelope in a request and
// call the daemon's event method.
func SendEvent(socketPath string, env protocol.EventEnvelope, timeout time.Duration) (*protocol.Response, error) {
	params, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshaling event: %w", err)
	}
	req := protocol.Request{
		ProtocolVersion: protocol.ProtocolVersion,
		Method:          protocol.MethodEvent,
		ID:              env.EventID,
		Params:          params,
	}
	return Call(socketPath, req, timeout)
}
