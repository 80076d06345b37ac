package are

import (
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/xcawolfe-amzn/capacitor/internal/registry"
)

// TmuxAdapter reads the current state of the tmux multiplexer. Abstracted
// behind an interface so TmuxPoller can be driven by a fake in tests
// without shelling out.
type TmuxAdapter interface {
	Snapshot() (registry.TmuxSnapshot, error)
}

// CommandTmuxAdapter shells out to the tmux(1) binary.
type CommandTmuxAdapter struct{}

func (CommandTmuxAdapter) Snapshot() (registry.TmuxSnapshot, error) {
	capturedAt := time.Now()

	clientsOut := runTmux("list-clients", "-F", "#{client_tty}\t#{session_name}\t#{pane_current_path}")
	panesOut := runTmux("list-panes", "-a", "-F", "#{session_name}\t#{pane_current_path}")

	return registry.TmuxSnapshot{
		CapturedAt: capturedAt,
		Clients:    parseTmuxClients(clientsOut, capturedAt),
		Sessions:   parseTmuxPanes(panesOut, capturedAt),
	}, nil
}

// runTmux runs tmux and returns its stdout, or "" if tmux is missing, not
// running, or exits non-zero — an empty multiplexer state, not an error,
// since most hosts simply don't have tmux attached.
func runTmux(args ...string) string {
	out, err := exec.Command("tmux", args...).Output()
	if err != nil {
		return ""
	}
	return string(out)
}

func parseTmuxClients(output string, capturedAt time.Time) []registry.TmuxClientSignal {
	var clients []registry.TmuxClientSignal
	for _, line := range strings.Split(output, "\n") {
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) < 2 {
			continue
		}
		tty := strings.TrimSpace(parts[0])
		session := strings.TrimSpace(parts[1])
		if tty == "" || session == "" {
			continue
		}
		var path string
		if len(parts) == 3 {
			path = strings.TrimSpace(parts[2])
		}
		clients = append(clients, registry.TmuxClientSignal{
			ClientTTY:       tty,
			SessionName:     session,
			PaneCurrentPath: path,
			CapturedAt:      capturedAt,
		})
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ClientTTY < clients[j].ClientTTY })
	return clients
}

func parseTmuxPanes(output string, capturedAt time.Time) []registry.TmuxSessionSignal {
	paths := make(map[string]map[string]bool)
	var order []string
	for _, line := range strings.Split(output, "\n") {
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) < 2 {
			continue
		}
		session := strings.TrimSpace(parts[0])
		path := strings.TrimSpace(parts[1])
		if session == "" || path == "" {
			continue
		}
		if _, ok := paths[session]; !ok {
			paths[session] = make(map[string]bool)
			order = append(order, session)
		}
		paths[session][path] = true
	}

	sort.Strings(order)
	sessions := make([]registry.TmuxSessionSignal, 0, len(order))
	for _, session := range order {
		pathSet := paths[session]
		panePaths := make([]string, 0, len(pathSet))
		for p := range pathSet {
			panePaths = append(panePaths, p)
		}
		sort.Strings(panePaths)
		sessions = append(sessions, registry.TmuxSessionSignal{
			SessionName: session,
			PanePaths:   panePaths,
			CapturedAt:  capturedAt,
		})
	}
	return sessions
}

// TmuxDiff summarizes what changed between two polls, for the routing
// engine's activity log.
type TmuxDiff struct {
	ClientsAdded    int
	ClientsRemoved  int
	ClientsUpdated  int
	SessionsAdded   int
	SessionsRemoved int
	SessionsUpdated int
}

// TmuxPoller drives a TmuxAdapter on a cadence and diffs each snapshot
// against the last one it saw.
type TmuxPoller struct {
	adapter  TmuxAdapter
	previous *registry.TmuxSnapshot
}

// NewTmuxPoller creates a poller with no prior snapshot.
func NewTmuxPoller(adapter TmuxAdapter) *TmuxPoller {
	return &TmuxPoller{adapter: adapter}
}

// PollOnce takes a fresh snapshot, diffs it against the previous poll, and
// remembers it as the new baseline.
func (p *TmuxPoller) PollOnce() (registry.TmuxSnapshot, TmuxDiff, error) {
	snapshot, err := p.adapter.Snapshot()
	if err != nil {
		return registry.TmuxSnapshot{}, TmuxDiff{}, err
	}
	diff := computeTmuxDiff(p.previous, &snapshot)
	p.previous = &snapshot
	return snapshot, diff, nil
}

func computeTmuxDiff(previous *registry.TmuxSnapshot, current *registry.TmuxSnapshot) TmuxDiff {
	if previous == nil {
		return TmuxDiff{
			ClientsAdded:  len(current.Clients),
			SessionsAdded: len(current.Sessions),
		}
	}

	var diff TmuxDiff

	prevClients := make(map[string]registry.TmuxClientSignal, len(previous.Clients))
	for _, c := range previous.Clients {
		prevClients[c.ClientTTY] = c
	}
	currClients := make(map[string]registry.TmuxClientSignal, len(current.Clients))
	for _, c := range current.Clients {
		currClients[c.ClientTTY] = c
	}
	for tty, cur := range currClients {
		if prev, ok := prevClients[tty]; !ok {
			diff.ClientsAdded++
		} else if prev.SessionName != cur.SessionName || prev.PaneCurrentPath != cur.PaneCurrentPath {
			diff.ClientsUpdated++
		}
	}
	for tty := range prevClients {
		if _, ok := currClients[tty]; !ok {
			diff.ClientsRemoved++
		}
	}

	prevSessions := make(map[string]registry.TmuxSessionSignal, len(previous.Sessions))
	for _, s := range previous.Sessions {
		prevSessions[s.SessionName] = s
	}
	currSessions := make(map[string]registry.TmuxSessionSignal, len(current.Sessions))
	for _, s := range current.Sessions {
		currSessions[s.SessionName] = s
	}
	for name, cur := range currSessions {
		if prev, ok := prevSessions[name]; !ok {
			diff.SessionsAdded++
		} else if !equalStringSlices(prev.PanePaths, cur.PanePaths) {
			diff.SessionsUpdated++
		}
	}
	for name := range prevSessions {
		if _, ok := currSessions[name]; !ok {
			diff.SessionsRemoved++
		}
	}

	return diff
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
