// Package daemon wires every component (C1-C9) into the running
// capacitord process: startup backoff, single-instance locking, event-log
// bring-up, replay, the intake server, and the ARE poll loop.
package daemon

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"github.com/xcawolfe-amzn/capacitor/internal/are"
	"github.com/xcawolfe-amzn/capacitor/internal/backoff"
	"github.com/xcawolfe-amzn/capacitor/internal/config"
	"github.com/xcawolfe-amzn/capacitor/internal/eventlog"
	"github.com/xcawolfe-amzn/capacitor/internal/identity"
	"github.com/xcawolfe-amzn/capacitor/internal/intake"
	"github.com/xcawolfe-amzn/capacitor/internal/registry"
	"github.com/xcawolfe-amzn/capacitor/internal/replay"
	"github.com/xcawolfe-amzn/capacitor/internal/tombstone"
)

// Daemon is the running Capacitor process: one event log, one set of
// registries, one intake server, one ARE poll loop.
type Daemon struct {
	cfg    config.Config
	home   string
	logger *log.Logger

	store      *eventlog.Store
	tombstones *tombstone.Store
	shells     *registry.ShellRegistry
	processes  *registry.ProcessRegistry
	tmuxes     *registry.TmuxRegistry
	engine     *are.Engine

	server *intake.Server
	cron   *cron.Cron

	lockFile  *flock.Flock
	startedAt time.Time
	pollCount int
}

// resolveProjectIdentity adapts internal/identity.Resolve to the
// intake.Resolver / replay.ProjectResolver signature.
func resolveProjectIdentity(cwd string) (projectID, projectPath, workspaceID string) {
	boundary, ok := identity.FindProjectBoundary(cwd)
	if !ok {
		return "", cwd, ""
	}
	pid, ok := identity.Resolve(boundary.Path)
	if !ok {
		return "", boundary.Path, ""
	}
	return pid.ProjectID, pid.ProjectPath, identity.WorkspaceID(pid.ProjectID, pid.ProjectPath)
}

// New loads configuration, applies startup backoff, acquires the
// single-instance lock, opens the event log, and replays history —
// everything Run needs before it can accept connections.
func New(home string) (*Daemon, error) {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, fmt.Errorf("creating daemon home %s: %w", home, err)
	}

	logFile, err := os.OpenFile(LogFilePath(home), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening daemon log: %w", err)
	}
	logger := log.New(logFile, "", log.LstdFlags)

	cfg, err := config.Load(filepath.Join(home, "config.toml"))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	wait, err := backoff.Apply(filepath.Join(home, "backoff-state.json"), time.Now())
	if err != nil {
		logger.Printf("warn: backoff state error: %v", err)
	}
	if wait > 0 {
		logger.Printf("startup backoff engaged: sleeping %v", wait)
		time.Sleep(wait)
	}

	lockFile := flock.New(lockFilePath(home))
	locked, err := lockFile.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring daemon lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("daemon already running (lock held by another process)")
	}
	if err := writePIDFile(home, os.Getpid()); err != nil {
		lockFile.Unlock()
		return nil, fmt.Errorf("writing PID file: %w", err)
	}
	startedAt := time.Now()
	if err := SaveState(home, State{PID: os.Getpid(), StartedAt: startedAt}); err != nil {
		logger.Printf("warn: failed to write initial daemon state: %v", err)
	}

	store, err := eventlog.Open(filepath.Join(home, "events.db"))
	if err != nil {
		lockFile.Unlock()
		return nil, fmt.Errorf("opening event log: %w", err)
	}

	ts := tombstone.NewStore(store)
	if rows, err := store.ListTombstones(context.Background()); err == nil {
		ts.Load(rows)
	}

	if err := replay.CatchUpSince(context.Background(), store, ts, nil, resolveProjectIdentity); err != nil {
		logger.Printf("warn: replay on startup failed: %v", err)
	}

	d := &Daemon{
		cfg:        cfg,
		home:       home,
		logger:     logger,
		store:      store,
		tombstones: ts,
		shells:     registry.NewShellRegistry(),
		processes:  registry.NewProcessRegistry(),
		tmuxes:     registry.NewTmuxRegistry(),
		engine:     are.NewEngine(are.SelectionPolicy{PreferTmux: cfg.ARE.PreferTmux}),
		lockFile:   lockFile,
		startedAt:  startedAt,
	}

	if rows, err := store.ListShellState(context.Background()); err == nil {
		signals := make([]registry.ShellSignal, 0, len(rows))
		for _, r := range rows {
			signals = append(signals, registry.ShellSignal{
				PID: r.PID, ProcStart: r.ProcStart, CWD: r.CWD, TTY: r.TTY, ParentApp: r.ParentApp,
				TmuxSession: r.TmuxSession, TmuxClientTTY: r.TmuxClientTTY, TmuxPane: r.TmuxPane, RecordedAt: r.RecordedAt,
			})
		}
		d.shells.Load(signals)
	}

	return d, nil
}

// Run binds the intake socket, starts the ARE poll loop, and serves until
// ctx is cancelled or a termination signal arrives.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.close()

	if !d.cfg.Enabled() {
		d.logger.Println("daemon disabled via DAEMON_ENABLED=false, exiting")
		return nil
	}

	sockPath := d.cfg.Socket.Path
	os.Remove(sockPath) // stale socket from an unclean shutdown
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("binding intake socket %s: %w", sockPath, err)
	}

	d.server = intake.New(ln, d.cfg.Socket.MaxConnections, d.cfg.Socket.MaxRequestBytes,
		d.cfg.Socket.ReadDeadline, d.cfg.Socket.WriteDeadline, d.logger, os.Getpid())
	d.server.Store = d.store
	d.server.Tombstones = d.tombstones
	d.server.Shells = d.shells
	d.server.Processes = d.processes
	d.server.Tmuxes = d.tmuxes
	d.server.Engine = d.engine
	d.server.Resolve = resolveProjectIdentity
	if userHome, err := os.UserHomeDir(); err == nil {
		d.server.HomeDir = userHome
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			d.logger.Printf("received signal %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	d.startAREPoller(ctx)

	d.logger.Printf("daemon serving on %s (PID %d)", sockPath, os.Getpid())
	err = d.server.Serve(ctx)
	os.Remove(sockPath)
	return err
}

// startAREPoller drives the tmux poller on the configured cadence via
// robfig/cron, publishing each snapshot into the tmux registry.
func (d *Daemon) startAREPoller(ctx context.Context) {
	poller := are.NewTmuxPoller(are.CommandTmuxAdapter{})
	interval := d.cfg.ARE.PollIntervalSeconds
	if interval <= 0 {
		interval = 2
	}

	d.cron = cron.New(cron.WithSeconds())
	spec := fmt.Sprintf("@every %ds", interval)
	_, err := d.cron.AddFunc(spec, func() {
		snap, diff, err := poller.PollOnce()
		if err != nil {
			d.logger.Printf("tmux poll failed: %v", err)
			return
		}
		d.tmuxes.Publish(snap)
		if diff.ClientsAdded+diff.ClientsRemoved+diff.ClientsUpdated+diff.SessionsAdded+diff.SessionsRemoved+diff.SessionsUpdated > 0 {
			d.logger.Printf("tmux diff: %+v", diff)
		}
		d.pollCount++
		if err := SaveState(d.home, State{PID: os.Getpid(), StartedAt: d.startedAt, LastPollAt: time.Now(), PollCount: d.pollCount}); err != nil {
			d.logger.Printf("warn: failed to persist daemon state: %v", err)
		}
	})
	if err != nil {
		d.logger.Printf("warn: failed to schedule ARE poller: %v", err)
		return
	}
	d.cron.Start()
	go func() {
		<-ctx.Done()
		d.cron.Stop()
	}()
}

func (d *Daemon) close() {
	if d.cron != nil {
		d.cron.Stop()
	}
	if d.store != nil {
		d.store.Close()
	}
	if d.lockFile != nil {
		d.lockFile.Unlock()
	}
	removePIDFile(d.home)
}
