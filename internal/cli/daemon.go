package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/xcawolfe-amzn/capacitor/internal/daemon"
	"github.com/xcawolfe-amzn/capacitor/internal/style"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the Capacitor daemon",
	RunE:  requireSubcommand,
	Long: `Manage the Capacitor background daemon.

The daemon accepts hook events over a Unix socket, reduces them into
per-session state, and resolves which live shell a project's activity
should route to. It holds no intelligence of its own — every decision is
a deterministic function of the events it has seen.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runDaemonStatus,
}

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View daemon logs",
	RunE:  runDaemonLogs,
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the daemon in the foreground (internal)",
	Hidden: true,
	RunE:   runDaemonRun,
}

var (
	daemonHomeFlag  string
	daemonLogLines  int
	daemonLogFollow bool
)

func init() {
	daemonCmd.PersistentFlags().StringVar(&daemonHomeFlag, "home", defaultDaemonHome(), "daemon state directory")
	daemonLogsCmd.Flags().IntVarP(&daemonLogLines, "lines", "n", 50, "number of lines to show")
	daemonLogsCmd.Flags().BoolVarP(&daemonLogFollow, "follow", "f", false, "follow log output")

	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd, daemonLogsCmd, daemonRunCmd)
}

func defaultDaemonHome() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".capacitor")
	}
	return ".capacitor"
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	running, pid, err := daemon.IsRunning(daemonHomeFlag)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if running {
		return fmt.Errorf("daemon already running (PID %d)", pid)
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding executable: %w", err)
	}

	run := exec.Command(exePath, "daemon", "run", "--home", daemonHomeFlag)
	run.Stdin = nil
	run.Stdout = nil
	run.Stderr = nil
	if err := run.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	time.Sleep(200 * time.Millisecond)

	running, pid, err = daemon.IsRunning(daemonHomeFlag)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		return fmt.Errorf("daemon failed to start (check logs with 'capctl daemon logs')")
	}

	if pid != run.Process.Pid {
		fmt.Printf("%s Daemon already running (PID %d)\n", style.Bold.Render("●"), pid)
		return nil
	}

	fmt.Printf("%s Daemon started (PID %d)\n", style.Good.Render("✓"), pid)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	running, pid, err := daemon.IsRunning(daemonHomeFlag)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	if err := daemon.StopDaemon(daemonHomeFlag); err != nil {
		return fmt.Errorf("stopping daemon: %w", err)
	}

	fmt.Printf("%s Daemon stopped (was PID %d)\n", style.Good.Render("✓"), pid)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	running, pid, err := daemon.IsRunning(daemonHomeFlag)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}

	symbol := func(glyph string, s lipgloss.Style) string {
		if !style.IsInteractive() {
			return glyph
		}
		return s.Render(glyph)
	}

	if !running {
		fmt.Printf("%s Daemon is %s\n", symbol("○", style.Dim), "not running")
		fmt.Printf("\nStart with: %s\n", symbol("capctl daemon start", style.Dim))
		return nil
	}

	fmt.Printf("%s Daemon is %s (PID %d)\n", symbol("●", style.Good), symbol("running", style.Bold), pid)

	state, err := daemon.LoadState(daemonHomeFlag)
	if err == nil && !state.StartedAt.IsZero() {
		fmt.Printf("  Started: %s\n", state.StartedAt.Format("2006-01-02 15:04:05"))
		if !state.LastPollAt.IsZero() {
			fmt.Printf("  Last ARE poll: %s (#%d)\n", state.LastPollAt.Format("15:04:05"), state.PollCount)
		}
	}
	return nil
}

func runDaemonLogs(cmd *cobra.Command, args []string) error {
	logFile := daemon.LogFilePath(daemonHomeFlag)
	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		return fmt.Errorf("no log file found at %s", logFile)
	}

	if daemonLogFollow {
		tail := exec.Command("tail", "-f", logFile)
		tail.Stdout = os.Stdout
		tail.Stderr = os.Stderr
		return tail.Run()
	}

	tail := exec.Command("tail", "-n", fmt.Sprintf("%d", daemonLogLines), logFile)
	tail.Stdout = os.Stdout
	tail.Stderr = os.Stderr
	return tail.Run()
}

func runDaemonRun(cmd *cobra.Command, args []string) error {
	d, err := daemon.New(daemonHomeFlag)
	if err != nil {
		return fmt.Errorf("creating daemon: %w", err)
	}
	return d.Run(context.Background())
}
