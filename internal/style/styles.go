package style

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Bold and Dim are the two base text styles the CLI renders status output
// with — headers and emphasis in Bold, secondary detail in Dim.
var (
	Bold = lipgloss.NewStyle().Bold(true)
	Dim  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6b6b6b", Dark: "#888888"})

	Good = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"})
	Bad  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"})
)

// IsInteractive reports whether stdout is an attached terminal. capctl
// commands piped into a file or another process should not depend on a
// human ever seeing the colored/bold output.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
