// Package ui holds the terminal styles used by the command line.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

func init() {
	// NO_COLOR and non-terminal output are handled by termenv's detection.
	lipgloss.SetColorProfile(termenv.EnvColorProfile())
}

// SetOutput re-detects the color profile for w, for commands that write
// somewhere other than stdout.
func SetOutput(w io.Writer) {
	lipgloss.SetColorProfile(termenv.NewOutput(w).EnvColorProfile())
}

// DisableColor forces plain output.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#86EFAC"})
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FCD34D"})
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#FCA5A5"}).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#93C5FD"})
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// RenderPass renders s as a success marker
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders s as a warning
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders s as an error
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent renders s highlighted
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderMuted renders s dimmed
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderHeader renders a table or section header
func RenderHeader(s string) string { return headerStyle.Render(s) }

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
