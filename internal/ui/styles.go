// Package ui renders command output: status lines, history tables and the
// batch progress bar.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/weightfetch/weightfetch/internal/engine/types"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(ColorHighlight).
			Bold(true)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorStateDone).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorStateError).
			Bold(true)

	ActiveStyle = lipgloss.NewStyle().
			Foreground(ColorStateActive)

	IDStyle = lipgloss.NewStyle().
		Foreground(ColorAccent)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)
)

// DisableColor strips colors and attributes from every style.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// StatusStyle returns the style an item or task status is printed with.
func StatusStyle(status string) lipgloss.Style {
	switch types.ItemStatus(status) {
	case types.StatusCompleted:
		return SuccessStyle
	case types.StatusFailed, types.StatusCancelled:
		return ErrorStyle
	case types.StatusPending:
		return LabelStyle
	}
	return ActiveStyle
}

// Status renders status in its color, padded to width.
func Status(status string, width int) string {
	return StatusStyle(status).Render(fmt.Sprintf("%-*s", width, status))
}

// Success formats a one-line success message.
func Success(format string, args ...any) string {
	return SuccessStyle.Render("✔") + " " + fmt.Sprintf(format, args...)
}

// Failure formats a one-line error message.
func Failure(format string, args ...any) string {
	return ErrorStyle.Render("✘") + " " + fmt.Sprintf(format, args...)
}

// KeyValue renders aligned "key: value" rows.
func KeyValue(rows [][2]string) string {
	width := 0
	for _, r := range rows {
		width = max(width, len(r[0]))
	}
	var b strings.Builder
	for _, r := range rows {
		b.WriteString(LabelStyle.Render(fmt.Sprintf("%-*s", width+1, r[0]+":")))
		b.WriteString(" ")
		b.WriteString(r[1])
		b.WriteString("\n")
	}
	return b.String()
}
