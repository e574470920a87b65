package ui

import "github.com/charmbracelet/lipgloss"

// Palette. Each color has a light and a dark terminal variant.
var (
	ColorAccent    = lipgloss.AdaptiveColor{Light: "#5d40c9", Dark: "#bd93f9"}
	ColorHighlight = lipgloss.AdaptiveColor{Light: "#0073a8", Dark: "#8be9fd"}
	ColorMuted     = lipgloss.AdaptiveColor{Light: "#4a4a4a", Dark: "#a9b1d6"}
	ColorBorder    = lipgloss.AdaptiveColor{Light: "#d0d0d0", Dark: "#44475a"}
)

// Item state colors
var (
	ColorStateError  = lipgloss.AdaptiveColor{Light: "#d32f2f", Dark: "#ff5555"}
	ColorStateActive = lipgloss.AdaptiveColor{Light: "#f57c00", Dark: "#ffb86c"}
	ColorStateDone   = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#50fa7b"}
)
