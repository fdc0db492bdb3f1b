package tui

import (
	"github.com/charmbracelet/lipgloss"

	"epubslim/internal/pipeline"
)

var (
	ColorInk       = lipgloss.Color("#E5E9F0")
	ColorDim       = lipgloss.Color("#7A8291")
	ColorAccent    = lipgloss.Color("#88C0D0")
	ColorAccentAlt = lipgloss.Color("#81A1C1")
	ColorSuccess   = lipgloss.Color("#A3BE8C")
	ColorWarn      = lipgloss.Color("#EBCB8B")
	ColorError     = lipgloss.Color("#BF616A")
)

// OutcomeColor is the color an archive outcome is printed in.
func OutcomeColor(o pipeline.Outcome) lipgloss.Color {
	switch o {
	case pipeline.OutcomePackaged:
		return ColorSuccess
	case pipeline.OutcomeQuarantined:
		return ColorError
	case pipeline.OutcomeUnchanged:
		return ColorAccentAlt
	default:
		return ColorDim
	}
}
