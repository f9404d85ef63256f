// Package styles holds the console palette shared by the banner and the
// run summaries.
package styles

import (
	"github.com/charmbracelet/lipgloss"
)

// --- Color Palette (Dark Mode) ---
var (
	ColorPrimary   = lipgloss.Color("#7D56F4") // Indigo/Purple
	ColorSecondary = lipgloss.Color("#04B575") // Green
	ColorError     = lipgloss.Color("#FF5F87") // Pink/Red
	ColorWarning   = lipgloss.Color("#FFAF00") // Gold
	ColorText      = lipgloss.Color("#FAFAFA")
	ColorSubtle    = lipgloss.Color("#767676")
	ColorBorder    = lipgloss.Color("#3C3C3C")
	ColorBanner    = lipgloss.Color("#F25D94")
)

var (
	Title = lipgloss.NewStyle().
		Foreground(ColorPrimary).
		Bold(true)

	Text   = lipgloss.NewStyle().Foreground(ColorText)
	Subtle = lipgloss.NewStyle().Foreground(ColorSubtle)
	Value  = lipgloss.NewStyle().Foreground(ColorSecondary).Bold(true)

	Error   = lipgloss.NewStyle().Foreground(ColorError)
	Warn    = lipgloss.NewStyle().Foreground(ColorWarning)
	Success = lipgloss.NewStyle().Foreground(ColorSecondary).Bold(true)

	Border = lipgloss.NewStyle().Foreground(ColorBorder)

	// Table cells
	Header = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true).Padding(0, 1)
	Cell   = lipgloss.NewStyle().Foreground(ColorText).Padding(0, 1)
)

// Rate colors a success ratio: green when healthy, gold when degraded, red
// below the error-prone line.
func Rate(rate float64) lipgloss.Style {
	switch {
	case rate >= 0.95:
		return Success
	case rate >= 0.9:
		return Warn
	default:
		return Error
	}
}
