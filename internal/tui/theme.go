// Package tui renders relay state in the terminal: lipgloss tables for the
// list commands and a live delivery dashboard.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/gitea-relay/internal/delivery"
)

// Theme centralizes all styling.
type Theme struct {
	// Delivery status colors
	StatusOK      lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusWarn    lipgloss.Style
	StatusIgnored lipgloss.Style

	// UI elements
	Border lipgloss.Style
	Title  lipgloss.Style
	Header lipgloss.Style
	Cell   lipgloss.Style
	Dim    lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusWarn:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusIgnored: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

		Border: lipgloss.NewStyle().Foreground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61AFEF")).
			Padding(0, 1),
		Cell: lipgloss.NewStyle().Padding(0, 1),
		Dim:  lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}

// Status returns the style for a delivery outcome.
func (t Theme) Status(s delivery.Status) lipgloss.Style {
	switch s {
	case delivery.StatusDelivered:
		return t.StatusOK
	case delivery.StatusDispatchFailed:
		return t.StatusFailed
	case delivery.StatusRejected:
		return t.StatusWarn
	default:
		return t.StatusIgnored
	}
}
