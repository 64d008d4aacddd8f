// Package ui provides terminal styling for tether CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Ayu theme color palette, adaptive between light and dark terminals.
var (
	ColorDone = lipgloss.AdaptiveColor{
		Light: "#86b300", // ayu light bright green
		Dark:  "#c2d94c", // ayu dark bright green
	}
	ColorActive = lipgloss.AdaptiveColor{
		Light: "#f2ae49", // ayu light bright yellow
		Dark:  "#ffb454", // ayu dark bright yellow
	}
	ColorBlocked = lipgloss.AdaptiveColor{
		Light: "#f07171", // ayu light bright red
		Dark:  "#f07178", // ayu dark bright red
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99", // ayu light muted
		Dark:  "#6c7680", // ayu dark muted
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6", // ayu light bright blue
		Dark:  "#59c2ff", // ayu dark bright blue
	}
)

// Status styles, consistent across all commands.
var (
	DoneStyle    = lipgloss.NewStyle().Foreground(ColorDone)
	ActiveStyle  = lipgloss.NewStyle().Foreground(ColorActive)
	BlockedStyle = lipgloss.NewStyle().Foreground(ColorBlocked)
	MutedStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle  = lipgloss.NewStyle().Foreground(ColorAccent)
)

// HeaderStyle for section headers.
var HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)

// Status icons.
const (
	IconDone    = "✓"
	IconActive  = "◐"
	IconBlocked = "✗"
	IconSkipped = "-"
	IconPending = "·"
)

// StatusIcon renders the styled icon for a roadmap or plan status word.
func StatusIcon(status string) string {
	switch status {
	case "done", "merged":
		return DoneStyle.Render(IconDone)
	case "in_progress", "implementing", "dispatched", "submitted", "ready_for_review":
		return ActiveStyle.Render(IconActive)
	case "blocked":
		return BlockedStyle.Render(IconBlocked)
	case "skipped", "closed":
		return MutedStyle.Render(IconSkipped)
	default:
		return MutedStyle.Render(IconPending)
	}
}
