package watch

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/vpn-session/session"
)

type styles struct {
	frame   lipgloss.Style
	title   lipgloss.Style
	label   lipgloss.Style
	value   lipgloss.Style
	hint    lipgloss.Style
	alert   lipgloss.Style
	good    lipgloss.Style
	busy    lipgloss.Style
	bad     lipgloss.Style
	neutral lipgloss.Style
}

func color(light, dark string) lipgloss.TerminalColor {
	return lipgloss.AdaptiveColor{Light: light, Dark: dark}
}

func defaultStyles() styles {
	badge := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	return styles{
		frame: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(color("#1c71d8", "#3584e4")).
			Padding(1, 2),
		title:   lipgloss.NewStyle().Bold(true).Foreground(color("#1c71d8", "#3584e4")),
		label:   lipgloss.NewStyle().Width(14).Foreground(color("#4b5563", "#9ca3af")),
		value:   lipgloss.NewStyle().Foreground(color("#111827", "#f3f4f6")),
		hint:    lipgloss.NewStyle().Foreground(color("#6b7280", "#6b7280")),
		alert:   lipgloss.NewStyle().Bold(true).Foreground(color("#b45309", "#fbbf24")),
		good:    badge.Foreground(color("#ffffff", "#000000")).Background(color("#26a269", "#2ec27e")),
		busy:    badge.Foreground(color("#000000", "#000000")).Background(color("#e5a50a", "#f6d32d")),
		bad:     badge.Foreground(color("#ffffff", "#ffffff")).Background(color("#c01c28", "#e01b24")),
		neutral: badge.Foreground(color("#ffffff", "#000000")).Background(color("#6b7280", "#9ca3af")),
	}
}

// inProgress reports stages that are waiting on the engine or the user.
func inProgress(st session.Stage) bool {
	switch st {
	case session.StageConnected, session.StageDenied, session.StageNoNetwork,
		session.StageIdle, session.StageDisconnected:
		return false
	}
	return true
}

// badge picks the stage badge style.
func (s styles) badge(st session.Stage) lipgloss.Style {
	switch st {
	case session.StageConnected:
		return s.good
	case session.StageDenied, session.StageNoNetwork:
		return s.bad
	case session.StageIdle, session.StageDisconnected:
		return s.neutral
	}
	return s.busy
}
