package tui

import "github.com/charmbracelet/lipgloss"

// Row statuses shown in the STATUS column.
const (
	StatusPending    = "pending"
	StatusInspecting = "inspecting"
	StatusRunning    = "running"
	StatusIndexed    = "indexed"
	StatusKept       = "kept"
	StatusChanged    = "changed"
	StatusOK         = "ok"
	StatusSkipped    = "skipped"
	StatusFailed     = "failed"
	StatusActive     = "active"
	StatusInactive   = "inactive"
)

var (
	// TitleStyle styles the line above the table.
	TitleStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	// HeaderStyle styles the column header row.
	HeaderStyle = lipgloss.NewStyle().Bold(true)

	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	blue   = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))

	statusStyles = map[string]lipgloss.Style{
		StatusIndexed: green,
		StatusChanged: green,
		StatusActive:  green,
		StatusOK:      green,
		StatusKept:    lipgloss.NewStyle(),

		StatusInspecting: blue,
		StatusRunning:    blue,

		StatusSkipped:  yellow,
		StatusInactive: yellow,

		StatusFailed: red,

		StatusPending: lipgloss.NewStyle().Faint(true),
	}

	terminal = map[string]bool{
		StatusIndexed: true,
		StatusKept:    true,
		StatusChanged: true,
		StatusOK:      true,
		StatusSkipped: true,
		StatusFailed:  true,
	}
)

// StatusStyle returns the style for a status string.
func StatusStyle(status string) lipgloss.Style {
	if s, ok := statusStyles[status]; ok {
		return s
	}
	return lipgloss.NewStyle()
}

// IsTerminalStatus reports whether a row with this status is finished.
func IsTerminalStatus(status string) bool {
	return terminal[status]
}
