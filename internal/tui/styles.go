package tui

import "github.com/charmbracelet/lipgloss"

var (
	// HeaderStyle styles the column header row of list tables.
	HeaderStyle = lipgloss.NewStyle().Bold(true)

	levelColors = map[string]lipgloss.Color{
		"info":    lipgloss.Color("12"),
		"success": lipgloss.Color("10"),
		"warning": lipgloss.Color("11"),
		"error":   lipgloss.Color("9"),
		"debug":   lipgloss.Color("8"),
	}

	statusStyles = map[string]lipgloss.Style{
		// Volumes
		"active":    lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		"abandoned": lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		"removed":   lipgloss.NewStyle().Faint(true),
		"failed":    lipgloss.NewStyle().Foreground(lipgloss.Color("1")),

		// Extension locations
		"local":    lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		"external": lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		"package":  lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		"git":      lipgloss.NewStyle().Foreground(lipgloss.Color("5")),
		"path":     lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	}
)

// LevelStyle returns the style for a message level tag rendered by r.
func LevelStyle(r *lipgloss.Renderer, level string) lipgloss.Style {
	style := r.NewStyle()
	if c, ok := levelColors[level]; ok {
		style = style.Foreground(c)
	}
	return style
}

// StatusStyle returns the lipgloss style for the given status string.
func StatusStyle(status string) lipgloss.Style {
	if s, ok := statusStyles[status]; ok {
		return s
	}
	return lipgloss.NewStyle()
}
