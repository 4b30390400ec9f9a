package monitor

import (
	"github.com/charmbracelet/lipgloss"
	gsync "github.com/morlinbrot/goaldy/internal/sync"
)

var (
	// Base colors
	primaryColor = lipgloss.Color("212")
	mutedColor   = lipgloss.Color("241")
	successColor = lipgloss.Color("42")
	warningColor = lipgloss.Color("214")
	errorColor   = lipgloss.Color("196")

	// Panel styles
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	// Text styles
	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle      = lipgloss.NewStyle().Foreground(mutedColor)
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	amountStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	reachedStyle   = lipgloss.NewStyle().Foreground(successColor).Bold(true)

	onlineStyle  = lipgloss.NewStyle().Foreground(successColor)
	offlineStyle = lipgloss.NewStyle().Foreground(mutedColor)

	statusStyles = map[gsync.Status]lipgloss.Style{
		gsync.StatusIdle:    lipgloss.NewStyle().Foreground(successColor),
		gsync.StatusSyncing: lipgloss.NewStyle().Foreground(warningColor),
		gsync.StatusError:   lipgloss.NewStyle().Foreground(errorColor),
	}
)

// formatStatus renders a sync status with color
func formatStatus(s gsync.Status) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

// formatConnectivity renders the online/offline indicator
func formatConnectivity(online bool) string {
	if online {
		return onlineStyle.Render("online")
	}
	return offlineStyle.Render("offline")
}
