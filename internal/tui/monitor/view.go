package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/morlinbrot/goaldy/internal/models"
	"github.com/morlinbrot/goaldy/internal/output"
	"github.com/morlinbrot/goaldy/internal/queue"
	gsync "github.com/morlinbrot/goaldy/internal/sync"
)

// renderView renders the complete TUI view
func (m Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return "Loading..."
	}

	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}

	if m.ShowHelp {
		return m.renderHelp()
	}

	header := m.renderHeader()
	footer := m.renderFooter()

	// 3 panels share the space between header and footer
	availableHeight := m.Height - lipgloss.Height(header) - lipgloss.Height(footer)
	panelHeight := availableHeight / 3

	goals := m.renderGoalsPanel(panelHeight)
	pending := m.renderQueuePanel(panelHeight)
	dead := m.renderDeadLetterPanel(panelHeight)

	return lipgloss.JoinVertical(lipgloss.Left, header, goals, pending, dead, footer)
}

// renderCompact renders a minimal view for small terminals
func (m Model) renderCompact() string {
	var s strings.Builder

	s.WriteString("goaldy monitor (resize for full view)\n\n")
	s.WriteString(fmt.Sprintf("Status: %s %s\n", formatStatus(m.Status), formatConnectivity(m.Online)))
	s.WriteString(fmt.Sprintf("Goals: %d | Queued: %d | Dead: %d\n",
		len(m.Goals), len(m.Pending), len(m.DeadLetters)))
	s.WriteString("\nq:quit s:sync r:refresh ?:help")

	return s.String()
}

// renderHeader renders the status line at the top
func (m Model) renderHeader() string {
	status := formatStatus(m.Status)
	if m.Status == gsync.StatusSyncing {
		status = m.Spinner.View() + status
	}
	if m.Status == gsync.StatusError && m.StatusMsg != "" {
		status += " " + subtleStyle.Render(truncate(m.StatusMsg, m.Width/2))
	}

	lastSync := "never"
	if m.LastSyncAt != nil {
		lastSync = m.LastSyncAt.Local().Format("15:04:05")
	}

	left := titleStyle.Render("goaldy") + "  " + status + "  " + formatConnectivity(m.Online)
	right := subtleStyle.Render("last sync " + lastSync)

	gap := m.Width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	line := left + strings.Repeat(" ", gap) + right

	if m.Err != nil {
		line += "\n" + lipgloss.NewStyle().Foreground(errorColor).Render(truncate(m.Err.Error(), m.Width))
	}
	return line
}

// renderGoalsPanel renders the goals panel (Panel 1)
func (m Model) renderGoalsPanel(height int) string {
	var content strings.Builder

	if len(m.Goals) == 0 {
		content.WriteString(subtleStyle.Render("No goals"))
	} else {
		offset := m.ScrollOffset[PanelGoals]
		visible := visibleItems(len(m.Goals), offset, height-2)
		for i := offset; i < offset+visible && i < len(m.Goals); i++ {
			content.WriteString(m.formatGoalRow(m.Goals[i]))
			content.WriteString("\n")
		}
	}

	title := fmt.Sprintf("GOALS (%d)", len(m.Goals))
	return m.wrapPanel(title, content.String(), height, PanelGoals)
}

// renderQueuePanel renders the pending mutation queue panel (Panel 2)
func (m Model) renderQueuePanel(height int) string {
	var content strings.Builder

	if len(m.Pending) == 0 {
		content.WriteString(subtleStyle.Render("Queue empty"))
	} else {
		offset := m.ScrollOffset[PanelQueue]
		visible := visibleItems(len(m.Pending), offset, height-2)
		for i := offset; i < offset+visible && i < len(m.Pending); i++ {
			content.WriteString(m.formatQueueRow(m.Pending[i]))
			content.WriteString("\n")
		}
	}

	title := fmt.Sprintf("QUEUE (%d)", len(m.Pending))
	return m.wrapPanel(title, content.String(), height, PanelQueue)
}

// renderDeadLetterPanel renders the dead letters panel (Panel 3)
func (m Model) renderDeadLetterPanel(height int) string {
	var content strings.Builder

	if len(m.DeadLetters) == 0 {
		content.WriteString(subtleStyle.Render("No dead letters"))
	} else {
		offset := m.ScrollOffset[PanelDeadLetters]
		visible := visibleItems(len(m.DeadLetters), offset, height-2)
		for i := offset; i < offset+visible && i < len(m.DeadLetters); i++ {
			content.WriteString(m.formatDeadLetterRow(m.DeadLetters[i]))
			content.WriteString("\n")
		}
	}

	title := fmt.Sprintf("DEAD LETTERS (%d)", len(m.DeadLetters))
	return m.wrapPanel(title, content.String(), height, PanelDeadLetters)
}

// formatGoalRow formats one goal as a single panel row
func (m Model) formatGoalRow(g *models.Goal) string {
	pct := int64(0)
	if g.TargetCents > 0 {
		pct = g.SavedCents * 100 / g.TargetCents
	}
	row := fmt.Sprintf("%s %s %s / %s (%d%%)",
		titleStyle.Render(pad(g.Name, 20)),
		output.ProgressBar(g.SavedCents, g.TargetCents, 16),
		amountStyle.Render(output.Money(g.SavedCents, "")),
		output.Money(g.TargetCents, g.Currency),
		pct,
	)
	if g.TargetCents > 0 && g.SavedCents >= g.TargetCents {
		row += " " + reachedStyle.Render("reached")
	}
	return truncate(row, m.Width-4)
}

// formatQueueRow formats one queue item as a single panel row
func (m Model) formatQueueRow(it *queue.Item) string {
	row := fmt.Sprintf("%s %s %s/%s attempts=%d",
		timestampStyle.Render(it.CreatedAt.Local().Format("15:04:05")),
		pad(string(it.Op), 6),
		it.TableName, shortID(it.RecordID),
		it.Attempts,
	)
	if it.ErrorMessage != "" {
		row += " " + subtleStyle.Render(truncate(it.ErrorMessage, 40))
	}
	return truncate(row, m.Width-4)
}

// formatDeadLetterRow formats one dead letter as a single panel row
func (m Model) formatDeadLetterRow(dl *queue.DeadLetter) string {
	row := fmt.Sprintf("%s %s %s/%s %s",
		timestampStyle.Render(dl.FailedAt.Local().Format("15:04:05")),
		pad(string(dl.Op), 6),
		dl.TableName, shortID(dl.RecordID),
		subtleStyle.Render(truncate(dl.FinalError, 50)),
	)
	return truncate(row, m.Width-4)
}

// wrapPanel wraps content in a bordered panel with a title
func (m Model) wrapPanel(title, content string, height int, panel Panel) string {
	style := panelStyle
	if m.ActivePanel == panel {
		style = activePanelStyle
	}

	titled := panelTitleStyle.Render(title) + "\n" + strings.TrimRight(content, "\n")

	return style.
		Width(m.Width - 2).
		Height(height - 2).
		Render(titled)
}

// renderFooter renders the key hints line
func (m Model) renderFooter() string {
	hints := "tab:panel  j/k:scroll  s:sync  r:refresh  ?:help  q:quit"
	return helpStyle.Render(truncate(hints, m.Width))
}

// renderHelp renders the full help screen
func (m Model) renderHelp() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("goaldy monitor"))
	s.WriteString("\n\n")
	s.WriteString("Key bindings:\n")
	s.WriteString("  Tab/Shift+Tab  Switch panels\n")
	s.WriteString("  1/2/3          Jump to panel\n")
	s.WriteString("  j/k            Scroll active panel\n")
	s.WriteString("  s              Sync now\n")
	s.WriteString("  r              Force refresh\n")
	s.WriteString("  ?              Toggle this help\n")
	s.WriteString("  q              Quit\n")
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("Press ? to return"))
	return s.String()
}

// visibleItems clamps how many rows fit
func visibleItems(total, offset, max int) int {
	if max < 1 {
		max = 1
	}
	remaining := total - offset
	if remaining < 0 {
		return 0
	}
	if remaining > max {
		return max
	}
	return remaining
}

func truncate(s string, width int) string {
	if width <= 3 || lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
