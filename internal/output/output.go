// Package output provides styled terminal output helpers (success, error,
// warning, goal formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/morlinbrot/goaldy/internal/models"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	amountStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Money formats cents as a decimal amount with an optional currency code.
func Money(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	s := fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
	if currency != "" {
		return s + " " + currency
	}
	return s
}

// ProgressBar renders a fixed-width bar for saved/target. A zero target
// renders as an empty bar.
func ProgressBar(saved, target int64, width int) string {
	if width <= 0 {
		width = 20
	}
	filled := 0
	if target > 0 {
		filled = int(saved * int64(width) / target)
		if filled > width {
			filled = width
		}
		if filled < 0 {
			filled = 0
		}
	}
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}

// GoalLine formats a goal as a single list row.
func GoalLine(g *models.Goal) string {
	pct := int64(0)
	if g.TargetCents > 0 {
		pct = g.SavedCents * 100 / g.TargetCents
	}
	line := fmt.Sprintf("%s  %s  %s %s / %s (%d%%)",
		subtleStyle.Render(shortID(g.ID)),
		titleStyle.Render(g.Name),
		ProgressBar(g.SavedCents, g.TargetCents, 20),
		amountStyle.Render(Money(g.SavedCents, "")),
		Money(g.TargetCents, g.Currency),
		pct,
	)
	if g.SavedCents >= g.TargetCents && g.TargetCents > 0 {
		line += "  " + doneStyle.Render("reached")
	}
	if g.Deleted() {
		line += "  " + subtleStyle.Render("(deleted)")
	}
	return line
}

// GoalDetail formats a goal with all fields, one per line.
func GoalDetail(g *models.Goal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", titleStyle.Render(g.Name))
	fmt.Fprintf(&b, "  ID:       %s\n", g.ID)
	fmt.Fprintf(&b, "  Target:   %s\n", Money(g.TargetCents, g.Currency))
	fmt.Fprintf(&b, "  Saved:    %s\n", Money(g.SavedCents, g.Currency))
	if g.Deadline != nil {
		fmt.Fprintf(&b, "  Deadline: %s\n", g.Deadline.Format("2006-01-02"))
	}
	if g.Note != "" {
		fmt.Fprintf(&b, "  Note:     %s\n", g.Note)
	}
	fmt.Fprintf(&b, "  Updated:  %s\n", g.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	return strings.TrimRight(b.String(), "\n")
}

// ContributionLine formats a contribution as a single list row.
func ContributionLine(c *models.Contribution, currency string) string {
	line := fmt.Sprintf("%s  %s  %s",
		subtleStyle.Render(shortID(c.ID)),
		c.ContributedAt.Local().Format("2006-01-02"),
		amountStyle.Render(Money(c.AmountCents, currency)),
	)
	if c.Note != "" {
		line += "  " + subtleStyle.Render(c.Note)
	}
	return line
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
