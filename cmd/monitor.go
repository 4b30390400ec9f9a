package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/morlinbrot/goaldy/internal/output"
	"github.com/morlinbrot/goaldy/internal/syncconfig"
	"github.com/morlinbrot/goaldy/internal/tui/monitor"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live TUI dashboard for observing sync activity",
	Long: `Launch a live-updating TUI dashboard showing:
- Goals with their progress
- The pending mutation queue in drain order
- Dead letters awaiting operator action

Key bindings:
  Tab/Shift+Tab  Switch panels
  1/2/3          Jump to panel
  j/k            Scroll active panel
  s              Sync now
  r              Force refresh
  ?              Toggle help
  q              Quit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.close()

		interval, _ := cmd.Flags().GetDuration("interval")
		if interval < 500*time.Millisecond {
			interval = 2 * time.Second
		}

		// The monitor probes on every refresh so connectivity transitions
		// show up without restarting it.
		probe := func(ctx context.Context) bool {
			if !syncconfig.IsAuthenticated() {
				return false
			}
			_, err := a.client.HealthCheck(ctx)
			a.orch.MarkOnline(err == nil)
			return err == nil
		}

		model := monitor.NewModel(monitor.Deps{
			Orch:  a.orch,
			Queue: a.queue,
			Goals: a.goals,
			Probe: probe,
		}, interval)

		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running monitor: %w", err)
		}
		return nil
	},
}

func init() {
	monitorCmd.Flags().Duration("interval", 2*time.Second, "Refresh interval")
	rootCmd.AddCommand(monitorCmd)
}
