package cmd

import (
	"context"

	"github.com/morlinbrot/goaldy/internal/output"
	"github.com/morlinbrot/goaldy/internal/syncconfig"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.close()

		if !syncconfig.IsAuthenticated() {
			output.Info("Signed out. Local-only mode; run 'goaldy login' to enable sync.")
		} else {
			output.Info("Signed in as %s", syncconfig.GetOwnerID())
			output.Info("Server:       %s", syncconfig.GetServerURL())
			if a.probeOnline(context.Background()) {
				output.Info("Connectivity: online")
			} else {
				output.Info("Connectivity: offline")
			}
		}

		output.Info("Data:         %s", a.db.BaseDir())

		pending, err := a.orch.PendingCount()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		dead, err := a.orch.DeadLetterCount()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		output.Info("Pending:      %d queued mutation(s)", pending)
		if dead > 0 {
			output.Warning("Dead letters: %d (see 'goaldy deadletter list')", dead)
		}

		lastSync, err := a.db.LastSyncAt()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if lastSync == nil {
			output.Info("Last sync:    never")
		} else {
			output.Info("Last sync:    %s", lastSync.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
