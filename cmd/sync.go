package cmd

import (
	"context"
	"fmt"

	"github.com/morlinbrot/goaldy/internal/output"
	"github.com/morlinbrot/goaldy/internal/syncconfig"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync with the server now",
	Long: `Run a sync cycle: pull remote changes, then push queued local mutations.

By default pull starts from the last sync watermark. Use --full to ignore
the watermark and pull everything the server has.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !syncconfig.IsAuthenticated() {
			output.Error("not signed in; run 'goaldy login' first")
			return fmt.Errorf("not signed in")
		}

		a, err := openApp(false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.close()

		ctx := context.Background()
		if !a.probeOnline(ctx) {
			output.Error("server unreachable at %s", syncconfig.GetServerURL())
			return fmt.Errorf("server unreachable")
		}

		if full, _ := cmd.Flags().GetBool("full"); full {
			if err := a.db.ClearSyncState(); err != nil {
				output.Error("reset watermark: %v", err)
				return err
			}
		}

		pushOnly, _ := cmd.Flags().GetBool("push")
		pullOnly, _ := cmd.Flags().GetBool("pull")
		if pushOnly && pullOnly {
			output.Error("--push and --pull are mutually exclusive")
			return fmt.Errorf("--push and --pull are mutually exclusive")
		}

		switch {
		case pushOnly:
			pushed, deadLettered, errs := a.orch.PushPendingChanges(ctx)
			return reportSync(pushed, 0, deadLettered, errs)
		case pullOnly:
			pulled, errs := a.orch.PullChanges(ctx)
			return reportSync(0, pulled, 0, errs)
		default:
			result, err := a.orch.FullSync(ctx)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			return reportSync(result.Pushed, result.Pulled, result.DeadLettered, result.Errors)
		}
	},
}

func reportSync(pushed, pulled, deadLettered int, errs []string) error {
	for _, e := range errs {
		output.Warning("%s", e)
	}
	if deadLettered > 0 {
		output.Warning("%d mutation(s) dead-lettered; see 'goaldy deadletter list'", deadLettered)
	}
	if len(errs) > 0 {
		output.Error("sync finished with %d error(s)", len(errs))
		return fmt.Errorf("sync finished with errors")
	}
	output.Success("Synced: %d pushed, %d pulled", pushed, pulled)
	return nil
}

func init() {
	syncCmd.Flags().Bool("full", false, "Ignore the sync watermark and pull everything")
	syncCmd.Flags().Bool("push", false, "Only push queued local mutations")
	syncCmd.Flags().Bool("pull", false, "Only pull remote changes")
	rootCmd.AddCommand(syncCmd)
}
