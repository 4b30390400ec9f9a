package cmd

import (
	"github.com/morlinbrot/goaldy/internal/output"
	"github.com/spf13/cobra"
)

var deadletterCmd = &cobra.Command{
	Use:     "deadletter",
	Aliases: []string{"dl"},
	Short:   "Inspect and recover permanently failed mutations",
}

var deadletterListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List dead letters, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.close()

		limit, _ := cmd.Flags().GetInt("limit")
		letters, err := a.orch.ListDeadLetters(limit)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return output.JSON(letters)
		}

		if len(letters) == 0 {
			output.Info("No dead letters.")
			return nil
		}
		for _, dl := range letters {
			output.Info("%s  %s %s/%s  attempts=%d  %s",
				dl.ID,
				dl.Op, dl.TableName, dl.RecordID,
				dl.Attempts,
				dl.FailedAt.Local().Format("2006-01-02 15:04:05"))
			output.Info("    %s", dl.FinalError)
		}
		return nil
	},
}

var deadletterRetryCmd = &cobra.Command{
	Use:   "retry [id]",
	Short: "Re-enqueue one dead letter with its retry counter reset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.close()

		if err := a.orch.RetryDeadLetter(args[0]); err != nil {
			output.Error("%v", err)
			return err
		}
		a.pushAfterMutation()

		output.Success("Re-enqueued %s", args[0])
		return nil
	},
}

var deadletterRetryAllCmd = &cobra.Command{
	Use:   "retry-all",
	Short: "Re-enqueue every dead letter",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.close()

		n, err := a.orch.RetryAllDeadLetters()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if n > 0 {
			a.pushAfterMutation()
		}

		output.Success("Re-enqueued %d dead letter(s)", n)
		return nil
	},
}

var deadletterDiscardCmd = &cobra.Command{
	Use:   "discard [id]",
	Short: "Drop a dead letter permanently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.close()

		if err := a.orch.DiscardDeadLetter(args[0]); err != nil {
			output.Error("%v", err)
			return err
		}

		output.Success("Discarded %s", args[0])
		return nil
	},
}

func init() {
	deadletterListCmd.Flags().Int("limit", 0, "Max dead letters to show (0 = all)")
	deadletterListCmd.Flags().Bool("json", false, "Output as JSON")

	deadletterCmd.AddCommand(deadletterListCmd, deadletterRetryCmd, deadletterRetryAllCmd, deadletterDiscardCmd)
	rootCmd.AddCommand(deadletterCmd)
}
