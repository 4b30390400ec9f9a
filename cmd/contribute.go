package cmd

import (
	"fmt"
	"time"

	"github.com/morlinbrot/goaldy/internal/db"
	"github.com/morlinbrot/goaldy/internal/models"
	"github.com/morlinbrot/goaldy/internal/output"
	"github.com/spf13/cobra"
)

// goalTotal sums a goal's live contributions. The total is written back to
// the goal as a denormalized field; summing instead of incrementing means a
// run that stopped between the contribution write and the goal write is
// corrected by the next contribution mutation.
func goalTotal(a *app, goalID string) (int64, error) {
	contribs, err := a.db.ListContributionsWhere(db.ContributionFilter{GoalID: goalID})
	if err != nil {
		return 0, err
	}
	var total int64
	for _, c := range contribs {
		total += c.AmountCents
	}
	return total, nil
}

var contributeCmd = &cobra.Command{
	Use:     "contribute [goal] [amount]",
	Aliases: []string{"pay"},
	Short:   "Record a contribution toward a goal",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseMoney(args[1])
		if err != nil {
			output.Error("invalid amount: %v", err)
			return err
		}
		if amount == 0 {
			output.Error("amount must be non-zero")
			return fmt.Errorf("amount must be non-zero")
		}

		a, err := openApp(false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.close()

		goal, err := resolveGoal(a, args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}

		when := time.Now()
		if s, _ := cmd.Flags().GetString("date"); s != "" {
			when, err = time.ParseInLocation("2006-01-02", s, time.Local)
			if err != nil {
				output.Error("invalid date %q (expected YYYY-MM-DD)", s)
				return err
			}
		}

		contrib := &models.Contribution{
			GoalID:        goal.ID,
			AmountCents:   amount,
			ContributedAt: when,
		}
		contrib.Note, _ = cmd.Flags().GetString("note")

		if _, err := a.contributions.Create(contrib); err != nil {
			output.Error("%v", err)
			return err
		}

		// The goal's running total is denormalized onto the goal record so
		// it syncs as part of the goal itself.
		total, err := goalTotal(a, goal.ID)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		updated, err := a.goals.Update(goal.ID, func(g *models.Goal) {
			g.SavedCents = total
		})
		if err != nil {
			output.Error("%v", err)
			return err
		}
		a.pushAfterMutation()

		output.Success("Added %s to %s", output.Money(amount, updated.Currency), updated.Name)
		output.Info("%s", output.GoalLine(updated))
		return nil
	},
}

var contributionsCmd = &cobra.Command{
	Use:     "contributions",
	Aliases: []string{"contribs"},
	Short:   "Manage recorded contributions",
}

var contributionsListCmd = &cobra.Command{
	Use:     "list [goal]",
	Aliases: []string{"ls"},
	Short:   "List contributions, optionally for one goal",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.close()

		var filter db.ContributionFilter
		currency := ""
		if len(args) == 1 {
			goal, err := resolveGoal(a, args[0])
			if err != nil {
				output.Error("%v", err)
				return err
			}
			currency = goal.Currency
			filter.GoalID = goal.ID
		}
		if s, _ := cmd.Flags().GetString("since"); s != "" {
			t, err := time.ParseInLocation("2006-01-02", s, time.Local)
			if err != nil {
				output.Error("invalid since %q (expected YYYY-MM-DD)", s)
				return err
			}
			filter.Since = &t
		}
		if s, _ := cmd.Flags().GetString("until"); s != "" {
			t, err := time.ParseInLocation("2006-01-02", s, time.Local)
			if err != nil {
				output.Error("invalid until %q (expected YYYY-MM-DD)", s)
				return err
			}
			filter.Until = &t
		}
		if s, _ := cmd.Flags().GetString("min"); s != "" {
			cents, err := parseMoney(s)
			if err != nil || cents <= 0 {
				output.Error("invalid minimum amount %q", s)
				return fmt.Errorf("invalid minimum amount")
			}
			filter.MinAmountCents = cents
		}

		contribs, err := a.db.ListContributionsWhere(filter)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return output.JSON(contribs)
		}

		if len(contribs) == 0 {
			output.Info("No contributions.")
			return nil
		}
		for _, c := range contribs {
			output.Info("%s", output.ContributionLine(c, currency))
		}
		return nil
	},
}

var contributionsDeleteCmd = &cobra.Command{
	Use:     "delete [id]",
	Aliases: []string{"rm"},
	Short:   "Delete a contribution and adjust its goal's total",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.close()

		contrib, err := a.contributions.GetByID(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if contrib == nil {
			output.Error("no contribution with id %s", args[0])
			return fmt.Errorf("no contribution with id %s", args[0])
		}

		if err := a.contributions.Delete(contrib.ID); err != nil {
			output.Error("%v", err)
			return err
		}
		total, err := goalTotal(a, contrib.GoalID)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if _, err := a.goals.Update(contrib.GoalID, func(g *models.Goal) {
			g.SavedCents = total
		}); err != nil {
			output.Error("%v", err)
			return err
		}
		a.pushAfterMutation()

		output.Success("Deleted contribution of %s", output.Money(contrib.AmountCents, ""))
		return nil
	},
}

func init() {
	contributeCmd.Flags().String("note", "", "Free-form note")
	contributeCmd.Flags().String("date", "", "Contribution date as YYYY-MM-DD (default today)")

	contributionsListCmd.Flags().String("since", "", "Only contributions on or after this date (YYYY-MM-DD)")
	contributionsListCmd.Flags().String("until", "", "Only contributions before this date (YYYY-MM-DD)")
	contributionsListCmd.Flags().String("min", "", "Only contributions of at least this amount")
	contributionsListCmd.Flags().Bool("json", false, "Output as JSON")

	contributionsCmd.AddCommand(contributionsListCmd, contributionsDeleteCmd)
	rootCmd.AddCommand(contributeCmd, contributionsCmd)
}
