package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/morlinbrot/goaldy/internal/models"
	"github.com/morlinbrot/goaldy/internal/output"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var goalCmd = &cobra.Command{
	Use:   "goal",
	Short: "Manage savings goals",
}

var goalAddCmd = &cobra.Command{
	Use:     "add [name]",
	Aliases: []string{"create", "new"},
	Short:   "Create a new savings goal",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.TrimSpace(args[0])
		if name == "" {
			output.Error("goal name is required")
			return fmt.Errorf("goal name is required")
		}

		targetStr, _ := cmd.Flags().GetString("target")
		target, err := parseMoney(targetStr)
		if err != nil {
			output.Error("invalid target amount: %v", err)
			return err
		}
		if target <= 0 {
			output.Error("target must be greater than zero")
			return fmt.Errorf("target must be greater than zero")
		}

		goal := &models.Goal{
			Name:        name,
			TargetCents: target,
		}
		goal.Currency, _ = cmd.Flags().GetString("currency")
		goal.Note, _ = cmd.Flags().GetString("note")

		if d, _ := cmd.Flags().GetString("deadline"); d != "" {
			t, err := time.ParseInLocation("2006-01-02", d, time.Local)
			if err != nil {
				output.Error("invalid deadline %q (expected YYYY-MM-DD)", d)
				return err
			}
			goal.Deadline = &t
		}

		a, err := openApp(false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.close()

		created, err := a.goals.Create(goal)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		a.pushAfterMutation()

		output.Success("Created goal %s", created.Name)
		output.Info("%s", output.GoalLine(created))
		return nil
	},
}

var goalListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List goals",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.close()

		all, _ := cmd.Flags().GetBool("all")
		var goals []*models.Goal
		if all {
			goals, err = a.goals.GetAllIncludingDeleted()
		} else {
			goals, err = a.goals.GetAll()
		}
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return output.JSON(goals)
		}

		if len(goals) == 0 {
			output.Info("No goals yet. Create one with: goaldy goal add \"Vacation\" --target 1500")
			return nil
		}
		for _, g := range goals {
			output.Info("%s", output.GoalLine(g))
		}
		return nil
	},
}

var goalShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one goal with its contributions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return output.JSON(goal)
		}

		output.Info("%s", output.GoalDetail(goal))

		contribs, err := a.contributions.Query(func(c *models.Contribution) bool {
			return c.GoalID == goal.ID
		})
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if len(contribs) > 0 {
			output.Info("\nContributions:")
			for _, c := range contribs {
				output.Info("  %s", output.ContributionLine(c, goal.Currency))
			}
		}
		return nil
	},
}

var goalUpdateCmd = &cobra.Command{
	Use:   "update [id]",
	Short: "Update a goal's fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		var set []string
		cmd.Flags().Visit(func(f *pflag.Flag) { set = append(set, f.Name) })
		if len(set) == 0 {
			output.Error("nothing to update; pass at least one of --name, --target, --currency, --deadline, --note")
			return fmt.Errorf("no fields to update")
		}

		var target int64 = -1
		if s, _ := cmd.Flags().GetString("target"); s != "" {
			target, err = parseMoney(s)
			if err != nil || target <= 0 {
				output.Error("invalid target amount %q", s)
				return fmt.Errorf("invalid target amount")
			}
		}
		var deadline *time.Time
		clearDeadline := false
		if s, _ := cmd.Flags().GetString("deadline"); s != "" {
			if s == "none" {
				clearDeadline = true
			} else {
				t, err := time.ParseInLocation("2006-01-02", s, time.Local)
				if err != nil {
					output.Error("invalid deadline %q (expected YYYY-MM-DD)", s)
					return err
				}
				deadline = &t
			}
		}

		updated, err := a.goals.Update(goal.ID, func(g *models.Goal) {
			if name, _ := cmd.Flags().GetString("name"); name != "" {
				g.Name = name
			}
			if target > 0 {
				g.TargetCents = target
			}
			if cmd.Flags().Changed("note") {
				g.Note, _ = cmd.Flags().GetString("note")
			}
			if cmd.Flags().Changed("currency") {
				g.Currency, _ = cmd.Flags().GetString("currency")
			}
			if clearDeadline {
				g.Deadline = nil
			} else if deadline != nil {
				g.Deadline = deadline
			}
		})
		if err != nil {
			output.Error("%v", err)
			return err
		}
		a.pushAfterMutation()

		output.Success("Updated goal %s", updated.Name)
		output.Info("%s", output.GoalLine(updated))
		return nil
	},
}

var goalDeleteCmd = &cobra.Command{
	Use:     "delete [id]",
	Aliases: []string{"rm"},
	Short:   "Delete a goal",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		if err := a.goals.Delete(goal.ID); err != nil {
			output.Error("%v", err)
			return err
		}
		a.pushAfterMutation()

		output.Success("Deleted goal %s", goal.Name)
		return nil
	},
}

// resolveGoal finds a goal by full ID, unique ID prefix, or exact name.
func resolveGoal(a *app, ref string) (*models.Goal, error) {
	goal, err := a.goals.GetByID(ref)
	if err != nil {
		return nil, err
	}
	if goal != nil {
		return goal, nil
	}

	goals, err := a.goals.GetAll()
	if err != nil {
		return nil, err
	}
	var matches []*models.Goal
	for _, g := range goals {
		if strings.HasPrefix(g.ID, ref) || strings.EqualFold(g.Name, ref) {
			matches = append(matches, g)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no goal matching %q", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q is ambiguous: matches %d goals", ref, len(matches))
	}
}

// parseMoney parses "1500", "1500.50", or "1,500.50" into cents.
func parseMoney(s string) (int64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, fmt.Errorf("amount is required")
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("at most two decimal places")
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	cents := w*100 + f
	if neg {
		cents = -cents
	}
	return cents, nil
}

func init() {
	goalAddCmd.Flags().String("target", "", "Target amount, e.g. 1500 or 1500.50 (required)")
	goalAddCmd.Flags().String("currency", "", "Currency code, e.g. EUR")
	goalAddCmd.Flags().String("deadline", "", "Deadline as YYYY-MM-DD")
	goalAddCmd.Flags().String("note", "", "Free-form note")
	goalAddCmd.MarkFlagRequired("target")

	goalListCmd.Flags().Bool("all", false, "Include deleted goals")
	goalListCmd.Flags().Bool("json", false, "Output as JSON")

	goalShowCmd.Flags().Bool("json", false, "Output as JSON")

	goalUpdateCmd.Flags().String("name", "", "New name")
	goalUpdateCmd.Flags().String("target", "", "New target amount")
	goalUpdateCmd.Flags().String("currency", "", "New currency code")
	goalUpdateCmd.Flags().String("deadline", "", "New deadline as YYYY-MM-DD, or 'none' to clear")
	goalUpdateCmd.Flags().String("note", "", "New note")

	goalCmd.AddCommand(goalAddCmd, goalListCmd, goalShowCmd, goalUpdateCmd, goalDeleteCmd)
	rootCmd.AddCommand(goalCmd)
}
