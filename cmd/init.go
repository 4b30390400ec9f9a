package cmd

import (
	"github.com/morlinbrot/goaldy/internal/db"
	"github.com/morlinbrot/goaldy/internal/output"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the local database",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := dataDir()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		database, err := db.Initialize(dir)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		output.Success("Initialized goaldy database in %s", dir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
