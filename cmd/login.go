package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/morlinbrot/goaldy/internal/output"
	"github.com/morlinbrot/goaldy/internal/remote"
	"github.com/morlinbrot/goaldy/internal/syncconfig"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with an API key and adopt local data",
	Long: `Verify an API key against the sync server and save the credentials.

Records and queued mutations created before signing in belong to nobody;
login claims them for the signed-in account and syncs them up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, _ := cmd.Flags().GetString("key")
		if key == "" {
			output.Error("--key is required")
			return fmt.Errorf("--key is required")
		}

		serverURL, _ := cmd.Flags().GetString("server")
		if serverURL == "" {
			serverURL = syncconfig.GetServerURL()
		}

		deviceID, err := syncconfig.GetDeviceID()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		client := remote.New(serverURL, key, deviceID)
		owner, err := client.WhoAmI(ctx)
		if err != nil {
			output.Error("verify key against %s: %v", serverURL, err)
			return err
		}

		email, _ := cmd.Flags().GetString("email")
		creds := &syncconfig.AuthCredentials{
			APIKey:    key,
			OwnerID:   owner,
			Email:     email,
			ServerURL: serverURL,
			DeviceID:  deviceID,
		}
		if err := syncconfig.SaveAuth(creds); err != nil {
			output.Error("save credentials: %v", err)
			return err
		}
		output.Success("Signed in as %s", owner)

		a, err := openApp(false)
		if err != nil {
			// credentials are saved; the database may simply not exist yet
			output.Warning("%v", err)
			return nil
		}
		defer a.close()

		if err := a.orch.ClaimOwner(owner); err != nil {
			output.Error("claim local data: %v", err)
			return err
		}

		if a.probeOnline(context.Background()) {
			result, err := a.orch.FullSync(context.Background())
			if err != nil {
				output.Warning("initial sync: %v", err)
				return nil
			}
			output.Success("Synced: %d pushed, %d pulled", result.Pushed, result.Pulled)
		} else {
			output.Info("Server unreachable; local changes stay queued until it is.")
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and stop syncing",
	Long: `Remove the saved credentials. Local data is untouched and stays usable
offline; queued mutations are kept and resume syncing on the next login.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !syncconfig.IsAuthenticated() {
			output.Info("Already signed out.")
			return nil
		}
		if err := syncconfig.ClearAuth(); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("Signed out. Local data is still available offline.")
		return nil
	},
}

func init() {
	loginCmd.Flags().String("key", "", "API key issued by the sync server (required)")
	loginCmd.Flags().String("server", "", "Sync server URL (default from config)")
	loginCmd.Flags().String("email", "", "Email to record with the credentials")
	loginCmd.MarkFlagRequired("key")

	rootCmd.AddCommand(loginCmd, logoutCmd)
}
