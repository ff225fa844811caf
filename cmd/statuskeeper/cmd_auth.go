package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/statuskeeper/internal/state"
)

var authResetYes bool

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authResetCmd, authCheckCmd)
	authResetCmd.Flags().BoolVarP(&authResetYes, "yes", "y", false, "do not ask for confirmation")
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored session credentials",
}

var authCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the stored credentials can be read",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store := state.NewAuthStore(cfg.AuthPath(), state.WithPassphrase(cfg.Auth.Passphrase))
		blob, err := store.Load(context.Background())
		if err != nil {
			return err
		}
		if blob == nil {
			fmt.Println(warnStyle.Render("not paired"), dimStyle.Render(cfg.AuthPath()))
			return nil
		}
		fmt.Println(okStyle.Render("ok"), fmt.Sprintf("%d bytes", len(blob)), dimStyle.Render(cfg.AuthPath()))
		return nil
	},
}

var authResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete stored credentials so the next start pairs again",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if _, err := readPID(); err == nil {
			return fmt.Errorf("daemon is running; stop it first")
		}
		if !authResetYes {
			fmt.Printf("Delete %s? [y/N]: ", cfg.AuthPath())
			var answer string
			fmt.Scanln(&answer)
			if answer != "y" && answer != "Y" {
				fmt.Println("Aborted.")
				return nil
			}
		}
		store := state.NewAuthStore(cfg.AuthPath())
		if err := store.Clear(context.Background()); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "Credentials removed.")
		return nil
	},
}
