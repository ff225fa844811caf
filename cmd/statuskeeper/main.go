package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/statuskeeper/internal/config"
	"github.com/user/statuskeeper/internal/logging"
)

var version = "dev"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "statuskeeper",
	Short:         "Archive broadcast status updates from a linked chat account",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(os.Stdout, "statuskeeper", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultPath(), "config file path (.json or .yaml)")
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads the config file or exits.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("Error:"), err)
		os.Exit(1)
	}
}
