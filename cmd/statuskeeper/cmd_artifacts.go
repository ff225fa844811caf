package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/statuskeeper/internal/state"
)

var historyLimit int

func init() {
	rootCmd.AddCommand(artifactsCmd)
	artifactsCmd.AddCommand(artifactsListCmd, artifactsCatCmd, artifactsHistoryCmd)
	artifactsHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of records to show (0 for all)")
}

var artifactsCmd = &cobra.Command{
	Use:     "artifacts",
	Aliases: []string{"a"},
	Short:   "Inspect archived statuses",
}

var artifactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored artifacts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store := state.NewArtifactStore(cfg.ArtifactPath(), nil)

		ctx := context.Background()
		names, err := store.List(ctx)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No artifacts found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tKIND\tSIZE\tSTORED")
		for _, name := range names {
			a, err := store.Stat(ctx, name)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", a.Name, a.Kind, a.Size, a.ModTime.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var artifactsCatCmd = &cobra.Command{
	Use:   "cat <name>",
	Short: "Write one artifact to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		data, err := state.NewArtifactStore(cfg.ArtifactPath(), nil).Read(context.Background(), args[0])
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var artifactsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently stored artifacts from the ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		records, err := state.NewLedger(cfg.LedgerPath()).Tail(context.Background(), historyLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("Ledger is empty.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AT\tSOURCE\tSENDER\tNAME\tSIZE\tDIGEST")
		for _, r := range records {
			digest := r.Digest
			if len(digest) > 12 {
				digest = digest[:12]
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				r.At.Local().Format("2006-01-02 15:04:05"), r.Source, r.Sender, r.Name, r.Size, digest)
		}
		return w.Flush()
	},
}
