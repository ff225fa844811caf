package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/statuskeeper/internal/config"
	"github.com/user/statuskeeper/internal/ops"
	"github.com/user/statuskeeper/internal/state"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and archive status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		fmt.Println(titleStyle.Render("statuskeeper " + version))

		pid, pidErr := readPID()
		if pidErr != nil {
			row("Daemon", dimStyle.Render("not running"))
		} else {
			row("Daemon", okStyle.Render(fmt.Sprintf("running (PID %d)", pid)))
		}

		if pidErr == nil && cfg.HTTP.Enabled {
			st, err := fetchStatus(ctx, cfg)
			if err == nil {
				printLive(st)
				return nil
			}
			row("Ops", warnStyle.Render(err.Error()))
		}
		return printOffline(ctx, cfg)
	},
}

func row(label, value string) {
	fmt.Println(labelStyle.Render(label) + value)
}

func fetchStatus(ctx context.Context, cfg *config.Config) (*ops.Status, error) {
	addr := cfg.HTTP.Listen
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ops server unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ops server returned %s", resp.Status)
	}
	var st ops.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}

func printLive(st *ops.Status) {
	session := stateStyle(string(st.State)).Render(string(st.State))
	if st.LastTransition.Reason != "" {
		session += dimStyle.Render(" (" + st.LastTransition.Reason + ")")
	}
	row("Session", session)
	row("Connects", fmt.Sprint(st.Connects))
	row("Artifacts", fmt.Sprintf("%d (ledger %d)", st.Artifacts, st.Ledger))
	row("Pending", fmt.Sprint(st.Pending))
	row("Live", fmt.Sprint(st.Stats.Live))
	row("History", fmt.Sprintf("%d in %d drains", st.Stats.History, st.Stats.Drains))
	row("Stored", okStyle.Render(fmt.Sprint(st.Stats.Stored))+dimStyle.Render(
		fmt.Sprintf("  dup %d  skip %d  ignored %d", st.Stats.Duplicates, st.Stats.Skipped, st.Stats.Ignored)))
	if st.Stats.Failed > 0 {
		row("Failed", errStyle.Render(fmt.Sprint(st.Stats.Failed)))
	}
	if n := len(st.Drains); n > 0 {
		d := st.Drains[n-1]
		row("Last drain", fmt.Sprintf("%d/%d stored in %s", d.Stored, d.Total, d.Elapsed.Truncate(time.Second)))
	}
	if !st.StartedAt.IsZero() {
		row("Uptime", time.Since(st.StartedAt).Truncate(time.Second).String())
	}
}

func printOffline(ctx context.Context, cfg *config.Config) error {
	store := state.NewArtifactStore(cfg.ArtifactPath(), nil)
	names, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("list artifacts: %w", err)
	}
	records, err := state.NewLedger(cfg.LedgerPath()).Count(ctx)
	if err != nil {
		return fmt.Errorf("count ledger: %w", err)
	}
	_, authErr := os.Stat(cfg.AuthPath())

	row("Artifacts", fmt.Sprintf("%d in %s", len(names), store.Dir()))
	row("Ledger", fmt.Sprint(records))
	if authErr == nil {
		row("Paired", okStyle.Render("yes"))
	} else {
		row("Paired", warnStyle.Render("no"))
	}
	return nil
}
