package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/statuskeeper/internal/app"
	"github.com/user/statuskeeper/internal/config"
	"github.com/user/statuskeeper/internal/session"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the harvester daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(cfg *config.Config) (string, error) {
	pidPath := cfg.PIDPath()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	pidPath, err := writePIDFile(cfg)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case err := <-done:
			if errors.Is(err, session.ErrLoggedOut) {
				return fmt.Errorf("%w: run `statuskeeper auth reset` and pair again", err)
			}
			return err
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				execPath, err := os.Executable()
				if err != nil {
					slog.Error("failed to get executable path", "error", err)
					continue
				}
				// Release the session before handing the process over.
				cancel()
				<-done
				os.Remove(pidPath)
				if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
					return fmt.Errorf("re-exec: %w", err)
				}
			}
			slog.Info("shutting down", "signal", sig)
			cancel()
			return <-done
		}
	}
}
