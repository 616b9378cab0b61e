package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"wallstock/internal/config"
	"wallstock/internal/errutil"
	"wallstock/internal/lockfile"
	"wallstock/internal/state"
)

var helperCmd = &cobra.Command{
	Use:   "helper",
	Short: "Keep the stock caches topped up in the background",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.EnsureDirs(); err != nil {
			return err
		}

		// Only one helper at a time; a live sibling means nothing to do.
		pidPath := cfg.HelperPidPath()
		if pid := lockfile.ReadPidFile(pidPath); lockfile.PidAlive(pid) && pid != os.Getpid() {
			slog.Info("helper already running", "pid", pid)
			return nil
		}
		if err := lockfile.WritePidFile(pidPath, os.Getpid()); err != nil {
			return err
		}
		defer lockfile.RemovePidFile(pidPath, os.Getpid())

		store, err := state.Open(cfg.StatePath())
		if err != nil {
			return err
		}
		defer func() {
			errutil.LogMsg(store.Close(), "failed to close state store")
		}()

		ctrl := buildController(cfg, store)
		slog.Info("download helper running", "interval", cfg.HelperInterval)

		for {
			func() {
				ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RunTimeout)
				defer cancel()
				ctrl.TopUp(ctx)
			}()
			select {
			case <-cmd.Context().Done():
				return nil
			case <-time.After(cfg.HelperInterval):
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(helperCmd)
}
