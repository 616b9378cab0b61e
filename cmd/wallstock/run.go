package main

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wallstock/internal/booru"
	"wallstock/internal/config"
	"wallstock/internal/controller"
	"wallstock/internal/download"
	"wallstock/internal/errutil"
	"wallstock/internal/lockfile"
	"wallstock/internal/setter"
	"wallstock/internal/state"
	"wallstock/internal/stock"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Rotate the wallpaper once, or loop as a slideshow",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.EnsureDirs(); err != nil {
			return err
		}

		store, err := state.Open(cfg.StatePath())
		if err != nil {
			return err
		}
		defer func() {
			errutil.LogMsg(store.Close(), "failed to close state store")
		}()

		// Acquiring the lock preempts any running instance; the leftover
		// partials of the old owner are swept before we take over.
		lock, err := lockfile.Acquire(cfg.LockPath(), func() {
			download.SweepPartials(cfg.PortraitDir(), cfg.LandscapeDir(), cfg.CacheDir)
		})
		if err != nil {
			return err
		}
		defer lock.Release()

		ensureHelper(cfg)
		ctrl := buildController(cfg, store)

		runOnce := func() error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RunTimeout)
			defer cancel()
			return ctrl.Run(ctx)
		}

		if cfg.SlideshowInterval <= 0 {
			return runOnce()
		}

		// Slideshow: hold the lock and rotate on a fixed cadence until
		// interrupted or preempted.
		slog.Info("slideshow started", "interval", cfg.SlideshowInterval)
		for {
			errutil.ReportError(runOnce(), "rotation failed")
			select {
			case <-cmd.Context().Done():
				return nil
			case <-time.After(cfg.SlideshowInterval):
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func buildController(cfg config.Config, store *state.Store) *controller.Controller {
	return &controller.Controller{
		Cfg:       cfg,
		Store:     store,
		Portrait:  stock.New(cfg.PortraitDir(), booru.Portrait),
		Landscape: stock.New(cfg.LandscapeDir(), booru.Landscape),
		Fetcher:   download.NewFetcher(nil, cfg.DownloadThreads, cfg.ShowProgress),
		Source:    booru.DefaultPool(cfg.MinWidth, cfg.MinHeight, cfg.MaxAPIPage),
		Setter:    setter.DefaultChain(setter.SystemExec()),
	}
}

// ensureHelper spawns the background replenisher as a detached process if
// it is not already running.
func ensureHelper(cfg config.Config) {
	if cfg.HelperDisabled {
		return
	}
	if lockfile.PidAlive(lockfile.ReadPidFile(cfg.HelperPidPath())) {
		return
	}
	exe, err := os.Executable()
	if err != nil {
		slog.Warn("cannot locate own binary for helper spawn", "error", err)
		return
	}
	cmd := exec.Command(exe, "helper")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		slog.Warn("failed to start download helper", "error", err)
		return
	}
	errutil.LogMsg(cmd.Process.Release(), "failed to release helper process handle")
	slog.Info("started download helper", "pid", cmd.Process.Pid)
}
