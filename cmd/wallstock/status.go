package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"wallstock/internal/booru"
	"wallstock/internal/config"
	"wallstock/internal/errutil"
	"wallstock/internal/state"
	"wallstock/internal/stock"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stock levels and rotation state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.EnsureDirs(); err != nil {
			return err
		}

		portrait := stock.New(cfg.PortraitDir(), booru.Portrait)
		landscape := stock.New(cfg.LandscapeDir(), booru.Landscape)

		portraitTarget, landscapeTarget := stockTargets(cfg)
		fmt.Printf("mode:            %d\n", cfg.CollageMode)
		fmt.Printf("portrait stock:  %d / %d\n", portrait.Count(), portraitTarget)
		fmt.Printf("landscape stock: %d / %d\n", landscape.Count(), landscapeTarget)

		store, err := state.Open(cfg.StatePath())
		if err != nil {
			return err
		}
		defer func() {
			errutil.LogMsg(store.Close(), "failed to close state store")
		}()

		sel, ok, err := store.Selection(cmd.Context())
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("last ratings:    %s\n", strings.Join(sel, ","))
		} else {
			fmt.Println("last ratings:    (none)")
		}

		rot, err := store.Rotation(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("next action:     %s (collages=%d landscapes=%d)\n",
			rot.NextAction, rot.CollageCount, rot.LandscapeCount)
		return nil
	},
}

// stockTargets picks the cache targets the active mode drives toward,
// mirroring the replenishment dispatch.
func stockTargets(cfg config.Config) (portrait, landscape int) {
	if cfg.CollageMode == 2 {
		return cfg.Mode2PortraitTarget, cfg.Mode2LandscapeTarget
	}
	return cfg.StockTarget, cfg.StockTarget
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
