package main

import (
	"testing"

	"wallstock/internal/config"
)

func TestStockTargetsFollowMode(t *testing.T) {
	cfg := config.Config{
		StockTarget:          30,
		Mode2PortraitTarget:  12,
		Mode2LandscapeTarget: 5,
	}

	for _, mode := range []int{0, 1} {
		cfg.CollageMode = mode
		portrait, landscape := stockTargets(cfg)
		if portrait != 30 || landscape != 30 {
			t.Errorf("mode %d targets = %d/%d, want 30/30", mode, portrait, landscape)
		}
	}

	cfg.CollageMode = 2
	portrait, landscape := stockTargets(cfg)
	if portrait != 12 || landscape != 5 {
		t.Errorf("mode 2 targets = %d/%d, want 12/5", portrait, landscape)
	}
}
