package config

import (
	"path/filepath"
	"testing"
	"time"
)

func loadWithEnv(t *testing.T, env map[string]string) Config {
	t.Helper()
	t.Setenv("WALLSTOCK_CACHE_DIR", filepath.Join(t.TempDir(), "cache"))
	t.Setenv("WALLSTOCK_STATE_DIR", filepath.Join(t.TempDir(), "state"))
	for k, v := range env {
		t.Setenv(k, v)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := loadWithEnv(t, nil)

	if cfg.CollageMode != 1 {
		t.Errorf("CollageMode = %d, want 1", cfg.CollageMode)
	}
	if cfg.StockTarget != 30 {
		t.Errorf("StockTarget = %d, want 30", cfg.StockTarget)
	}
	if cfg.Mode2PortraitTarget != 30 {
		t.Errorf("Mode2PortraitTarget = %d, want 30", cfg.Mode2PortraitTarget)
	}
	if cfg.Mode2LandscapeTarget != 10 {
		t.Errorf("Mode2LandscapeTarget = %d, want 10", cfg.Mode2LandscapeTarget)
	}
	if cfg.TargetWidth != 1920 || cfg.TargetHeight != 1080 {
		t.Errorf("target size = %dx%d, want 1920x1080", cfg.TargetWidth, cfg.TargetHeight)
	}
	if cfg.RunTimeout != 300*time.Second {
		t.Errorf("RunTimeout = %v, want 300s", cfg.RunTimeout)
	}
	if !cfg.ShowProgress {
		t.Error("ShowProgress should default to true")
	}
}

func TestLoadClamps(t *testing.T) {
	cfg := loadWithEnv(t, map[string]string{
		"WALLSTOCK_STOCK_TARGET":     "1",
		"WALLSTOCK_DOWNLOAD_THREADS": "0",
		"WALLSTOCK_RUN_TIMEOUT":      "2",
		"WALLSTOCK_COLLAGE_MODE":     "7",
	})

	if cfg.StockTarget != 3 {
		t.Errorf("StockTarget = %d, want clamped 3", cfg.StockTarget)
	}
	if cfg.DownloadThreads != 2 {
		t.Errorf("DownloadThreads = %d, want clamped 2", cfg.DownloadThreads)
	}
	if cfg.RunTimeout != 10*time.Second {
		t.Errorf("RunTimeout = %v, want clamped 10s", cfg.RunTimeout)
	}
	if cfg.CollageMode != 1 {
		t.Errorf("CollageMode = %d, want fallback 1", cfg.CollageMode)
	}
}

func TestMode2TargetDerivation(t *testing.T) {
	t.Run("landscape derives from portrait", func(t *testing.T) {
		cfg := loadWithEnv(t, map[string]string{"WALLSTOCK_STOCK_TARGET": "30"})
		if cfg.Mode2LandscapeTarget != 10 {
			t.Errorf("Mode2LandscapeTarget = %d, want 10", cfg.Mode2LandscapeTarget)
		}
	})

	t.Run("explicit overrides win", func(t *testing.T) {
		cfg := loadWithEnv(t, map[string]string{
			"WALLSTOCK_MODE2_PORTRAIT_TARGET":  "12",
			"WALLSTOCK_MODE2_LANDSCAPE_TARGET": "5",
		})
		if cfg.Mode2PortraitTarget != 12 || cfg.Mode2LandscapeTarget != 5 {
			t.Errorf("mode2 targets = %d/%d, want 12/5",
				cfg.Mode2PortraitTarget, cfg.Mode2LandscapeTarget)
		}
	})

	t.Run("small portrait target still yields one landscape", func(t *testing.T) {
		cfg := loadWithEnv(t, map[string]string{"WALLSTOCK_MODE2_PORTRAIT_TARGET": "2"})
		if cfg.Mode2LandscapeTarget != 1 {
			t.Errorf("Mode2LandscapeTarget = %d, want 1", cfg.Mode2LandscapeTarget)
		}
	})
}

func TestDerivedPaths(t *testing.T) {
	cfg := loadWithEnv(t, nil)

	if filepath.Dir(cfg.PortraitDir()) != cfg.CacheDir {
		t.Errorf("PortraitDir %s not under CacheDir %s", cfg.PortraitDir(), cfg.CacheDir)
	}
	if filepath.Base(cfg.PortraitDir()) != "stock" {
		t.Errorf("PortraitDir base = %s, want stock", filepath.Base(cfg.PortraitDir()))
	}
	if filepath.Base(cfg.LandscapeDir()) != "stock-landscape" {
		t.Errorf("LandscapeDir base = %s, want stock-landscape", filepath.Base(cfg.LandscapeDir()))
	}
	if filepath.Base(cfg.ArchiveDir()) != "used-walls" {
		t.Errorf("ArchiveDir base = %s, want used-walls", filepath.Base(cfg.ArchiveDir()))
	}
	if filepath.Dir(cfg.LockPath()) != cfg.StateDir {
		t.Errorf("LockPath %s not under StateDir %s", cfg.LockPath(), cfg.StateDir)
	}
}
