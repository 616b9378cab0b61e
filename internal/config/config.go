// Package config resolves the configuration surface of the wallpaper
// engine from the environment and an optional config file.
//
// Every knob has a default matching the documented behavior and values are
// clamped to their sane minimums at load time, so the rest of the program
// can trust the Config value without re-validating.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved, validated configuration passed down to the
// engine. It is a plain value object; nothing reads viper after Load.
type Config struct {
	// CollageMode selects the composition strategy:
	// 0 = single landscape, 1 = portrait collage, 2 = alternating.
	CollageMode int

	// StockTarget is the desired population of the active stock cache.
	StockTarget int

	// Mode2PortraitTarget and Mode2LandscapeTarget are the cache targets
	// for the alternating mode. Zero means "derive from StockTarget".
	Mode2PortraitTarget  int
	Mode2LandscapeTarget int

	// Collage geometry.
	TargetWidth  int
	TargetHeight int
	MinTileWidth int

	// Landscape search filter: candidates below either bound are skipped.
	MinWidth  int
	MinHeight int

	// MaxAPIPage bounds the random page picked for remote searches.
	MaxAPIPage int

	DownloadThreads int
	RunTimeout      time.Duration

	// SlideshowInterval keeps the run command looping when positive.
	SlideshowInterval time.Duration

	// HelperInterval is the poll cadence of the background replenisher.
	HelperInterval time.Duration
	HelperDisabled bool

	ShowProgress bool

	// Rating flags; RatingsOverride (the RATINGS env/key) beats them.
	Safe            bool
	Questionable    bool
	Explicit        bool
	RatingsOverride string

	CacheDir string
	StateDir string
}

// Defaults mirrored from the reference deployment.
const (
	defaultStockTarget  = 30
	defaultTargetWidth  = 1920
	defaultTargetHeight = 1080
	defaultMinTileWidth = 500
	defaultMinWidth     = 1600
	defaultMinHeight    = 900
	defaultMaxAPIPage   = 300
	defaultThreads      = 8
	defaultRunTimeout   = 300 * time.Second
	defaultHelperPoll   = 30 * time.Second
)

// Load resolves configuration from the WALLSTOCK_* environment and, if
// present, a wallstock.{yaml,toml,json} file in the user config directory.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WALLSTOCK")
	v.AutomaticEnv()

	v.SetDefault("collage_mode", 1)
	v.SetDefault("stock_target", defaultStockTarget)
	v.SetDefault("mode2_portrait_target", 0)
	v.SetDefault("mode2_landscape_target", 0)
	v.SetDefault("target_width", defaultTargetWidth)
	v.SetDefault("target_height", defaultTargetHeight)
	v.SetDefault("min_tile_width", defaultMinTileWidth)
	v.SetDefault("min_width", defaultMinWidth)
	v.SetDefault("min_height", defaultMinHeight)
	v.SetDefault("max_api_page", defaultMaxAPIPage)
	v.SetDefault("download_threads", defaultThreads)
	v.SetDefault("run_timeout", int(defaultRunTimeout/time.Second))
	v.SetDefault("slideshow_minutes", 0)
	v.SetDefault("helper_interval", int(defaultHelperPoll/time.Second))
	v.SetDefault("helper_disabled", false)
	v.SetDefault("show_progress", true)
	v.SetDefault("safe", false)
	v.SetDefault("questionable", false)
	v.SetDefault("explicit", false)
	v.SetDefault("ratings", "")
	v.SetDefault("cache_dir", "")
	v.SetDefault("state_dir", "")

	v.SetConfigName("wallstock")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "wallstock"))
	}
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; a malformed one is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		CollageMode:          v.GetInt("collage_mode"),
		StockTarget:          v.GetInt("stock_target"),
		Mode2PortraitTarget:  v.GetInt("mode2_portrait_target"),
		Mode2LandscapeTarget: v.GetInt("mode2_landscape_target"),
		TargetWidth:          v.GetInt("target_width"),
		TargetHeight:         v.GetInt("target_height"),
		MinTileWidth:         v.GetInt("min_tile_width"),
		MinWidth:             v.GetInt("min_width"),
		MinHeight:            v.GetInt("min_height"),
		MaxAPIPage:           v.GetInt("max_api_page"),
		DownloadThreads:      v.GetInt("download_threads"),
		RunTimeout:           time.Duration(v.GetInt("run_timeout")) * time.Second,
		SlideshowInterval:    time.Duration(v.GetInt("slideshow_minutes")) * time.Minute,
		HelperInterval:       time.Duration(v.GetInt("helper_interval")) * time.Second,
		HelperDisabled:       v.GetBool("helper_disabled"),
		ShowProgress:         v.GetBool("show_progress"),
		Safe:                 v.GetBool("safe"),
		Questionable:         v.GetBool("questionable"),
		Explicit:             v.GetBool("explicit"),
		RatingsOverride:      v.GetString("ratings"),
		CacheDir:             v.GetString("cache_dir"),
		StateDir:             v.GetString("state_dir"),
	}

	if err := cfg.fillDirs(); err != nil {
		return Config{}, err
	}
	cfg.clamp()
	return cfg, nil
}

func (c *Config) fillDirs() error {
	if c.CacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return fmt.Errorf("resolve cache dir: %w", err)
		}
		c.CacheDir = filepath.Join(base, "wallstock")
	}
	if c.StateDir == "" {
		if base := os.Getenv("XDG_STATE_HOME"); base != "" {
			c.StateDir = filepath.Join(base, "wallstock")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("resolve state dir: %w", err)
			}
			c.StateDir = filepath.Join(home, ".local", "state", "wallstock")
		}
	}
	return nil
}

func (c *Config) clamp() {
	if c.CollageMode < 0 || c.CollageMode > 2 {
		c.CollageMode = 1
	}
	if c.StockTarget < 3 {
		c.StockTarget = 3
	}
	if c.Mode2PortraitTarget < 1 {
		c.Mode2PortraitTarget = c.StockTarget
	}
	if c.Mode2LandscapeTarget < 1 {
		c.Mode2LandscapeTarget = c.Mode2PortraitTarget / 3
		if c.Mode2LandscapeTarget < 1 {
			c.Mode2LandscapeTarget = 1
		}
	}
	if c.MinTileWidth < 1 {
		c.MinTileWidth = defaultMinTileWidth
	}
	if c.TargetWidth < 1 {
		c.TargetWidth = defaultTargetWidth
	}
	if c.TargetHeight < 1 {
		c.TargetHeight = defaultTargetHeight
	}
	if c.MaxAPIPage < 1 {
		c.MaxAPIPage = 1
	}
	if c.DownloadThreads < 2 {
		c.DownloadThreads = 2
	}
	if c.RunTimeout < 10*time.Second {
		c.RunTimeout = 10 * time.Second
	}
	if c.HelperInterval < 5*time.Second {
		c.HelperInterval = 5 * time.Second
	}
	if c.SlideshowInterval < 0 {
		c.SlideshowInterval = 0
	}
}

// Paths derived from the cache and state roots.

func (c Config) PortraitDir() string  { return filepath.Join(c.CacheDir, "stock") }
func (c Config) LandscapeDir() string { return filepath.Join(c.CacheDir, "stock-landscape") }
func (c Config) ArchiveDir() string   { return filepath.Join(c.CacheDir, "used-walls") }
func (c Config) LockPath() string     { return filepath.Join(c.StateDir, "run.lock") }
func (c Config) HelperPidPath() string {
	return filepath.Join(c.StateDir, "helper.pid")
}
func (c Config) StatePath() string { return filepath.Join(c.StateDir, "state.db") }

// EnsureDirs creates every directory the engine writes into.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{c.CacheDir, c.StateDir, c.PortraitDir(), c.LandscapeDir(), c.ArchiveDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
