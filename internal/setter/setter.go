// Package setter applies a wallpaper image through whichever desktop
// mechanism is present. Candidates are tried in a fixed order until one
// is available and succeeds; they are thin wrappers over the desktop
// environments' own command line tools.
package setter

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// ErrNoSetterAvailable is returned when no candidate could apply the
// wallpaper. Nothing destructive may happen after this error.
var ErrNoSetterAvailable = errors.New("no wallpaper setter available")

// Setter is one desktop-environment wallpaper mechanism.
type Setter interface {
	Name() string
	Available() bool
	Set(path string) error
}

// Exec abstracts command execution so tests never run real desktop tools.
type Exec struct {
	Run      func(name string, args ...string) error
	LookPath func(file string) (string, error)
	Getenv   func(key string) string
}

// SystemExec returns an Exec backed by the real system.
func SystemExec() *Exec {
	return &Exec{
		Run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
		LookPath: exec.LookPath,
		Getenv:   os.Getenv,
	}
}

func (e *Exec) has(tool string) bool {
	_, err := e.LookPath(tool)
	return err == nil
}

// Chain tries setters in order.
type Chain struct {
	Setters []Setter
}

// DefaultChain returns the candidate list in preference order.
func DefaultChain(ex *Exec) *Chain {
	return &Chain{Setters: []Setter{
		&gsettings{ex},
		&sway{ex},
		&feh{ex},
		&xfconf{ex},
		&nitrogen{ex},
	}}
}

// Apply sets the wallpaper via the first available candidate that
// succeeds. Returns ErrNoSetterAvailable when all candidates are missing
// or failed.
func (c *Chain) Apply(path string) error {
	for _, s := range c.Setters {
		if !s.Available() {
			continue
		}
		if err := s.Set(path); err != nil {
			slog.Warn("wallpaper setter failed", "setter", s.Name(), "error", err)
			continue
		}
		slog.Info("wallpaper set", "setter", s.Name(), "path", path)
		return nil
	}
	return fmt.Errorf("%w for %s", ErrNoSetterAvailable, path)
}

// gsettings targets GNOME.
type gsettings struct{ ex *Exec }

func (s *gsettings) Name() string    { return "gsettings" }
func (s *gsettings) Available() bool { return s.ex.has("gsettings") }

func (s *gsettings) Set(path string) error {
	uri := "file://" + path
	if err := s.ex.Run("gsettings", "set", "org.gnome.desktop.background", "picture-uri", uri); err != nil {
		return err
	}
	// Dark variant and scaling mode are best-effort.
	if err := s.ex.Run("gsettings", "set", "org.gnome.desktop.background", "picture-uri-dark", uri); err != nil {
		slog.Warn("failed to set dark wallpaper variant", "error", err)
	}
	if err := s.ex.Run("gsettings", "set", "org.gnome.desktop.background", "picture-options", "zoom"); err != nil {
		slog.Warn("failed to set wallpaper scaling", "error", err)
	}
	return nil
}

// sway targets sway via swaymsg; only usable inside a sway session.
type sway struct{ ex *Exec }

func (s *sway) Name() string { return "swaymsg" }
func (s *sway) Available() bool {
	return s.ex.has("swaymsg") && s.ex.Getenv("SWAYSOCK") != ""
}

func (s *sway) Set(path string) error {
	return s.ex.Run("swaymsg", "output", "*", "bg", path, "fill")
}

type feh struct{ ex *Exec }

func (s *feh) Name() string    { return "feh" }
func (s *feh) Available() bool { return s.ex.has("feh") }

func (s *feh) Set(path string) error {
	return s.ex.Run("feh", "--bg-fill", path)
}

// xfconf targets XFCE.
type xfconf struct{ ex *Exec }

func (s *xfconf) Name() string    { return "xfconf-query" }
func (s *xfconf) Available() bool { return s.ex.has("xfconf-query") }

func (s *xfconf) Set(path string) error {
	if err := s.ex.Run("xfconf-query", "-c", "xfce4-desktop",
		"-p", "/backdrop/screen0/monitor0/image-path", "-s", path); err != nil {
		return err
	}
	if err := s.ex.Run("xfconf-query", "-c", "xfce4-desktop",
		"-p", "/backdrop/screen0/monitor0/workspace0/last-image", "-s", path); err != nil {
		slog.Warn("failed to set xfce workspace image", "error", err)
	}
	return nil
}

type nitrogen struct{ ex *Exec }

func (s *nitrogen) Name() string    { return "nitrogen" }
func (s *nitrogen) Available() bool { return s.ex.has("nitrogen") }

func (s *nitrogen) Set(path string) error {
	return s.ex.Run("nitrogen", "--set-zoom-fill", path, "--save")
}
