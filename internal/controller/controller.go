// Package controller orchestrates one wallpaper rotation: ratings are
// resolved and may invalidate stock, caches are topped up, the active
// mode's composition policy runs, and the result is applied and archived.
//
// Every destructive step (deleting consumed sources, advancing the
// alternation state) is gated on the wallpaper setter reporting success,
// so a failed run can be retried without losing stock or skipping a
// rotation branch.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"wallstock/internal/booru"
	"wallstock/internal/compose"
	"wallstock/internal/config"
	"wallstock/internal/download"
	"wallstock/internal/rating"
	"wallstock/internal/state"
	"wallstock/internal/stock"
)

// ErrNoStockAvailable is returned when the required cache cannot supply
// enough images even after a best-effort refill. The run aborts before
// any wallpaper-setter call and without mutating persisted state.
var ErrNoStockAvailable = errors.New("no stock available")

// Applier applies a wallpaper image; setter.Chain is the production
// implementation.
type Applier interface {
	Apply(path string) error
}

// Controller wires the engine's components for one invocation.
type Controller struct {
	Cfg       config.Config
	Store     *state.Store
	Portrait  *stock.Cache
	Landscape *stock.Cache
	Fetcher   *download.Fetcher
	Source    booru.Source
	Setter    Applier
}

// Run performs one full rotation for the configured mode.
func (c *Controller) Run(ctx context.Context) error {
	download.SweepPartials(c.Portrait.Dir, c.Landscape.Dir, c.Cfg.CacheDir)
	recoverStaged(c.Portrait, c.Landscape)

	sel := rating.Resolve(c.Cfg)
	invalidated, err := rating.CheckAndInvalidate(ctx, sel, c.Store, c.Portrait)
	if err != nil {
		return fmt.Errorf("rating invalidation: %w", err)
	}
	slog.Info("starting rotation",
		"mode", c.Cfg.CollageMode, "ratings", sel.String(), "invalidated", invalidated)

	switch c.Cfg.CollageMode {
	case 0:
		return c.runLandscape(ctx, sel)
	case 2:
		return c.runAlternating(ctx, sel)
	default:
		return c.runCollage(ctx, sel)
	}
}

// runLandscape is mode 0: a single landscape image is the wallpaper.
func (c *Controller) runLandscape(ctx context.Context, sel rating.Selection) error {
	c.refill(ctx, c.Landscape, c.Cfg.StockTarget, sel)

	staged, err := c.Landscape.Consume(1)
	if err != nil {
		return noStock(err)
	}
	archived, err := c.archiveCopy(ctx, staged[0])
	if err != nil {
		c.Landscape.Restore(staged)
		return err
	}
	if err := c.Setter.Apply(archived); err != nil {
		removeQuiet(archived)
		c.Landscape.Restore(staged)
		return err
	}
	c.Landscape.Discard(staged)
	return c.commitArchive(ctx)
}

// runCollage is mode 1: a k-tile collage from the portrait stock, with k
// derived from the target width and the minimum tile width.
func (c *Controller) runCollage(ctx context.Context, sel rating.Selection) error {
	c.refill(ctx, c.Portrait, c.Cfg.StockTarget, sel)

	k := c.Cfg.TargetWidth / c.Cfg.MinTileWidth
	if k < 2 {
		k = 2
	}
	return c.buildCollage(ctx, k, nil)
}

// runAlternating is mode 2: strict alternation between a fixed 3-tile
// collage and a single landscape, with both caches kept near their
// targets and the rotation state advanced only on success.
func (c *Controller) runAlternating(ctx context.Context, sel rating.Selection) error {
	c.refill(ctx, c.Portrait, c.Cfg.Mode2PortraitTarget, sel)
	c.refill(ctx, c.Landscape, c.Cfg.Mode2LandscapeTarget, sel)

	rot, err := c.Store.Rotation(ctx)
	if err != nil {
		return err
	}
	slog.Info("alternating mode", "next", rot.NextAction,
		"collages", rot.CollageCount, "landscapes", rot.LandscapeCount)

	if rot.NextAction == state.ActionCollage {
		return c.buildCollage(ctx, 3, func() error {
			return c.Store.RecordRotation(ctx, state.ActionCollage)
		})
	}

	staged, err := c.Landscape.Consume(1)
	if err != nil {
		return noStock(err)
	}
	archived, err := c.archiveCopy(ctx, staged[0])
	if err != nil {
		c.Landscape.Restore(staged)
		return err
	}
	if err := c.Setter.Apply(archived); err != nil {
		removeQuiet(archived)
		c.Landscape.Restore(staged)
		return err
	}
	c.Landscape.Discard(staged)
	if err := c.commitArchive(ctx); err != nil {
		return err
	}
	return c.Store.RecordRotation(ctx, state.ActionLandscape)
}

// buildCollage consumes k portraits, composes them into the next archive
// slot, and applies the result. onSuccess (may be nil) runs after the
// setter succeeded and the sources were deleted.
func (c *Controller) buildCollage(ctx context.Context, k int, onSuccess func() error) error {
	staged, err := c.Portrait.Consume(k)
	if err != nil {
		return noStock(err)
	}

	seq, err := c.Store.ArchiveSeq(ctx)
	if err != nil {
		c.Portrait.Restore(staged)
		return err
	}
	target := filepath.Join(c.Cfg.ArchiveDir(), fmt.Sprintf("wallpaper-%d.jpg", seq+1))

	if err := compose.Collage(staged, c.Cfg.TargetWidth, c.Cfg.TargetHeight, target); err != nil {
		var srcErr *compose.SourceError
		if errors.As(err, &srcErr) {
			// Undecodable member: evict it so it is not retried forever.
			c.Portrait.Evict(srcErr.Path)
			staged = without(staged, srcErr.Path)
		}
		c.Portrait.Restore(staged)
		return fmt.Errorf("composition failed: %w", err)
	}

	if err := c.Setter.Apply(target); err != nil {
		removeQuiet(target)
		c.Portrait.Restore(staged)
		return err
	}
	c.Portrait.Discard(staged)
	if err := c.commitArchive(ctx); err != nil {
		return err
	}
	if onSuccess != nil {
		return onSuccess()
	}
	return nil
}

// TopUp replenishes the caches the active mode draws from. Used by the
// background helper between rotations.
func (c *Controller) TopUp(ctx context.Context) {
	sel := rating.Resolve(c.Cfg)
	switch c.Cfg.CollageMode {
	case 0:
		c.refill(ctx, c.Landscape, c.Cfg.StockTarget, sel)
	case 2:
		c.refill(ctx, c.Portrait, c.Cfg.Mode2PortraitTarget, sel)
		c.refill(ctx, c.Landscape, c.Cfg.Mode2LandscapeTarget, sel)
	default:
		c.refill(ctx, c.Portrait, c.Cfg.StockTarget, sel)
	}
}

// refill is best-effort: a failed or partial refill degrades stock but
// never aborts the run; consumption decides whether enough is left.
func (c *Controller) refill(ctx context.Context, cache *stock.Cache, target int, sel rating.Selection) {
	if _, err := cache.Refill(ctx, target, sel, c.Source, c.Fetcher); err != nil {
		slog.Warn("refill failed", "orientation", cache.Orientation, "error", err)
	}
}

// archiveCopy copies src into the next numbered used-walls slot and
// returns the archived path. The source stays staged so a setter failure
// can still restore it; the counter itself is only committed after the
// setter succeeded, so a failed run does not burn a sequence number.
func (c *Controller) archiveCopy(ctx context.Context, src string) (string, error) {
	seq, err := c.Store.ArchiveSeq(ctx)
	if err != nil {
		return "", err
	}
	ext := filepath.Ext(src)
	if ext == "" {
		ext = ".jpg"
	}
	dest := filepath.Join(c.Cfg.ArchiveDir(), fmt.Sprintf("wallpaper-%d%s", seq+1, ext))
	if err := copyFile(src, dest); err != nil {
		return "", fmt.Errorf("archive wallpaper: %w", err)
	}
	return dest, nil
}

// commitArchive advances the archive counter. Called only after the
// setter reported success, so the number a failed run composed under
// stays unclaimed and is reused by the retry.
func (c *Controller) commitArchive(ctx context.Context) error {
	if _, err := c.Store.NextArchiveSeq(ctx); err != nil {
		return fmt.Errorf("commit archive counter: %w", err)
	}
	return nil
}

// recoverStaged returns images stranded in staging by a run that died
// between consuming them and deciding their fate.
func recoverStaged(caches ...*stock.Cache) {
	for _, cache := range caches {
		if n := cache.RecoverStaged(); n > 0 {
			slog.Info("recovered staged images", "orientation", cache.Orientation, "count", n)
		}
	}
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	return out.Close()
}

func noStock(err error) error {
	if errors.Is(err, stock.ErrInsufficientStock) {
		return fmt.Errorf("%w: %v", ErrNoStockAvailable, err)
	}
	return err
}

func without(paths []string, drop string) []string {
	out := paths[:0]
	for _, p := range paths {
		if p != drop {
			out = append(out, p)
		}
	}
	return out
}

func removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove file", "path", path, "error", err)
	}
}
