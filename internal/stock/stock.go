// Package stock maintains a directory-backed pool of downloaded images of
// a single orientation, driven toward a target population.
//
// Refill is idempotent and target-driven; Consume is destructive and
// transfers ownership of the selected images to the caller. Keeping the
// two decoupled lets each composition mode pick its own cadence without
// duplicating replenishment logic.
package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"wallstock/internal/booru"
	"wallstock/internal/download"
)

// ErrInsufficientStock is returned by Consume when the cache holds fewer
// images than requested, even after the caller's best-effort refill.
var ErrInsufficientStock = errors.New("insufficient stock")

// validExtensions are the image types accepted as cache members. A ".part"
// artifact never matches, so in-flight downloads are invisible here.
var validExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// takenDir is the staging subdirectory consumed images are moved into.
// Staged files are no longer cache members but survive on disk until the
// caller either discards them (wallpaper applied) or restores them.
const takenDir = "taken"

// Cache is one orientation's stock directory.
type Cache struct {
	Dir         string
	Orientation booru.Orientation
}

// New returns a cache over dir. The directory is created lazily on first
// refill; List and Count treat a missing directory as empty.
func New(dir string, orient booru.Orientation) *Cache {
	return &Cache{Dir: dir, Orientation: orient}
}

// List returns the paths of all committed cache members.
func (c *Cache) List() ([]string, error) {
	entries, err := os.ReadDir(c.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan stock dir: %w", err)
	}
	var images []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if validExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			images = append(images, filepath.Join(c.Dir, entry.Name()))
		}
	}
	return images, nil
}

// Count returns the current cache population.
func (c *Cache) Count() int {
	images, err := c.List()
	if err != nil {
		slog.Warn("failed to count stock", "dir", c.Dir, "error", err)
		return 0
	}
	return len(images)
}

// Refill tops the cache up toward target: it computes the deficit,
// searches src for that many candidates, and downloads them. Partial
// success is tolerated; the cache simply stays below target and is
// retried on the next invocation. Returns the number of images added.
func (c *Cache) Refill(ctx context.Context, target int, ratings []string, src booru.Source, f *download.Fetcher) (int, error) {
	deficit := target - c.Count()
	if deficit <= 0 {
		return 0, nil
	}
	slog.Info("refilling stock",
		"orientation", c.Orientation, "have", target-deficit, "target", target)

	refs, err := src.Search(ctx, ratings, c.Orientation, deficit)
	if err != nil && len(refs) == 0 {
		return 0, fmt.Errorf("search %s images: %w", c.Orientation, err)
	}
	added := f.FetchAll(ctx, refs, c.Dir)
	if added < deficit {
		slog.Warn("refill fell short",
			"orientation", c.Orientation, "added", added, "wanted", deficit)
	}
	return added, nil
}

// Consume removes n pseudo-randomly chosen images from the cache and
// returns their new paths. The images are moved into a staging directory
// rather than deleted, so a failed wallpaper application can put them
// back with Restore. Fails with ErrInsufficientStock when the cache holds
// fewer than n members; the cache is left untouched in that case.
func (c *Cache) Consume(n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	images, err := c.List()
	if err != nil {
		return nil, err
	}
	if len(images) < n {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientStock, n, len(images))
	}

	staging := filepath.Join(c.Dir, takenDir)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	rand.Shuffle(len(images), func(i, j int) { images[i], images[j] = images[j], images[i] })

	taken := make([]string, 0, n)
	for _, img := range images[:n] {
		dest := filepath.Join(staging, filepath.Base(img))
		if err := os.Rename(img, dest); err != nil {
			c.Restore(taken)
			return nil, fmt.Errorf("stage %s: %w", img, err)
		}
		taken = append(taken, dest)
	}
	return taken, nil
}

// Restore moves staged images back into the cache, making them eligible
// for a future Consume. Used when the wallpaper setter failed.
func (c *Cache) Restore(staged []string) {
	for _, p := range staged {
		dest := filepath.Join(c.Dir, filepath.Base(p))
		if err := os.Rename(p, dest); err != nil {
			slog.Warn("failed to restore staged image", "path", p, "error", err)
		}
	}
}

// RecoverStaged moves every image left in the staging directory back into
// the cache and returns how many were recovered. A run that dies between
// Consume and Restore/Discard leaves its images staged; running this at
// startup puts them back in circulation instead of stranding them.
func (c *Cache) RecoverStaged() int {
	staging := filepath.Join(c.Dir, takenDir)
	entries, err := os.ReadDir(staging)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		slog.Warn("failed to scan staging dir", "dir", staging, "error", err)
		return 0
	}
	recovered := 0
	for _, entry := range entries {
		if entry.IsDir() || !validExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		src := filepath.Join(staging, entry.Name())
		if err := os.Rename(src, filepath.Join(c.Dir, entry.Name())); err != nil {
			slog.Warn("failed to recover staged image", "path", src, "error", err)
			continue
		}
		recovered++
	}
	return recovered
}

// Discard deletes staged images for good. Called only after the wallpaper
// setter reported success.
func (c *Cache) Discard(staged []string) {
	for _, p := range staged {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to delete consumed image", "path", p, "error", err)
		}
	}
}

// Evict deletes a single committed or staged member, used to drop a
// malformed image so it is not retried indefinitely.
func (c *Cache) Evict(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to evict image", "path", path, "error", err)
	}
}

// Clear deletes every committed cache member and returns how many were
// removed. Used by the rating-invalidation rule.
func (c *Cache) Clear() (int, error) {
	images, err := c.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, img := range images {
		if err := os.Remove(img); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to delete stock image", "path", img, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
