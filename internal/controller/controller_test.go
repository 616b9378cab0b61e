package controller

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"wallstock/internal/booru"
	"wallstock/internal/config"
	"wallstock/internal/download"
	"wallstock/internal/state"
	"wallstock/internal/stock"
)

// emptySource never has anything to offer, so refills are no-ops and the
// tests fully control the cache populations.
type emptySource struct{}

func (emptySource) Search(context.Context, []string, booru.Orientation, int) ([]booru.ImageRef, error) {
	return nil, nil
}

type fakeApplier struct {
	calls []string
	fail  bool
}

func (f *fakeApplier) Apply(path string) error {
	f.calls = append(f.calls, path)
	if f.fail {
		return errors.New("setter exploded")
	}
	return nil
}

func seedImages(t *testing.T, dir string, n, w, h int, ext string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), A: 255})
		}
	}
	for i := 0; i < n; i++ {
		fh, err := os.Create(filepath.Join(dir, fmt.Sprintf("wallpaper-seed-%d.%s", i, ext)))
		if err != nil {
			t.Fatal(err)
		}
		if err := png.Encode(fh, img); err != nil {
			t.Fatal(err)
		}
		fh.Close()
	}
}

func newController(t *testing.T, mode int) (*Controller, *fakeApplier) {
	t.Helper()
	cfg := config.Config{
		CollageMode:          mode,
		StockTarget:          3,
		Mode2PortraitTarget:  3,
		Mode2LandscapeTarget: 1,
		TargetWidth:          150,
		TargetHeight:         60,
		MinTileWidth:         50,
		CacheDir:             t.TempDir(),
		StateDir:             t.TempDir(),
	}
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	store, err := state.Open(cfg.StatePath())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	// Persist the selection up front so the runs exercise composition,
	// not first-run invalidation.
	if err := store.SetSelection(context.Background(), []string{"questionable", "explicit"}); err != nil {
		t.Fatal(err)
	}

	applier := &fakeApplier{}
	ctrl := &Controller{
		Cfg:       cfg,
		Store:     store,
		Portrait:  stock.New(cfg.PortraitDir(), booru.Portrait),
		Landscape: stock.New(cfg.LandscapeDir(), booru.Landscape),
		Fetcher:   download.NewFetcher(nil, 2, false),
		Source:    emptySource{},
		Setter:    applier,
	}
	return ctrl, applier
}

func TestRunCollageConsumesTiles(t *testing.T) {
	ctrl, applier := newController(t, 1)
	// 150 / 50 = 3 tiles per collage.
	seedImages(t, ctrl.Portrait.Dir, 5, 40, 80, "png")

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if got := ctrl.Portrait.Count(); got != 2 {
		t.Errorf("portrait stock = %d after run, want 2", got)
	}
	archived := filepath.Join(ctrl.Cfg.ArchiveDir(), "wallpaper-1.jpg")
	if _, err := os.Stat(archived); err != nil {
		t.Fatalf("archived collage missing: %v", err)
	}
	if len(applier.calls) != 1 || applier.calls[0] != archived {
		t.Errorf("setter calls = %v, want [%s]", applier.calls, archived)
	}

	fh, err := os.Open(archived)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()
	cfg, _, err := image.DecodeConfig(fh)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 150 || cfg.Height != 60 {
		t.Errorf("collage is %dx%d, want 150x60", cfg.Width, cfg.Height)
	}
}

func TestRunLandscapeArchivesAndDiscards(t *testing.T) {
	ctrl, applier := newController(t, 0)
	seedImages(t, ctrl.Landscape.Dir, 2, 80, 40, "png")

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if got := ctrl.Landscape.Count(); got != 1 {
		t.Errorf("landscape stock = %d after run, want 1", got)
	}
	archived := filepath.Join(ctrl.Cfg.ArchiveDir(), "wallpaper-1.png")
	if _, err := os.Stat(archived); err != nil {
		t.Fatalf("archived wallpaper missing: %v", err)
	}
	if len(applier.calls) != 1 || applier.calls[0] != archived {
		t.Errorf("setter calls = %v, want [%s]", applier.calls, archived)
	}

	staged, err := os.ReadDir(filepath.Join(ctrl.Landscape.Dir, "taken"))
	if err != nil {
		t.Fatal(err)
	}
	if len(staged) != 0 {
		t.Errorf("%d files left in staging after success, want 0", len(staged))
	}
}

func TestRunAlternatesStrictly(t *testing.T) {
	ctx := context.Background()
	ctrl, applier := newController(t, 2)
	seedImages(t, ctrl.Portrait.Dir, 6, 40, 80, "png")
	seedImages(t, ctrl.Landscape.Dir, 2, 80, 40, "png")

	for i := 0; i < 4; i++ {
		if err := ctrl.Run(ctx); err != nil {
			t.Fatalf("run %d failed: %v", i+1, err)
		}
	}

	rot, err := ctrl.Store.Rotation(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rot.CollageCount != 2 || rot.LandscapeCount != 2 {
		t.Errorf("rotation totals = %d collages / %d landscapes, want 2/2",
			rot.CollageCount, rot.LandscapeCount)
	}
	if rot.NextAction != state.ActionCollage {
		t.Errorf("next action = %s, want collage after an even run count", rot.NextAction)
	}
	if len(applier.calls) != 4 {
		t.Errorf("setter called %d times, want 4", len(applier.calls))
	}
	// 2 collage runs of 3 tiles, 2 landscape runs of 1 image.
	if got := ctrl.Portrait.Count(); got != 0 {
		t.Errorf("portrait stock = %d, want 0", got)
	}
	if got := ctrl.Landscape.Count(); got != 0 {
		t.Errorf("landscape stock = %d, want 0", got)
	}
}

func TestSetterFailureLosesNothing(t *testing.T) {
	ctx := context.Background()
	ctrl, applier := newController(t, 2)
	applier.fail = true
	seedImages(t, ctrl.Portrait.Dir, 3, 40, 80, "png")

	if err := ctrl.Run(ctx); err == nil {
		t.Fatal("Run() succeeded despite setter failure")
	}

	if got := ctrl.Portrait.Count(); got != 3 {
		t.Errorf("portrait stock = %d after failed run, want 3 restored", got)
	}
	entries, err := os.ReadDir(ctrl.Cfg.ArchiveDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("%d files left in archive after failed run, want 0", len(entries))
	}

	rot, err := ctrl.Store.Rotation(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rot.NextAction != state.ActionCollage || rot.CollageCount != 0 {
		t.Errorf("rotation advanced on failure: next=%s collages=%d", rot.NextAction, rot.CollageCount)
	}
}

func TestRunRecoversAbandonedStaging(t *testing.T) {
	ctrl, applier := newController(t, 1)
	seedImages(t, ctrl.Portrait.Dir, 3, 40, 80, "png")

	// A previous run consumed its tiles and then died before restoring
	// or discarding them.
	if _, err := ctrl.Portrait.Consume(3); err != nil {
		t.Fatal(err)
	}
	if got := ctrl.Portrait.Count(); got != 0 {
		t.Fatalf("portrait stock = %d before recovery, want 0", got)
	}

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if len(applier.calls) != 1 {
		t.Errorf("setter called %d times, want 1", len(applier.calls))
	}
	staged, err := os.ReadDir(filepath.Join(ctrl.Portrait.Dir, "taken"))
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	if len(staged) != 0 {
		t.Errorf("%d files left in staging after recovery run, want 0", len(staged))
	}
}

func TestFailedRunDoesNotBurnArchiveSeq(t *testing.T) {
	ctx := context.Background()
	ctrl, applier := newController(t, 1)
	seedImages(t, ctrl.Portrait.Dir, 3, 40, 80, "png")

	applier.fail = true
	if err := ctrl.Run(ctx); err == nil {
		t.Fatal("Run() succeeded despite setter failure")
	}

	applier.fail = false
	if err := ctrl.Run(ctx); err != nil {
		t.Fatalf("retry Run() failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ctrl.Cfg.ArchiveDir(), "wallpaper-1.jpg")); err != nil {
		t.Errorf("retry should archive under the first sequence number: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ctrl.Cfg.ArchiveDir(), "wallpaper-2.jpg")); !os.IsNotExist(err) {
		t.Error("failed run burned a sequence number")
	}
}

func TestRunNoStockAvailable(t *testing.T) {
	ctrl, applier := newController(t, 1)

	err := ctrl.Run(context.Background())
	if !errors.Is(err, ErrNoStockAvailable) {
		t.Fatalf("error = %v, want ErrNoStockAvailable", err)
	}
	if len(applier.calls) != 0 {
		t.Errorf("setter calls = %v, want none", applier.calls)
	}
}
