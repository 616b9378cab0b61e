// Package compose assembles collage wallpapers by tiling source images
// horizontally into a single raster of the configured target size.
package compose

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"os"

	"github.com/nfnt/resize"

	_ "image/png"

	_ "golang.org/x/image/webp"
)

// ErrTooFewTiles is returned when fewer than two sources are provided.
var ErrTooFewTiles = errors.New("need at least 2 images for a collage")

// SourceError marks a source image that could not be opened or decoded.
// Callers evict the offending file from its cache instead of retrying it.
type SourceError struct {
	Path string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("bad collage source %s: %v", e.Path, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

const jpegQuality = 95

// Collage tiles the source images left to right into a targetW x targetH
// raster and writes it as JPEG to outPath. Tile widths are targetW/k with
// the remainder spread over the leading tiles; each source is scaled to
// cover its tile and center-cropped. The output is committed with a
// rename so no reader observes a half-written wallpaper.
func Collage(paths []string, targetW, targetH int, outPath string) error {
	if len(paths) < 2 {
		return ErrTooFewTiles
	}

	k := len(paths)
	base := targetW / k
	remainder := targetW % k

	canvas := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	x := 0
	for i, path := range paths {
		tileW := base
		if i < remainder {
			tileW++
		}
		src, err := decode(path)
		if err != nil {
			return err
		}
		tile := coverCrop(src, tileW, targetH)
		draw.Draw(canvas, image.Rect(x, 0, x+tileW, targetH), tile, tile.Bounds().Min, draw.Src)
		x += tileW
	}

	part := outPath + ".part"
	out, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("create collage file: %w", err)
	}
	if err := jpeg.Encode(out, canvas, &jpeg.Options{Quality: jpegQuality}); err != nil {
		out.Close()
		os.Remove(part)
		return fmt.Errorf("encode collage: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(part)
		return fmt.Errorf("close collage file: %w", err)
	}
	if err := os.Rename(part, outPath); err != nil {
		os.Remove(part)
		return fmt.Errorf("commit collage: %w", err)
	}
	return nil
}

func decode(path string) (image.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, &SourceError{Path: path, Err: err}
	}
	defer fh.Close()
	img, _, err := image.Decode(fh)
	if err != nil {
		return nil, &SourceError{Path: path, Err: err}
	}
	return img, nil
}

// coverCrop scales src to fully cover a w x h tile, preserving aspect
// ratio, then center-crops the overflow.
func coverCrop(src image.Image, w, h int) image.Image {
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()

	var scaled image.Image
	if sw*h >= w*sh {
		// Source is wider than the tile: match height, crop width.
		scaled = resize.Resize(0, uint(h), src, resize.Lanczos3)
	} else {
		scaled = resize.Resize(uint(w), 0, src, resize.Lanczos3)
	}

	sb := scaled.Bounds()
	offX := (sb.Dx() - w) / 2
	offY := (sb.Dy() - h) / 2
	if offX < 0 {
		offX = 0
	}
	if offY < 0 {
		offY = 0
	}

	tile := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(tile, tile.Bounds(), scaled, image.Pt(sb.Min.X+offX, sb.Min.Y+offY), draw.Src)
	return tile
}
