// Package download fetches remote images into cache directories.
//
// Every fetch writes to a ".part" file next to its final name and is
// promoted with an atomic rename only after the payload validated as a
// decodable image. A reader scanning the destination directory therefore
// never observes a half-written cache member, and a kill at any point
// leaves at most a ".part" leftover that the next startup sweeps away.
package download

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"wallstock/internal/booru"
	"wallstock/internal/errutil"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/schollz/progressbar/v3"
)

var (
	// ErrEmptyDownload is returned when the remote body was zero bytes.
	ErrEmptyDownload = errors.New("downloaded file is empty")

	// ErrNotAnImage is returned when the payload does not decode as a
	// supported image format.
	ErrNotAnImage = errors.New("downloaded file is not a decodable image")
)

// HTTPStatusError is returned when the remote responds with a non-200.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Fetcher downloads images with bounded parallelism.
type Fetcher struct {
	Client       *http.Client
	Workers      int
	ShowProgress bool
}

// NewFetcher returns a Fetcher with the given parallelism.
func NewFetcher(client *http.Client, workers int, showProgress bool) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if workers < 1 {
		workers = 1
	}
	return &Fetcher{Client: client, Workers: workers, ShowProgress: showProgress}
}

// Fetch downloads ref into destDir and returns the final path. The file
// appears under its final name only after it was fully written and
// validated; on any failure the partial artifact is deleted.
func (f *Fetcher) Fetch(ctx context.Context, ref booru.ImageRef, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create dest dir: %w", err)
	}

	name := fmt.Sprintf("wallpaper-%d-%04d.%s", time.Now().Unix(), rand.IntN(10000), ref.Ext)
	final := filepath.Join(destDir, name)
	part := final + ".part"

	if err := f.fetchTo(ctx, ref.URL, part); err != nil {
		errutil.LogMsg(removeIfExists(part), "failed to remove partial download", "path", part)
		return "", err
	}
	if err := validateImage(part); err != nil {
		errutil.LogMsg(removeIfExists(part), "failed to remove invalid download", "path", part)
		return "", err
	}
	if err := os.Rename(part, final); err != nil {
		errutil.LogMsg(removeIfExists(part), "failed to remove partial download", "path", part)
		return "", fmt.Errorf("promote download: %w", err)
	}
	return final, nil
}

// FetchAll downloads every ref concurrently, at most Workers at a time.
// Failures are independent: one bad download never cancels its siblings.
// It returns the number of files successfully committed.
func (f *Fetcher) FetchAll(ctx context.Context, refs []booru.ImageRef, destDir string) int {
	if len(refs) == 0 {
		return 0
	}

	var ok atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.Workers)
	for _, ref := range refs {
		g.Go(func() error {
			if _, err := f.Fetch(ctx, ref, destDir); err != nil {
				slog.Warn("download failed", "url", ref.URL, "error", err)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load())
}

func (f *Fetcher) fetchTo(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0 Safari/537.36")
	if ref := refererFor(rawURL); ref != "" {
		req.Header.Set("Referer", ref)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		errutil.LogMsg(resp.Body.Close(), "failed to close response body")
	}()
	if resp.StatusCode != http.StatusOK {
		return &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create partial file: %w", err)
	}

	var w io.Writer = out
	if f.ShowProgress {
		bar := progressbar.NewOptions64(
			resp.ContentLength,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(filepath.Base(dest)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(10),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(os.Stderr, "\n")
			}),
		)
		w = io.MultiWriter(out, bar)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		out.Close()
		return fmt.Errorf("write body: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close partial file: %w", err)
	}
	return nil
}

// validateImage rejects empty or undecodable payloads before they can be
// promoted into a cache.
func validateImage(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return ErrEmptyDownload
	}
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()
	if _, _, err := image.DecodeConfig(fh); err != nil {
		return fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	return nil
}

// SweepPartials unconditionally deletes leftover ".part" files in the
// given directories. Partial downloads cannot be resumed or trusted, so
// this runs at startup and after preempting a prior instance.
func SweepPartials(dirs ...string) {
	removed := 0
	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, "*.part"))
		if err != nil {
			continue
		}
		for _, m := range matches {
			if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
				slog.Warn("failed to remove partial file", "path", m, "error", err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		slog.Info("removed stale partial downloads", "count", removed)
	}
}

func refererFor(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	return u.String()
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
