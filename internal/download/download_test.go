package download

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wallstock/internal/booru"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestFetchCommitsAtomically(t *testing.T) {
	body := pngBytes(t, 8, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher(srv.Client(), 2, false)
	path, err := f.Fetch(context.Background(), booru.ImageRef{URL: srv.URL + "/a.png", Ext: "png"}, dir)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}

	if filepath.Dir(path) != dir {
		t.Errorf("committed outside dest dir: %s", path)
	}
	for _, name := range listDir(t, dir) {
		if strings.HasSuffix(name, ".part") {
			t.Errorf("partial file left behind: %s", name)
		}
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read committed file: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Error("committed file does not match served body")
	}
}

func TestFetchRejectsBadPayloads(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "http error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name:    "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {},
			wantErr: ErrEmptyDownload,
		},
		{
			name: "not an image",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html>definitely not a jpeg</html>"))
			},
			wantErr: ErrNotAnImage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			dir := t.TempDir()
			f := NewFetcher(srv.Client(), 2, false)
			_, err := f.Fetch(context.Background(), booru.ImageRef{URL: srv.URL, Ext: "jpg"}, dir)
			if err == nil {
				t.Fatal("expected Fetch to fail")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if names := listDir(t, dir); len(names) != 0 {
				t.Errorf("failure left files behind: %v", names)
			}
		})
	}
}

func TestFetchAllIsolatesFailures(t *testing.T) {
	body := pngBytes(t, 8, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "bad") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	refs := []booru.ImageRef{
		{URL: srv.URL + "/ok1.png", Ext: "png"},
		{URL: srv.URL + "/bad.png", Ext: "png"},
		{URL: srv.URL + "/ok2.png", Ext: "png"},
	}
	dir := t.TempDir()
	f := NewFetcher(srv.Client(), 2, false)

	if got := f.FetchAll(context.Background(), refs, dir); got != 2 {
		t.Errorf("FetchAll() = %d successes, want 2", got)
	}
	if names := listDir(t, dir); len(names) != 2 {
		t.Errorf("committed files = %v, want 2 entries", names)
	}
}

func TestSweepPartials(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	keep := filepath.Join(dirA, "wallpaper-1.jpg")

	for _, p := range []string{
		filepath.Join(dirA, "wallpaper-2.jpg.part"),
		filepath.Join(dirB, "wallpaper-3.png.part"),
		keep,
	} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	SweepPartials(dirA, dirB)

	if names := listDir(t, dirA); len(names) != 1 || names[0] != filepath.Base(keep) {
		t.Errorf("dirA = %v, want only the committed file", names)
	}
	if names := listDir(t, dirB); len(names) != 0 {
		t.Errorf("dirB = %v, want empty", names)
	}
}
