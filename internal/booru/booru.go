// Package booru talks to moebooru-style image boards. It is the remote
// collaborator of the stock engine: given a rating selection and an
// orientation it returns candidate image references filtered by size and
// shape, leaving downloading to the caller.
package booru

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
)

// Orientation of a requested image.
type Orientation string

const (
	Portrait  Orientation = "portrait"
	Landscape Orientation = "landscape"
)

// ImageRef points at a downloadable image and carries the metadata needed
// to filter and name it.
type ImageRef struct {
	URL    string
	Width  int
	Height int
	Ext    string
}

// Source finds up to n candidate images for the given ratings and
// orientation. Returning fewer than n (even zero) is not an error.
type Source interface {
	Search(ctx context.Context, ratings []string, orient Orientation, n int) ([]ImageRef, error)
}

// ErrNoResults is returned when every source attempt came back empty.
var ErrNoResults = errors.New("no matching images found")

// ratingTags maps logical rating names to moebooru tag syntax.
var ratingTags = map[string]string{
	"safe":         "rating:s",
	"questionable": "rating:q",
	"explicit":     "rating:e",
}

var validExts = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "webp": true,
}

const (
	searchAttempts = 6
	pageLimit      = 100
	poolSize       = 30
)

// Moebooru queries a single moebooru endpoint (yande.re, konachan).
type Moebooru struct {
	Name   string
	Base   string
	Client *http.Client

	// Prefer marks the orientation this endpoint historically serves
	// best; pools order sources by it.
	Prefer Orientation

	// Size filters applied to landscape candidates.
	MinWidth  int
	MinHeight int

	// MaxPage bounds the random page picked per attempt.
	MaxPage int
}

type post struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	FileURL string `json:"file_url"`
	FileExt string `json:"file_ext"`
}

// Search implements Source. Each attempt fetches one random page per
// selected rating tag, merges the results, and samples the largest
// candidates without repeating URLs.
func (m *Moebooru) Search(ctx context.Context, ratings []string, orient Orientation, n int) ([]ImageRef, error) {
	if n <= 0 {
		return nil, nil
	}
	tags := m.tagsFor(ratings)
	if len(tags) == 0 {
		return nil, fmt.Errorf("no usable rating tags for %v", ratings)
	}

	var collected []ImageRef
	seen := make(map[string]bool)

	for attempt := 0; attempt < searchAttempts && len(collected) < n; attempt++ {
		if err := ctx.Err(); err != nil {
			return collected, err
		}
		page := 1 + rand.IntN(max(1, m.MaxPage))
		var merged []post
		for _, tag := range shuffled(tags) {
			posts, err := m.fetchPage(ctx, page, tag)
			if err != nil {
				continue
			}
			merged = append(merged, posts...)
		}

		candidates := m.filter(merged, orient, seen)
		if len(candidates) == 0 {
			continue
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].Width*candidates[i].Height > candidates[j].Width*candidates[j].Height
		})
		pool := candidates
		if len(pool) > poolSize {
			pool = pool[:poolSize]
		}
		for len(pool) > 0 && len(collected) < n {
			i := rand.IntN(len(pool))
			ref := pool[i]
			pool = append(pool[:i], pool[i+1:]...)
			if seen[ref.URL] {
				continue
			}
			seen[ref.URL] = true
			collected = append(collected, ref)
		}
	}
	return collected, nil
}

func (m *Moebooru) tagsFor(ratings []string) []string {
	var tags []string
	for _, r := range ratings {
		if tag, ok := ratingTags[strings.ToLower(r)]; ok {
			tags = append(tags, tag)
		}
	}
	return tags
}

func (m *Moebooru) fetchPage(ctx context.Context, page int, tag string) ([]post, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(pageLimit))
	q.Set("page", fmt.Sprint(page))
	q.Set("tags", tag)
	u := fmt.Sprintf("%s/post.json?%s", strings.TrimRight(m.Base, "/"), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept", "application/json")

	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", m.Name, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var posts []post
	if err := json.Unmarshal(body, &posts); err != nil {
		return nil, fmt.Errorf("%s: decode post list: %w", m.Name, err)
	}
	return posts, nil
}

func (m *Moebooru) filter(posts []post, orient Orientation, seen map[string]bool) []ImageRef {
	var out []ImageRef
	for _, p := range posts {
		switch orient {
		case Landscape:
			if p.Width <= p.Height || p.Width < m.MinWidth || p.Height < m.MinHeight {
				continue
			}
		case Portrait:
			// Portrait accepts square images too.
			if p.Width > p.Height {
				continue
			}
		default:
			continue
		}
		fileURL := p.FileURL
		if fileURL == "" {
			continue
		}
		if strings.HasPrefix(fileURL, "//") {
			fileURL = "https:" + fileURL
		}
		if seen[fileURL] {
			continue
		}
		out = append(out, ImageRef{
			URL:    fileURL,
			Width:  p.Width,
			Height: p.Height,
			Ext:    normalizeExt(fileURL, p.FileExt),
		})
	}
	return out
}

// normalizeExt derives the file extension from the URL path, falling back
// to the post metadata and finally jpg.
func normalizeExt(fileURL, fallback string) string {
	ext := ""
	if u, err := url.Parse(fileURL); err == nil {
		ext = strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
	}
	if validExts[ext] {
		return ext
	}
	fallback = strings.ToLower(fallback)
	if validExts[fallback] {
		return fallback
	}
	return "jpg"
}

func shuffled(in []string) []string {
	out := append([]string(nil), in...)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

const browserUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0 Safari/537.36"
