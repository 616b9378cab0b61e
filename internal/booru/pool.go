package booru

import (
	"context"
	"net/http"
	"time"
)

// Pool fans a search out over multiple sources, trying the ones that
// prefer the requested orientation first and falling back to the rest.
type Pool struct {
	Sources []*Moebooru
}

// DefaultPool returns the standard endpoint pair: yande.re for portraits,
// konachan for landscapes, each usable as the other's fallback.
func DefaultPool(minWidth, minHeight, maxPage int) *Pool {
	client := &http.Client{Timeout: 30 * time.Second}
	mk := func(name, base string, prefer Orientation) *Moebooru {
		return &Moebooru{
			Name:      name,
			Base:      base,
			Client:    client,
			Prefer:    prefer,
			MinWidth:  minWidth,
			MinHeight: minHeight,
			MaxPage:   maxPage,
		}
	}
	return &Pool{Sources: []*Moebooru{
		mk("yande.re", "https://yande.re", Portrait),
		mk("konachan.com", "https://konachan.com", Landscape),
	}}
}

// Search implements Source over the pool.
func (p *Pool) Search(ctx context.Context, ratings []string, orient Orientation, n int) ([]ImageRef, error) {
	var collected []ImageRef
	seen := make(map[string]bool)

	for _, src := range p.ordered(orient) {
		if len(collected) >= n {
			break
		}
		refs, err := src.Search(ctx, ratings, orient, n-len(collected))
		if err != nil && len(refs) == 0 {
			continue
		}
		for _, ref := range refs {
			if seen[ref.URL] {
				continue
			}
			seen[ref.URL] = true
			collected = append(collected, ref)
		}
	}
	if len(collected) == 0 {
		return nil, ErrNoResults
	}
	return collected, nil
}

func (p *Pool) ordered(orient Orientation) []*Moebooru {
	var preferred, rest []*Moebooru
	for _, src := range p.Sources {
		if src.Prefer == orient {
			preferred = append(preferred, src)
		} else {
			rest = append(rest, src)
		}
	}
	return append(preferred, rest...)
}
