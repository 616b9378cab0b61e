// Package rating resolves which content ratings are eligible for download
// and enforces the cache-invalidation rule when the selection changes
// between runs.
package rating

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"wallstock/internal/config"
	"wallstock/internal/state"
	"wallstock/internal/stock"
)

// Known rating keys, in canonical order.
var order = []string{"safe", "questionable", "explicit"}

// Selection is a normalized set of rating keys in canonical order.
type Selection []string

// Resolve computes the active selection. Config flags form the base; the
// RATINGS override (comma-separated keys, or key=value pairs) is applied
// on top and wins per key. An empty result falls back to the default
// selection of questionable+explicit.
func Resolve(cfg config.Config) Selection {
	sel := map[string]bool{
		"safe":         cfg.Safe,
		"questionable": cfg.Questionable,
		"explicit":     cfg.Explicit,
	}

	for _, part := range strings.Split(cfg.RatingsOverride, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		key, val, hasVal := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if _, known := sel[key]; !known {
			slog.Warn("ignoring unknown rating key", "key", key)
			continue
		}
		if !hasVal {
			sel[key] = true
			continue
		}
		sel[key] = parseBool(strings.TrimSpace(val))
	}

	var out Selection
	for _, key := range order {
		if sel[key] {
			out = append(out, key)
		}
	}
	if len(out) == 0 {
		// Legacy default when nothing is selected anywhere.
		out = Selection{"questionable", "explicit"}
	}
	return out
}

func parseBool(v string) bool {
	if n, err := strconv.Atoi(v); err == nil {
		return n != 0
	}
	switch v {
	case "true", "yes", "on":
		return true
	}
	return false
}

// Equal reports order-independent set equality against another key list.
func (s Selection) Equal(other []string) bool {
	if len(s) != len(other) {
		return false
	}
	set := make(map[string]bool, len(s))
	for _, k := range s {
		set[k] = true
	}
	for _, k := range other {
		if !set[k] {
			return false
		}
	}
	return true
}

func (s Selection) String() string {
	return strings.Join(s, ",")
}

// CheckAndInvalidate compares the active selection with the persisted one.
// On mismatch it clears the portrait stock cache (forcing a redownload
// under the new selection) and persists the new selection. Returns whether
// invalidation occurred.
func CheckAndInvalidate(ctx context.Context, sel Selection, store *state.Store, portrait *stock.Cache) (bool, error) {
	last, _, err := store.Selection(ctx)
	if err != nil {
		return false, err
	}
	if sel.Equal(last) {
		return false, nil
	}

	removed, err := portrait.Clear()
	if err != nil {
		return false, fmt.Errorf("clear portrait stock: %w", err)
	}
	slog.Info("rating selection changed, cleared portrait stock",
		"old", strings.Join(last, ","), "new", sel.String(), "removed", removed)

	if err := store.SetSelection(ctx, sel); err != nil {
		return true, err
	}
	return true, nil
}
