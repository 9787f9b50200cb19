// Package memory provides map-backed implementations of the domain stores.
// They are used when Postgres is disabled and as collaborators in tests.
package memory

import (
	"sort"
	"time"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

func nowUTC() time.Time { return time.Now().UTC() }

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func inWindow(ts time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && ts.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && ts.After(*opts.Until) {
		return false
	}
	return true
}

// paginate applies offset and limit to an already ordered slice.
func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return []T{}
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// newestFirst sorts by the timestamp returned by key, most recent first.
func newestFirst[T any](items []T, key func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool {
		return key(items[i]).After(key(items[j]))
	})
}
