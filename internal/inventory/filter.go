package inventory

import (
	"sort"
	"strings"
)

// Matches reports whether any of r's search fields contains query,
// ignoring case. An empty query matches every record.
func Matches(r Record, query string) bool {
	q := strings.ToLower(query)
	if q == "" {
		return true
	}
	for _, f := range r.SearchFields() {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// Filter returns the records matching query, in their original order.
func Filter[T Record](records []T, query string) []T {
	out := make([]T, 0, len(records))
	for _, r := range records {
		if Matches(r, query) {
			out = append(out, r)
		}
	}
	return out
}

// NewSnapshot orders records by sort key, breaking ties by identity, and
// drops any record whose key was already seen. It returns the number of
// dropped duplicates.
func NewSnapshot[T Record](records []T) ([]T, int) {
	out := make([]T, 0, len(records))
	seen := make(map[string]bool, len(records))
	dropped := 0
	for _, r := range records {
		k := r.Key()
		if seen[k] {
			dropped++
			continue
		}
		seen[k] = true
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].SortKey(), out[j].SortKey()
		if a != b {
			return a < b
		}
		return out[i].Key() < out[j].Key()
	})
	return out, dropped
}
