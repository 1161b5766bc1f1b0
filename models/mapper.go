package models

import (
	"sort"
	"strings"

	"github.com/noteflow/modelkit/provider"
)

// FromProvider maps raw provider catalog entries 1:1 into normalized models,
// preserving the identifier as the stable key.
func FromProvider(infos []provider.ModelInfo) []Model {
	out := make([]Model, 0, len(infos))
	for _, info := range infos {
		label := info.DisplayName
		if label == "" {
			label = info.ID
		}
		out = append(out, Model{ID: info.ID, Label: label})
	}
	return out
}

// previewMarkers flag non-GA variants that sort after stable releases.
var previewMarkers = []string{"preview", "exp", "experimental", "latest"}

func isPreview(id string) bool {
	lower := strings.ToLower(id)
	for _, marker := range previewMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// family returns the identifier prefix up to the first separator, used to
// group related models together in listings.
func family(id string) string {
	if i := strings.IndexAny(id, "-."); i > 0 {
		return id[:i]
	}
	return id
}

// SortByPreference orders models for presentation: stable/GA releases ahead
// of preview and experimental variants, grouped by family prefix. The sort
// is stable, so ties keep their original discovery order.
func SortByPreference(list []Model) []Model {
	out := make([]Model, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := isPreview(out[i].ID), isPreview(out[j].ID)
		if pi != pj {
			return !pi
		}
		return family(out[i].ID) < family(out[j].ID)
	})
	return out
}

// MergeWithDefaults merges a dynamically discovered list with the static
// baseline. Static entries are never dropped, only shadowed: when an id
// collides, the dynamic entry wins; otherwise the static entry is appended
// with its role-default and capability flags intact.
func MergeWithDefaults(dynamic, static []Model) []Model {
	out := make([]Model, 0, len(dynamic)+len(static))
	seen := make(map[string]struct{}, len(dynamic))
	for _, m := range dynamic {
		out = append(out, m)
		seen[m.ID] = struct{}{}
	}
	for _, m := range static {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		out = append(out, m)
	}
	return out
}
