// Package engine ranks the plaque dataset against the current filter,
// position and sort inputs. Everything here is pure: the same four
// inputs always produce the same ordered output.
package engine

import (
	"sort"
	"strings"

	"github.com/paulmach/orb"

	"github.com/casamap/plaquemap/internal/geo"
)

// Filter is the user's current constraint set. Empty strings mean
// "no constraint" on that dimension.
type Filter struct {
	// Query matches case-insensitively against titles.
	Query string

	// Theme and Period match facet values exactly, case-sensitive.
	Theme  string
	Period string
}

// Ranked is one feature surviving the filter, annotated with its
// distance from the user when a position is known.
type Ranked struct {
	Feature geo.PlaqueFeature

	// DistanceKm is set iff a user position was supplied, regardless
	// of whether distance sorting is active.
	DistanceKm *float64
}

// Rank applies the filter to features, annotates distances against pos
// when pos is non-nil, and sorts ascending by distance when both
// sortByDistance is set and a position is known. Otherwise the dataset
// order is preserved. The input slice is never mutated.
func Rank(features []geo.PlaqueFeature, f Filter, pos *orb.Point, sortByDistance bool) []Ranked {
	query := strings.ToLower(strings.TrimSpace(f.Query))

	out := make([]Ranked, 0, len(features))
	for _, feat := range features {
		if !matches(feat, query, f.Theme, f.Period) {
			continue
		}

		r := Ranked{Feature: feat}
		if pos != nil {
			d := geo.DistanceKm(*pos, feat.Point)
			r.DistanceKm = &d
		}
		out = append(out, r)
	}

	if sortByDistance && pos != nil {
		sort.SliceStable(out, func(i, j int) bool {
			di, dj := out[i].DistanceKm, out[j].DistanceKm
			// Entries without a distance sort last. Defensive: once a
			// position is known every kept entry carries one.
			if di == nil {
				return false
			}
			if dj == nil {
				return true
			}
			return *di < *dj
		})
	}

	return out
}

func matches(f geo.PlaqueFeature, query, theme, period string) bool {
	if query != "" && !strings.Contains(strings.ToLower(f.Title), query) {
		return false
	}
	if theme != "" && (f.Theme == nil || *f.Theme != theme) {
		return false
	}
	if period != "" && (f.PeriodBucket == nil || *f.PeriodBucket != period) {
		return false
	}
	return true
}

// Facets are the distinct facet values present in a dataset, each list
// sorted lexicographically. The UI builds its dropdowns from these.
type Facets struct {
	Themes  []string `json:"themes"`
	Periods []string `json:"periods"`
}

// CollectFacets enumerates the facet values of features.
func CollectFacets(features []geo.PlaqueFeature) Facets {
	themes := make(map[string]struct{})
	periods := make(map[string]struct{})

	for _, f := range features {
		if f.Theme != nil {
			themes[*f.Theme] = struct{}{}
		}
		if f.PeriodBucket != nil {
			periods[*f.PeriodBucket] = struct{}{}
		}
	}

	return Facets{
		Themes:  sortedKeys(themes),
		Periods: sortedKeys(periods),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
