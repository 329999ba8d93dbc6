// Package geo holds the plaque feature model and coordinate math.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
)

// PlaqueFeature is one validated point of interest from the dataset.
type PlaqueFeature struct {
	// ID is unique within a loaded dataset and keys both list rows
	// and map features.
	ID string

	// Slug builds the detail-page path; duplicates are tolerated.
	Slug string

	// Title may be empty; the fallback label is applied at render
	// time, not here.
	Title string

	// Theme and PeriodBucket are facet values. nil means absent;
	// an empty string in the source normalizes to nil.
	Theme        *string
	PeriodBucket *string

	// Point is (longitude, latitude) in WGS84 decimal degrees.
	Point orb.Point
}

// TitleOr returns the title, or fallback when the record has none.
func (f *PlaqueFeature) TitleOr(fallback string) string {
	if f.Title == "" {
		return fallback
	}
	return f.Title
}

// DetailPath builds the locale-prefixed detail page reference.
func (f *PlaqueFeature) DetailPath(locale string) string {
	return "/" + locale + "/plaque/" + f.Slug
}

// Normalize converts a decoded feature collection into the in-memory
// plaque set. Malformed records (non-point geometry, bad coordinates,
// missing or duplicate id) are logged and dropped; one bad record never
// blocks the rest of the dataset.
func Normalize(fc *geojson.FeatureCollection) []PlaqueFeature {
	if fc == nil {
		return nil
	}

	out := make([]PlaqueFeature, 0, len(fc.Features))
	seen := make(map[string]struct{}, len(fc.Features))

	for i, raw := range fc.Features {
		pf, reason := normalizeOne(raw)
		if reason != "" {
			log.Warn().
				Int("index", i).
				Str("reason", reason).
				Msg("Dropping malformed plaque feature")
			continue
		}

		if _, dup := seen[pf.ID]; dup {
			log.Warn().
				Int("index", i).
				Str("id", pf.ID).
				Msg("Dropping plaque feature with duplicate id")
			continue
		}
		seen[pf.ID] = struct{}{}

		out = append(out, pf)
	}

	return out
}

func normalizeOne(raw *geojson.Feature) (PlaqueFeature, string) {
	if raw == nil {
		return PlaqueFeature{}, "nil feature"
	}

	pt, ok := raw.Geometry.(orb.Point)
	if !ok {
		return PlaqueFeature{}, "geometry is not a point"
	}
	if !ValidLngLat(pt) {
		return PlaqueFeature{}, "coordinates out of range"
	}

	id := stringProp(raw.Properties, "id")
	if id == "" {
		return PlaqueFeature{}, "missing id"
	}

	return PlaqueFeature{
		ID:           id,
		Slug:         stringProp(raw.Properties, "slug"),
		Title:        stringProp(raw.Properties, "title"),
		Theme:        optionalProp(raw.Properties, "theme"),
		PeriodBucket: optionalProp(raw.Properties, "period_bucket"),
		Point:        pt,
	}, ""
}

// Collection rebuilds a GeoJSON feature collection from the normalized
// set, for serving back to map clients.
func Collection(features []PlaqueFeature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		raw := geojson.NewFeature(f.Point)
		raw.Properties = geojson.Properties{
			"id":    f.ID,
			"slug":  f.Slug,
			"title": f.Title,
		}
		if f.Theme != nil {
			raw.Properties["theme"] = *f.Theme
		}
		if f.PeriodBucket != nil {
			raw.Properties["period_bucket"] = *f.PeriodBucket
		}
		fc.Append(raw)
	}
	return fc
}

// ValidLngLat reports whether p is a finite (lng, lat) pair inside
// WGS84 bounds.
func ValidLngLat(p orb.Point) bool {
	lng, lat := p[0], p[1]
	if math.IsNaN(lng) || math.IsInf(lng, 0) || math.IsNaN(lat) || math.IsInf(lat, 0) {
		return false
	}
	return lng >= -180 && lng <= 180 && lat >= -90 && lat <= 90
}

func stringProp(props geojson.Properties, key string) string {
	if props == nil {
		return ""
	}
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

// optionalProp maps the empty string to nil so "absent" and "" cannot
// be confused downstream.
func optionalProp(props geojson.Properties, key string) *string {
	v := stringProp(props, key)
	if v == "" {
		return nil
	}
	return &v
}
