package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/paulmach/orb"

	"github.com/casamap/plaquemap/internal/engine"
	"github.com/casamap/plaquemap/internal/geo"
)

// HandleIndex serves the map application page.
func (s *ServerContext) HandleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	etag := fmt.Sprintf(`"%x"`, len(s.IndexHTML))

	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, no-cache")
	_, _ = w.Write(s.IndexHTML)
}

// HandleDataset serves the validated feature collection. The response
// is never cached so each session sees the latest published dataset.
func (s *ServerContext) HandleDataset(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Cache-Control", "no-store")

	fc := geo.Collection(s.Store.Features())
	// Ignoring error as we cannot handle client disconnects
	_ = json.NewEncoder(w).Encode(fc)
}

// plaqueResult is one row of a search response.
type plaqueResult struct {
	ID           string     `json:"id"`
	Slug         string     `json:"slug"`
	Title        string     `json:"title"`
	Theme        *string    `json:"theme,omitempty"`
	PeriodBucket *string    `json:"period_bucket,omitempty"`
	Coordinates  [2]float64 `json:"coordinates"`
	DistanceKm   *float64   `json:"distance_km,omitempty"`
	DetailPath   string     `json:"detail_path"`
}

type searchResponse struct {
	Total   int            `json:"total"`
	Matched int            `json:"matched"`
	Items   []plaqueResult `json:"items"`
}

// HandleSearch is the stateless variant of the ranking engine: query
// params in, ordered results out. Params: q, theme, period, lng, lat,
// sort=distance, locale.
func (s *ServerContext) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := engine.Filter{
		Query:  q.Get("q"),
		Theme:  q.Get("theme"),
		Period: q.Get("period"),
	}

	pos := parsePosition(q.Get("lng"), q.Get("lat"))
	sortByDistance := q.Get("sort") == "distance"

	locale := q.Get("locale")
	if !s.Config.HasLocale(locale) {
		locale = s.Config.DefaultLocale
	}

	features := s.Store.Features()
	ranked := engine.Rank(features, filter, pos, sortByDistance)

	resp := searchResponse{
		Total:   len(features),
		Matched: len(ranked),
		Items:   make([]plaqueResult, 0, len(ranked)),
	}
	for _, rr := range ranked {
		f := rr.Feature
		resp.Items = append(resp.Items, plaqueResult{
			ID:           f.ID,
			Slug:         f.Slug,
			Title:        f.Title,
			Theme:        f.Theme,
			PeriodBucket: f.PeriodBucket,
			Coordinates:  [2]float64{f.Point[0], f.Point[1]},
			DistanceKm:   rr.DistanceKm,
			DetailPath:   f.DetailPath(locale),
		})
	}

	writeJSON(w, resp)
}

// HandleFacets serves the distinct facet values of the dataset.
func (s *ServerContext) HandleFacets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, engine.CollectFacets(s.Store.Features()))
}

// HandleConfig serves the client bootstrap: camera defaults, locales
// and attribution.
func (s *ServerContext) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Config)
}

// HandleMarkerIcon serves the rasterized plaque marker for the map's
// symbol layer.
func (s *ServerContext) HandleMarkerIcon(w http.ResponseWriter, r *http.Request) {
	if len(s.MarkerIcon) == 0 {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "image/webp")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(s.MarkerIcon)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// parsePosition builds a point only when both params are valid
// in-range coordinates.
func parsePosition(lngStr, latStr string) *orb.Point {
	if lngStr == "" || latStr == "" {
		return nil
	}

	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return nil
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return nil
	}

	p := orb.Point{lng, lat}
	if !geo.ValidLngLat(p) {
		return nil
	}
	return &p
}
