// Package selection holds the single source of truth for the currently
// active plaque and drives both views (list, map) from it.
package selection

import (
	"github.com/paulmach/orb"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/rtree"

	"github.com/casamap/plaquemap/internal/geo"
)

// DetailZoom is the camera zoom applied when a plaque is selected.
const DetailZoom = 16.0

// ClickToleranceDeg pads the hit-test box around a map click. Roughly
// a marker's width at neighborhood zoom levels.
const ClickToleranceDeg = 0.0005

// MapController is the consumed surface of the map rendering
// collaborator. The synchronizer drives it and never reads from it.
type MapController interface {
	FlyTo(center orb.Point, zoom float64)
	ShowPopup(anchor orb.Point, html string)
}

// Synchronizer funnels both input paths (list activation, map click)
// into one selection routine, and renders the outcome through the map
// controller and the list highlight callback.
type Synchronizer struct {
	mapView MapController
	popup   *PopupBuilder

	// OnHighlight tells the list renderer which row is active. May be
	// nil when no list is attached.
	OnHighlight func(id string)

	// Zoom is the camera zoom applied on selection.
	Zoom float64

	features map[string]geo.PlaqueFeature
	index    *rtree.RTreeG[string]
	selected *geo.PlaqueFeature
}

// NewSynchronizer wires a synchronizer to its map view and popup
// builder. Call SetFeatures before feeding it input events.
func NewSynchronizer(mapView MapController, popup *PopupBuilder) *Synchronizer {
	return &Synchronizer{
		mapView:  mapView,
		popup:    popup,
		Zoom:     DetailZoom,
		features: make(map[string]geo.PlaqueFeature),
		index:    &rtree.RTreeG[string]{},
	}
}

// SetFeatures replaces the selectable set and rebuilds the spatial
// index. The current selection is kept even if its feature left the
// set; it simply stops resolving.
func (s *Synchronizer) SetFeatures(features []geo.PlaqueFeature) {
	s.features = make(map[string]geo.PlaqueFeature, len(features))
	s.index = &rtree.RTreeG[string]{}

	for _, f := range features {
		s.features[f.ID] = f
		pt := [2]float64{f.Point[0], f.Point[1]}
		s.index.Insert(pt, pt, f.ID)
	}
}

// Selected returns the currently selected feature, nil when none.
func (s *Synchronizer) Selected() *geo.PlaqueFeature {
	return s.selected
}

// SelectByID is the list-item activation path.
func (s *Synchronizer) SelectByID(id string) {
	f, ok := s.features[id]
	if !ok {
		log.Debug().Str("id", id).Msg("Selection ignored: unknown feature id")
		return
	}
	s.apply(f)
}

// ClickAt is the map-marker activation path. The click point is
// hit-tested against the feature index; the first match wins when
// markers overlap, and a miss is a no-op.
func (s *Synchronizer) ClickAt(lng, lat float64) {
	min := [2]float64{lng - ClickToleranceDeg, lat - ClickToleranceDeg}
	max := [2]float64{lng + ClickToleranceDeg, lat + ClickToleranceDeg}

	var hit string
	s.index.Search(min, max, func(_, _ [2]float64, id string) bool {
		hit = id
		return false // first match only
	})

	if hit == "" {
		return
	}
	s.SelectByID(hit)
}

// apply is the single selection routine both input paths converge on.
func (s *Synchronizer) apply(f geo.PlaqueFeature) {
	s.selected = &f

	log.Debug().Str("id", f.ID).Msg("Plaque selected")

	if s.mapView != nil {
		s.mapView.FlyTo(f.Point, s.Zoom)

		html, err := s.popup.Render(f)
		if err != nil {
			log.Error().Err(err).Str("id", f.ID).Msg("Popup render failed")
		} else {
			s.mapView.ShowPopup(f.Point, html)
		}
	}

	if s.OnHighlight != nil {
		s.OnHighlight(f.ID)
	}
}
