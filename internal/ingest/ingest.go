// Package ingest converts raw plaque registry exports into the
// validated GeoJSON dataset the map serves.
package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"

	"github.com/casamap/plaquemap/internal/geo"
)

// registryRecord is one row of the flat registry export format.
type registryRecord struct {
	ID           string  `json:"id"`
	Slug         string  `json:"slug"`
	Title        string  `json:"title"`
	Theme        string  `json:"theme"`
	PeriodBucket string  `json:"period_bucket"`
	Lng          float64 `json:"lng"`
	Lat          float64 `json:"lat"`
}

// Run fetches the registry export from sourceURL, converts it, and
// writes the validated feature collection to destFile. An existing
// destination is kept unless force is set.
func Run(client *http.Client, sourceURL, destFile string, force bool) error {
	if _, err := os.Stat(destFile); err == nil && !force {
		log.Debug().Str("path", destFile).Msg("Dataset file exists, skipping")
		return nil
	}

	log.Info().Str("source", sourceURL).Msg("Ingesting plaque registry")

	fc, err := fetchRegistry(client, sourceURL)
	if err != nil {
		return err
	}

	// Round-trip through the feature model so the published file only
	// carries records the map will accept.
	features := geo.Normalize(fc)
	if len(features) == 0 {
		log.Warn().Str("source", sourceURL).Msg("Registry produced no valid features")
	}

	log.Info().
		Int("raw", len(fc.Features)).
		Int("valid", len(features)).
		Msg("Registry converted")

	return saveGeoJSON(destFile, geo.Collection(features))
}

// fetchRegistry downloads and converts the flat registry export. A
// body that already is a feature collection is passed through.
func fetchRegistry(client *http.Client, url string) (*geojson.FeatureCollection, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	var records []registryRecord
	if err := json.Unmarshal(body, &records); err == nil {
		return recordsToCollection(records), nil
	}

	return geojson.UnmarshalFeatureCollection(body)
}

func recordsToCollection(records []registryRecord) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, rec := range records {
		f := geojson.NewFeature(orb.Point{rec.Lng, rec.Lat})
		f.Properties = geojson.Properties{
			"id":    rec.ID,
			"slug":  rec.Slug,
			"title": rec.Title,
		}
		if rec.Theme != "" {
			f.Properties["theme"] = rec.Theme
		}
		if rec.PeriodBucket != "" {
			f.Properties["period_bucket"] = rec.PeriodBucket
		}
		fc.Append(f)
	}
	return fc
}

// saveGeoJSON marshals the feature collection and writes it to disk.
func saveGeoJSON(path string, fc *geojson.FeatureCollection) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	// We care about write errors on close
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			log.Error().Err(closeErr).Str("path", path).Msg("Failed to close file")
		}
	}()

	return json.NewEncoder(f).Encode(fc)
}
