// Package dataset loads the plaque feature collection once per map
// session and hands the validated result to the rest of the system.
package dataset

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"

	"github.com/casamap/plaquemap/internal/geo"
)

// ErrAlreadyLoaded is returned when Load is invoked a second time on
// the same store. The first result stands; nothing is re-fetched.
var ErrAlreadyLoaded = errors.New("dataset already loaded")

// LoadError wraps a fetch or decode failure for the dataset resource.
type LoadError struct {
	URL string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load dataset %s: %v", e.URL, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Store owns the immutable plaque set for one map lifetime. Load runs
// at most once; afterwards Features returns the same slice forever.
type Store struct {
	source func() ([]byte, error)
	url    string

	mu       sync.Mutex
	loaded   bool
	features []geo.PlaqueFeature
}

// NewStore builds a store fetching from url with client. A nil client
// falls back to http.DefaultClient.
func NewStore(client *http.Client, url string) *Store {
	if client == nil {
		client = http.DefaultClient
	}
	return &Store{
		source: func() ([]byte, error) { return fetchNoCache(client, url) },
		url:    url,
	}
}

// NewFileStore builds a store reading the collection from a local file.
func NewFileStore(path string) *Store {
	return &Store{
		source: func() ([]byte, error) { return os.ReadFile(path) },
		url:    path,
	}
}

// Load fetches, decodes and validates the dataset, then invokes
// onLoaded exactly once with the result. A failed fetch degrades to an
// empty set: onLoaded still runs (with no features) and the error is
// returned for reporting. Subsequent calls, including calls racing the
// first, return ErrAlreadyLoaded without fetching or invoking onLoaded.
func (s *Store) Load(onLoaded func([]geo.PlaqueFeature)) error {
	s.mu.Lock()
	if s.loaded {
		s.mu.Unlock()
		return ErrAlreadyLoaded
	}
	s.loaded = true
	s.mu.Unlock()

	features, err := s.fetch()
	if err != nil {
		log.Error().Err(err).Str("url", s.url).Msg("Dataset load failed, continuing with empty set")
		err = &LoadError{URL: s.url, Err: err}
	} else {
		log.Info().Int("features", len(features)).Str("url", s.url).Msg("Dataset loaded")
	}

	s.mu.Lock()
	s.features = features
	s.mu.Unlock()

	if onLoaded != nil {
		onLoaded(features)
	}
	return err
}

// Features returns the loaded plaque set; nil before Load completes.
func (s *Store) Features() []geo.PlaqueFeature {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.features
}

func (s *Store) fetch() ([]geo.PlaqueFeature, error) {
	body, err := s.source()
	if err != nil {
		return nil, err
	}

	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, err
	}

	return geo.Normalize(fc), nil
}

func fetchNoCache(client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	// Repeated sessions must see the latest published dataset.
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
