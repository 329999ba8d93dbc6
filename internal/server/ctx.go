// Package server handles HTTP requests and the live map session.
package server

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tdewolff/minify/v2"
	mhtml "github.com/tdewolff/minify/v2/html"

	"github.com/casamap/plaquemap/assets"
	"github.com/casamap/plaquemap/internal/config"
	"github.com/casamap/plaquemap/internal/dataset"
)

// ServerContext holds dependencies for request handlers.
type ServerContext struct {
	Config     *config.Config
	Store      *dataset.Store
	IndexHTML  []byte
	MarkerIcon []byte
}

// NewServerContext initializes the context: it builds the dataset
// store from config, performs the one load of the map lifetime,
// minifies the embedded index page and rasterizes the marker icon.
// Dataset failure degrades to an empty map rather than aborting.
func NewServerContext(cfg *config.Config) *ServerContext {
	var store *dataset.Store
	if cfg.Dataset.URL != "" {
		client := &http.Client{Timeout: 15 * time.Second}
		store = dataset.NewStore(client, cfg.Dataset.URL)
	} else {
		store = dataset.NewFileStore(cfg.Dataset.Path)
	}

	if err := store.Load(nil); err != nil {
		log.Error().Err(err).Msg("Starting with empty plaque set")
	}

	icon, err := renderMarkerIcon(markerIconSize)
	if err != nil {
		log.Error().Err(err).Msg("Marker icon rendering failed")
	}

	log.Info().
		Int("features", len(store.Features())).
		Str("default_locale", cfg.DefaultLocale).
		Msg("Server context initialized")

	return &ServerContext{
		Config:     cfg,
		Store:      store,
		IndexHTML:  minifyIndex(assets.Index),
		MarkerIcon: icon,
	}
}

// minifyIndex shrinks the embedded page at startup. On minifier error
// the original bytes are served unchanged.
func minifyIndex(page []byte) []byte {
	m := minify.New()
	m.Add("text/html", &mhtml.Minifier{KeepQuotes: true})

	out, err := m.Bytes("text/html", page)
	if err != nil {
		log.Warn().Err(err).Msg("Index minification failed, serving as-is")
		return page
	}
	return out
}
