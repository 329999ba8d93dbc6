package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casamap/plaquemap/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "attribution: Test\n"))
	require.NoError(t, err)

	assert.Equal(t, "Test", cfg.Attribution)
	assert.Equal(t, config.DefaultDatasetPath, cfg.Dataset.Path)
	assert.Equal(t, []string{"fr", "en"}, cfg.Locales)
	assert.Equal(t, "fr", cfg.DefaultLocale)
	assert.Equal(t, [2]float64{-7.62, 33.59}, cfg.Map.Center)
	assert.Equal(t, 12.0, cfg.Map.Zoom)
	assert.Equal(t, 14.0, cfg.Map.LocateZoom)
	assert.Equal(t, 16.0, cfg.Map.DetailZoom)
}

func TestLoadExplicitValues(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
dataset:
  url: https://example.org/plaques.geojson
locales: [en]
default_locale: en
map:
  center: [2.35, 48.86]
  zoom: 11
`))
	require.NoError(t, err)

	assert.Equal(t, "https://example.org/plaques.geojson", cfg.Dataset.URL)
	assert.Equal(t, [2]float64{2.35, 48.86}, cfg.Map.Center)
	assert.Equal(t, 11.0, cfg.Map.Zoom)
	assert.True(t, cfg.HasLocale("en"))
	assert.False(t, cfg.HasLocale("fr"))
}

func TestLoadRejectsUnknownDefaultLocale(t *testing.T) {
	_, err := config.Load(writeConfig(t, `
locales: [fr, en]
default_locale: de
`))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
