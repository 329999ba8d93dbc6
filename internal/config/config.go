// Package config handles configuration loading and shared defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file leaves fields unset. The map
// numbers match the published Casablanca plaque map.
const (
	DefaultDatasetPath = "data/plaques.geojson"
	DefaultLocale      = "fr"

	DefaultCenterLng  = -7.62
	DefaultCenterLat  = 33.59
	DefaultZoom       = 12.0
	DefaultLocateZoom = 14.0
	DefaultDetailZoom = 16.0
)

// Config is the root configuration file structure.
type Config struct {
	Attribution string  `yaml:"attribution,omitempty" json:"attribution,omitempty"`
	Dataset     Dataset `yaml:"dataset" json:"dataset"`
	Map         MapView `yaml:"map,omitempty" json:"map"`

	Locales       []string `yaml:"locales,omitempty" json:"locales"`
	DefaultLocale string   `yaml:"default_locale,omitempty" json:"default_locale"`
}

// Dataset points at the plaque feature collection. Exactly one of URL
// or Path is used; URL wins when both are set.
type Dataset struct {
	URL  string `yaml:"url,omitempty" json:"-"`
	Path string `yaml:"path,omitempty" json:"-"`
}

// MapView carries the camera defaults handed to the map collaborator.
type MapView struct {
	Center     [2]float64 `yaml:"center,omitempty" json:"center"` // [lng, lat]
	Zoom       float64    `yaml:"zoom,omitempty" json:"zoom"`
	LocateZoom float64    `yaml:"locate_zoom,omitempty" json:"locate_zoom"`
	DetailZoom float64    `yaml:"detail_zoom,omitempty" json:"detail_zoom"`
}

// Load reads and parses the YAML configuration file from the specified
// path, then fills in defaults for anything unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Dataset.URL == "" && c.Dataset.Path == "" {
		c.Dataset.Path = DefaultDatasetPath
	}
	if len(c.Locales) == 0 {
		c.Locales = []string{"fr", "en"}
	}
	if c.DefaultLocale == "" {
		c.DefaultLocale = DefaultLocale
	}
	if c.Map.Center == [2]float64{} {
		c.Map.Center = [2]float64{DefaultCenterLng, DefaultCenterLat}
	}
	if c.Map.Zoom <= 0 {
		c.Map.Zoom = DefaultZoom
	}
	if c.Map.LocateZoom <= 0 {
		c.Map.LocateZoom = DefaultLocateZoom
	}
	if c.Map.DetailZoom <= 0 {
		c.Map.DetailZoom = DefaultDetailZoom
	}
}

func (c *Config) validate() error {
	for _, loc := range c.Locales {
		if loc == c.DefaultLocale {
			return nil
		}
	}
	return fmt.Errorf("default locale %q not in locales %v", c.DefaultLocale, c.Locales)
}

// HasLocale reports whether loc is a configured locale.
func (c *Config) HasLocale(loc string) bool {
	for _, l := range c.Locales {
		if l == loc {
			return true
		}
	}
	return false
}
