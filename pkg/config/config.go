// Package config loads overlay settings: built-in defaults, then an optional
// YAML file, then OVERLAY_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/1F47E/geo-overlay/pkg/models"
	"github.com/1F47E/geo-overlay/pkg/projection"
)

// EnvPrefix marks environment overrides. Nested keys use a double
// underscore: OVERLAY_VIEWPORT__WIDTH sets viewport.width.
const EnvPrefix = "OVERLAY_"

var ErrInvalid = errors.New("invalid config")

type Viewport struct {
	Width     float64 `koanf:"width" yaml:"width"`
	Height    float64 `koanf:"height" yaml:"height"`
	Zoom      float64 `koanf:"zoom" yaml:"zoom"`
	CenterLat float64 `koanf:"center_lat" yaml:"center_lat"`
	CenterLon float64 `koanf:"center_lon" yaml:"center_lon"`
}

type Marker struct {
	Width  float64 `koanf:"width" yaml:"width"`
	Height float64 `koanf:"height" yaml:"height"`
}

type Popup struct {
	Width  float64 `koanf:"width" yaml:"width"`
	Height float64 `koanf:"height" yaml:"height"`
	Offset float64 `koanf:"offset" yaml:"offset"`
}

type Animation struct {
	DurationMS int `koanf:"duration_ms" yaml:"duration_ms"`
	SettleMS   int `koanf:"settle_ms" yaml:"settle_ms"`
}

type Server struct {
	Addr     string `koanf:"addr" yaml:"addr"`
	AllowAll bool   `koanf:"allow_all" yaml:"allow_all"`
}

type PostGIS struct {
	DSN   string `koanf:"dsn" yaml:"dsn"`
	Table string `koanf:"table" yaml:"table"`
}

type Locations struct {
	File string `koanf:"file" yaml:"file"`
}

// Config is the full set of overlay settings.
type Config struct {
	LogLevel  string             `koanf:"log_level" yaml:"log_level"`
	Viewport  Viewport           `koanf:"viewport" yaml:"viewport"`
	Padding   models.EdgePadding `koanf:"padding" yaml:"padding"`
	Marker    Marker             `koanf:"marker" yaml:"marker"`
	Popup     Popup              `koanf:"popup" yaml:"popup"`
	Animation Animation          `koanf:"animation" yaml:"animation"`
	Server    Server             `koanf:"server" yaml:"server"`
	PostGIS   PostGIS            `koanf:"postgis" yaml:"postgis"`
	Locations Locations          `koanf:"locations" yaml:"locations"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Viewport: Viewport{
			Width:     1024,
			Height:    768,
			Zoom:      12,
			CenterLat: 40.7128,
			CenterLon: -74.0060,
		},
		Padding:   models.UniformPadding(models.MinEdgePadding),
		Marker:    Marker{Width: 30, Height: 30},
		Popup:     Popup{Width: 280, Height: 200, Offset: 10},
		Animation: Animation{DurationMS: 300, SettleMS: 50},
		Server:    Server{Addr: ":8080"},
		PostGIS:   PostGIS{Table: "overlay_locations"},
	}
}

// Load reads configuration from path when it exists, then overlays
// environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Padding = cfg.Padding.Clamped()
	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the overlay cannot run with. Paddings below the
// floor are not errors; they are clamped.
func (c *Config) Validate() error {
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		return fmt.Errorf("%w: viewport must have a positive size", ErrInvalid)
	}
	if c.Viewport.Zoom < projection.MinZoom || c.Viewport.Zoom > projection.MaxZoom {
		return fmt.Errorf("%w: zoom %v outside %v..%v", ErrInvalid, c.Viewport.Zoom, projection.MinZoom, projection.MaxZoom)
	}
	if c.Viewport.CenterLat < -90 || c.Viewport.CenterLat > 90 ||
		c.Viewport.CenterLon < -180 || c.Viewport.CenterLon > 180 {
		return fmt.Errorf("%w: viewport centre out of range", ErrInvalid)
	}
	p := c.Padding
	if p.Top < 0 || p.Right < 0 || p.Bottom < 0 || p.Left < 0 {
		return fmt.Errorf("%w: padding must be non-negative", ErrInvalid)
	}
	if c.Marker.Width <= 0 || c.Marker.Height <= 0 {
		return fmt.Errorf("%w: marker must have a positive size", ErrInvalid)
	}
	if c.Popup.Width <= 0 || c.Popup.Height <= 0 || c.Popup.Offset < 0 {
		return fmt.Errorf("%w: popup must have a positive size and non-negative offset", ErrInvalid)
	}
	if c.Animation.DurationMS < 0 || c.Animation.SettleMS < 0 {
		return fmt.Errorf("%w: animation timings must be non-negative", ErrInvalid)
	}
	return nil
}

// ViewportState returns the configured starting viewport.
func (c *Config) ViewportState() projection.Viewport {
	return projection.Viewport{
		Center: models.Location{Lat: c.Viewport.CenterLat, Lon: c.Viewport.CenterLon},
		Zoom:   c.Viewport.Zoom,
		Width:  c.Viewport.Width,
		Height: c.Viewport.Height,
	}
}

func (c *Config) MarkerSize() models.Size {
	return models.Size{Width: c.Marker.Width, Height: c.Marker.Height}
}

func (c *Config) PopupSize() models.Size {
	return models.Size{Width: c.Popup.Width, Height: c.Popup.Height}
}

func (c *Config) AnimationDuration() time.Duration {
	return time.Duration(c.Animation.DurationMS) * time.Millisecond
}

func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Animation.SettleMS) * time.Millisecond
}
