package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/1F47E/geo-overlay/pkg/clock"
	"github.com/1F47E/geo-overlay/pkg/config"
	"github.com/1F47E/geo-overlay/pkg/logging"
	"github.com/1F47E/geo-overlay/pkg/mapview"
	"github.com/1F47E/geo-overlay/pkg/metrics"
	"github.com/1F47E/geo-overlay/pkg/models"
	"github.com/1F47E/geo-overlay/pkg/overlay"
	"github.com/1F47E/geo-overlay/pkg/postgis"
	"github.com/1F47E/geo-overlay/pkg/records"
)

var (
	configFile    string
	logLevel      string
	locationsFile string
	dsn           string
)

var errNoSource = errors.New("no location source: pass --locations or --dsn")

var rootCmd = &cobra.Command{
	Use:   "overlay",
	Short: "Edge-aware map marker overlay",
	Long: `Renders location markers over a map viewport, keeps them projected as the
viewport moves, recenters the map so an activated marker's popup is never
clipped, and audits markers for broken visibility.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "overlay.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&locationsFile, "locations", "l", "", "YAML or GeoJSON locations file")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "PostGIS connection string")

	rootCmd.AddCommand(renderCmd, activateCmd, auditCmd, snapshotCmd, importCmd, serveCmd, tuiCmd, benchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is one overlay drawn over an in-process map view.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	clock   clock.Clock
	view    *mapview.View
	overlay *overlay.Overlay
	metrics *metrics.Metrics
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if locationsFile != "" {
		cfg.Locations.File = locationsFile
	}
	if dsn != "" {
		cfg.PostGIS.DSN = dsn
	}
	return cfg, nil
}

// newApp wires an overlay from config. logOut receives the log stream.
func newApp(cfg *config.Config, clk clock.Clock, m *metrics.Metrics, logOut io.Writer) *app {
	log := logging.New(cfg.LogLevel, logOut)
	view := mapview.New(cfg.ViewportState(), mapview.Options{Clock: clk, Logger: log})
	ov := overlay.New(view, overlay.Options{
		Padding:           cfg.Padding,
		MarkerSize:        cfg.MarkerSize(),
		PopupSize:         cfg.PopupSize(),
		PopupOffset:       cfg.Popup.Offset,
		AnimationDuration: cfg.AnimationDuration(),
		SettleDelay:       cfg.SettleDelay(),
		Clock:             clk,
		Metrics:           m,
		Logger:            log,
	})
	return &app{cfg: cfg, log: log, clock: clk, view: view, overlay: ov, metrics: m}
}

// loadLocations reads the location list from the configured file, or
// from PostGIS for the area the viewport covers.
func (a *app) loadLocations(ctx context.Context) ([]models.LocationRecord, error) {
	switch {
	case a.cfg.Locations.File != "":
		return records.Load(a.cfg.Locations.File)
	case a.cfg.PostGIS.DSN != "":
		store, err := postgis.Open(ctx, a.cfg.PostGIS.DSN, a.cfg.PostGIS.Table)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.LoadBox(ctx, a.view.Viewport().Bounds())
	default:
		return nil, errNoSource
	}
}

// render loads locations and draws them, returning the render summary.
func (a *app) render(ctx context.Context) (overlay.Summary, error) {
	recs, err := a.loadLocations(ctx)
	if err != nil {
		return overlay.Summary{}, fmt.Errorf("load locations: %w", err)
	}
	summary := a.overlay.SetLocations(recs)
	for _, s := range summary.Skipped {
		a.log.Warn().Str("location_id", s.LocationID).Str("reason", s.Reason).Msg(s.Error)
	}
	return summary, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
