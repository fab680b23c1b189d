package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/1F47E/geo-overlay/pkg/clock"
	"github.com/1F47E/geo-overlay/pkg/metrics"
	"github.com/1F47E/geo-overlay/pkg/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the overlay over HTTP",
	Long:  `Render the location list and expose markers, activation, audits, snapshots, metrics and a websocket event stream.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	a := newApp(cfg, clock.Real(), m, os.Stderr)
	defer a.overlay.Teardown()

	summary, err := a.render(ctx)
	if err != nil {
		return err
	}
	a.log.Info().Int("rendered", summary.Rendered).Int("skipped", len(summary.Skipped)).Msg("locations loaded")

	srv := server.New(server.Config{Addr: cfg.Server.Addr, AllowAll: cfg.Server.AllowAll}, a.overlay, a.view, m, a.log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	a.log.Info().Msg("server stopped")
	return err
}
