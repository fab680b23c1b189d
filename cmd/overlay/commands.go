package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/1F47E/geo-overlay/pkg/clock"
	"github.com/1F47E/geo-overlay/pkg/mapview"
	"github.com/1F47E/geo-overlay/pkg/postgis"
	"github.com/1F47E/geo-overlay/pkg/records"
	"github.com/1F47E/geo-overlay/pkg/snapshot"
)

var (
	asJSON     bool
	fixIssues  bool
	outputFile string
	activateID string
	drawGuides bool
	initSchema bool
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render markers for the location list",
	Long:  `Load the location list, render one marker per valid record and print each marker's screen position.`,
	RunE:  runRender,
}

var activateCmd = &cobra.Command{
	Use:   "activate <location-id>",
	Short: "Activate a marker and report the recenter plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runActivate,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit rendered markers for visibility problems",
	RunE:  runAudit,
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Write a PNG of the marker layer",
	RunE:  runSnapshot,
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Copy the locations file into PostGIS",
	RunE:  runImport,
}

func init() {
	renderCmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	activateCmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of text")
	auditCmd.Flags().BoolVar(&fixIssues, "fix", false, "Repair the issues found")
	auditCmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of text")
	snapshotCmd.Flags().StringVarP(&outputFile, "output", "o", "overlay.png", "PNG output path")
	snapshotCmd.Flags().StringVar(&activateID, "activate", "", "Activate this marker before drawing")
	snapshotCmd.Flags().BoolVar(&drawGuides, "guides", false, "Draw the edge padding")
	importCmd.Flags().BoolVar(&initSchema, "init-schema", true, "Create the table and index first")
}

// oneShot builds an app on a manual clock so recenter animations can be
// fast-forwarded.
func oneShot(ctx context.Context) (*app, *clock.Manual, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	clk := clock.NewManual(time.Now())
	a := newApp(cfg, clk, nil, os.Stderr)
	if _, err := a.render(ctx); err != nil {
		a.overlay.Teardown()
		return nil, nil, err
	}
	return a, clk, nil
}

// settle runs the clock past any recenter animation and deferred open.
func (a *app) settle(clk *clock.Manual) {
	clk.Advance(a.cfg.AnimationDuration() + a.cfg.SettleDelay() + 2*mapview.DefaultFrameInterval)
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a := newApp(cfg, clock.Real(), nil, os.Stderr)
	defer a.overlay.Teardown()

	summary, err := a.render(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, map[string]any{
			"summary": summary,
			"markers": a.overlay.Markers(),
			"visible": a.overlay.Visible(),
		})
	}

	fmt.Fprintf(out, "Rendered %d markers, skipped %d\n\n", summary.Rendered, len(summary.Skipped))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLAT\tLON\tX\tY")
	for _, m := range a.overlay.Markers() {
		fmt.Fprintf(tw, "%s\t%s\t%.6f\t%.6f\t%.1f\t%.1f\n",
			m.LocationID, m.Name, m.Location.Lat, m.Location.Lon, m.Position.X, m.Position.Y)
	}
	return tw.Flush()
}

func runActivate(cmd *cobra.Command, args []string) error {
	a, clk, err := oneShot(cmd.Context())
	if err != nil {
		return err
	}
	defer a.overlay.Teardown()

	id := args[0]
	plan, err := a.overlay.Plan(id)
	if err != nil {
		return err
	}
	if err := a.overlay.Activate(id); err != nil {
		return err
	}
	a.settle(clk)

	open, _ := a.overlay.Open()
	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, map[string]any{
			"plan":     plan,
			"open":     open,
			"viewport": a.view.Viewport(),
		})
	}

	if len(plan.Violations) == 0 {
		fmt.Fprintf(out, "%s fits inside the padded viewport, no recenter\n", id)
	} else {
		fmt.Fprintf(out, "%s intrudes on %v, shifting %.1f,%.1f px\n", id, plan.Violations, plan.ShiftX, plan.ShiftY)
		if plan.BestEffort {
			fmt.Fprintln(out, "footprint is larger than the padded viewport, centred best effort")
		}
	}
	c := a.view.Viewport().Center
	fmt.Fprintf(out, "centre: %.6f, %.6f\nopen popup: %s\n", c.Lat, c.Lon, open)
	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	a, _, err := oneShot(cmd.Context())
	if err != nil {
		return err
	}
	defer a.overlay.Teardown()

	report := a.overlay.Audit(fixIssues)
	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, report)
	}

	fmt.Fprintf(out, "Markers: %d total, %d visible, %d hidden\n", report.Total, report.Visible, report.Hidden)
	for _, is := range report.Issues {
		status := "open"
		if is.Fixed {
			status = "fixed"
		}
		fmt.Fprintf(out, "  [%s] %s %s: %s (%s)\n", status, is.Category, is.LocationID, is.Description, is.Fix)
	}
	return nil
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	a, clk, err := oneShot(cmd.Context())
	if err != nil {
		return err
	}
	defer a.overlay.Teardown()

	if activateID != "" {
		if err := a.overlay.Activate(activateID); err != nil {
			return err
		}
		a.settle(clk)
	}

	opts := snapshot.Options{}
	if drawGuides {
		pad := a.overlay.Padding()
		opts.Padding = &pad
	}

	f, err := os.Create(outputFile)
	if err != nil {
		return err
	}
	if err := snapshot.WritePNG(f, a.overlay.Surface(), a.view.Viewport(), opts); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Snapshot saved to %s\n", outputFile)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Locations.File == "" || cfg.PostGIS.DSN == "" {
		return fmt.Errorf("import needs both --locations and --dsn")
	}

	recs, err := records.Load(cfg.Locations.File)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := postgis.Open(ctx, cfg.PostGIS.DSN, cfg.PostGIS.Table)
	if err != nil {
		return err
	}
	defer store.Close()

	if initSchema {
		if err := store.InitSchema(ctx); err != nil {
			return err
		}
	}

	start := time.Now()
	written, skipped, err := store.Upsert(ctx, recs)
	if err != nil {
		return err
	}
	total, err := store.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d locations (%d skipped) in %v, table holds %d\n",
		written, skipped, time.Since(start), total)
	return nil
}
