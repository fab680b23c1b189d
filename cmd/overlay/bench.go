package main

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/1F47E/geo-overlay/pkg/clock"
	"github.com/1F47E/geo-overlay/pkg/models"
	"github.com/1F47E/geo-overlay/pkg/projection"
)

var (
	benchType    string
	benchMarkers int
	benchOps     int
	benchWorkers int
	benchSpread  float64
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark reposition, hit testing and culling",
	Long: `Render random markers around the configured viewport and measure the cost of
a reposition frame, concurrent hit tests and viewport culling.`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().StringVarP(&benchType, "type", "t", "mixed", "Benchmark type: reposition, hittest, visible, activate, mixed")
	benchCmd.Flags().IntVarP(&benchMarkers, "markers", "m", 5000, "Number of markers to render")
	benchCmd.Flags().IntVarP(&benchOps, "ops", "n", 1000, "Operations (frames or queries) to run")
	benchCmd.Flags().IntVarP(&benchWorkers, "workers", "w", runtime.NumCPU(), "Concurrent workers for query benchmarks")
	benchCmd.Flags().Float64Var(&benchSpread, "spread", 3, "Marker area as a multiple of the viewport size")
}

type benchResult struct {
	Type          string
	TotalOps      int
	TotalDuration time.Duration
	AvgDuration   time.Duration
	OpsPerSec     float64
	MinDuration   time.Duration
	MaxDuration   time.Duration
	TotalResults  int64
}

func (r benchResult) print(w io.Writer) {
	fmt.Fprintf(w, "\n=== %s ===\n", r.Type)
	fmt.Fprintf(w, "Operations: %d\n", r.TotalOps)
	fmt.Fprintf(w, "Total Duration: %v\n", r.TotalDuration)
	fmt.Fprintf(w, "Average Duration: %v\n", r.AvgDuration)
	fmt.Fprintf(w, "Ops/Second: %.2f\n", r.OpsPerSec)
	fmt.Fprintf(w, "Min Duration: %v\n", r.MinDuration)
	fmt.Fprintf(w, "Max Duration: %v\n", r.MaxDuration)
	if r.TotalOps > 0 {
		fmt.Fprintf(w, "Avg Results/Op: %.2f\n", float64(r.TotalResults)/float64(r.TotalOps))
	}
}

// durations collects per-operation timings from several goroutines.
type durations struct {
	mu       sync.Mutex
	total    time.Duration
	min, max time.Duration
	n        int
}

func (d *durations) add(v time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.n == 0 || v < d.min {
		d.min = v
	}
	if v > d.max {
		d.max = v
	}
	d.total += v
	d.n++
}

func (d *durations) result(kind string, elapsed time.Duration, results int64) benchResult {
	r := benchResult{
		Type:          kind,
		TotalOps:      d.n,
		TotalDuration: elapsed,
		MinDuration:   d.min,
		MaxDuration:   d.max,
		TotalResults:  results,
	}
	if d.n > 0 {
		r.AvgDuration = d.total / time.Duration(d.n)
		r.OpsPerSec = float64(d.n) / elapsed.Seconds()
	}
	return r
}

// randomRecords scatters n records over an area spread times the viewport.
func randomRecords(vp projection.Viewport, n int, spread float64, r *rand.Rand) []models.LocationRecord {
	recs := make([]models.LocationRecord, n)
	w, h := vp.Width*spread, vp.Height*spread
	x0, y0 := (vp.Width-w)/2, (vp.Height-h)/2
	for i := range recs {
		loc := vp.Unproject(models.ScreenPoint{X: x0 + r.Float64()*w, Y: y0 + r.Float64()*h})
		recs[i] = models.LocationRecord{
			ID:       fmt.Sprintf("loc_%d", i),
			Location: &loc,
			Name:     fmt.Sprintf("Location %d", i),
		}
	}
	return recs
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.LogLevel = "error"
	if benchWorkers < 1 {
		benchWorkers = 1
	}

	out := cmd.OutOrStdout()
	clk := clock.NewManual(time.Now())
	a := newApp(cfg, clk, nil, os.Stderr)
	defer a.overlay.Teardown()

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	start := time.Now()
	summary := a.overlay.SetLocations(randomRecords(a.view.Viewport(), benchMarkers, benchSpread, r))
	fmt.Fprintf(out, "Rendered %d markers in %v\n", summary.Rendered, time.Since(start))

	var results []benchResult
	switch benchType {
	case "reposition":
		results = append(results, benchReposition(a, benchOps))
	case "hittest":
		results = append(results, benchHitTest(a, benchOps, benchWorkers))
	case "visible":
		results = append(results, benchVisible(a, benchOps, benchWorkers))
	case "activate":
		results = append(results, benchActivate(a, clk, benchOps, r))
	case "mixed":
		results = append(results,
			benchReposition(a, benchOps),
			benchHitTest(a, benchOps, benchWorkers),
			benchVisible(a, benchOps, benchWorkers),
			benchActivate(a, clk, benchOps, r),
		)
	default:
		return fmt.Errorf("unknown benchmark type: %s", benchType)
	}

	for _, res := range results {
		res.print(out)
	}
	fmt.Fprintf(out, "\nWorkers Used: %d\nCPU Cores: %d\n", benchWorkers, runtime.NumCPU())
	return nil
}

// benchReposition pans one pixel per frame, which reprojects every marker.
func benchReposition(a *app, frames int) benchResult {
	var d durations
	start := time.Now()
	for i := 0; i < frames; i++ {
		dx := 1.0
		if i%2 == 1 {
			dx = -1
		}
		t := time.Now()
		a.view.Pan(dx, 0)
		d.add(time.Since(t))
	}
	return d.result("reposition", time.Since(start), int64(frames)*int64(a.overlay.Len()))
}

// parallel runs n ops over a worker pool. op returns its result count.
func parallel(kind string, n, workers int, op func(r *rand.Rand) int) benchResult {
	var (
		d       durations
		results atomic.Int64
		wg      sync.WaitGroup
	)
	jobs := make(chan int, n)
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)

	start := time.Now()
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for range jobs {
				t := time.Now()
				got := op(r)
				d.add(time.Since(t))
				results.Add(int64(got))
			}
		}(rand.Int63())
	}
	wg.Wait()
	return d.result(kind, time.Since(start), results.Load())
}

func benchHitTest(a *app, n, workers int) benchResult {
	vp := a.view.Viewport()
	return parallel("hittest", n, workers, func(r *rand.Rand) int {
		if _, ok := a.overlay.HitTest(r.Float64()*vp.Width, r.Float64()*vp.Height); ok {
			return 1
		}
		return 0
	})
}

func benchVisible(a *app, n, workers int) benchResult {
	return parallel("visible", n, workers, func(*rand.Rand) int {
		return len(a.overlay.Visible())
	})
}

// benchActivate activates random markers and fast-forwards each recenter.
func benchActivate(a *app, clk *clock.Manual, n int, r *rand.Rand) benchResult {
	markers := a.overlay.Markers()
	var d durations
	if len(markers) == 0 {
		return d.result("activate", 0, 0)
	}

	home := a.view.Viewport()
	var moved int64
	start := time.Now()
	for i := 0; i < n; i++ {
		id := markers[r.Intn(len(markers))].LocationID
		t := time.Now()
		if err := a.overlay.Activate(id); err != nil {
			continue
		}
		if _, pending := a.overlay.Pending(); pending {
			moved++
		}
		a.settle(clk)
		d.add(time.Since(t))
		a.view.SetViewport(home)
	}
	return d.result("activate", time.Since(start), moved)
}
