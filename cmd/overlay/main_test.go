package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1F47E/geo-overlay/pkg/clock"
	"github.com/1F47E/geo-overlay/pkg/config"
	"github.com/1F47E/geo-overlay/pkg/overlay"
)

const locationsYAML = `locations:
  - id: hall
    name: City Hall
    location: {lat: 40.7128, lon: -74.0060}
  - id: pier
    name: Pier
    location: {lat: 40.7200, lon: -74.0300}
  - id: broken
    location: {lat: 123, lon: 0}
`

func writeLocations(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "locations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(locationsYAML), 0o644))
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "--log-level", "disabled"))
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		locationsFile, logLevel, asJSON = "", "", false
	})
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestRenderCommand(t *testing.T) {
	out := execute(t, "render", "--json", "--locations", writeLocations(t))

	var body struct {
		Summary overlay.Summary  `json:"summary"`
		Markers []overlay.Marker `json:"markers"`
		Visible []string         `json:"visible"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, 2, body.Summary.Rendered)
	require.Len(t, body.Summary.Skipped, 1)
	assert.Equal(t, "broken", body.Summary.Skipped[0].LocationID)
	assert.Len(t, body.Markers, 2)
	assert.ElementsMatch(t, []string{"hall", "pier"}, body.Visible)
}

func TestActivateCommand(t *testing.T) {
	out := execute(t, "activate", "hall", "--locations", writeLocations(t))
	assert.Contains(t, out, "no recenter")
	assert.Contains(t, out, "open popup: hall")
}

func TestRenderWithoutSource(t *testing.T) {
	rootCmd.SetArgs([]string{"render", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	defer rootCmd.SetArgs(nil)

	assert.ErrorIs(t, rootCmd.Execute(), errNoSource)
}

func TestDurations(t *testing.T) {
	var d durations
	d.add(3 * time.Millisecond)
	d.add(1 * time.Millisecond)
	d.add(2 * time.Millisecond)

	r := d.result("x", 10*time.Millisecond, 6)
	assert.Equal(t, 3, r.TotalOps)
	assert.Equal(t, time.Millisecond, r.MinDuration)
	assert.Equal(t, 3*time.Millisecond, r.MaxDuration)
	assert.Equal(t, 2*time.Millisecond, r.AvgDuration)
	assert.InDelta(t, 300, r.OpsPerSec, 1e-6)
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg := config.Default()
	cfg.LogLevel = "disabled"
	cfg.Locations.File = writeLocations(t)
	a := newApp(cfg, clock.NewManual(time.Now()), nil, os.Stderr)
	t.Cleanup(a.overlay.Teardown)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	_, err := a.render(ctx)
	require.NoError(t, err)
	return a
}

func TestRandomRecordsStayInSpread(t *testing.T) {
	a := newTestApp(t)
	vp := a.view.Viewport()

	recs := randomRecords(vp, 200, 1, rand.New(rand.NewSource(1)))
	summary := a.overlay.SetLocations(recs)
	assert.Equal(t, 200, summary.Rendered)
	assert.Len(t, a.overlay.Visible(), 200)
}

func TestTUIModel(t *testing.T) {
	a := newTestApp(t)
	m := newTUIModel(a)
	require.Equal(t, "hall", m.selected)

	m.selectNext()
	assert.Equal(t, "pier", m.selected)
	m.selectNext()
	assert.Equal(t, "hall", m.selected)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(tuiModel)
	require.NoError(t, m.err)
	open, ok := a.overlay.Open()
	require.True(t, ok)
	assert.Equal(t, "hall", open)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(tuiModel)
	_, ok = a.overlay.Open()
	assert.False(t, ok)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}})
	m = next.(tuiModel)
	require.NotNil(t, m.report)
	assert.Equal(t, 2, m.report.Total)

	assert.Contains(t, m.View(), "Geo Overlay")
}
