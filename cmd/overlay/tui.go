package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/1F47E/geo-overlay/pkg/audit"
	"github.com/1F47E/geo-overlay/pkg/clock"
	"github.com/1F47E/geo-overlay/pkg/events"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Explore the overlay in the terminal",
	RunE:  runTUI,
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF79C6")).
			Background(lipgloss.Color("#282A36")).
			Padding(0, 1)

	subtitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#8BE9FD"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#50FA7B"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F1FA8C"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6272A4"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#BD93F9")).
			Padding(0, 1)

	statStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFB86C"))
)

// panStep is how far one arrow key press moves the map, in pixels.
const panStep = 64

type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	Left     key.Binding
	Right    key.Binding
	ZoomIn   key.Binding
	ZoomOut  key.Binding
	Next     key.Binding
	Activate key.Binding
	Close    key.Binding
	Audit    key.Binding
	Fix      key.Binding
	Quit     key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Next, k.Activate, k.Close, k.Audit, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Left, k.Right, k.ZoomIn, k.ZoomOut},
		{k.Next, k.Activate, k.Close, k.Audit, k.Fix, k.Quit},
	}
}

var keys = keyMap{
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "pan up")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "pan down")),
	Left:     key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "pan left")),
	Right:    key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "pan right")),
	ZoomIn:   key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "zoom in")),
	ZoomOut:  key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "zoom out")),
	Next:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next marker")),
	Activate: key.NewBinding(key.WithKeys("enter", " "), key.WithHelp("enter", "activate")),
	Close:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "close popup")),
	Audit:    key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "audit")),
	Fix:      key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "audit and fix")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type tickMsg time.Time

type eventMsg events.Event

type tuiModel struct {
	app      *app
	keys     keyMap
	help     help.Model
	spinner  spinner.Model
	events   <-chan events.Event
	cancel   func()
	selected string
	report   *audit.Report
	messages []string
	err      error
	width    int
	height   int
}

func newTUIModel(a *app) tuiModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF79C6"))

	ch, cancel := a.overlay.Events().Subscribe(0)

	m := tuiModel{
		app:     a,
		keys:    keys,
		help:    help.New(),
		spinner: s,
		events:  ch,
		cancel:  cancel,
		width:   80,
		height:  24,
	}
	if ids := m.markerIDs(); len(ids) > 0 {
		m.selected = ids[0]
	}
	return m
}

func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func tick() tea.Cmd {
	return tea.Tick(30*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

// busy reports whether a recenter or deferred open is in flight.
func (m tuiModel) busy() bool {
	_, pending := m.app.overlay.Pending()
	return pending || m.app.view.Animating()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		if m.busy() {
			return m, tick()
		}
		return m, nil

	case eventMsg:
		m.note(fmt.Sprintf("%s %s", events.Event(msg).Type, msg.LocationID))
		return m, waitForEvent(m.events)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ov, view := m.app.overlay, m.app.view
	m.err = nil

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		view.Pan(0, panStep)
	case key.Matches(msg, m.keys.Down):
		view.Pan(0, -panStep)
	case key.Matches(msg, m.keys.Left):
		view.Pan(panStep, 0)
	case key.Matches(msg, m.keys.Right):
		view.Pan(-panStep, 0)
	case key.Matches(msg, m.keys.ZoomIn):
		view.ZoomBy(1)
	case key.Matches(msg, m.keys.ZoomOut):
		view.ZoomBy(-1)
	case key.Matches(msg, m.keys.Next):
		m.selectNext()
	case key.Matches(msg, m.keys.Activate):
		if m.selected == "" {
			return m, nil
		}
		if err := ov.Activate(m.selected); err != nil {
			m.err = err
			return m, nil
		}
		return m, tick()
	case key.Matches(msg, m.keys.Close):
		ov.ClickOutside()
	case key.Matches(msg, m.keys.Audit), key.Matches(msg, m.keys.Fix):
		report := ov.Audit(key.Matches(msg, m.keys.Fix))
		m.report = &report
		m.note(fmt.Sprintf("audit: %d issues", len(report.Issues)))
	}
	return m, nil
}

func (m *tuiModel) note(s string) {
	m.messages = append(m.messages, time.Now().Format("15:04:05")+" "+s)
	if len(m.messages) > 5 {
		m.messages = m.messages[1:]
	}
}

// markerIDs lists visible markers, falling back to every marker.
func (m tuiModel) markerIDs() []string {
	ids := m.app.overlay.Visible()
	if len(ids) == 0 {
		for _, mk := range m.app.overlay.Markers() {
			ids = append(ids, mk.LocationID)
		}
		sort.Strings(ids)
	}
	return ids
}

func (m *tuiModel) selectNext() {
	ids := m.markerIDs()
	if len(ids) == 0 {
		m.selected = ""
		return
	}
	i := sort.SearchStrings(ids, m.selected)
	if i < len(ids) && ids[i] == m.selected {
		i++
	}
	m.selected = ids[i%len(ids)]
}

func (m tuiModel) View() string {
	var b strings.Builder

	vp := m.app.view.Viewport()
	b.WriteString(titleStyle.Render("Geo Overlay"))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %.5f, %.5f  z%.1f  %d markers",
		vp.Center.Lat, vp.Center.Lon, vp.Zoom, m.app.overlay.Len())))
	if m.busy() {
		b.WriteString("  " + m.spinner.View() + infoStyle.Render(" recentering"))
	}
	b.WriteString("\n\n")

	b.WriteString(m.renderMap())
	b.WriteString("\n")
	b.WriteString(m.renderStatus())

	if m.err != nil {
		b.WriteString("\n" + errorStyle.Render(m.err.Error()))
	}
	if len(m.messages) > 0 {
		b.WriteString("\n")
		for _, msg := range m.messages {
			b.WriteString(dimStyle.Render("• "+msg) + "\n")
		}
	}
	b.WriteString("\n" + m.help.View(m.keys))
	return b.String()
}

// renderMap draws markers on a character grid scaled from the viewport.
func (m tuiModel) renderMap() string {
	cols := max(m.width-4, 20)
	rows := max(m.height-16, 8)

	vp := m.app.view.Viewport()
	pad := m.app.overlay.Padding()
	grid := make([][]string, rows)
	for r := range grid {
		grid[r] = make([]string, cols)
		y := (float64(r) + 0.5) / float64(rows) * vp.Height
		for c := range grid[r] {
			x := (float64(c) + 0.5) / float64(cols) * vp.Width
			if x < pad.Left || x > vp.Width-pad.Right || y < pad.Top || y > vp.Height-pad.Bottom {
				grid[r][c] = dimStyle.Render("░")
			} else {
				grid[r][c] = " "
			}
		}
	}

	open, _ := m.app.overlay.Open()
	for _, mk := range m.app.overlay.Markers() {
		if !mk.Placed || mk.Position.X < 0 || mk.Position.Y < 0 || mk.Position.X >= vp.Width || mk.Position.Y >= vp.Height {
			continue
		}
		c := int(mk.Position.X / vp.Width * float64(cols))
		r := int(mk.Position.Y / vp.Height * float64(rows))
		switch {
		case mk.LocationID == open:
			grid[r][c] = successStyle.Render("◉")
		case mk.LocationID == m.selected:
			grid[r][c] = statStyle.Render("●")
		default:
			grid[r][c] = infoStyle.Render("•")
		}
	}

	lines := make([]string, rows)
	for r := range grid {
		lines[r] = strings.Join(grid[r], "")
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func (m tuiModel) renderStatus() string {
	var b strings.Builder
	if mk, ok := m.app.overlay.Marker(m.selected); ok {
		b.WriteString(subtitleStyle.Render("Selected: "))
		b.WriteString(statStyle.Render(mk.LocationID))
		if mk.Name != "" {
			b.WriteString(" " + mk.Name)
		}
		b.WriteString(dimStyle.Render(fmt.Sprintf("  (%.5f, %.5f) at %.0f,%.0f",
			mk.Location.Lat, mk.Location.Lon, mk.Position.X, mk.Position.Y)))
		if mk.Open {
			b.WriteString(successStyle.Render("  popup open"))
		}
		b.WriteString("\n")
	}
	if m.report != nil {
		b.WriteString(renderReport(*m.report))
	}
	return b.String()
}

func renderReport(r audit.Report) string {
	line := fmt.Sprintf("Audit: %s total, %s visible, %s hidden",
		statStyle.Render(fmt.Sprint(r.Total)),
		successStyle.Render(fmt.Sprint(r.Visible)),
		errorStyle.Render(fmt.Sprint(r.Hidden)))
	if n := len(r.Issues); n > 0 {
		line += fmt.Sprintf(", %d issues (%d fixed)", n, r.Fixed())
	}
	return line + "\n"
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a := newApp(cfg, clock.Real(), nil, io.Discard)
	defer a.overlay.Teardown()

	if _, err := a.render(cmd.Context()); err != nil {
		return err
	}

	_, err = tea.NewProgram(newTUIModel(a), tea.WithAltScreen()).Run()
	return err
}
