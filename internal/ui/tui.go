package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// stopTimeout bounds how long Stop waits for the program to exit.
const stopTimeout = 2 * time.Second

// TUIRenderer draws live progress with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *syncModel
	tracker *ProgressTracker
	started bool
	done    chan struct{}
}

// NewTUIRenderer fails when the output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}
	tracker := NewProgressTracker()
	model := newSyncModel(tracker, cfg.Title)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}
	return &TUIRenderer{cfg: cfg, tracker: tracker, model: model, done: make(chan struct{})}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	var opts []tea.ProgramOption
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	// Ctrl+C is delivered to the process, which cancels the sync context.
	opts = append(opts, tea.WithoutSignalHandler(), tea.WithInput(nil))

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true
	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.tracker.Apply(event)
	r.send(refreshMsg{})
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.tracker.AddError(event)
	r.send(refreshMsg{})
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.tracker.Apply(ProgressEvent{Stage: StageComplete})
	r.send(completeMsg(stats))
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	p, started := r.program, r.started
	r.mu.Unlock()
	if !started {
		return nil
	}
	p.Quit()
	select {
	case <-r.done:
	case <-time.After(stopTimeout):
	}
	return nil
}

type (
	refreshMsg  struct{}
	completeMsg CompletionStats
	tickMsg     time.Time
)

// syncModel is the bubbletea model for a sync pass.
type syncModel struct {
	tracker  *ProgressTracker
	title    string
	width    int
	complete bool
	stats    CompletionStats
	spinner  spinner.Model
	bar      progress.Model
	styles   Styles
}

func newSyncModel(tracker *ProgressTracker, title string) *syncModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))
	return &syncModel{
		tracker: tracker,
		title:   title,
		width:   80,
		spinner: s,
		bar:     progress.New(progress.WithSolidFill(ColorAccent), progress.WithWidth(50), progress.WithoutPercentage()),
		styles:  DefaultStyles(),
	}
}

// Init implements tea.Model.
func (m *syncModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(150*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m *syncModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-24, 20)
	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *syncModel) View() string {
	if m.complete {
		return m.viewComplete()
	}
	st := m.tracker.Stats()
	width := max(m.width-4, 40)

	lines := []string{
		m.styles.Header.Render(m.title),
		m.viewStages(st.Stage),
		m.viewProgress(st),
	}
	if st.CurrentFile != "" {
		lines = append(lines, m.styles.Dim.Render(truncatePath(st.CurrentFile, width)))
	}
	lines = append(lines, m.viewStatus(st))
	return strings.Join(lines, "\n") + "\n"
}

var pipeline = []Stage{StageScanning, StageReading, StageEmbedding, StageWriting}

func (m *syncModel) viewStages(current Stage) string {
	parts := make([]string, 0, len(pipeline))
	for _, s := range pipeline {
		switch {
		case s < current:
			parts = append(parts, m.styles.Success.Render("● "+s.String()))
		case s == current:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+s.String()))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+s.String()))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *syncModel) viewProgress(st ProgressStats) string {
	if st.Total == 0 {
		return fmt.Sprintf("%s %s...", m.spinner.View(), st.Stage)
	}
	line := fmt.Sprintf("%s  %s  %s",
		m.bar.ViewAs(st.Progress),
		m.styles.Active.Render(fmt.Sprintf("%3.0f%%", st.Progress*100)),
		m.styles.Label.Render(fmt.Sprintf("%d/%d", st.Current, st.Total)))
	if st.ETA > 0 {
		line += m.styles.Label.Render("  ETA " + formatDuration(st.ETA))
	}
	return line
}

func (m *syncModel) viewStatus(st ProgressStats) string {
	parts := []string{m.styles.Label.Render("elapsed " + formatDuration(st.Elapsed))}
	if st.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", st.WarnCount)))
	}
	if st.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", st.ErrorCount)))
	}
	return strings.Join(parts, m.styles.Dim.Render("  │  "))
}

func (m *syncModel) viewComplete() string {
	s := m.stats
	header := m.styles.Success.Render("✓ Sync complete")
	if s.Cancelled {
		header = m.styles.Warning.Render("■ Sync cancelled")
	}
	lines := []string{
		header,
		fmt.Sprintf("%s %d scanned, %d updated, %d unchanged, %d removed",
			m.styles.Label.Render("Files:   "), s.Scanned, s.Updated, s.Unchanged, s.Removed),
		fmt.Sprintf("%s %d", m.styles.Label.Render("Chunks:  "), s.Chunks),
		fmt.Sprintf("%s %s", m.styles.Label.Render("Duration:"), formatDuration(s.Duration)),
	}
	if s.Errors > 0 {
		lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", s.Errors)))
	}
	if s.Warnings > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", s.Warnings)))
	}
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccentDim)).
		Padding(0, 1)
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration renders d as "42s", "3m 5s" or "1h 2m".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		m, s := int(d.Minutes()), int(d.Seconds())%60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// truncatePath keeps the tail of path within maxLen runes.
func truncatePath(path string, maxLen int) string {
	r := []rune(path)
	if len(r) <= maxLen || maxLen < 4 {
		return path
	}
	return "..." + string(r[len(r)-maxLen+3:])
}
