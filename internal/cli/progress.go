package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/textsieve/internal/models"
	"github.com/raphaelgruber/textsieve/internal/service"
	"github.com/raphaelgruber/textsieve/internal/sink"
	"github.com/raphaelgruber/textsieve/internal/source"
)

const pollInterval = 200 * time.Millisecond

// Theme holds the color scheme for progress and summaries.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the run state
type tickMsg time.Time

// runUpdateMsg carries a snapshot of the run
type runUpdateMsg struct {
	status models.RunStatus
	stats  models.RunStats
}

// progressModel is the bubbletea model for a local run.
type progressModel struct {
	run      *service.Run
	cancel   context.CancelFunc
	status   models.RunStatus
	stats    models.RunStats
	progress progress.Model
	theme    Theme
	done     bool
	stopping bool
}

func newProgressModel(run *service.Run, cancel context.CancelFunc) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		run:      run,
		cancel:   cancel,
		status:   models.RunStatusPending,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// Keep polling: the run stops at the next record and the
			// summary still needs its final stats.
			if !m.stopping {
				m.stopping = true
				m.cancel()
			}
			return m, nil
		}

	case tickMsg:
		return m, m.fetchRun()

	case runUpdateMsg:
		m.status = msg.status
		m.stats = msg.stats
		if m.status != models.RunStatusPending && m.status != models.RunStatusRunning {
			m.done = true
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string. The bar shows the share of
// parsed records that were kept so far.
func (m progressModel) renderContent() string {
	if m.done {
		// The summary is printed after the program exits.
		return ""
	}

	s := m.stats
	var kept float64
	if s.RecordsParsed > 0 {
		kept = float64(s.RecordsKept) / float64(s.RecordsParsed)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.status))
	bar := m.progress.ViewAs(kept)
	counts := fmt.Sprintf("%d records, %d kept, %d duplicates, %d filtered, %d failed",
		s.RecordsAttempted, s.RecordsKept, s.RecordsDeduplicated, s.FilteredTotal(), s.RecordsFailed)

	hint := "Press Ctrl+C to stop; kept blocks are still written"
	if m.stopping {
		hint = "Stopping..."
	}
	return fmt.Sprintf("%s %s %s\n%s\n", status, bar, counts, m.theme.hintStyle().Render(hint))
}

// fetchRun reads the run snapshot off the Update goroutine.
func (m progressModel) fetchRun() tea.Cmd {
	return func() tea.Msg {
		snap := m.run.Snapshot()
		return runUpdateMsg{status: snap.Status, stats: snap.Stats}
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runWithProgress executes run in the background while the progress UI
// renders on stderr. Ctrl+C in the UI cancels the run.
func runWithProgress(ctx context.Context, manager *service.RunManager, run *service.Run, s sink.Sink, sources []source.Source) (models.RunStats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		stats models.RunStats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		stats, err := manager.Execute(ctx, run, s, sources...)
		done <- result{stats, err}
	}()

	p := tea.NewProgram(newProgressModel(run, cancel), tea.WithOutput(os.Stderr))
	if _, err := p.Run(); err != nil {
		// The run goes on without a display.
		fmt.Fprintf(os.Stderr, "Warning: progress UI error: %v\n", err)
	}

	r := <-done
	return r.stats, r.err
}
