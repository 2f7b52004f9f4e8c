package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/textsieve/internal/models"
	"github.com/raphaelgruber/textsieve/internal/sink"
	"github.com/raphaelgruber/textsieve/internal/source"
)

// Run tracks one pipeline execution for progress reporting.
type Run struct {
	ID          string
	Profile     string
	Inputs      []string
	Status      models.RunStatus
	Stats       models.RunStats
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time

	mu sync.RWMutex
}

// Snapshot returns a thread-safe copy of run state.
func (r *Run) Snapshot() Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Run{
		ID:          r.ID,
		Profile:     r.Profile,
		Inputs:      r.Inputs,
		Status:      r.Status,
		Stats:       r.Stats.Clone(),
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

// Done reports whether the run reached a terminal state.
func (r *Run) Done() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status != models.RunStatusPending && r.Status != models.RunStatusRunning
}

func (r *Run) update(stats models.RunStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Stats = stats
	if r.Status == models.RunStatusPending {
		r.Status = models.RunStatusRunning
	}
}

// RunManager creates and tracks runs of one pipeline.
type RunManager struct {
	pipeline *Pipeline
	runs     map[string]*Run
	mu       sync.RWMutex
}

// NewRunManager creates a run manager for p.
func NewRunManager(p *Pipeline) *RunManager {
	return &RunManager{
		pipeline: p,
		runs:     make(map[string]*Run),
	}
}

// Pipeline returns the managed pipeline.
func (m *RunManager) Pipeline() *Pipeline {
	return m.pipeline
}

// CreateRun registers a new pending run.
func (m *RunManager) CreateRun(profile string, inputs []string) *Run {
	run := &Run{
		ID:        newRunID(),
		Profile:   profile,
		Inputs:    inputs,
		Status:    models.RunStatusPending,
		StartedAt: time.Now(),
	}
	run.Stats.RunID = run.ID

	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()

	slog.Debug("run created", "run_id", run.ID, "profile", profile, "inputs", len(inputs))
	return run
}

// Execute runs the pipeline for run and records the outcome on it.
func (m *RunManager) Execute(ctx context.Context, run *Run, s sink.Sink, sources ...source.Source) (models.RunStats, error) {
	run.mu.Lock()
	run.Status = models.RunStatusRunning
	run.mu.Unlock()

	stats, err := m.pipeline.run(ctx, run.ID, run.update, s, sources)

	run.mu.Lock()
	run.Stats = stats.Clone()
	now := time.Now()
	run.CompletedAt = &now
	switch {
	case err != nil && errors.Is(err, context.Canceled), stats.Interrupted:
		run.Status = models.RunStatusInterrupted
	case err != nil:
		run.Status = models.RunStatusFailed
		run.Error = err.Error()
	default:
		run.Status = models.RunStatusCompleted
	}
	run.mu.Unlock()

	if err != nil && run.Status == models.RunStatusFailed {
		slog.Error("run failed", "run_id", run.ID, "error", err)
	}
	return stats, err
}

// GetRun retrieves a run by ID.
func (m *RunManager) GetRun(id string) *Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runs[id]
}

// ListRuns returns all runs, most recent first.
func (m *RunManager) ListRuns() []*Run {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}

	slices.SortFunc(runs, func(a, b *Run) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return runs
}
