// Package sink receives the blocks a run keeps and its final stats.
package sink

import (
	"context"
	"sync"

	"github.com/raphaelgruber/textsieve/internal/models"
)

// Sink consumes kept blocks in output order. Finish is called once after the
// last Accept, including for interrupted runs.
type Sink interface {
	Accept(ctx context.Context, b models.Block) error
	Finish(ctx context.Context, stats models.RunStats) error
}

// RunStore lists persisted run history, newest first.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error)
}

// Memory collects blocks in memory. It is safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	blocks   []models.Block
	stats    models.RunStats
	finished bool
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Accept(_ context.Context, b models.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks = append(m.blocks, b)
	return nil
}

func (m *Memory) Finish(_ context.Context, stats models.RunStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = stats
	m.finished = true
	return nil
}

// Blocks returns a copy of the accepted blocks.
func (m *Memory) Blocks() []models.Block {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Block(nil), m.blocks...)
}

// Texts returns the accepted block texts in order.
func (m *Memory) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.blocks))
	for i, b := range m.blocks {
		out[i] = b.Text
	}
	return out
}

// Stats returns the stats passed to Finish and whether Finish was called.
func (m *Memory) Stats() (models.RunStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats, m.finished
}

// Discard drops every block.
var Discard Sink = discard{}

type discard struct{}

func (discard) Accept(context.Context, models.Block) error    { return nil }
func (discard) Finish(context.Context, models.RunStats) error { return nil }
