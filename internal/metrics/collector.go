// Package metrics provides in-memory stage timing collection for pipeline runs.
package metrics

import (
	"math"
	"slices"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single stage.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Token metrics (only for the classifier)
	TotalInputTokens  int64
	TotalOutputTokens int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Op          string  `json:"op"`
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeUs   float64 `json:"avg_time_us"`
	MinTimeUs   int64   `json:"min_time_us"`
	MaxTimeUs   int64   `json:"max_time_us"`

	// Token stats (nil if not applicable)
	TotalInputTokens  *int64 `json:"total_input_tokens,omitempty"`
	TotalOutputTokens *int64 `json:"total_output_tokens,omitempty"`
}

// Snapshot represents all stage statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64             `json:"uptime_seconds"`
	Stages        []OperationSnapshot `json:"stages"`
}

// Stage names for the collector, in pipeline order.
const (
	OpRead      = "read"
	OpParse     = "parse"
	OpExtract   = "extract"
	OpFilter    = "filter"
	OpClassify  = "classify"
	OpSignature = "signature"
	OpIndex     = "index"
	OpSink      = "sink"
)

var stageOrder = []string{OpRead, OpParse, OpExtract, OpFilter, OpClassify, OpSignature, OpIndex, OpSink}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe; a nil *Collector discards everything.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

func (m *OperationMetrics) observe(d time.Duration) {
	m.Count++
	m.TotalTime += d
	if d < m.MinTime {
		m.MinTime = d
	}
	if d > m.MaxTime {
		m.MaxTime = d
	}
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.getOrCreate(op).observe(duration)
}

// Since records the time elapsed since start. Meant for defer.
func (c *Collector) Since(op string, start time.Time) {
	c.RecordTiming(op, time.Since(start))
}

// RecordLLMUsage records timing and token usage for a classifier call.
func (c *Collector) RecordLLMUsage(op string, duration time.Duration, inputTokens, outputTokens int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.observe(duration)
	m.TotalInputTokens += inputTokens
	m.TotalOutputTokens += outputTokens
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(op string, m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Op:          op,
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeUs:   float64(m.TotalTime.Microseconds()) / float64(m.Count),
		MinTimeUs:   m.MinTime.Microseconds(),
		MaxTimeUs:   m.MaxTime.Microseconds(),
	}

	if m.TotalInputTokens > 0 || m.TotalOutputTokens > 0 {
		totalIn := m.TotalInputTokens
		totalOut := m.TotalOutputTokens
		snap.TotalInputTokens = &totalIn
		snap.TotalOutputTokens = &totalOut
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all recorded stages, known
// stages first in pipeline order.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{UptimeSeconds: time.Since(c.startTime).Seconds()}
	for _, op := range stageOrder {
		if s := snapshotOp(op, c.ops[op]); s != nil {
			snap.Stages = append(snap.Stages, *s)
		}
	}

	var extra []string
	for op := range c.ops {
		if !slices.Contains(stageOrder, op) {
			extra = append(extra, op)
		}
	}
	slices.Sort(extra)
	for _, op := range extra {
		if s := snapshotOp(op, c.ops[op]); s != nil {
			snap.Stages = append(snap.Stages, *s)
		}
	}
	return snap
}
