package models

import (
	"maps"
	"slices"
	"time"
)

// DefaultErrorSampleSize is how many failures a run keeps for its error report.
const DefaultErrorSampleSize = 10

// ErrorSample describes one failed record.
type ErrorSample struct {
	Seq    int       `json:"seq"`
	Line   int       `json:"line"`
	Source string    `json:"source,omitempty"`
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// RunStats aggregates the counters of one pipeline run.
//
// Once a run completes the counters satisfy
//
//	RecordsAttempted = RecordsParsed + RecordsFailed
//	RecordsParsed    = Σ RecordsFilteredOut + RecordsDeduplicated + RecordsKept
type RunStats struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	RecordsAttempted    int               `json:"records_attempted"`
	RecordsParsed       int               `json:"records_parsed"`
	RecordsFailed       int               `json:"records_failed"`
	FailuresByKind      map[ErrorKind]int `json:"failures_by_kind"`
	RecordsFilteredOut  map[Reason]int    `json:"records_filtered_out"`
	RecordsDeduplicated int               `json:"records_deduplicated"`
	RecordsKept         int               `json:"records_kept"`
	ClassifierErrors    int               `json:"classifier_errors"`
	ExtractErrors       int               `json:"extract_errors"`
	Interrupted         bool              `json:"interrupted"`
	Error               string            `json:"error,omitempty"`
	ErrorSamples        []ErrorSample     `json:"error_samples"`

	sampleCap int
}

// NewRunStats returns zeroed stats that keep at most sampleCap error samples.
func NewRunStats(runID string, sampleCap int) *RunStats {
	if sampleCap < 0 {
		sampleCap = 0
	}
	return &RunStats{
		RunID:              runID,
		StartedAt:          time.Now(),
		FailuresByKind:     make(map[ErrorKind]int),
		RecordsFilteredOut: make(map[Reason]int),
		ErrorSamples:       []ErrorSample{},
		sampleCap:          sampleCap,
	}
}

// AddFailure counts a failed record and samples it if there is room.
func (s *RunStats) AddFailure(rec Record, source string) {
	s.RecordsAttempted++
	s.RecordsFailed++
	s.FailuresByKind[rec.Err]++
	if len(s.ErrorSamples) < s.sampleCap {
		s.ErrorSamples = append(s.ErrorSamples, ErrorSample{
			Seq:    rec.Seq,
			Line:   rec.Line,
			Source: source,
			Kind:   rec.Err,
			Detail: rec.Detail,
		})
	}
}

// AddFiltered counts a parsed record dropped for reason.
func (s *RunStats) AddFiltered(reason Reason) {
	s.RecordsAttempted++
	s.RecordsParsed++
	s.RecordsFilteredOut[reason]++
}

// AddDuplicate counts a parsed record dropped as a near-duplicate.
func (s *RunStats) AddDuplicate() {
	s.RecordsAttempted++
	s.RecordsParsed++
	s.RecordsDeduplicated++
}

// AddKept counts a parsed record that reached the sink.
func (s *RunStats) AddKept() {
	s.RecordsAttempted++
	s.RecordsParsed++
	s.RecordsKept++
}

// FilteredTotal sums the filtered counters across all reasons.
func (s *RunStats) FilteredTotal() int {
	total := 0
	for _, n := range s.RecordsFilteredOut {
		total += n
	}
	return total
}

// Consistent reports whether the counter invariants hold.
func (s *RunStats) Consistent() bool {
	failed := 0
	for _, n := range s.FailuresByKind {
		failed += n
	}
	return s.RecordsAttempted == s.RecordsParsed+s.RecordsFailed &&
		s.RecordsParsed == s.FilteredTotal()+s.RecordsDeduplicated+s.RecordsKept &&
		failed == s.RecordsFailed
}

// Reasons returns the filter reasons with a non-zero count, sorted by name.
func (s *RunStats) Reasons() []Reason {
	reasons := slices.Collect(maps.Keys(s.RecordsFilteredOut))
	slices.Sort(reasons)
	return reasons
}

// Clone returns a deep copy that is safe to hand to other goroutines.
func (s *RunStats) Clone() RunStats {
	c := *s
	c.FailuresByKind = maps.Clone(s.FailuresByKind)
	c.RecordsFilteredOut = maps.Clone(s.RecordsFilteredOut)
	c.ErrorSamples = slices.Clone(s.ErrorSamples)
	return c
}

// Status derives the run lifecycle state from finished stats.
func (s *RunStats) Status() RunStatus {
	switch {
	case s.Error != "":
		return RunStatusFailed
	case s.Interrupted:
		return RunStatusInterrupted
	case s.FinishedAt.IsZero():
		return RunStatusRunning
	default:
		return RunStatusCompleted
	}
}
