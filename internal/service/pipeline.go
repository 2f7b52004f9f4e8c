// Package service runs the parse, filter and dedup pipeline over text sources.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/textsieve/internal/classifier"
	"github.com/raphaelgruber/textsieve/internal/extract"
	"github.com/raphaelgruber/textsieve/internal/filter"
	"github.com/raphaelgruber/textsieve/internal/metrics"
	"github.com/raphaelgruber/textsieve/internal/minhash"
	"github.com/raphaelgruber/textsieve/internal/models"
	"github.com/raphaelgruber/textsieve/internal/parser"
	"github.com/raphaelgruber/textsieve/internal/sink"
	"github.com/raphaelgruber/textsieve/internal/source"
)

const (
	// DefaultSinkBuffer is how many kept blocks may wait for a slow sink.
	DefaultSinkBuffer = 64

	// progressEvery is how many records pass between progress reports.
	progressEvery = 64
)

// ErrConfigInvalid is returned by New when the configuration cannot be used.
var ErrConfigInvalid = errors.New("invalid configuration")

// Config is the immutable configuration of a Pipeline.
type Config struct {
	Parser parser.Options
	Filter filter.Config
	Index  minhash.IndexOptions
	Seed   uint64

	// Workers > 1 fans the per-record stages out; otherwise records are
	// processed on the calling goroutine.
	Workers         int
	SinkBuffer      int
	ErrorSampleSize int
}

// DefaultConfig returns a sequential pipeline with default stages.
func DefaultConfig() Config {
	return Config{
		Parser:          parser.DefaultOptions(),
		Filter:          filter.DefaultConfig(),
		Index:           minhash.DefaultIndexOptions(),
		Workers:         1,
		SinkBuffer:      DefaultSinkBuffer,
		ErrorSampleSize: models.DefaultErrorSampleSize,
	}
}

// Option configures optional collaborators.
type Option func(*Pipeline)

// WithExtractor converts HTML record text before filtering.
func WithExtractor(e *extract.Extractor) Option {
	return func(p *Pipeline) { p.extractor = e }
}

// WithClassifier adds a model decision after the heuristic filter.
func WithClassifier(c classifier.Classifier) Option {
	return func(p *Pipeline) { p.classifier = c }
}

// WithMetrics records stage timings.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = c }
}

// Pipeline turns raw sources into deduplicated, filtered text blocks. A
// Pipeline may run many times; every run starts with an empty index.
type Pipeline struct {
	cfg        Config
	filter     *filter.Filter
	hasher     *minhash.Hasher
	extractor  *extract.Extractor
	classifier classifier.Classifier
	metrics    *metrics.Collector
}

// New validates cfg and builds the pipeline stages.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if cfg.SinkBuffer <= 0 {
		cfg.SinkBuffer = DefaultSinkBuffer
	}
	if cfg.ErrorSampleSize < 0 {
		return nil, fmt.Errorf("%w: error_sample_size must be >= 0 (got %d)", ErrConfigInvalid, cfg.ErrorSampleSize)
	}
	if err := cfg.Index.Validate(); err != nil {
		return nil, fmt.Errorf("%w: dedup: %w", ErrConfigInvalid, err)
	}

	f, err := filter.New(cfg.Filter)
	if err != nil {
		return nil, fmt.Errorf("%w: filter: %w", ErrConfigInvalid, err)
	}

	p := &Pipeline{
		cfg:    cfg,
		filter: f,
		hasher: minhash.NewHasher(cfg.Index.NumPerm, cfg.Seed),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Metrics returns the stage timing collector, or nil.
func (p *Pipeline) Metrics() *metrics.Collector {
	return p.metrics
}

// Run processes sources in order and hands kept blocks to s. The returned
// stats are valid even when err is non-nil.
func (p *Pipeline) Run(ctx context.Context, s sink.Sink, sources ...source.Source) (models.RunStats, error) {
	return p.run(ctx, newRunID(), nil, s, sources)
}

// Collect runs the pipeline into memory and returns the kept texts.
func (p *Pipeline) Collect(ctx context.Context, sources ...source.Source) ([]string, models.RunStats, error) {
	mem := sink.NewMemory()
	stats, err := p.Run(ctx, mem, sources...)
	return mem.Texts(), stats, err
}

func newRunID() string {
	return uuid.New().String()[:8] // Short ID for convenience
}

// run owns one execution: stats, index and sink are confined to it.
type run struct {
	p        *Pipeline
	stats    *models.RunStats
	index    *minhash.Index
	sink     *sinkWorker
	progress func(models.RunStats)
	counted  int
}

func (p *Pipeline) run(ctx context.Context, runID string, progress func(models.RunStats), s sink.Sink, sources []source.Source) (models.RunStats, error) {
	index, err := minhash.NewIndex(p.cfg.Index)
	if err != nil {
		return models.RunStats{RunID: runID}, fmt.Errorf("dedup: %w", err)
	}

	r := &run{
		p:        p,
		stats:    models.NewRunStats(runID, p.cfg.ErrorSampleSize),
		index:    index,
		progress: progress,
	}
	bands, rows := index.Layout()
	slog.Info("run started", "run_id", runID, "sources", len(sources), "workers", p.cfg.Workers, "bands", bands, "rows", rows)

	// Blocks already kept still reach the sink after cancellation.
	sinkCtx := context.WithoutCancel(ctx)
	r.sink = startSink(sinkCtx, s, p.cfg.SinkBuffer, p.metrics)

	if p.cfg.Workers > 1 {
		err = r.parallel(ctx, sources)
	} else {
		err = r.sequential(ctx, sources)
	}

	sinkErr := r.sink.wait()

	r.stats.FinishedAt = time.Now()
	switch {
	case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
		r.stats.Interrupted = true
	case err != nil:
		r.stats.Error = err.Error()
	case sinkErr != nil:
		r.stats.Error = sinkErr.Error()
	}
	if err == nil {
		err = sinkErr
	}

	// A failed sink does not get to finish.
	if sinkErr == nil {
		if ferr := s.Finish(sinkCtx, r.stats.Clone()); ferr != nil && err == nil {
			err = fmt.Errorf("sink: finish: %w", ferr)
			r.stats.Error = err.Error()
		}
	}

	final := r.stats.Clone()
	if progress != nil {
		progress(final.Clone())
	}

	slog.Info("run finished",
		"run_id", runID,
		"attempted", final.RecordsAttempted,
		"failed", final.RecordsFailed,
		"filtered", final.FilteredTotal(),
		"deduplicated", final.RecordsDeduplicated,
		"kept", final.RecordsKept,
		"interrupted", final.Interrupted,
		"duration", final.FinishedAt.Sub(final.StartedAt).Round(time.Millisecond))
	return final, err
}

// candidate is a detected record tagged with its position in the run.
type candidate struct {
	idx    int
	cand   parser.Candidate
	source string
}

// outcome is the result of the per-record stages. It carries no shared
// state, so it can be computed on any goroutine.
type outcome struct {
	idx        int
	rec        models.Record
	source     string
	text       string
	verdict    models.Verdict
	sig        minhash.Signature
	extractErr error
	classErr   error
	fatal      error
}

// produce reads every source through one detector and calls emit for each
// candidate in stream order.
func (r *run) produce(ctx context.Context, sources []source.Source, emit func(candidate) error) error {
	detector := parser.NewDetector(r.p.cfg.Parser)
	idx := 0
	send := func(cands []parser.Candidate, name string) error {
		for _, c := range cands {
			if err := emit(candidate{idx: idx, cand: c, source: name}); err != nil {
				return err
			}
			idx++
		}
		return nil
	}

	for _, src := range sources {
		err := r.readSource(ctx, src, detector, send)
		if closer, ok := src.(io.Closer); ok {
			if cerr := closer.Close(); cerr != nil {
				slog.Warn("failed to close source", "source", src.Name(), "error", cerr)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *run) readSource(ctx context.Context, src source.Source, detector *parser.Detector, send func([]parser.Candidate, string) error) error {
	name := src.Name()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		chunk, err := src.Next()
		r.p.metrics.Since(metrics.OpRead, start)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if !errors.Is(err, source.ErrSourceUnavailable) {
				err = fmt.Errorf("%w: %w", source.ErrSourceUnavailable, err)
			}
			return fmt.Errorf("read %s: %w", name, err)
		}

		if err := send(detector.Feed(chunk), name); err != nil {
			return err
		}
	}

	if c, ok := detector.Finalize(); ok {
		return send([]parser.Candidate{c}, name)
	}
	return nil
}

func (r *run) sequential(ctx context.Context, sources []source.Source) error {
	decoder := parser.NewDecoder(r.p.cfg.Parser)
	return r.produce(ctx, sources, func(c candidate) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return r.commit(r.p.process(ctx, decoder, c))
	})
}

// process runs decode, extraction, filter, classifier and signature.
func (p *Pipeline) process(ctx context.Context, decoder *parser.Decoder, c candidate) outcome {
	start := time.Now()
	rec := decoder.Decode(c.cand)
	p.metrics.Since(metrics.OpParse, start)

	o := outcome{idx: c.idx, rec: rec, source: c.source, text: rec.Text}
	if !rec.OK {
		return o
	}

	if p.extractor != nil && p.extractor.Applies(o.text) {
		start = time.Now()
		text, err := p.extractor.Text(o.text)
		p.metrics.Since(metrics.OpExtract, start)
		if err != nil {
			slog.Warn("html extraction failed, using raw text", "seq", rec.Seq, "source", c.source, "error", err)
			o.extractErr = err
		} else {
			o.text = text
		}
	}

	start = time.Now()
	filtered := rec
	filtered.Text = o.text
	o.verdict = p.filter.EvaluateRecord(filtered)
	p.metrics.Since(metrics.OpFilter, start)
	if !o.verdict.Keep {
		return o
	}

	if p.classifier != nil {
		keep, err := p.classifier.Classify(ctx, o.text)
		switch {
		case errors.Is(err, classifier.ErrFatalAPI):
			o.fatal = fmt.Errorf("classifier: %w", err)
			return o
		case err != nil:
			// Fail open.
			slog.Warn("classifier failed, keeping record", "seq", rec.Seq, "source", c.source, "error", err)
			o.classErr = err
		case !keep:
			o.verdict = models.Dropped(models.ReasonClassifierRejected)
			return o
		}
	}

	start = time.Now()
	o.sig = p.hasher.Signature(o.text)
	p.metrics.Since(metrics.OpSignature, start)
	return o
}

// commit applies one outcome to the run state. Outcomes must arrive in
// stream order.
func (r *run) commit(o outcome) error {
	if o.fatal != nil {
		return o.fatal
	}
	defer r.report()

	if !o.rec.OK {
		slog.Debug("record failed", "seq", o.rec.Seq, "line", o.rec.Line, "source", o.source, "kind", o.rec.Err, "detail", o.rec.Detail)
		r.stats.AddFailure(o.rec, o.source)
		return nil
	}
	if o.extractErr != nil {
		r.stats.ExtractErrors++
	}
	if o.classErr != nil {
		r.stats.ClassifierErrors++
	}
	if !o.verdict.Keep {
		r.stats.AddFiltered(o.verdict.Reason)
		return nil
	}

	id := models.BlockID(o.rec.Seq)
	start := time.Now()
	dup, matches, err := r.index.CheckAndInsert(id, o.sig)
	r.p.metrics.Since(metrics.OpIndex, start)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", id, err)
	}
	if dup {
		slog.Debug("near duplicate dropped", "id", id, "matches", matches)
		r.stats.AddDuplicate()
		return nil
	}

	r.stats.AddKept()
	return r.sink.send(models.Block{
		ID:     id,
		RunID:  r.stats.RunID,
		Seq:    o.rec.Seq,
		Source: o.source,
		Text:   o.text,
	})
}

func (r *run) report() {
	r.counted++
	if r.progress != nil && r.counted%progressEvery == 0 {
		r.progress(r.stats.Clone())
	}
}
