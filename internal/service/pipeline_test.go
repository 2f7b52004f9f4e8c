package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/raphaelgruber/textsieve/internal/classifier"
	"github.com/raphaelgruber/textsieve/internal/extract"
	"github.com/raphaelgruber/textsieve/internal/metrics"
	"github.com/raphaelgruber/textsieve/internal/models"
	"github.com/raphaelgruber/textsieve/internal/sink"
	"github.com/raphaelgruber/textsieve/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// word returns a distinct letter-only token. Digits use the letters a-p,
// split by an x so no token holds four identical letters in a row.
func word(i int) string {
	const digits = "abcdefghijklmnop"
	return "q" + string([]byte{
		digits[(i>>12)%16], digits[(i>>8)%16], 'x', digits[(i>>4)%16], digits[i%16],
	})
}

// doc returns 60 tokens that no other doc shares.
func doc(k int) string {
	words := make([]string, 60)
	for j := range words {
		words[j] = word(k*60 + j)
	}
	return strings.Join(words, " ")
}

func line(text string) string {
	data, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		panic(err)
	}
	return string(data)
}

func newPipeline(t *testing.T, mutate func(*Config), opts ...Option) *Pipeline {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg, opts...)
	require.NoError(t, err)
	return p
}

func TestPipelineFirstOccurrenceWins(t *testing.T) {
	a, b := doc(1), doc(2)
	nearA := strings.Replace(a, word(60), "qzzxzz", 1)

	p := newPipeline(t, nil)
	texts, stats, err := p.Collect(context.Background(),
		source.FromLines("in.jsonl", line(a), line(b), line(a), line(nearA)))
	require.NoError(t, err)

	assert.Equal(t, []string{a, b}, texts)
	assert.Equal(t, 4, stats.RecordsAttempted)
	assert.Equal(t, 2, stats.RecordsKept)
	assert.Equal(t, 2, stats.RecordsDeduplicated)
	assert.True(t, stats.Consistent())
	assert.False(t, stats.Interrupted)
	assert.False(t, stats.FinishedAt.IsZero())
}

func TestPipelineCountsFailuresAndFilters(t *testing.T) {
	p := newPipeline(t, nil)
	texts, stats, err := p.Collect(context.Background(), source.FromLines("mixed.jsonl",
		line(doc(1)),
		`{"text": 'single quoted'}`,
		"plain prose between records is ignored",
		line("Sponsored content: buy now"),
		line("too short"),
		`{"text": "never closed`,
	))
	require.NoError(t, err)

	assert.Equal(t, []string{doc(1)}, texts)
	assert.Equal(t, 5, stats.RecordsAttempted)
	assert.Equal(t, 3, stats.RecordsParsed)
	assert.Equal(t, 2, stats.RecordsFailed)
	assert.Equal(t, 1, stats.FailuresByKind[models.ErrMalformedRecord])
	assert.Equal(t, 1, stats.FailuresByKind[models.ErrUnbalancedStreamEnd])
	assert.Equal(t, 1, stats.RecordsFilteredOut[models.ReasonAdKeyword])
	assert.Equal(t, 1, stats.RecordsFilteredOut[models.ReasonLowQuality])
	assert.Equal(t, 1, stats.RecordsKept)
	assert.True(t, stats.Consistent())

	require.Len(t, stats.ErrorSamples, 2)
	assert.Equal(t, "mixed.jsonl", stats.ErrorSamples[0].Source)
	assert.Equal(t, 2, stats.ErrorSamples[0].Line)
	assert.Equal(t, models.ErrUnbalancedStreamEnd, stats.ErrorSamples[1].Kind)
}

func TestPipelineErrorSamplesCapped(t *testing.T) {
	lines := make([]string, 15)
	for i := range lines {
		lines[i] = `{"text": 'bad'}`
	}
	p := newPipeline(t, nil)
	_, stats, err := p.Collect(context.Background(), source.FromLines("bad.jsonl", lines...))
	require.NoError(t, err)
	assert.Equal(t, 15, stats.RecordsFailed)
	assert.Len(t, stats.ErrorSamples, models.DefaultErrorSampleSize)
}

func TestPipelineIsIdempotent(t *testing.T) {
	lines := []string{line(doc(1)), line(doc(2)), line(doc(1)), line(doc(3))}
	p := newPipeline(t, nil)

	first, s1, err := p.Collect(context.Background(), source.FromLines("a", lines...))
	require.NoError(t, err)
	second, s2, err := p.Collect(context.Background(), source.FromLines("a", lines...))
	require.NoError(t, err)

	assert.Equal(t, first, second, "every run starts with an empty index")
	assert.Equal(t, s1.RecordsKept, s2.RecordsKept)
	assert.NotEqual(t, s1.RunID, s2.RunID)
}

func TestPipelineSequenceSpansSources(t *testing.T) {
	p := newPipeline(t, nil)
	mem := sink.NewMemory()
	_, err := p.Run(context.Background(), mem,
		source.FromLines("one.jsonl", line(doc(1))),
		source.FromLines("two.jsonl", line(doc(2)), line(doc(1))),
	)
	require.NoError(t, err)

	blocks := mem.Blocks()
	require.Len(t, blocks, 2)
	assert.Equal(t, "text_1", blocks[0].ID)
	assert.Equal(t, "one.jsonl", blocks[0].Source)
	assert.Equal(t, "text_2", blocks[1].ID)
	assert.Equal(t, "two.jsonl", blocks[1].Source)

	stats, done := mem.Stats()
	require.True(t, done)
	assert.Equal(t, 1, stats.RecordsDeduplicated)
	assert.Equal(t, blocks[0].RunID, stats.RunID)
}

func corpus() []string {
	var lines []string
	for k := 0; k < 120; k++ {
		switch {
		case k%10 == 3:
			lines = append(lines, line(doc(k/2)))
		case k%17 == 5:
			lines = append(lines, `{"text": 'broken'}`)
		case k%13 == 7:
			lines = append(lines, line("Sponsored content: buy now"))
		default:
			lines = append(lines, line(doc(k)))
		}
	}
	return append(lines, `{"text": "dangling`)
}

func TestPipelineParallelMatchesSequential(t *testing.T) {
	seq := newPipeline(t, nil)
	want, wantStats, err := seq.Collect(context.Background(), source.FromLines("c", corpus()...))
	require.NoError(t, err)
	require.NotEmpty(t, want)

	for _, workers := range []int{2, 4, 8} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			par := newPipeline(t, func(c *Config) {
				c.Workers = workers
				c.SinkBuffer = 1
			})
			got, stats, err := par.Collect(context.Background(), source.FromLines("c", corpus()...))
			require.NoError(t, err)

			assert.Equal(t, want, got)
			assert.Equal(t, wantStats.RecordsAttempted, stats.RecordsAttempted)
			assert.Equal(t, wantStats.RecordsFailed, stats.RecordsFailed)
			assert.Equal(t, wantStats.RecordsFilteredOut, stats.RecordsFilteredOut)
			assert.Equal(t, wantStats.RecordsDeduplicated, stats.RecordsDeduplicated)
			assert.Equal(t, wantStats.ErrorSamples, stats.ErrorSamples)
			assert.True(t, stats.Consistent())
		})
	}
}

// cancelingSource cancels the run after emitting `after` lines.
type cancelingSource struct {
	*source.LineSource
	after  int
	seen   int
	cancel context.CancelFunc
}

func (s *cancelingSource) Next() (models.Chunk, error) {
	s.seen++
	if s.seen > s.after {
		s.cancel()
	}
	return s.LineSource.Next()
}

func TestPipelineCancellationReturnsPartialStats(t *testing.T) {
	lines := make([]string, 50)
	for i := range lines {
		lines[i] = line(doc(i))
	}

	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			src := &cancelingSource{LineSource: source.FromLines("big", lines...), after: 10, cancel: cancel}
			mem := sink.NewMemory()
			p := newPipeline(t, func(c *Config) { c.Workers = workers })

			stats, err := p.Run(ctx, mem, src)
			require.ErrorIs(t, err, context.Canceled)

			assert.True(t, stats.Interrupted)
			assert.Empty(t, stats.Error)
			assert.Equal(t, models.RunStatusInterrupted, stats.Status())
			assert.True(t, stats.Consistent())
			assert.Less(t, stats.RecordsAttempted, len(lines))

			finished, done := mem.Stats()
			require.True(t, done, "sink is finished after cancellation")
			assert.True(t, finished.Interrupted)
			assert.Len(t, mem.Blocks(), stats.RecordsKept, "kept blocks are flushed")
		})
	}
}

func TestPipelineCanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newPipeline(t, nil)
	_, stats, err := p.Collect(ctx, source.FromLines("a", line(doc(1))))
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, stats.Interrupted)
	assert.Zero(t, stats.RecordsAttempted)
}

type brokenSource struct{}

func (brokenSource) Name() string { return "broken.jsonl" }
func (brokenSource) Next() (models.Chunk, error) {
	return models.Chunk{}, errors.New("permission denied")
}

func TestPipelineSourceError(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			mem := sink.NewMemory()
			p := newPipeline(t, func(c *Config) { c.Workers = workers })

			stats, err := p.Run(context.Background(), mem,
				source.FromLines("ok.jsonl", line(doc(1))),
				brokenSource{},
			)
			require.ErrorIs(t, err, source.ErrSourceUnavailable)
			assert.Contains(t, err.Error(), "broken.jsonl")
			assert.NotEmpty(t, stats.Error)
			assert.Equal(t, models.RunStatusFailed, stats.Status())
			assert.True(t, stats.Consistent())

			_, done := mem.Stats()
			assert.True(t, done, "failed runs are still reported to the sink")
		})
	}
}

type failingSink struct {
	finished bool
}

func (s *failingSink) Accept(context.Context, models.Block) error {
	return errors.New("disk full")
}

func (s *failingSink) Finish(context.Context, models.RunStats) error {
	s.finished = true
	return nil
}

func TestPipelineSinkError(t *testing.T) {
	lines := make([]string, 20)
	for i := range lines {
		lines[i] = line(doc(i))
	}
	s := &failingSink{}
	p := newPipeline(t, func(c *Config) { c.SinkBuffer = 1 })

	stats, err := p.Run(context.Background(), s, source.FromLines("a", lines...))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, s.finished)
	assert.NotEmpty(t, stats.Error)
}

type fakeClassifier struct {
	reject string
	err    error
}

func (f fakeClassifier) Classify(_ context.Context, text string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return !strings.Contains(text, f.reject), nil
}

func TestPipelineClassifier(t *testing.T) {
	lines := []string{line(doc(1)), line(doc(2))}

	t.Run("rejections are counted", func(t *testing.T) {
		p := newPipeline(t, nil, WithClassifier(fakeClassifier{reject: word(120)}))
		texts, stats, err := p.Collect(context.Background(), source.FromLines("a", lines...))
		require.NoError(t, err)
		assert.Equal(t, []string{doc(1)}, texts)
		assert.Equal(t, 1, stats.RecordsFilteredOut[models.ReasonClassifierRejected])
	})

	t.Run("soft errors keep the record", func(t *testing.T) {
		p := newPipeline(t, nil, WithClassifier(fakeClassifier{err: errors.New("timeout")}))
		texts, stats, err := p.Collect(context.Background(), source.FromLines("a", lines...))
		require.NoError(t, err)
		assert.Len(t, texts, 2)
		assert.Equal(t, 2, stats.ClassifierErrors)
	})

	t.Run("fatal errors stop the run", func(t *testing.T) {
		fatal := fmt.Errorf("%w: invalid api key", classifier.ErrFatalAPI)
		p := newPipeline(t, nil, WithClassifier(fakeClassifier{err: fatal}))
		_, stats, err := p.Collect(context.Background(), source.FromLines("a", lines...))
		require.ErrorIs(t, err, classifier.ErrFatalAPI)
		assert.Zero(t, stats.RecordsKept)
		assert.True(t, stats.Consistent())
	})
}

func TestPipelineExtractsHTML(t *testing.T) {
	html := "<html><body><article><p>" + doc(7) + "</p></article></body></html>"
	collector := metrics.NewCollector()
	p := newPipeline(t, nil, WithExtractor(extract.New(extract.ModeAuto)), WithMetrics(collector))

	texts, _, err := p.Collect(context.Background(), source.FromLines("a", line(html)))
	require.NoError(t, err)
	require.Len(t, texts, 1)
	assert.NotContains(t, texts[0], "<p>")
	assert.Contains(t, texts[0], word(7*60))

	var ops []string
	for _, s := range collector.Snapshot().Stages {
		ops = append(ops, s.Op)
	}
	assert.Contains(t, ops, metrics.OpExtract)
	assert.Contains(t, ops, metrics.OpIndex)
	assert.Contains(t, ops, metrics.OpSink)
}

func TestPipelineBlacklistedKey(t *testing.T) {
	p := newPipeline(t, func(c *Config) {
		c.Parser.TextKeys = []string{"text", "abstract"}
		c.Filter.BlacklistKeys = []string{"abstract"}
	})
	texts, stats, err := p.Collect(context.Background(), source.FromLines("a",
		`{"abstract": "`+doc(1)+`"}`,
		line(doc(2)),
	))
	require.NoError(t, err)
	assert.Equal(t, []string{doc(2)}, texts)
	assert.Equal(t, 1, stats.RecordsFilteredOut[models.ReasonBlacklistedKey])
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad bands", func(c *Config) { c.Index.Bands = 7 }},
		{"bad threshold", func(c *Config) { c.Index.Threshold = 1.5 }},
		{"bad filter", func(c *Config) { c.Filter.NoiseRatio = -1 }},
		{"negative samples", func(c *Config) { c.ErrorSampleSize = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, ErrConfigInvalid)
		})
	}
}
