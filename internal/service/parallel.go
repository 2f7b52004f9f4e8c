package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raphaelgruber/textsieve/internal/metrics"
	"github.com/raphaelgruber/textsieve/internal/models"
	"github.com/raphaelgruber/textsieve/internal/parser"
	"github.com/raphaelgruber/textsieve/internal/sink"
	"github.com/raphaelgruber/textsieve/internal/source"
	"golang.org/x/sync/errgroup"
)

// parallel runs the per-record stages on a worker pool. One producer feeds
// the detector, workers compute outcomes, and the calling goroutine commits
// them in stream order so the index sees records exactly as sequential mode.
func (r *run) parallel(ctx context.Context, sources []source.Source) error {
	workers := r.p.cfg.Workers
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(pctx)
	jobs := make(chan candidate, 2*workers)
	results := make(chan outcome, 2*workers)

	g.Go(func() error {
		defer close(jobs)
		return r.produce(gctx, sources, func(c candidate) error {
			select {
			case jobs <- c:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			decoder := parser.NewDecoder(r.p.cfg.Parser)
			for c := range jobs {
				o := r.p.process(gctx, decoder, c)
				select {
				case results <- o:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// Sequencer: buffer out-of-order outcomes until the next expected one arrives.
	pending := make(map[int]outcome)
	expect := 0
	var seqErr error
	for o := range results {
		if seqErr != nil {
			continue
		}
		pending[o.idx] = o
		for {
			next, ok := pending[expect]
			if !ok {
				break
			}
			delete(pending, expect)
			expect++

			if err := ctx.Err(); err != nil {
				seqErr = err
			} else {
				seqErr = r.commit(next)
			}
			if seqErr != nil {
				cancel()
				break
			}
		}
	}

	gerr := g.Wait()
	if seqErr != nil {
		return seqErr
	}
	if gerr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return gerr
	}
	return nil
}

// sinkWorker delivers blocks to a sink on its own goroutine behind a
// bounded buffer.
type sinkWorker struct {
	blocks chan models.Block
	done   chan struct{}
	err    error
}

func startSink(ctx context.Context, s sink.Sink, buffer int, m *metrics.Collector) *sinkWorker {
	w := &sinkWorker{
		blocks: make(chan models.Block, buffer),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		for b := range w.blocks {
			start := time.Now()
			if err := s.Accept(ctx, b); err != nil {
				w.err = fmt.Errorf("sink: %w", err)
				return
			}
			m.Since(metrics.OpSink, start)
		}
	}()
	return w
}

// send blocks while the buffer is full. It fails once the sink has failed.
func (w *sinkWorker) send(b models.Block) error {
	select {
	case <-w.done:
		return w.err
	default:
	}
	select {
	case w.blocks <- b:
		return nil
	case <-w.done:
		return w.err
	}
}

// wait closes the buffer and returns the sink error, if any, once every
// buffered block was delivered.
func (w *sinkWorker) wait() error {
	close(w.blocks)
	<-w.done
	return w.err
}
