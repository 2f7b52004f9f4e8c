// Package scheduler reruns a job on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled execution. The context is canceled when the
// scheduler stops.
type Job func(ctx context.Context)

// Scheduler runs a single job on a cron spec. A run that is still going when
// the next one is due is skipped rather than stacked.
type Scheduler struct {
	cron    *cron.Cron
	entryID cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

// New parses spec (standard five fields or descriptors like @hourly) in the
// given timezone. An empty timezone means local time.
func New(spec, timezone string, job Job) (*Scheduler, error) {
	loc := time.Local
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := cronLogger{slog.Default()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx:    ctx,
		cancel: cancel,
	}

	entryID, err := s.cron.AddFunc(spec, func() { job(s.ctx) })
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	s.entryID = entryID
	return s, nil
}

// Start begins scheduling in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Next returns when the job runs next. Zero until Start was called.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// Stop cancels a running job and waits for it to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the scheduler and blocks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	slog.Info("scheduler started", "next", s.Next())
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return s.Stop(stopCtx)
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
