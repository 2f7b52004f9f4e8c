package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/textsieve/internal/scheduler"
	"github.com/spf13/cobra"
)

var (
	scheduleCron     string
	scheduleTimezone string
	scheduleNow      bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule --cron <spec> [paths...]",
	Short: "Rerun the pipeline on a cron schedule",
	Long: `Rerun the pipeline over the same inputs on a cron schedule until
interrupted. Every run starts with an empty duplicate index; text and jsonl
outputs are rewritten, sqlite and surreal outputs add one run per execution.
A run still going when the next one is due causes that one to be skipped.

Examples:
  textsieve schedule --cron "@hourly" ./inbox -o clean.jsonl --format jsonl
  textsieve schedule --cron "30 2 * * *" --timezone Europe/Vienna ./dumps --format sqlite -o runs.db
  textsieve schedule --cron "@every 15m" --now ./feed`,
	RunE: runSchedule,
}

func init() {
	addPipelineFlags(scheduleCmd)
	scheduleCmd.Flags().StringVar(&scheduleCron, "cron", "", "cron spec (five fields or @hourly, @every 1h, ...)")
	scheduleCmd.Flags().StringVar(&scheduleTimezone, "timezone", "", "timezone for the cron spec (default local)")
	scheduleCmd.Flags().BoolVar(&scheduleNow, "now", false, "run once immediately before waiting for the schedule")
	_ = scheduleCmd.MarkFlagRequired("cron")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	if err := applyPipelineFlags(cmd, cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	job := func(ctx context.Context) {
		stats, collector, err := executeRun(ctx, cfg, args, false)
		if stats != nil {
			printSummary(os.Stderr, *stats, collector.Snapshot(), verbose)
		}
		if err != nil && ctx.Err() == nil {
			slog.Error("scheduled run failed", "error", err)
		}
	}

	s, err := scheduler.New(scheduleCron, scheduleTimezone, job)
	if err != nil {
		return err
	}
	if scheduleNow {
		job(ctx)
	}
	return s.Run(ctx)
}
