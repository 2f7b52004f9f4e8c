package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/raphaelgruber/textsieve/internal/config"
	"github.com/raphaelgruber/textsieve/internal/metrics"
	"github.com/raphaelgruber/textsieve/internal/models"
	"github.com/raphaelgruber/textsieve/internal/sink"
	"github.com/spf13/cobra"
)

// defaultHistoryDB is read when no SQLite path is configured.
const defaultHistoryDB = "textsieve.db"

var (
	runsLimit int
	runsStore string
	runsDB    string
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List or inspect past runs",
	Long: `List the run history kept by the sqlite and surreal outputs, or show one
run in detail.

The store defaults to the configured output: surreal when output.format is
surreal, otherwise the SQLite database at output.path (or textsieve.db).

Examples:
  textsieve runs
  textsieve runs --db runs.db --limit 5
  textsieve runs --store surreal
  textsieve runs 1a2b3c4d`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum runs to list (0 for all)")
	runsCmd.Flags().StringVar(&runsStore, "store", "", "history store (sqlite, surreal)")
	runsCmd.Flags().StringVar(&runsDB, "db", "", "SQLite database path")
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, closeStore, err := openRunStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	w := cmd.OutOrStdout()
	if len(args) == 1 {
		runs, err := store.ListRuns(ctx, 0)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		for _, r := range runs {
			if r.RunID == args[0] {
				showRun(w, r)
				return nil
			}
		}
		return fmt.Errorf("run not found: %s", args[0])
	}

	runs, err := store.ListRuns(ctx, runsLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	listRuns(w, runs)
	return nil
}

// openRunStore picks the history store from flags, falling back to the
// configured output.
func openRunStore(ctx context.Context, c *config.Config) (sink.RunStore, func(), error) {
	store := runsStore
	if store == "" {
		store = config.FormatSQLite
		if c.Output.Format == config.FormatSurreal {
			store = config.FormatSurreal
		}
	}

	switch store {
	case config.FormatSQLite:
		path := runsDB
		if path == "" {
			path = defaultHistoryDB
			if c.Output.Format == config.FormatSQLite {
				path = c.Output.Path
			}
		}
		// Do not create an empty database just to list nothing.
		if _, err := os.Stat(path); err != nil {
			return nil, nil, fmt.Errorf("run history: %w", err)
		}
		s, err := sink.OpenSQLite(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case config.FormatSurreal:
		client, err := connectSurreal(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		return client, func() {
			if err := client.Close(context.Background()); err != nil {
				slog.Warn("failed to close database", "error", err)
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown history store %q (want sqlite or surreal)", store)
	}
}

func listRuns(w io.Writer, runs []models.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found")
		return
	}

	fmt.Fprintf(w, "%-10s %-12s %-10s %-16s %-20s %s\n", "ID", "STATUS", "PROFILE", "KEPT/ATTEMPTED", "STARTED", "DURATION")
	fmt.Fprintln(w, "------------------------------------------------------------------------------------")

	for _, r := range runs {
		kept := fmt.Sprintf("%d/%d", r.Stats.RecordsKept, r.Stats.RecordsAttempted)
		duration := ""
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%-10s %-12s %-10s %-16s %-20s %s\n",
			r.RunID, r.Status, r.Profile, kept, r.StartedAt.Local().Format("2006-01-02 15:04:05"), duration)
	}
}

func showRun(w io.Writer, r models.RunRecord) {
	fmt.Fprintf(w, "Run: %s\n", r.RunID)
	fmt.Fprintf(w, "  Status: %s\n", r.Status)
	if r.Profile != "" {
		fmt.Fprintf(w, "  Profile: %s\n", r.Profile)
	}
	fmt.Fprintf(w, "  Started: %s\n", r.StartedAt.Format(time.RFC3339))
	if r.CompletedAt != nil {
		fmt.Fprintf(w, "  Completed: %s\n", r.CompletedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "  Duration: %s\n", r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	if r.Error != nil && *r.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", *r.Error)
	}
	if len(r.Inputs) > 0 {
		fmt.Fprintf(w, "\nInputs (%d):\n", len(r.Inputs))
		for _, in := range r.Inputs {
			fmt.Fprintf(w, "  - %s\n", in)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprint(w, formatSummary(r.Stats, metrics.Snapshot{}, false, defaultTheme))
}
