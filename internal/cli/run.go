package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/textsieve/internal/classifier"
	"github.com/raphaelgruber/textsieve/internal/config"
	"github.com/raphaelgruber/textsieve/internal/db"
	"github.com/raphaelgruber/textsieve/internal/extract"
	"github.com/raphaelgruber/textsieve/internal/metrics"
	"github.com/raphaelgruber/textsieve/internal/models"
	"github.com/raphaelgruber/textsieve/internal/service"
	"github.com/raphaelgruber/textsieve/internal/sink"
	"github.com/raphaelgruber/textsieve/internal/source"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// errInterrupted is returned after a run was stopped by a signal.
var errInterrupted = errors.New("run interrupted")

var (
	runOutput     string
	runFormat     string
	runStats      string
	runProfile    string
	runWorkers    int
	runThreshold  float64
	runNumPerm    int
	runBands      int
	runHTML       string
	runClassify   bool
	runRecursive  bool
	runNoProgress bool
)

var runCmd = &cobra.Command{
	Use:   "run [paths...]",
	Short: "Filter and deduplicate input files",
	Long: `Run the pipeline over files, directories or stdin.

Records are recovered from JSONL (also pretty-printed or broken JSONL),
filtered with the selected profile and deduplicated with MinHash LSH. Kept
blocks are written in input order. Without paths, stdin is read.

Examples:
  textsieve run corpus.jsonl
  textsieve run ./dumps --recursive -o clean.jsonl --format jsonl
  textsieve run ./dumps --profile medical --workers 8 --stats stats.json
  textsieve run dump.jsonl.gz --format sqlite -o runs.db
  cat dump.jsonl | textsieve run --threshold 0.8 > clean.txt`,
	RunE: runRun,
}

func init() {
	addPipelineFlags(runCmd)
	runCmd.Flags().BoolVar(&runNoProgress, "no-progress", false, "disable the live progress display")
}

// addPipelineFlags registers the flags shared by run and schedule.
func addPipelineFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&runOutput, "output", "o", "-", "output file or database path (- for stdout)")
	flags.StringVar(&runFormat, "format", config.FormatText, "output format (text, jsonl, sqlite, surreal)")
	flags.StringVar(&runStats, "stats", "", "write run statistics as JSON to this file")
	flags.StringVarP(&runProfile, "profile", "p", config.DefaultProfile, "filter profile (see 'textsieve profiles')")
	flags.IntVarP(&runWorkers, "workers", "w", 1, "parallel workers for the filter and signature stages")
	flags.Float64Var(&runThreshold, "threshold", 0.9, "near-duplicate Jaccard threshold")
	flags.IntVar(&runNumPerm, "num-perm", 128, "MinHash permutations")
	flags.IntVar(&runBands, "bands", 0, "LSH bands (0 derives them from the threshold)")
	flags.StringVar(&runHTML, "html", "never", "HTML extraction (never, auto, always)")
	flags.BoolVar(&runClassify, "classify", false, "ask the configured model to keep or drop each block")
	flags.BoolVarP(&runRecursive, "recursive", "r", false, "descend into subdirectories")
}

// applyPipelineFlags copies explicitly set flags over the loaded config.
func applyPipelineFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("output") {
		c.Output.Path = runOutput
	}
	if flags.Changed("format") {
		c.Output.Format = runFormat
	}
	if flags.Changed("stats") {
		c.Output.StatsPath = runStats
	}
	if flags.Changed("profile") {
		c.Filter.Profile = runProfile
	}
	if flags.Changed("workers") {
		c.Pipeline.Workers = runWorkers
	}
	if flags.Changed("threshold") {
		c.Dedup.Threshold = runThreshold
	}
	if flags.Changed("num-perm") {
		c.Dedup.NumPermutations = runNumPerm
	}
	if flags.Changed("bands") {
		c.Dedup.BandCount = runBands
	}
	if flags.Changed("html") {
		c.Input.HTML = runHTML
	}
	if flags.Changed("classify") {
		c.Classifier.Enabled = runClassify
	}
	if flags.Changed("recursive") {
		c.Input.Recursive = runRecursive
	}
	return c.Validate()
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := applyPipelineFlags(cmd, cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interactive := !runNoProgress && term.IsTerminal(int(os.Stderr.Fd()))
	stats, collector, err := executeRun(ctx, cfg, args, interactive)
	if stats != nil {
		printSummary(os.Stderr, *stats, collector.Snapshot(), verbose)
		if stats.Interrupted {
			return errInterrupted
		}
	}
	return err
}

// executeRun builds the pipeline, sources and sink from c and runs once.
// stats is nil when the run never started.
func executeRun(ctx context.Context, c *config.Config, paths []string, interactive bool) (*models.RunStats, *metrics.Collector, error) {
	p, profile, err := buildPipeline(c)
	if err != nil {
		return nil, nil, err
	}

	sources, files, err := openSources(paths, c.Input.Recursive, c.Input.Extensions)
	if err != nil {
		return nil, nil, err
	}
	defer closeSources(sources)

	s, closeSink, err := openSink(ctx, c, profile.Name, files)
	if err != nil {
		return nil, nil, err
	}
	defer closeSink()

	manager := service.NewRunManager(p)
	run := manager.CreateRun(profile.Name, files)

	var stats models.RunStats
	if interactive {
		stats, err = runWithProgress(ctx, manager, run, s, sources)
	} else {
		stats, err = manager.Execute(ctx, run, s, sources...)
	}

	if c.Output.StatsPath != "" && isStore(c.Output.Format) {
		if werr := writeStatsFile(c.Output.StatsPath, stats); werr != nil {
			slog.Warn("failed to write stats file", "path", c.Output.StatsPath, "error", werr)
		}
	}
	return &stats, p.Metrics(), err
}

// buildPipeline resolves the profile and wires the optional stages.
func buildPipeline(c *config.Config) (*service.Pipeline, config.Profile, error) {
	profile, err := c.Profile()
	if err != nil {
		return nil, config.Profile{}, err
	}
	sc, err := c.ServiceConfig()
	if err != nil {
		return nil, config.Profile{}, err
	}

	collector := metrics.NewCollector()
	opts := []service.Option{service.WithMetrics(collector)}
	if mode := c.HTMLMode(); mode != extract.ModeNever {
		opts = append(opts, service.WithExtractor(extract.New(mode)))
	}
	if c.Classifier.Enabled {
		model, err := classifier.NewModel(c.ClassifierSettings(), collector)
		if err != nil {
			return nil, config.Profile{}, fmt.Errorf("init classifier: %w", err)
		}
		opts = append(opts, service.WithClassifier(model))
	}

	p, err := service.New(sc, opts...)
	if err != nil {
		return nil, config.Profile{}, err
	}
	return p, profile, nil
}

// openSources expands paths and opens every input. No paths means stdin.
func openSources(paths []string, recursive bool, exts []string) ([]source.Source, []string, error) {
	if len(paths) == 0 {
		paths = []string{"-"}
	}
	files, err := source.CollectFiles(paths, recursive, exts)
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("%w: no input files found", source.ErrSourceUnavailable)
	}

	sources := make([]source.Source, 0, len(files))
	for _, f := range files {
		s, err := source.Open(f)
		if err != nil {
			closeSources(sources)
			return nil, nil, err
		}
		sources = append(sources, s)
	}
	return sources, files, nil
}

// closeSources releases inputs the run did not reach. Sources it read
// to the end were closed already, so errors are ignored.
func closeSources(sources []source.Source) {
	for _, s := range sources {
		if c, ok := s.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
}

// openSink creates the configured sink and a function releasing its store.
func openSink(ctx context.Context, c *config.Config, profile string, inputs []string) (sink.Sink, func(), error) {
	switch c.Output.Format {
	case config.FormatSQLite:
		store, err := sink.OpenSQLite(ctx, c.Output.Path)
		if err != nil {
			return nil, nil, err
		}
		closeStore := func() {
			if err := store.Close(); err != nil {
				slog.Warn("failed to close sqlite store", "error", err)
			}
		}
		return store.NewSink(profile, inputs), closeStore, nil

	case config.FormatSurreal:
		client, err := connectSurreal(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		closeClient := func() {
			if err := client.Close(context.Background()); err != nil {
				slog.Warn("failed to close database", "error", err)
			}
		}
		return client.NewSink(profile, inputs, db.DefaultBatchSize), closeClient, nil

	default:
		format, err := sink.ParseFormat(c.Output.Format)
		if err != nil {
			return nil, nil, err
		}
		w, err := sink.Create(c.Output.Path, format, c.Output.StatsPath)
		if err != nil {
			return nil, nil, err
		}
		// Finish closes the files unless the sink failed first.
		closeWriter := func() {
			if err := w.Close(); err != nil {
				slog.Warn("failed to close output", "error", err)
			}
		}
		return w, closeWriter, nil
	}
}

func connectSurreal(ctx context.Context, c *config.Config) (*db.Client, error) {
	client, err := db.NewClient(ctx, c.SurrealSettings(), slog.Default())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := client.InitSchema(ctx); err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return client, nil
}

func isStore(format string) bool {
	return format == config.FormatSQLite || format == config.FormatSurreal
}

func writeStatsFile(path string, stats models.RunStats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
