package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/raphaelgruber/textsieve/internal/metrics"
	"github.com/raphaelgruber/textsieve/internal/models"
)

// printSummary writes the end-of-run report. Stage timings are included
// when detailed is set.
func printSummary(w io.Writer, stats models.RunStats, snap metrics.Snapshot, detailed bool) {
	fmt.Fprint(w, formatSummary(stats, snap, detailed, defaultTheme))
}

func formatSummary(stats models.RunStats, snap metrics.Snapshot, detailed bool, theme Theme) string {
	var b strings.Builder

	duration := stats.FinishedAt.Sub(stats.StartedAt).Round(time.Millisecond)
	header := fmt.Sprintf("Run %s %s in %s", stats.RunID, stats.Status(), duration)
	switch stats.Status() {
	case models.RunStatusCompleted:
		b.WriteString(theme.completedStyle().Render("✓ "+header) + "\n\n")
	case models.RunStatusInterrupted:
		b.WriteString(theme.hintStyle().Render("■ "+header) + "\n\n")
	default:
		b.WriteString(theme.errorStyle().Render("✗ "+header) + "\n")
		if stats.Error != "" {
			b.WriteString(theme.errorStyle().Render("  "+stats.Error) + "\n")
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "  Records attempted:  %d\n", stats.RecordsAttempted)
	fmt.Fprintf(&b, "  Parsed:             %d\n", stats.RecordsParsed)
	fmt.Fprintf(&b, "  Failed:             %d%s\n", stats.RecordsFailed, breakdown(stats.FailuresByKind))
	fmt.Fprintf(&b, "  Filtered out:       %d%s\n", stats.FilteredTotal(), breakdown(stats.RecordsFilteredOut))
	fmt.Fprintf(&b, "  Near-duplicates:    %d\n", stats.RecordsDeduplicated)
	fmt.Fprintf(&b, "  Kept:               %d\n", stats.RecordsKept)
	if stats.ClassifierErrors > 0 {
		fmt.Fprintf(&b, "  Classifier errors:  %d\n", stats.ClassifierErrors)
	}
	if stats.ExtractErrors > 0 {
		fmt.Fprintf(&b, "  Extract errors:     %d\n", stats.ExtractErrors)
	}

	if len(stats.ErrorSamples) > 0 {
		title := fmt.Sprintf("\nErrors (first %d of %d):\n", len(stats.ErrorSamples), stats.RecordsFailed)
		b.WriteString(theme.errorStyle().Render(title))
		for _, e := range stats.ErrorSamples {
			fmt.Fprintf(&b, "  • record %d, line %d", e.Seq, e.Line)
			if e.Source != "" {
				fmt.Fprintf(&b, " (%s)", e.Source)
			}
			fmt.Fprintf(&b, ": %s", e.Kind)
			if e.Detail != "" {
				fmt.Fprintf(&b, ": %s", e.Detail)
			}
			b.WriteString("\n")
		}
	}

	if detailed && len(snap.Stages) > 0 {
		b.WriteString("\nStage timings:\n")
		for _, op := range snap.Stages {
			fmt.Fprintf(&b, "  %-10s calls %d, total %dms, avg %.1fµs, min %dµs, max %dµs\n",
				op.Op, op.Count, op.TotalTimeMs, op.AvgTimeUs, op.MinTimeUs, op.MaxTimeUs)
			if op.TotalInputTokens != nil && op.TotalOutputTokens != nil {
				fmt.Fprintf(&b, "  %-10s tokens in %d, out %d\n", "", *op.TotalInputTokens, *op.TotalOutputTokens)
			}
		}
	}

	return b.String()
}

// breakdown renders non-zero counts as " (A 1, B 2)", sorted by key.
func breakdown[K ~string](counts map[K]int) string {
	keys := slices.Sorted(maps.Keys(counts))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if counts[k] > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", k, counts[k]))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
