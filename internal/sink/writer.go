package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raphaelgruber/textsieve/internal/models"
)

// Format selects how a Writer encodes blocks.
type Format string

const (
	FormatText  Format = "text"
	FormatJSONL Format = "jsonl"
)

// ParseFormat validates a writer format name. The empty string means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSONL:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or jsonl)", s)
	}
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Writer streams blocks to an io.Writer, one block per line. In text format
// line breaks inside a block are folded to spaces.
type Writer struct {
	w      *bufio.Writer
	enc    *json.Encoder
	format Format
	stats  io.Writer
	closer []io.Closer
}

// NewWriter creates a sink writing blocks to w. When stats is non-nil the
// final RunStats are written to it as indented JSON.
func NewWriter(w io.Writer, format Format, stats io.Writer) *Writer {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &Writer{w: bw, enc: enc, format: format, stats: stats}
}

// Create opens path for writing ("-" is stdout) and returns a Writer that
// closes the files it opened on Finish. An empty statsPath skips the stats file.
func Create(path string, format Format, statsPath string) (*Writer, error) {
	var closers []io.Closer
	out := io.Writer(os.Stdout)
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("create output: %w", err)
		}
		out = f
		closers = append(closers, f)
	}

	var stats io.Writer
	if statsPath != "" {
		f, err := os.Create(statsPath)
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
			return nil, fmt.Errorf("create stats file: %w", err)
		}
		stats = f
		closers = append(closers, f)
	}

	w := NewWriter(out, format, stats)
	w.closer = closers
	return w, nil
}

func (w *Writer) Accept(_ context.Context, b models.Block) error {
	if w.format == FormatJSONL {
		if err := w.enc.Encode(b); err != nil {
			return fmt.Errorf("write block %s: %w", b.ID, err)
		}
		return nil
	}
	if _, err := w.w.WriteString(lineBreaks.Replace(b.Text) + "\n"); err != nil {
		return fmt.Errorf("write block %s: %w", b.ID, err)
	}
	return nil
}

func (w *Writer) Finish(_ context.Context, stats models.RunStats) error {
	err := w.w.Flush()
	if err != nil {
		err = fmt.Errorf("flush output: %w", err)
	}

	if err == nil && w.stats != nil {
		data, merr := json.MarshalIndent(stats, "", "  ")
		if merr != nil {
			err = fmt.Errorf("encode stats: %w", merr)
		} else if _, werr := w.stats.Write(append(data, '\n')); werr != nil {
			err = fmt.Errorf("write stats: %w", werr)
		}
	}

	if cerr := w.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Close releases the files opened by Create without flushing. Finish calls
// it; callers only need it when a run ends without Finish. Close is
// idempotent.
func (w *Writer) Close() error {
	var err error
	for _, c := range w.closer {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close output: %w", cerr)
		}
	}
	w.closer = nil
	return err
}
