// Package source reads raw input lines for the pipeline.
package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/raphaelgruber/textsieve/internal/models"
)

// ErrSourceUnavailable is returned when input cannot be opened or read.
var ErrSourceUnavailable = errors.New("source unavailable")

// DefaultExtensions are the file types collected from directories.
var DefaultExtensions = []string{".jsonl", ".json", ".txt"}

// Source yields input lines in order. Next returns io.EOF after the last line.
type Source interface {
	Name() string
	Next() (models.Chunk, error)
}

// LineSource splits a reader into lines. Invalid UTF-8 is replaced with
// U+FFFD so one bad byte never costs a whole record.
type LineSource struct {
	name   string
	r      *bufio.Reader
	line   int
	closer io.Closer
}

// NewLineSource wraps r. The caller keeps ownership of r.
func NewLineSource(name string, r io.Reader) *LineSource {
	return &LineSource{name: name, r: bufio.NewReaderSize(r, 64*1024)}
}

// FromLines builds an in-memory source, mostly for tests and the check command.
func FromLines(name string, lines ...string) *LineSource {
	return NewLineSource(name, strings.NewReader(strings.Join(lines, "\n")))
}

// Open opens a file; paths ending in .gz are decompressed. "-" reads stdin.
func Open(path string) (*LineSource, error) {
	if path == "-" {
		return NewLineSource("stdin", os.Stdin), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, path, err)
		}
		s := NewLineSource(path, zr)
		s.closer = multiCloser{zr, f}
		return s, nil
	}

	s := NewLineSource(path, f)
	s.closer = f
	return s, nil
}

// Name returns the source name used in logs and error samples.
func (s *LineSource) Name() string {
	return s.name
}

// Next returns the next line without its line terminator.
func (s *LineSource) Next() (models.Chunk, error) {
	text, err := s.r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return models.Chunk{}, fmt.Errorf("%w: %s line %d: %v", ErrSourceUnavailable, s.name, s.line+1, err)
	}
	if errors.Is(err, io.EOF) && text == "" {
		return models.Chunk{}, io.EOF
	}

	s.line++
	text = strings.TrimRight(text, "\r\n")
	return models.Chunk{Line: s.line, Text: strings.ToValidUTF8(text, "\uFFFD")}, nil
}

// Close releases the underlying file, if the source opened one.
func (s *LineSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CollectFiles expands paths into input files. Directories are walked for
// files with one of exts (optionally gzipped); plain files are taken as given.
// The result is sorted per directory so runs are reproducible.
func CollectFiles(paths []string, recursive bool, exts []string) ([]string, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	var files []string
	for _, root := range paths {
		if root == "-" {
			files = append(files, root)
			continue
		}

		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		if !info.IsDir() {
			files = append(files, root)
			continue
		}

		var found []string
		walkFn := func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() && !recursive && p != root {
				return filepath.SkipDir
			}
			if !d.IsDir() && hasExt(p, exts) {
				found = append(found, p)
			}
			return nil
		}
		if err := filepath.WalkDir(root, walkFn); err != nil {
			return nil, fmt.Errorf("%w: scan %s: %v", ErrSourceUnavailable, root, err)
		}
		slices.Sort(found)
		files = append(files, found...)
	}
	return files, nil
}

func hasExt(path string, exts []string) bool {
	path = strings.TrimSuffix(path, ".gz")
	return slices.Contains(exts, strings.ToLower(filepath.Ext(path)))
}

// FileSource opens its file on first use, so a long list of inputs holds at
// most one descriptor at a time.
type FileSource struct {
	path string
	s    *LineSource
}

// Files returns one lazily opened source per path.
func Files(paths []string) []Source {
	out := make([]Source, len(paths))
	for i, p := range paths {
		out[i] = &FileSource{path: p}
	}
	return out
}

// Name returns the file path.
func (f *FileSource) Name() string {
	return f.path
}

// Next opens the file if needed and returns its next line.
func (f *FileSource) Next() (models.Chunk, error) {
	if f.s == nil {
		s, err := Open(f.path)
		if err != nil {
			return models.Chunk{}, err
		}
		f.s = s
	}
	return f.s.Next()
}

// Close closes the file if it was opened.
func (f *FileSource) Close() error {
	if f.s == nil {
		return nil
	}
	return f.s.Close()
}
