// Package parser recovers text records from noisy, line-oriented JSON streams.
//
// Recovery runs in two stages. The Detector finds record boundaries by
// counting braces line by line and hands out Candidates; the Decoder repairs
// and decodes a Candidate into a Record. The stages are independent so the
// pipeline can run decoding on worker goroutines while boundary detection
// stays sequential.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/raphaelgruber/textsieve/internal/models"
)

// DefaultMaxRecordBytes bounds how much text a single record may buffer.
const DefaultMaxRecordBytes = 16 << 20

// Options configures record recovery.
type Options struct {
	// TextKeys are the field names holding the text block, in lookup order.
	// A line starts a record when its object's first field is one of them.
	TextKeys []string
	// MaxRecordBytes caps the buffered size of an unfinished record.
	// Zero disables the cap.
	MaxRecordBytes int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		TextKeys:       []string{"text"},
		MaxRecordBytes: DefaultMaxRecordBytes,
	}
}

// State is the boundary detector state.
type State int

const (
	StateIdle State = iota
	StateAccumulating
)

func (s State) String() string {
	if s == StateAccumulating {
		return "ACCUMULATING"
	}
	return "IDLE"
}

// Candidate is the raw text of one attempted record.
// Err is set when the boundary stage already knows the record is lost.
type Candidate struct {
	Seq    int
	Line   int
	Raw    string
	Err    models.ErrorKind
	Detail string
}

// Detector is the record boundary state machine. It is not safe for
// concurrent use.
type Detector struct {
	start    *regexp.Regexp
	maxBytes int

	state     State
	buf       strings.Builder
	depth     int
	seq       int
	startLine int
}

// NewDetector creates a detector for records whose first field is one of keys.
func NewDetector(opts Options) *Detector {
	keys := opts.TextKeys
	if len(keys) == 0 {
		keys = DefaultOptions().TextKeys
	}
	return &Detector{
		start:    startPattern(keys),
		maxBytes: opts.MaxRecordBytes,
	}
}

// startPattern matches a line that opens an object with a text key as its first
// field. Group 1 ends right before the opening brace. A leading '[' or ','
// left over from JSON array framing is allowed, and the key may be wrapped in
// straight or smart quotes.
func startPattern(keys []string) *regexp.Regexp {
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = regexp.QuoteMeta(k)
	}
	const quotes = `"'\x{201C}\x{201D}\x{2018}\x{2019}`
	return regexp.MustCompile(`^(\s*[\[,]?\s*)\{[\s` + quotes + `]*(?:` + strings.Join(quoted, "|") + `)[` + quotes + `]?\s*:`)
}

// State returns the current state.
func (d *Detector) State() State {
	return d.state
}

// Attempted returns how many records have been started so far.
func (d *Detector) Attempted() int {
	return d.seq
}

// Feed consumes one line and returns the candidates it completed, in order.
// Most lines complete nothing; a line can complete several records when it
// abandons a pending record or holds more than one object.
func (d *Detector) Feed(c models.Chunk) []Candidate {
	if strings.TrimSpace(c.Text) == "" {
		return nil
	}

	var out []Candidate
	rest := c.Text
	for rest != "" {
		if loc := d.start.FindStringSubmatchIndex(rest); loc != nil {
			if d.state == StateAccumulating {
				out = append(out, d.fail(models.ErrMalformedRecord, "new record started before braces balanced"))
			}
			d.begin(c.Line)
			rest = rest[loc[3]:]
		} else if d.state == StateIdle {
			break
		} else {
			rest = strings.TrimLeft(rest, " \t")
		}

		cand, remainder, done := d.consume(rest)
		if !done {
			break
		}
		out = append(out, cand)
		rest = strings.TrimLeft(remainder, " \t\r,]")
	}
	return out
}

// Finalize reports the pending record, if any, as lost at end of stream and
// resets the detector to IDLE.
func (d *Detector) Finalize() (Candidate, bool) {
	if d.state != StateAccumulating {
		return Candidate{}, false
	}
	return d.fail(models.ErrUnbalancedStreamEnd, fmt.Sprintf("stream ended with brace depth %d", d.depth)), true
}

func (d *Detector) begin(line int) {
	d.seq++
	d.state = StateAccumulating
	d.buf.Reset()
	d.depth = 0
	d.startLine = line
}

// consume appends segment to the pending record. It reports done when the
// record either balanced (remainder holds the text after the closing brace)
// or failed.
//
// The record may end where the brace count returns to zero mid-line only if
// the rest of the line is array framing or opens another record. Otherwise
// the balance is judged at the end of the line, so a stray brace inside a
// string value does not cut the record short.
func (d *Detector) consume(segment string) (cand Candidate, remainder string, done bool) {
	backslashes := 0
	lastZero := -1
	for i := 0; i < len(segment); i++ {
		ch := segment[i]
		if ch == '\\' {
			backslashes++
			continue
		}
		escaped := backslashes%2 == 1
		backslashes = 0
		if escaped {
			continue
		}

		switch ch {
		case '{':
			d.depth++
		case '}':
			d.depth--
			if d.depth == 0 {
				lastZero = i
				if d.boundary(segment[i+1:]) {
					d.buf.WriteString(segment[:i+1])
					return d.emit(), segment[i+1:], true
				}
			}
		}
	}

	if d.depth == 0 && lastZero >= 0 {
		d.buf.WriteString(segment[:lastZero+1])
		return d.emit(), "", true
	}

	// Wrapped lines are joined with a single space so a string value broken
	// across lines still decodes.
	d.buf.WriteString(strings.TrimRight(segment, " \t\r"))
	d.buf.WriteByte(' ')
	if d.maxBytes > 0 && d.buf.Len() > d.maxBytes {
		return d.fail(models.ErrOversizedRecord, fmt.Sprintf("record exceeds %d bytes", d.maxBytes)), "", true
	}
	return Candidate{}, "", false
}

// boundary reports whether rest, the text after a balanced closing brace, is
// empty, array framing, or the start of another record.
func (d *Detector) boundary(rest string) bool {
	if strings.TrimLeft(rest, " \t\r,]") == "" {
		return true
	}
	return d.start.MatchString(rest)
}

func (d *Detector) emit() Candidate {
	c := Candidate{Seq: d.seq, Line: d.startLine, Raw: d.buf.String()}
	d.reset()
	return c
}

func (d *Detector) fail(kind models.ErrorKind, detail string) Candidate {
	c := Candidate{Seq: d.seq, Line: d.startLine, Err: kind, Detail: detail}
	d.reset()
	return c
}

func (d *Detector) reset() {
	d.state = StateIdle
	d.buf.Reset()
	d.depth = 0
}
