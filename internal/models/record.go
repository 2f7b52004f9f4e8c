// Package models defines the data structures shared by the textsieve pipeline stages.
package models

// ErrorKind classifies why a record could not be recovered.
type ErrorKind string

const (
	// ErrMalformedRecord covers records whose buffered text does not decode
	// after repair, records abandoned by a new record start, and records whose
	// text field is not a string.
	ErrMalformedRecord ErrorKind = "MALFORMED_RECORD"

	// ErrUnbalancedStreamEnd is reported when the stream ends while a record
	// is still open.
	ErrUnbalancedStreamEnd ErrorKind = "UNBALANCED_STREAM_END"

	// ErrOversizedRecord is reported when a record grows beyond the configured
	// byte limit before its braces balance.
	ErrOversizedRecord ErrorKind = "OVERSIZED_RECORD"
)

// Chunk is one line of raw input.
type Chunk struct {
	Line int    // 1-based line number within its source
	Text string // line content without the trailing newline
}

// Record is the outcome of one attempted record recovery.
// Failed records keep their sequence number so failures can be reported in order.
type Record struct {
	Seq    int       `json:"seq"`
	Line   int       `json:"line"`
	Key    string    `json:"key,omitempty"`
	Text   string    `json:"text"`
	OK     bool      `json:"ok"`
	Err    ErrorKind `json:"error,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Failed builds a failed record.
func Failed(seq, line int, kind ErrorKind, detail string) Record {
	return Record{Seq: seq, Line: line, Err: kind, Detail: detail}
}
