package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/raphaelgruber/textsieve/internal/models"
)

// Decoder turns candidates into records. It holds no mutable state and is
// safe for concurrent use.
type Decoder struct {
	keys []string
}

// NewDecoder creates a decoder that extracts the first present key of opts.TextKeys.
func NewDecoder(opts Options) *Decoder {
	keys := opts.TextKeys
	if len(keys) == 0 {
		keys = DefaultOptions().TextKeys
	}
	return &Decoder{keys: keys}
}

// Decode parses a candidate. Candidates that decode strictly are never
// repaired. A missing text field yields an empty text; a text field that is
// not a string is malformed.
func (d *Decoder) Decode(c Candidate) models.Record {
	if c.Err != "" {
		return models.Failed(c.Seq, c.Line, c.Err, c.Detail)
	}

	fields, err := decodeObject(c.Raw)
	if err != nil {
		repaired := Repair(c.Raw)
		if repaired == c.Raw {
			return models.Failed(c.Seq, c.Line, models.ErrMalformedRecord, err.Error())
		}
		fields, err = decodeObject(repaired)
		if err != nil {
			return models.Failed(c.Seq, c.Line, models.ErrMalformedRecord, err.Error())
		}
	}

	for _, key := range d.keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return models.Failed(c.Seq, c.Line, models.ErrMalformedRecord, fmt.Sprintf("field %q is not a string", key))
		}
		return models.Record{Seq: c.Seq, Line: c.Line, Key: key, Text: strings.TrimSpace(text), OK: true}
	}
	return models.Record{Seq: c.Seq, Line: c.Line, OK: true}
}

func decodeObject(s string) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
