package parser

import "github.com/raphaelgruber/textsieve/internal/models"

// Parser combines boundary detection and decoding for sequential use.
type Parser struct {
	detector *Detector
	decoder  *Decoder
}

// New creates a parser.
func New(opts Options) *Parser {
	return &Parser{
		detector: NewDetector(opts),
		decoder:  NewDecoder(opts),
	}
}

// Feed consumes one line and returns the records it completed.
func (p *Parser) Feed(c models.Chunk) []models.Record {
	cands := p.detector.Feed(c)
	if len(cands) == 0 {
		return nil
	}
	records := make([]models.Record, len(cands))
	for i, cand := range cands {
		records[i] = p.decoder.Decode(cand)
	}
	return records
}

// Finalize must be called at end of stream. It returns the failure for a
// record that never balanced, if there was one.
func (p *Parser) Finalize() (models.Record, bool) {
	cand, ok := p.detector.Finalize()
	if !ok {
		return models.Record{}, false
	}
	return p.decoder.Decode(cand), true
}

// State returns the detector state.
func (p *Parser) State() State {
	return p.detector.State()
}

// ParseLines runs a parser over a slice of lines and returns every record,
// including the end-of-stream failure if any.
func ParseLines(opts Options, lines []string) []models.Record {
	p := New(opts)
	var out []models.Record
	for i, line := range lines {
		out = append(out, p.Feed(models.Chunk{Line: i + 1, Text: line})...)
	}
	if rec, ok := p.Finalize(); ok {
		out = append(out, rec)
	}
	return out
}
