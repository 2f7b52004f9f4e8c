// Package extract turns HTML record text into plain text before filtering.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// Mode selects when extraction runs.
type Mode string

const (
	ModeNever  Mode = "never"
	ModeAuto   Mode = "auto"
	ModeAlways Mode = "always"
)

// ParseMode validates a mode name. The empty string means ModeNever.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeNever, nil
	case ModeNever, ModeAuto, ModeAlways:
		return m, nil
	default:
		return "", fmt.Errorf("unknown html mode %q (want never, auto or always)", s)
	}
}

var (
	htmlTag    = regexp.MustCompile(`(?i)<(?:html|body|div|p|article|section|span|br|h[1-6]|ul|li|table|a\s)[^>]*>`)
	whitespace = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankLines = regexp.MustCompile(`\n\s*\n\s*`)
)

// LooksLikeHTML reports whether text contains common block or inline tags.
func LooksLikeHTML(text string) bool {
	return htmlTag.MatchString(text)
}

// Extractor converts HTML to readable text. It is safe for concurrent use.
type Extractor struct {
	mode Mode
}

// New creates an extractor.
func New(mode Mode) *Extractor {
	return &Extractor{mode: mode}
}

// Mode returns the configured mode.
func (e *Extractor) Mode() Mode {
	return e.mode
}

// Applies reports whether Text would transform text.
func (e *Extractor) Applies(text string) bool {
	switch e.mode {
	case ModeAlways:
		return true
	case ModeAuto:
		return LooksLikeHTML(text)
	default:
		return false
	}
}

// Text returns the main readable text of an HTML document or fragment.
// Text the mode does not apply to is returned unchanged.
func (e *Extractor) Text(text string) (string, error) {
	if !e.Applies(text) {
		return text, nil
	}

	article, err := readability.FromReader(strings.NewReader(text), nil)
	if err != nil {
		return "", fmt.Errorf("extract html: %w", err)
	}
	return normalize(article.TextContent), nil
}

func normalize(s string) string {
	s = whitespace.ReplaceAllString(s, " ")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
