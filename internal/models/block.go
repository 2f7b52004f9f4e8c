package models

import "fmt"

// Block is a text block that survived filtering and deduplication.
type Block struct {
	ID     string `json:"id"`
	RunID  string `json:"run_id,omitempty"`
	Seq    int    `json:"seq"`
	Source string `json:"source,omitempty"`
	Text   string `json:"text"`
}

// BlockID returns the stable identifier used for a record's block in the
// similarity index and the sinks.
func BlockID(seq int) string {
	return fmt.Sprintf("text_%d", seq)
}
