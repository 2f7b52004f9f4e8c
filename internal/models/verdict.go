package models

// Reason is the rule that caused a block to be dropped.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonAdKeyword          Reason = "AD_KEYWORD"
	ReasonReferencePattern   Reason = "REFERENCE_PATTERN"
	ReasonAuthorInfo         Reason = "AUTHOR_INFO"
	ReasonLowQuality         Reason = "LOW_QUALITY"
	ReasonNonsense           Reason = "NONSENSE"
	ReasonBlacklistedKey     Reason = "BLACKLISTED_KEY"
	ReasonClassifierRejected Reason = "CLASSIFIER_REJECTED"
)

// Verdict is the keep/drop decision for a single text block.
type Verdict struct {
	Keep   bool   `json:"keep"`
	Reason Reason `json:"reason,omitempty"`
}

// Kept returns a keep verdict.
func Kept() Verdict {
	return Verdict{Keep: true}
}

// Dropped returns a drop verdict carrying the reason.
func Dropped(r Reason) Verdict {
	return Verdict{Reason: r}
}
