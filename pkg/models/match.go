package models

// Match types, in strategy priority order.
const (
	MatchTypeExact        = "exact"
	MatchTypeAbbreviation = "abbreviation"
	MatchTypeFuzzy        = "fuzzy"
	MatchTypePhonetic     = "phonetic"
)

// CandidateMatch scores one candidate term against a question token.
// Ephemeral: produced per resolution call, never stored.
type CandidateMatch struct {
	Term      string  `json:"term"`
	Candidate string  `json:"candidate"`
	Score     float64 `json:"score"` // always in [0,1]
	MatchType string  `json:"match_type"`
}

// Correction proposes a replacement for a likely misspelled token.
type Correction struct {
	Original   string  `json:"original"`
	Suggestion string  `json:"suggestion"`
	Score      float64 `json:"score"`
}
