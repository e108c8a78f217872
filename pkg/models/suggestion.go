package models

// Suggestion types. The caller uses the type to decide whether clicking a
// suggestion appends a term or submits a complete query.
const (
	SuggestionTypeMetric    = "metric"
	SuggestionTypeDimension = "dimension"
	SuggestionTypeFilter    = "filter"
	SuggestionTypeQuery     = "query"
	SuggestionTypeComplete  = "complete"
)

// Suggestion is one autocomplete entry. Produced fresh per request and never
// persisted across schema versions.
type Suggestion struct {
	Text        string `json:"text"`
	Type        string `json:"type"`
	Icon        string `json:"icon"`
	Description string `json:"description,omitempty"`
}
