package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/insightloop/insight-engine/pkg/config"
	"github.com/insightloop/insight-engine/pkg/llm"
	"github.com/insightloop/insight-engine/pkg/matching"
	"github.com/insightloop/insight-engine/pkg/models"
)

// Suggestion icons by type.
var suggestionIcons = map[string]string{
	models.SuggestionTypeMetric:    "📊",
	models.SuggestionTypeDimension: "🏷️",
	models.SuggestionTypeFilter:    "🔍",
	models.SuggestionTypeQuery:     "💡",
	models.SuggestionTypeComplete:  "✨",
}

// SuggestionEngine produces ranked autocomplete suggestions in three latency
// tiers: instant schema examples for empty input, index matching for short
// prefixes, and an optional LLM completion for longer input. The engine is
// stateless per call; debouncing belongs to the caller.
type SuggestionEngine struct {
	matcher     *matching.Matcher
	assist      llm.Client // nil disables the LLM tier
	timeout     time.Duration
	defaultMax  int
	llmMinChars int
	logger      *zap.Logger
}

// NewSuggestionEngine creates a suggestion engine. assist may be nil.
func NewSuggestionEngine(matcher *matching.Matcher, assist llm.Client, timeout time.Duration, cfg config.SuggestionConfig, logger *zap.Logger) *SuggestionEngine {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = 8
	}
	if cfg.LLMMinChars <= 0 {
		cfg.LLMMinChars = 3
	}
	return &SuggestionEngine{
		matcher:     matcher,
		assist:      assist,
		timeout:     timeout,
		defaultMax:  cfg.MaxSuggestions,
		llmMinChars: cfg.LLMMinChars,
		logger:      logger.Named("suggest"),
	}
}

// Suggest returns at most maxSuggestions entries for the partial input.
// Callers that pass no cap get the configured default. Input below the LLM
// threshold never triggers an external call, regardless of useLLM.
func (e *SuggestionEngine) Suggest(ctx context.Context, index *SnapshotIndex, partial string, maxSuggestions int, useLLM bool) []models.Suggestion {
	if maxSuggestions <= 0 {
		maxSuggestions = e.defaultMax
	}
	partial = strings.TrimSpace(partial)

	if partial == "" {
		return capSuggestions(e.exampleSuggestions(index), maxSuggestions)
	}

	if useLLM && e.assist != nil && len(partial) >= e.llmMinChars {
		if suggestions := e.llmSuggestions(ctx, index, partial, maxSuggestions); len(suggestions) > 0 {
			return suggestions
		}
		// Fall through to the fast path on error or empty response.
	}

	return capSuggestions(e.indexSuggestions(index, partial), maxSuggestions)
}

// exampleSuggestions builds schema-derived example queries from the first
// table's top measure and dimension. No external calls.
func (e *SuggestionEngine) exampleSuggestions(index *SnapshotIndex) []models.Suggestion {
	if len(index.Snapshot.Tables) == 0 {
		return nil
	}
	table := &index.Snapshot.Tables[0]

	var measure, dimension string
	for i := range table.Columns {
		col := &table.Columns[i]
		if measure == "" && InferAggregation(col) != models.AggregationNone {
			measure = displayTerm(col)
		}
		if dimension == "" && InferAggregation(col) == models.AggregationNone && col.IsDimension {
			dimension = displayTerm(col)
		}
	}

	var suggestions []models.Suggestion
	if measure != "" && dimension != "" {
		suggestions = append(suggestions, querySuggestion(
			fmt.Sprintf("Total %s by %s", measure, dimension),
			fmt.Sprintf("Break down %s per %s", measure, dimension)))
		suggestions = append(suggestions, querySuggestion(
			fmt.Sprintf("Top 10 %s by %s", dimension, measure),
			fmt.Sprintf("Rank %s by %s", dimension, measure)))
	}
	if measure != "" {
		suggestions = append(suggestions, querySuggestion(
			fmt.Sprintf("Total %s over time", measure),
			fmt.Sprintf("Monthly trend of %s", measure)))
	}
	suggestions = append(suggestions, querySuggestion(
		fmt.Sprintf("Count of %s", table.Name),
		fmt.Sprintf("How many rows are in %s", table.Name)))

	return suggestions
}

// indexSuggestions matches the trailing token of the partial input against
// the vocabulary: prefix hits first, fuzzy hits after.
func (e *SuggestionEngine) indexSuggestions(index *SnapshotIndex, partial string) []models.Suggestion {
	tokens := matching.Tokenize(partial)
	if len(tokens) == 0 {
		return nil
	}
	last := strings.ToLower(tokens[len(tokens)-1])

	var suggestions []models.Suggestion
	seen := map[string]struct{}{}
	appendTerm := func(term string) {
		if _, dup := seen[term]; dup {
			return
		}
		seen[term] = struct{}{}
		suggestions = append(suggestions, e.termSuggestion(index, term))
	}

	for _, term := range index.Terms() {
		if strings.HasPrefix(term, last) {
			appendTerm(term)
		}
	}
	for _, m := range e.matcher.Match(last, index.Terms(), 0, 0) {
		appendTerm(strings.ToLower(m.Candidate))
	}
	return suggestions
}

func (e *SuggestionEngine) termSuggestion(index *SnapshotIndex, term string) models.Suggestion {
	sType := models.SuggestionTypeDimension
	description := ""
	if refs := index.Refs(term); len(refs) > 0 {
		ref := refs[0]
		if ref.IsTable {
			sType = models.SuggestionTypeQuery
			description = fmt.Sprintf("Query the %s table", ref.Table)
		} else if col := index.Column(ref); col != nil {
			if InferAggregation(col) != models.AggregationNone {
				sType = models.SuggestionTypeMetric
			}
			description = fmt.Sprintf("%s.%s", ref.Table, ref.Column)
		}
	}
	return models.Suggestion{
		Text:        term,
		Type:        sType,
		Icon:        suggestionIcons[sType],
		Description: description,
	}
}

// llmSuggestions asks the assist client for completions of the partial
// question. Returns nil on any failure so the caller can fall back.
func (e *SuggestionEngine) llmSuggestions(ctx context.Context, index *SnapshotIndex, partial string, maxSuggestions int) []models.Suggestion {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	prompt := fmt.Sprintf("Schema:\n%s\nPartial question: %q\n\nComplete the question. Respond with up to %d completions, one per line, no numbering.",
		schemaSummary(index.Snapshot), partial, maxSuggestions)

	raw, err := e.assist.GenerateResponse(ctx, prompt, suggestSystemMessage, 0.2)
	if err != nil {
		e.logger.Debug("LLM suggestion fallback", zap.Error(err))
		return nil
	}

	var suggestions []models.Suggestion
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*• "))
		if line == "" {
			continue
		}
		suggestions = append(suggestions, models.Suggestion{
			Text: line,
			Type: models.SuggestionTypeComplete,
			Icon: suggestionIcons[models.SuggestionTypeComplete],
		})
		if len(suggestions) == maxSuggestions {
			break
		}
	}
	return suggestions
}

const suggestSystemMessage = "You complete partial business questions about a database. " +
	"Only reference tables and columns present in the schema. Keep completions short."

func querySuggestion(text, description string) models.Suggestion {
	return models.Suggestion{
		Text:        text,
		Type:        models.SuggestionTypeQuery,
		Icon:        suggestionIcons[models.SuggestionTypeQuery],
		Description: description,
	}
}

func displayTerm(col *models.ColumnEntity) string {
	if col.DisplayName != "" {
		return col.DisplayName
	}
	return col.Name
}

func capSuggestions(suggestions []models.Suggestion, max int) []models.Suggestion {
	if len(suggestions) > max {
		return suggestions[:max]
	}
	return suggestions
}
