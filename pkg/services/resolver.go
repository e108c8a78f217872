package services

import (
	"strings"

	"go.uber.org/zap"

	"github.com/insightloop/insight-engine/pkg/config"
	"github.com/insightloop/insight-engine/pkg/matching"
	"github.com/insightloop/insight-engine/pkg/models"
)

// Resolution states for one token.
const (
	ResolutionBound      = "bound"
	ResolutionAmbiguous  = "ambiguous"
	ResolutionUnresolved = "unresolved"
	ResolutionSkipped    = "skipped"
)

// TokenResolution is the outcome of binding one question token. Ambiguity
// and unresolved tokens are carried as values; the resolver never guesses.
type TokenResolution struct {
	Token string
	State string

	// Ref and Match are set when State is ResolutionBound.
	Ref   EntityRef
	Match models.CandidateMatch
	// Aggregation is the inferred aggregation for bound measure columns.
	Aggregation string

	// Candidates holds the tied interpretations when State is
	// ResolutionAmbiguous: one entry per (candidate term, entity) pair.
	Candidates []AmbiguousCandidate
}

// AmbiguousCandidate is one possible interpretation of an ambiguous token.
type AmbiguousCandidate struct {
	Ref   EntityRef
	Match models.CandidateMatch
}

// SemanticResolver binds question tokens to schema entities via the fuzzy
// matcher, scoped to one snapshot index per call.
type SemanticResolver struct {
	matcher *matching.Matcher
	cfg     config.ResolutionConfig
	logger  *zap.Logger
}

// NewSemanticResolver creates a resolver with the given tuning.
func NewSemanticResolver(matcher *matching.Matcher, cfg config.ResolutionConfig, logger *zap.Logger) *SemanticResolver {
	return &SemanticResolver{
		matcher: matcher,
		cfg:     cfg,
		logger:  logger.Named("resolver"),
	}
}

// grammarWords are question words that never name a schema entity. Tokens in
// this set are skipped instead of reported unresolved.
var grammarWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "in": {}, "on": {}, "at": {},
	"by": {}, "per": {}, "for": {}, "and": {}, "or": {}, "to": {}, "from": {},
	"with": {}, "show": {}, "me": {}, "give": {}, "get": {}, "list": {},
	"what": {}, "which": {}, "how": {}, "many": {}, "much": {}, "is": {},
	"are": {}, "was": {}, "were": {}, "total": {}, "sum": {}, "count": {},
	"average": {}, "avg": {}, "min": {}, "max": {}, "number": {},
	"top": {}, "first": {}, "last": {}, "limit": {}, "over": {}, "all": {},
	"each": {}, "every": {}, "group": {}, "grouped": {}, "sorted": {},
	"sort": {}, "order": {}, "ordered": {}, "asc": {}, "ascending": {},
	"desc": {}, "descending": {}, "where": {}, "between": {}, "than": {},
	"more": {}, "less": {}, "this": {}, "that": {}, "it": {}, "as": {},
	"day": {}, "daily": {}, "week": {}, "weekly": {}, "month": {},
	"monthly": {}, "quarter": {}, "quarterly": {}, "year": {}, "yearly": {},
	"annual": {}, "annually": {}, "time": {}, "date": {}, "today": {},
	"yesterday": {}, "days": {}, "weeks": {}, "months": {}, "years": {},
	"quarters": {},
}

// IsGrammarWord reports whether the token is question grammar rather than a
// candidate entity reference.
func IsGrammarWord(token string) bool {
	_, ok := grammarWords[strings.ToLower(token)]
	return ok
}

// ResolveToken binds a single token against the index vocabulary.
//
// Outcomes: a unique top match with at least the ambiguity margin over the
// runner-up binds the token; two or more candidates inside the margin make
// it ambiguous; nothing at or above the threshold leaves it unresolved.
func (r *SemanticResolver) ResolveToken(index *SnapshotIndex, token string) TokenResolution {
	if IsGrammarWord(token) || isNumeric(token) {
		return TokenResolution{Token: token, State: ResolutionSkipped}
	}

	matches := r.matcher.Match(token, index.Terms(), r.cfg.MatchThreshold, 0)
	if len(matches) == 0 {
		return TokenResolution{Token: token, State: ResolutionUnresolved}
	}

	// Expand term matches into entity candidates: a single vocabulary term
	// can name several entities (the same column name in two tables), which
	// is itself an ambiguity.
	candidates := make([]AmbiguousCandidate, 0, len(matches))
	for _, m := range matches {
		for _, ref := range index.Refs(m.Candidate) {
			candidates = append(candidates, AmbiguousCandidate{Ref: ref, Match: m})
		}
	}

	top := candidates[0]
	tied := []AmbiguousCandidate{top}
	seen := map[EntityRef]struct{}{top.Ref: {}}
	for _, c := range candidates[1:] {
		if _, dup := seen[c.Ref]; dup {
			continue
		}
		if top.Match.Score-c.Match.Score < r.cfg.AmbiguityMargin {
			tied = append(tied, c)
			seen[c.Ref] = struct{}{}
		}
	}

	if len(tied) > 1 {
		r.logger.Debug("ambiguous token",
			zap.String("token", token),
			zap.Int("candidates", len(tied)))
		return TokenResolution{Token: token, State: ResolutionAmbiguous, Candidates: tied}
	}

	res := TokenResolution{
		Token: token,
		State: ResolutionBound,
		Ref:   top.Ref,
		Match: top.Match,
	}
	if col := index.Column(top.Ref); col != nil {
		res.Aggregation = InferAggregation(col)
	}
	return res
}

// Resolve binds every token of a question. Grammar words and numbers are
// skipped, everything else must bind, tie, or come back unresolved.
func (r *SemanticResolver) Resolve(index *SnapshotIndex, tokens []string) []TokenResolution {
	resolutions := make([]TokenResolution, 0, len(tokens))
	for _, token := range tokens {
		resolutions = append(resolutions, r.ResolveToken(index, token))
	}
	return resolutions
}

type aggregationRule struct {
	suffix      string
	aggregation string
	priority    int
}

// aggregationRules maps column name suffixes to default aggregations,
// applied in descending priority; the first match wins.
var aggregationRules = []aggregationRule{
	{suffix: "_id", aggregation: models.AggregationCountDistinct, priority: 40},
	{suffix: "_count", aggregation: models.AggregationCount, priority: 30},
	{suffix: "_rate", aggregation: models.AggregationAvg, priority: 20},
	{suffix: "_pct", aggregation: models.AggregationAvg, priority: 20},
	{suffix: "_amount", aggregation: models.AggregationSum, priority: 10},
	{suffix: "_total", aggregation: models.AggregationSum, priority: 10},
	{suffix: "_price", aggregation: models.AggregationSum, priority: 10},
}

// InferAggregation returns the aggregation for a column: its explicit
// default if set, otherwise the first matching suffix rule. Columns flagged
// as measures with no matching rule aggregate with SUM; everything else is
// treated as a dimension (no aggregation).
func InferAggregation(col *models.ColumnEntity) string {
	if col.DefaultAggregation != "" {
		return col.DefaultAggregation
	}
	name := strings.ToLower(col.Name)
	best := ""
	bestPriority := -1
	for _, rule := range aggregationRules {
		if strings.HasSuffix(name, rule.suffix) && rule.priority > bestPriority {
			best = rule.aggregation
			bestPriority = rule.priority
		}
	}
	if best != "" {
		return best
	}
	if col.IsMeasure {
		return models.AggregationSum
	}
	return models.AggregationNone
}

func isNumeric(token string) bool {
	for _, r := range token {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(token) > 0
}
