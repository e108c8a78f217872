package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/insightloop/insight-engine/pkg/config"
	"github.com/insightloop/insight-engine/pkg/matching"
	"github.com/insightloop/insight-engine/pkg/models"
)

// IntentBuilder assembles a ResolvedIntent from a question, its conversation
// context, and the active snapshot index. Ambiguous or unresolved bindings
// surface as ClarificationNeeded, never as a best-effort guess.
type IntentBuilder struct {
	resolver *SemanticResolver
	cfg      config.ResolutionConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewIntentBuilder creates an intent builder.
func NewIntentBuilder(resolver *SemanticResolver, cfg config.ResolutionConfig, logger *zap.Logger) *IntentBuilder {
	return &IntentBuilder{
		resolver: resolver,
		cfg:      cfg,
		logger:   logger.Named("intent"),
		now:      time.Now,
	}
}

// Build resolves the question into an intent, or returns the clarifications
// the user must answer first. Exactly one of the two return values is
// non-nil on success.
func (b *IntentBuilder) Build(question string, qctx *models.QueryContext, index *SnapshotIndex) (*models.ResolvedIntent, *models.ClarificationNeeded, error) {
	tokens := matching.Tokenize(question)
	// Filter values ("region = West") are opaque literals, not entity
	// references; resolving them would produce spurious clarifications.
	filterValues := filterValueTokens(question)
	resolutions := make([]TokenResolution, 0, len(tokens))
	for _, token := range tokens {
		if _, ok := filterValues[strings.ToLower(token)]; ok {
			resolutions = append(resolutions, TokenResolution{Token: token, State: ResolutionSkipped})
			continue
		}
		resolutions = append(resolutions, b.resolver.ResolveToken(index, token))
	}

	var clarifications []string
	for _, res := range resolutions {
		switch res.State {
		case ResolutionAmbiguous:
			clarifications = append(clarifications, ambiguityQuestion(res))
		case ResolutionUnresolved:
			clarifications = append(clarifications, fmt.Sprintf(
				"I could not understand %q — no matching table or column was found.", res.Token))
		}
	}
	if len(clarifications) > 0 {
		return nil, &models.ClarificationNeeded{Questions: clarifications}, nil
	}

	intent := &models.ResolvedIntent{Limit: b.cfg.DefaultRowLimit}
	b.applyBindings(intent, resolutions, index)

	// Follow-up phrasing like "and by region?" names a dimension but elides
	// the measure; inherit it from the most recent context question that
	// resolves to one.
	if len(intent.Measures) == 0 && qctx != nil {
		b.inheritFromContext(intent, qctx, index)
	}

	if bucket := detectBucket(question); bucket != "" {
		b.applyTemporalBucket(intent, index, bucket)
	}

	b.applyFilters(intent, question, index)
	b.applyTimeWindow(intent, question, index)
	b.applyOrderAndLimit(intent, question, index)

	b.inferTargetTables(intent, index)
	if len(intent.TargetTables) == 0 {
		return nil, &models.ClarificationNeeded{Questions: []string{
			"Which table should this question run against? I could not identify one from the question.",
		}}, nil
	}

	return intent, nil, nil
}

func (b *IntentBuilder) applyBindings(intent *models.ResolvedIntent, resolutions []TokenResolution, index *SnapshotIndex) {
	for _, res := range resolutions {
		if res.State != ResolutionBound {
			continue
		}
		if res.Ref.IsTable {
			addTarget(intent, res.Ref.Table)
			continue
		}
		col := index.Column(res.Ref)
		if col == nil {
			continue
		}
		if res.Aggregation != models.AggregationNone {
			addMeasure(intent, models.Measure{
				Table:       res.Ref.Table,
				Column:      res.Ref.Column,
				Aggregation: res.Aggregation,
			})
		} else {
			addDimension(intent, models.Dimension{
				Table:  res.Ref.Table,
				Column: res.Ref.Column,
			})
		}
	}
}

func (b *IntentBuilder) inheritFromContext(intent *models.ResolvedIntent, qctx *models.QueryContext, index *SnapshotIndex) {
	window := qctx.Window(b.cfg.ContextWindow)
	for i := len(window) - 1; i >= 0; i-- {
		prior := b.resolver.Resolve(index, matching.Tokenize(window[i]))
		inherited := false
		for _, res := range prior {
			if res.State == ResolutionBound && !res.Ref.IsTable && res.Aggregation != models.AggregationNone {
				addMeasure(intent, models.Measure{
					Table:       res.Ref.Table,
					Column:      res.Ref.Column,
					Aggregation: res.Aggregation,
				})
				inherited = true
			}
		}
		if inherited {
			b.logger.Debug("inherited measures from context", zap.String("question", window[i]))
			return
		}
	}
}

var bucketPhrases = []struct {
	phrase string
	bucket string
}{
	{"by day", models.BucketDay}, {"daily", models.BucketDay}, {"per day", models.BucketDay},
	{"by week", models.BucketWeek}, {"weekly", models.BucketWeek}, {"per week", models.BucketWeek},
	{"by month", models.BucketMonth}, {"monthly", models.BucketMonth}, {"per month", models.BucketMonth},
	{"by quarter", models.BucketQuarter}, {"quarterly", models.BucketQuarter}, {"per quarter", models.BucketQuarter},
	{"by year", models.BucketYear}, {"yearly", models.BucketYear}, {"annually", models.BucketYear},
	{"per year", models.BucketYear}, {"over time", models.BucketMonth},
}

func detectBucket(question string) string {
	q := strings.ToLower(question)
	for _, bp := range bucketPhrases {
		if strings.Contains(q, bp.phrase) {
			return bp.bucket
		}
	}
	return ""
}

func (b *IntentBuilder) applyTemporalBucket(intent *models.ResolvedIntent, index *SnapshotIndex, bucket string) {
	col, table := firstTemporalColumn(intent, index)
	if col == "" {
		return
	}
	addDimension(intent, models.Dimension{Table: table, Column: col, Bucket: bucket})
}

// firstTemporalColumn picks the first date/time column, preferring the
// intent's target tables.
func firstTemporalColumn(intent *models.ResolvedIntent, index *SnapshotIndex) (column, table string) {
	preferred := make(map[string]bool, len(intent.TargetTables))
	for _, t := range intent.TargetTables {
		preferred[t] = true
	}
	for _, m := range intent.Measures {
		preferred[m.Table] = true
	}

	var fallbackCol, fallbackTable string
	for ti := range index.Snapshot.Tables {
		t := &index.Snapshot.Tables[ti]
		for ci := range t.Columns {
			c := &t.Columns[ci]
			if !isTemporalType(c.DataType) {
				continue
			}
			if preferred[t.Name] {
				return c.Name, t.Name
			}
			if fallbackCol == "" {
				fallbackCol, fallbackTable = c.Name, t.Name
			}
		}
	}
	return fallbackCol, fallbackTable
}

func isTemporalType(dataType string) bool {
	dt := strings.ToLower(dataType)
	return strings.Contains(dt, "date") || strings.Contains(dt, "time")
}

var filterPattern = regexp.MustCompile(`(?i)([a-z_][a-z0-9_]*)\s*(>=|<=|!=|=|>|<)\s*'?([^'\s]+)'?`)

// filterValueTokens collects the right-hand-side tokens of every explicit
// predicate in the question.
func filterValueTokens(question string) map[string]struct{} {
	values := map[string]struct{}{}
	for _, m := range filterPattern.FindAllStringSubmatch(question, -1) {
		for _, tok := range matching.Tokenize(m[3]) {
			values[strings.ToLower(tok)] = struct{}{}
		}
	}
	return values
}

// applyFilters extracts explicit "column <op> value" predicates. The column
// side must resolve against the snapshot; anything else is left alone.
func (b *IntentBuilder) applyFilters(intent *models.ResolvedIntent, question string, index *SnapshotIndex) {
	for _, m := range filterPattern.FindAllStringSubmatch(question, -1) {
		colToken, op, value := m[1], m[2], m[3]
		res := b.resolver.ResolveToken(index, colToken)
		if res.State != ResolutionBound || res.Ref.IsTable {
			continue
		}
		intent.Filters = append(intent.Filters, models.Filter{
			Table:    res.Ref.Table,
			Column:   res.Ref.Column,
			Operator: normalizeOperator(op),
			Value:    value,
		})
		addTarget(intent, res.Ref.Table)
	}
}

func normalizeOperator(op string) string {
	switch op {
	case "=":
		return models.OpEquals
	case "!=":
		return models.OpNotEquals
	case ">":
		return models.OpGreaterThan
	case ">=":
		return models.OpGreaterEqual
	case "<":
		return models.OpLessThan
	case "<=":
		return models.OpLessEqual
	}
	return op
}

var relativeWindowPattern = regexp.MustCompile(`(?i)\b(?:last|past)\s+(\d+)\s+(day|week|month|quarter|year)s?\b`)

// applyTimeWindow resolves relative phrases like "last 30 days" or
// "this month" into a concrete date range on the first temporal column.
func (b *IntentBuilder) applyTimeWindow(intent *models.ResolvedIntent, question string, index *SnapshotIndex) {
	if intent.TimeRange != nil {
		return
	}
	col, table := firstTemporalColumn(intent, index)
	if col == "" {
		return
	}

	now := b.now().UTC()
	q := strings.ToLower(question)
	window := func(start, end time.Time) *models.TimeRange {
		return &models.TimeRange{
			Table:  table,
			Column: col,
			Start:  start.Format("2006-01-02"),
			End:    end.Format("2006-01-02"),
		}
	}

	if m := relativeWindowPattern.FindStringSubmatch(question); m != nil {
		n, _ := strconv.Atoi(m[1])
		intent.TimeRange = window(subtractUnits(now, strings.ToLower(m[2]), n), now)
		return
	}

	switch {
	case strings.Contains(q, "this month"):
		intent.TimeRange = window(time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), now)
	case strings.Contains(q, "last month"):
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		intent.TimeRange = window(first.AddDate(0, -1, 0), first.AddDate(0, 0, -1))
	case strings.Contains(q, "this year"):
		intent.TimeRange = window(time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC), now)
	case strings.Contains(q, "last year"):
		intent.TimeRange = window(
			time.Date(now.Year()-1, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(now.Year()-1, 12, 31, 0, 0, 0, 0, time.UTC))
	}
}

func subtractUnits(now time.Time, unit string, n int) time.Time {
	switch unit {
	case "day":
		return now.AddDate(0, 0, -n)
	case "week":
		return now.AddDate(0, 0, -7*n)
	case "month":
		return now.AddDate(0, -n, 0)
	case "quarter":
		return now.AddDate(0, -3*n, 0)
	case "year":
		return now.AddDate(-n, 0, 0)
	}
	return now
}

var (
	topNPattern    = regexp.MustCompile(`(?i)\b(?:top|first)\s+(\d+)\b`)
	limitPattern   = regexp.MustCompile(`(?i)\blimit\s+(\d+)\b`)
	orderByPattern = regexp.MustCompile(`(?i)\b(?:sorted|order(?:ed)?)\s+by\s+([a-z_][a-z0-9_]*)\b`)
)

func (b *IntentBuilder) applyOrderAndLimit(intent *models.ResolvedIntent, question string, index *SnapshotIndex) {
	q := strings.ToLower(question)

	if m := topNPattern.FindStringSubmatch(question); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			intent.Limit = n
		}
		// "top N" implies ranking by the primary measure.
		if intent.OrderBy == nil && len(intent.Measures) > 0 {
			intent.OrderBy = &models.OrderBy{Column: measureAlias(intent.Measures[0]), Descending: true}
		}
	}
	if m := limitPattern.FindStringSubmatch(question); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			intent.Limit = n
		}
	}

	if m := orderByPattern.FindStringSubmatch(question); m != nil {
		res := b.resolver.ResolveToken(index, m[1])
		if res.State == ResolutionBound && !res.Ref.IsTable {
			intent.OrderBy = &models.OrderBy{
				Column:     res.Ref.Column,
				Descending: strings.Contains(q, "desc"),
			}
		}
	}
}

// inferTargetTables fills in targets from bound measures and dimensions, or
// falls back to the only table when the snapshot has exactly one.
func (b *IntentBuilder) inferTargetTables(intent *models.ResolvedIntent, index *SnapshotIndex) {
	for _, m := range intent.Measures {
		addTarget(intent, m.Table)
	}
	for _, d := range intent.Dimensions {
		addTarget(intent, d.Table)
	}
	if len(intent.TargetTables) == 0 && len(index.Snapshot.Tables) == 1 {
		addTarget(intent, index.Snapshot.Tables[0].Name)
	}
}

func ambiguityQuestion(res TokenResolution) string {
	names := make([]string, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		if c.Ref.IsTable {
			names = append(names, fmt.Sprintf("the %s table", c.Ref.Table))
		} else {
			names = append(names, fmt.Sprintf("%s.%s", c.Ref.Table, c.Ref.Column))
		}
	}
	return fmt.Sprintf("Which did you mean by %q: %s?", res.Token, strings.Join(names, " or "))
}

func measureAlias(m models.Measure) string {
	return fmt.Sprintf("%s_%s", strings.ToLower(m.Aggregation), m.Column)
}

func addTarget(intent *models.ResolvedIntent, table string) {
	for _, t := range intent.TargetTables {
		if t == table {
			return
		}
	}
	intent.TargetTables = append(intent.TargetTables, table)
}

func addMeasure(intent *models.ResolvedIntent, m models.Measure) {
	for _, existing := range intent.Measures {
		if existing == m {
			return
		}
	}
	intent.Measures = append(intent.Measures, m)
}

func addDimension(intent *models.ResolvedIntent, d models.Dimension) {
	for _, existing := range intent.Dimensions {
		if existing.Table == d.Table && existing.Column == d.Column {
			return
		}
	}
	intent.Dimensions = append(intent.Dimensions, d)
}
