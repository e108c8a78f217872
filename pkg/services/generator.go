package services

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/insightloop/insight-engine/pkg/apperrors"
	"github.com/insightloop/insight-engine/pkg/llm"
	"github.com/insightloop/insight-engine/pkg/models"
	enginesql "github.com/insightloop/insight-engine/pkg/sql"
)

// GeneratedQuery is the output of query generation.
type GeneratedQuery struct {
	Text        string `json:"text"`
	Fingerprint string `json:"fingerprint"`
}

// QueryGenerator compiles resolved intents into SQL. Compilation is
// deterministic: the same intent always yields byte-identical query text.
// Open-ended phrasing that the rule-based compiler cannot express may be
// delegated to the LLM-assist path, which is best-effort only.
type QueryGenerator struct {
	assist  llm.Client // nil disables the assist path
	timeout time.Duration
	logger  *zap.Logger
}

// NewQueryGenerator creates a generator. assist may be nil.
func NewQueryGenerator(assist llm.Client, timeout time.Duration, logger *zap.Logger) *QueryGenerator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &QueryGenerator{
		assist:  assist,
		timeout: timeout,
		logger:  logger.Named("generator"),
	}
}

// Generate compiles the intent against the snapshot it was built from.
// A malformed intent (no targets, column absent from the snapshot, targets
// with no join path) is a contract violation and returns ErrCompilation.
func (g *QueryGenerator) Generate(intent *models.ResolvedIntent, index *SnapshotIndex) (*GeneratedQuery, error) {
	if intent == nil || len(intent.TargetTables) == 0 {
		return nil, fmt.Errorf("intent has no target tables: %w", apperrors.ErrCompilation)
	}
	if err := validateIntentColumns(intent, index); err != nil {
		return nil, err
	}

	qualify := len(intent.TargetTables) > 1
	var b strings.Builder

	b.WriteString("SELECT ")
	selects := make([]string, 0, len(intent.Dimensions)+len(intent.Measures))
	groupBy := make([]string, 0, len(intent.Dimensions))
	for _, d := range intent.Dimensions {
		expr := columnExpr(d.Table, d.Column, qualify)
		if d.Bucket != "" {
			expr = fmt.Sprintf("DATE_TRUNC('%s', %s)", d.Bucket, expr)
		}
		alias := d.Column
		if d.Bucket != "" {
			alias = fmt.Sprintf("%s_%s", d.Column, d.Bucket)
		}
		selects = append(selects, fmt.Sprintf("%s AS %s", expr, alias))
		groupBy = append(groupBy, expr)
	}
	for _, m := range intent.Measures {
		selects = append(selects, fmt.Sprintf("%s AS %s", aggregationExpr(m, qualify), measureAlias(m)))
	}
	if len(selects) == 0 {
		selects = append(selects, "*")
	}
	b.WriteString(strings.Join(selects, ", "))

	b.WriteString(" FROM ")
	b.WriteString(intent.TargetTables[0])
	for _, table := range intent.TargetTables[1:] {
		join, err := joinClause(intent.TargetTables[0], table, index)
		if err != nil {
			return nil, err
		}
		b.WriteString(join)
	}

	where, err := whereClause(intent, qualify)
	if err != nil {
		return nil, err
	}
	b.WriteString(where)

	if len(groupBy) > 0 && len(intent.Measures) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(groupBy, ", "))
	}

	if intent.OrderBy != nil {
		b.WriteString(" ORDER BY ")
		b.WriteString(intent.OrderBy.Column)
		if intent.OrderBy.Descending {
			b.WriteString(" DESC")
		}
	}

	if intent.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", intent.Limit)
	}

	text := b.String()
	if screened := enginesql.Screen(text); screened.Error != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnsafeGeneratedQuery, screened.Error)
	}

	return &GeneratedQuery{
		Text:        text,
		Fingerprint: intentFingerprint(intent),
	}, nil
}

// GenerateWithAssist asks the configured LLM to produce SQL for phrasing the
// rule-based compiler could not express. The result is screened like any
// generated query. Returns ErrGenerationUnavailable when no assist client is
// configured or the call fails or times out.
func (g *QueryGenerator) GenerateWithAssist(ctx context.Context, question string, index *SnapshotIndex) (*GeneratedQuery, error) {
	if g.assist == nil {
		return nil, fmt.Errorf("no assist client configured: %w", apperrors.ErrGenerationUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt := fmt.Sprintf("Schema:\n%s\nQuestion: %s\n\nRespond with a single SQL SELECT statement and nothing else.",
		schemaSummary(index.Snapshot), question)

	raw, err := g.assist.GenerateResponse(ctx, prompt, assistSystemMessage, 0)
	if err != nil {
		g.logger.Warn("LLM assist failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", apperrors.ErrGenerationUnavailable, err)
	}

	text := extractSQL(raw)
	screened := enginesql.Screen(text)
	if screened.Error != nil {
		g.logger.Warn("LLM assist produced unsafe SQL", zap.Error(screened.Error))
		return nil, fmt.Errorf("%w: %v", apperrors.ErrGenerationUnavailable, screened.Error)
	}

	h := sha256.Sum256([]byte(fmt.Sprintf("assist\x00%d\x00%s", index.Snapshot.Version, screened.NormalizedSQL)))
	return &GeneratedQuery{
		Text:        screened.NormalizedSQL,
		Fingerprint: fmt.Sprintf("%x", h[:16]),
	}, nil
}

const assistSystemMessage = "You translate business questions into a single read-only SQL SELECT statement " +
	"for the given schema. Use only tables and columns that appear in the schema. " +
	"Never produce DDL, DML, or multiple statements."

func validateIntentColumns(intent *models.ResolvedIntent, index *SnapshotIndex) error {
	check := func(table, column string) error {
		if index.Snapshot.Column(table, column) == nil {
			return fmt.Errorf("column %s.%s not in snapshot version %d: %w",
				table, column, index.Snapshot.Version, apperrors.ErrCompilation)
		}
		return nil
	}
	for _, t := range intent.TargetTables {
		if index.Snapshot.Table(t) == nil {
			return fmt.Errorf("table %s not in snapshot version %d: %w",
				t, index.Snapshot.Version, apperrors.ErrCompilation)
		}
	}
	for _, m := range intent.Measures {
		if err := check(m.Table, m.Column); err != nil {
			return err
		}
	}
	for _, d := range intent.Dimensions {
		if err := check(d.Table, d.Column); err != nil {
			return err
		}
	}
	for _, f := range intent.Filters {
		if err := check(f.Table, f.Column); err != nil {
			return err
		}
	}
	return nil
}

func joinClause(base, table string, index *SnapshotIndex) (string, error) {
	for _, rel := range index.Snapshot.Relationships {
		if rel.FromTable == base && rel.ToTable == table {
			return fmt.Sprintf(" JOIN %s ON %s.%s = %s.%s",
				table, rel.FromTable, rel.FromColumn, rel.ToTable, rel.ToColumn), nil
		}
		if rel.FromTable == table && rel.ToTable == base {
			return fmt.Sprintf(" JOIN %s ON %s.%s = %s.%s",
				table, rel.ToTable, rel.ToColumn, rel.FromTable, rel.FromColumn), nil
		}
	}
	return "", fmt.Errorf("no relationship joins %s to %s: %w", base, table, apperrors.ErrCompilation)
}

func whereClause(intent *models.ResolvedIntent, qualify bool) (string, error) {
	conditions := make([]string, 0, len(intent.Filters)+2)
	for _, f := range intent.Filters {
		value, err := quoteValue(f.Value)
		if err != nil {
			return "", err
		}
		col := columnExpr(f.Table, f.Column, qualify)
		switch f.Operator {
		case models.OpBetween:
			high, err := quoteValue(f.ValueHigh)
			if err != nil {
				return "", err
			}
			conditions = append(conditions, fmt.Sprintf("%s BETWEEN %s AND %s", col, value, high))
		case models.OpContains:
			conditions = append(conditions, fmt.Sprintf("%s ILIKE '%%' || %s || '%%'", col, value))
		default:
			conditions = append(conditions, fmt.Sprintf("%s %s %s", col, f.Operator, value))
		}
	}
	if tr := intent.TimeRange; tr != nil {
		col := tr.Column
		if tr.Table != "" {
			col = columnExpr(tr.Table, tr.Column, qualify)
		}
		conditions = append(conditions, fmt.Sprintf("%s >= '%s'", col, tr.Start))
		if tr.End != "" {
			conditions = append(conditions, fmt.Sprintf("%s <= '%s'", col, tr.End))
		}
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), nil
}

// quoteValue renders a filter value as a SQL literal. Numeric values pass
// through bare; strings are injection-checked and single-quoted.
func quoteValue(value string) (string, error) {
	if value != "" && isNumericLiteral(value) {
		return value, nil
	}
	if res := enginesql.CheckValueForInjection(value); res != nil {
		return "", fmt.Errorf("filter value %q matched injection fingerprint %s: %w",
			value, res.Fingerprint, apperrors.ErrUnsafeGeneratedQuery)
	}
	return "'" + strings.ReplaceAll(value, "'", "''") + "'", nil
}

func isNumericLiteral(s string) bool {
	dot := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '-' && i == 0:
		case r == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return true
}

func columnExpr(table, column string, qualify bool) string {
	if qualify {
		return table + "." + column
	}
	return column
}

func aggregationExpr(m models.Measure, qualify bool) string {
	col := columnExpr(m.Table, m.Column, qualify)
	if m.Aggregation == models.AggregationCountDistinct {
		return fmt.Sprintf("COUNT(DISTINCT %s)", col)
	}
	return fmt.Sprintf("%s(%s)", m.Aggregation, col)
}

func intentFingerprint(intent *models.ResolvedIntent) string {
	h := sha256.Sum256([]byte(intent.CanonicalKey()))
	return fmt.Sprintf("%x", h[:16])
}

func schemaSummary(snap *models.SchemaSnapshot) string {
	var b strings.Builder
	for _, t := range snap.Tables {
		fmt.Fprintf(&b, "table %s (", t.Name)
		for i, c := range t.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s %s", c.Name, c.DataType)
		}
		b.WriteString(")\n")
	}
	return b.String()
}

// extractSQL strips markdown fences and surrounding prose from an LLM reply.
func extractSQL(raw string) string {
	raw = strings.TrimSpace(raw)
	if idx := strings.Index(raw, "```"); idx >= 0 {
		rest := raw[idx+3:]
		rest = strings.TrimPrefix(rest, "sql")
		rest = strings.TrimPrefix(rest, "\n")
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		raw = strings.TrimSpace(rest)
	}
	return raw
}
