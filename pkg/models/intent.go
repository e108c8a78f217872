package models

import (
	"fmt"
	"sort"
	"strings"
)

// Aggregation functions applied to measures.
const (
	AggregationNone          = ""
	AggregationSum           = "SUM"
	AggregationCount         = "COUNT"
	AggregationAvg           = "AVG"
	AggregationMin           = "MIN"
	AggregationMax           = "MAX"
	AggregationCountDistinct = "COUNT_DISTINCT"
)

// Temporal bucket granularities for date/time dimensions.
const (
	BucketDay     = "day"
	BucketWeek    = "week"
	BucketMonth   = "month"
	BucketQuarter = "quarter"
	BucketYear    = "year"
)

// Filter operators.
const (
	OpEquals       = "="
	OpNotEquals    = "!="
	OpGreaterThan  = ">"
	OpGreaterEqual = ">="
	OpLessThan     = "<"
	OpLessEqual    = "<="
	OpBetween      = "between"
	OpIn           = "in"
	OpContains     = "contains"
)

// Measure is a column with the aggregation applied to it.
type Measure struct {
	Table       string `json:"table"`
	Column      string `json:"column"`
	Aggregation string `json:"aggregation"`
}

// Dimension is a grouping column, optionally bucketed in time.
type Dimension struct {
	Table  string `json:"table"`
	Column string `json:"column"`
	Bucket string `json:"bucket,omitempty"`
}

// Filter is one predicate over a column.
type Filter struct {
	Table    string `json:"table"`
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
	// ValueHigh carries the upper bound for between filters.
	ValueHigh string `json:"value_high,omitempty"`
}

// OrderBy describes requested ordering.
type OrderBy struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending"`
}

// TimeRange is a resolved relative or absolute time window.
type TimeRange struct {
	Table  string `json:"table"`
	Column string `json:"column"`
	Start  string `json:"start"`
	End    string `json:"end,omitempty"`
}

// ResolvedIntent is the structured form of a natural-language question.
// It is an immutable value object: two structurally equal intents must
// compile to the same query and hit the same cache entry.
type ResolvedIntent struct {
	TargetTables []string    `json:"target_tables"`
	Measures     []Measure   `json:"measures"`
	Dimensions   []Dimension `json:"dimensions,omitempty"`
	Filters      []Filter    `json:"filters,omitempty"`
	TimeRange    *TimeRange  `json:"time_range,omitempty"`
	OrderBy      *OrderBy    `json:"order_by,omitempty"`
	Limit        int         `json:"limit"`
}

// CanonicalKey returns a deterministic textual form of the intent. Slices
// whose order carries no meaning (targets, measures, dimensions, filters) are
// sorted so structurally equal intents produce identical keys.
func (i *ResolvedIntent) CanonicalKey() string {
	var b strings.Builder

	tables := append([]string(nil), i.TargetTables...)
	sort.Strings(tables)
	b.WriteString("t=" + strings.Join(tables, ",") + ";")

	measures := make([]string, 0, len(i.Measures))
	for _, m := range i.Measures {
		measures = append(measures, fmt.Sprintf("%s.%s/%s", m.Table, m.Column, m.Aggregation))
	}
	sort.Strings(measures)
	b.WriteString("m=" + strings.Join(measures, ",") + ";")

	dims := make([]string, 0, len(i.Dimensions))
	for _, d := range i.Dimensions {
		dims = append(dims, fmt.Sprintf("%s.%s/%s", d.Table, d.Column, d.Bucket))
	}
	sort.Strings(dims)
	b.WriteString("d=" + strings.Join(dims, ",") + ";")

	filters := make([]string, 0, len(i.Filters))
	for _, f := range i.Filters {
		filters = append(filters, fmt.Sprintf("%s.%s%s%s..%s", f.Table, f.Column, f.Operator, f.Value, f.ValueHigh))
	}
	sort.Strings(filters)
	b.WriteString("f=" + strings.Join(filters, ",") + ";")

	if i.TimeRange != nil {
		b.WriteString(fmt.Sprintf("tr=%s.%s:%s..%s;", i.TimeRange.Table, i.TimeRange.Column, i.TimeRange.Start, i.TimeRange.End))
	}
	if i.OrderBy != nil {
		b.WriteString(fmt.Sprintf("o=%s/%v;", i.OrderBy.Column, i.OrderBy.Descending))
	}
	b.WriteString(fmt.Sprintf("l=%d", i.Limit))

	return b.String()
}

// Equal reports structural equality via the canonical key.
func (i *ResolvedIntent) Equal(other *ResolvedIntent) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.CanonicalKey() == other.CanonicalKey()
}

// ClarificationNeeded is returned instead of an intent when a binding came
// back ambiguous or unresolved. It is a normal value, not an error.
type ClarificationNeeded struct {
	Questions []string `json:"questions"`
}

// QueryContext is the bounded trailing slice of prior questions for one
// conversation session. Owned by the session; never shared across sessions.
type QueryContext struct {
	SessionID    string   `json:"session_id"`
	ConnectionID string   `json:"connection_id"`
	Questions    []string `json:"questions"`
}

// Window returns up to the last n questions, oldest first.
func (c *QueryContext) Window(n int) []string {
	if c == nil || n <= 0 || len(c.Questions) == 0 {
		return nil
	}
	if len(c.Questions) <= n {
		return c.Questions
	}
	return c.Questions[len(c.Questions)-n:]
}
