package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightloop/insight-engine/pkg/models"
)

func TestResolveTokenBinds(t *testing.T) {
	r := newTestResolver()
	index := salesIndex(1)

	tests := []struct {
		name     string
		token    string
		wantRef  EntityRef
		wantType string
		wantAgg  string
	}{
		{
			name:     "exact column",
			token:    "revenue",
			wantRef:  EntityRef{Table: "sales", Column: "revenue"},
			wantType: models.MatchTypeExact,
			wantAgg:  models.AggregationSum,
		},
		{
			name:     "misspelled column",
			token:    "revenu",
			wantRef:  EntityRef{Table: "sales", Column: "revenue"},
			wantType: models.MatchTypeFuzzy,
			wantAgg:  models.AggregationSum,
		},
		{
			name:     "dimension column",
			token:    "region",
			wantRef:  EntityRef{Table: "sales", Column: "region"},
			wantType: models.MatchTypeExact,
			wantAgg:  models.AggregationNone,
		},
		{
			name:     "plural form of table",
			token:    "sale",
			wantRef:  EntityRef{Table: "sales", IsTable: true},
			wantType: models.MatchTypeExact,
		},
		{
			name:     "abbreviation",
			token:    "rev",
			wantRef:  EntityRef{Table: "sales", Column: "revenue"},
			wantType: models.MatchTypeAbbreviation,
			wantAgg:  models.AggregationSum,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.ResolveToken(index, tt.token)
			require.Equal(t, ResolutionBound, res.State, "token %q", tt.token)
			assert.Equal(t, tt.wantRef, res.Ref)
			assert.Equal(t, tt.wantType, res.Match.MatchType)
			assert.Equal(t, tt.wantAgg, res.Aggregation)
		})
	}
}

func TestResolveTokenSkipsGrammarAndNumbers(t *testing.T) {
	r := newTestResolver()
	index := salesIndex(1)

	for _, token := range []string{"total", "by", "the", "top", "5", "2024"} {
		res := r.ResolveToken(index, token)
		assert.Equal(t, ResolutionSkipped, res.State, "token %q", token)
	}
}

func TestResolveTokenUnresolved(t *testing.T) {
	r := newTestResolver()
	index := salesIndex(1)

	res := r.ResolveToken(index, "weather")
	assert.Equal(t, ResolutionUnresolved, res.State)
}

func TestResolveTokenAmbiguous(t *testing.T) {
	r := newTestResolver()

	t.Run("same column in two tables", func(t *testing.T) {
		index := BuildIndex(ambiguousSnapshot())
		res := r.ResolveToken(index, "amount")
		require.Equal(t, ResolutionAmbiguous, res.State)
		require.Len(t, res.Candidates, 2)

		refs := []EntityRef{res.Candidates[0].Ref, res.Candidates[1].Ref}
		assert.ElementsMatch(t, []EntityRef{
			{Table: "orders", Column: "amount"},
			{Table: "refunds", Column: "amount"},
		}, refs)
	})

	t.Run("two candidates inside the margin", func(t *testing.T) {
		snap := salesSnapshot(1)
		snap.Tables[0].Columns = append(snap.Tables[0].Columns,
			models.ColumnEntity{Name: "cost", DataType: "numeric", IsMeasure: true},
			models.ColumnEntity{Name: "coast", DataType: "varchar", IsDimension: true},
		)
		index := BuildIndex(snap)

		// "costa" scores 0.8 against both cost and coast.
		res := r.ResolveToken(index, "costa")
		require.Equal(t, ResolutionAmbiguous, res.State)
		assert.Len(t, res.Candidates, 2)
	})

	t.Run("clear winner outside the margin binds", func(t *testing.T) {
		snap := salesSnapshot(1)
		snap.Tables[0].Columns = append(snap.Tables[0].Columns,
			models.ColumnEntity{Name: "cost", DataType: "numeric", IsMeasure: true},
			models.ColumnEntity{Name: "coast", DataType: "varchar", IsDimension: true},
		)
		index := BuildIndex(snap)

		// Exact hit on cost leaves coast (0.8) far outside the margin.
		res := r.ResolveToken(index, "cost")
		require.Equal(t, ResolutionBound, res.State)
		assert.Equal(t, EntityRef{Table: "sales", Column: "cost"}, res.Ref)
	})
}

func TestInferAggregation(t *testing.T) {
	tests := []struct {
		name     string
		col      models.ColumnEntity
		expected string
	}{
		{
			name:     "explicit default wins",
			col:      models.ColumnEntity{Name: "revenue_amount", DefaultAggregation: models.AggregationAvg},
			expected: models.AggregationAvg,
		},
		{
			name:     "id suffix",
			col:      models.ColumnEntity{Name: "customer_id"},
			expected: models.AggregationCountDistinct,
		},
		{
			name:     "count suffix",
			col:      models.ColumnEntity{Name: "order_count"},
			expected: models.AggregationCount,
		},
		{
			name:     "rate suffix",
			col:      models.ColumnEntity{Name: "conversion_rate"},
			expected: models.AggregationAvg,
		},
		{
			name:     "pct suffix",
			col:      models.ColumnEntity{Name: "margin_pct"},
			expected: models.AggregationAvg,
		},
		{
			name:     "amount suffix",
			col:      models.ColumnEntity{Name: "sale_amount"},
			expected: models.AggregationSum,
		},
		{
			name:     "measure flag falls back to sum",
			col:      models.ColumnEntity{Name: "revenue", IsMeasure: true},
			expected: models.AggregationSum,
		},
		{
			name:     "plain dimension",
			col:      models.ColumnEntity{Name: "region", IsDimension: true},
			expected: models.AggregationNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, InferAggregation(&tt.col))
		})
	}
}

func TestIsGrammarWord(t *testing.T) {
	assert.True(t, IsGrammarWord("total"))
	assert.True(t, IsGrammarWord("By"))
	assert.False(t, IsGrammarWord("revenue"))
}
