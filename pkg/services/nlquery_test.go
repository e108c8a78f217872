package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/insightloop/insight-engine/pkg/adapters/datasource"
	"github.com/insightloop/insight-engine/pkg/apperrors"
	"github.com/insightloop/insight-engine/pkg/config"
)

type mockExecutor struct {
	queries []string
	limits  []int
	result  *datasource.QueryExecutionResult
	err     error
	closed  int
}

func (m *mockExecutor) Query(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error) {
	m.queries = append(m.queries, sqlQuery)
	m.limits = append(m.limits, limit)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockExecutor) Close() error {
	m.closed++
	return nil
}

type mockExecutorFactory struct {
	executor *mockExecutor
	err      error
	calls    int
}

func (f *mockExecutorFactory) NewQueryExecutor(ctx context.Context, datasourceType, connString string) (datasource.QueryExecutor, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.executor, nil
}

func defaultExecutorResult() *datasource.QueryExecutionResult {
	return &datasource.QueryExecutionResult{
		Columns: []datasource.ColumnInfo{
			{Name: "agent", Type: "varchar"},
			{Name: "sum_revenue", Type: "numeric"},
		},
		Rows: []map[string]any{
			{"agent": "Kim", "sum_revenue": 1200.5},
			{"agent": "Lee", "sum_revenue": 980.0},
		},
		RowCount:      2,
		ExecutionTime: 12 * time.Millisecond,
	}
}

func newTestService(t *testing.T, factory datasource.ExecutorFactory) (NLQueryService, *SchemaService) {
	t.Helper()
	logger := zap.NewNop()
	cfg := testResolutionConfig()

	schema := NewSchemaService(nil, logger)
	schema.RegisterConnection(testConnectionID, ConnectionInfo{
		DatasourceType: "postgres",
		ConnString:     "postgres://localhost/sales",
	})
	require.NoError(t, schema.Publish(context.Background(), salesSnapshot(1)))

	matcher := newTestMatcher()
	resolver := NewSemanticResolver(matcher, cfg, logger)
	builder := NewIntentBuilder(resolver, cfg, logger)
	generator := NewQueryGenerator(nil, time.Second, logger)
	suggestions := NewSuggestionEngine(matcher, nil, time.Second, config.SuggestionConfig{MaxSuggestions: 8, LLMMinChars: 3}, logger)
	sessions := NewSessionStore(cfg.ContextWindow, time.Minute)
	computationCache := NewComputationCache(128, time.Minute, logger)

	svc := NewNLQueryService(schema, builder, generator, suggestions, matcher, sessions, computationCache, factory, logger)
	return svc, schema
}

func TestResolveAndQuery(t *testing.T) {
	executor := &mockExecutor{result: defaultExecutorResult()}
	factory := &mockExecutorFactory{executor: executor}
	svc, _ := newTestService(t, factory)
	ctx := context.Background()

	resp, err := svc.ResolveAndQuery(ctx, &QueryRequest{
		ConnectionID: testConnectionID,
		SessionID:    "s1",
		Question:     "total revenu by agent",
	})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.False(t, resp.NeedsClarification)
	require.NotNil(t, resp.Data)
	assert.Equal(t, 2, resp.Data.RowCount)

	require.NotNil(t, resp.Metadata)
	assert.False(t, resp.Metadata.FromCache)
	assert.Equal(t, 2, resp.Metadata.RowCount)
	assert.Equal(t,
		"SELECT agent AS agent, SUM(revenue) AS sum_revenue FROM sales GROUP BY agent LIMIT 20",
		resp.Metadata.GeneratedQueryText)

	require.Len(t, executor.queries, 1)
	assert.Equal(t, resp.Metadata.GeneratedQueryText, executor.queries[0])
	assert.Equal(t, []int{20}, executor.limits)
	assert.Equal(t, 1, executor.closed)
}

func TestResolveAndQueryServesRepeatFromCache(t *testing.T) {
	executor := &mockExecutor{result: defaultExecutorResult()}
	factory := &mockExecutorFactory{executor: executor}
	svc, _ := newTestService(t, factory)
	ctx := context.Background()

	req := &QueryRequest{
		ConnectionID: testConnectionID,
		SessionID:    "s1",
		Question:     "total revenue by region",
	}

	first, err := svc.ResolveAndQuery(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Metadata.FromCache)

	// Reworded whitespace and casing still hits the same entry.
	second, err := svc.ResolveAndQuery(ctx, &QueryRequest{
		ConnectionID: testConnectionID,
		SessionID:    "s1",
		Question:     "  Total   REVENUE by region ",
	})
	require.NoError(t, err)
	assert.True(t, second.Metadata.FromCache)
	assert.Equal(t, first.Metadata.GeneratedQueryText, second.Metadata.GeneratedQueryText)

	assert.Equal(t, 1, factory.calls, "cached repeat must not touch the datasource")
}

func TestResolveAndQueryClarification(t *testing.T) {
	executor := &mockExecutor{result: defaultExecutorResult()}
	factory := &mockExecutorFactory{executor: executor}
	svc, _ := newTestService(t, factory)

	resp, err := svc.ResolveAndQuery(context.Background(), &QueryRequest{
		ConnectionID: testConnectionID,
		SessionID:    "s1",
		Question:     "total weather by agent",
	})
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.True(t, resp.NeedsClarification)
	require.NotEmpty(t, resp.Questions)
	assert.Contains(t, resp.Questions[0], `"weather"`)

	assert.Zero(t, factory.calls, "clarification must not reach the datasource")
}

func TestResolveAndQueryConversationContext(t *testing.T) {
	executor := &mockExecutor{result: defaultExecutorResult()}
	factory := &mockExecutorFactory{executor: executor}
	svc, _ := newTestService(t, factory)
	ctx := context.Background()

	_, err := svc.ResolveAndQuery(ctx, &QueryRequest{
		ConnectionID: testConnectionID,
		SessionID:    "s1",
		Question:     "total revenue by agent",
	})
	require.NoError(t, err)

	resp, err := svc.ResolveAndQuery(ctx, &QueryRequest{
		ConnectionID: testConnectionID,
		SessionID:    "s1",
		Question:     "and by region?",
	})
	require.NoError(t, err)

	// The follow-up inherits the measure from the previous question.
	assert.Contains(t, resp.Metadata.GeneratedQueryText, "SUM(revenue)")
	assert.Contains(t, resp.Metadata.GeneratedQueryText, "GROUP BY region")
}

func TestResolveAndQuerySnapshotPublishInvalidatesCache(t *testing.T) {
	executor := &mockExecutor{result: defaultExecutorResult()}
	factory := &mockExecutorFactory{executor: executor}
	svc, schema := newTestService(t, factory)
	ctx := context.Background()

	req := &QueryRequest{
		ConnectionID: testConnectionID,
		SessionID:    "s1",
		Question:     "total revenue by agent",
	}

	_, err := svc.ResolveAndQuery(ctx, req)
	require.NoError(t, err)
	require.NoError(t, schema.Publish(ctx, salesSnapshot(2)))

	resp, err := svc.ResolveAndQuery(ctx, req)
	require.NoError(t, err)
	assert.False(t, resp.Metadata.FromCache, "new snapshot version must invalidate cached results")
	assert.Equal(t, 2, factory.calls)
}

func TestResolveAndQueryUnknownConnection(t *testing.T) {
	svc, _ := newTestService(t, &mockExecutorFactory{executor: &mockExecutor{}})

	_, err := svc.ResolveAndQuery(context.Background(), &QueryRequest{
		ConnectionID: uuid.MustParse("99999999-8888-4777-a666-555555555555"),
		SessionID:    "s1",
		Question:     "total revenue",
	})
	assert.ErrorIs(t, err, apperrors.ErrSnapshotUnavailable)
}

func TestResolveAndQueryExecutionFailure(t *testing.T) {
	executor := &mockExecutor{err: errors.New("relation \"sales\" does not exist")}
	factory := &mockExecutorFactory{executor: executor}
	svc, _ := newTestService(t, factory)
	ctx := context.Background()

	t.Run("unprivileged callers get a sanitized error", func(t *testing.T) {
		_, err := svc.ResolveAndQuery(ctx, &QueryRequest{
			ConnectionID: testConnectionID,
			SessionID:    "s1",
			Question:     "total revenue by agent",
		})
		require.ErrorIs(t, err, apperrors.ErrQueryExecution)
		assert.NotContains(t, err.Error(), "relation")
	})

	t.Run("privileged callers see the underlying error", func(t *testing.T) {
		_, err := svc.ResolveAndQuery(ctx, &QueryRequest{
			ConnectionID: testConnectionID,
			SessionID:    "s1",
			Question:     "total revenue by agent",
			Privileged:   true,
		})
		require.ErrorIs(t, err, apperrors.ErrQueryExecution)
		assert.Contains(t, err.Error(), "relation")
	})

	t.Run("failures are not cached", func(t *testing.T) {
		assert.Equal(t, 2, factory.calls)
	})
}

func TestServiceSuggest(t *testing.T) {
	svc, _ := newTestService(t, &mockExecutorFactory{executor: &mockExecutor{}})

	suggestions, err := svc.Suggest(context.Background(), testConnectionID, "", 4, false)
	require.NoError(t, err)
	assert.NotEmpty(t, suggestions)
	assert.LessOrEqual(t, len(suggestions), 4)

	// A request that omits the cap decodes to 0 and must still get the
	// configured default, not an empty list.
	suggestions, err = svc.Suggest(context.Background(), testConnectionID, "", 0, false)
	require.NoError(t, err)
	assert.NotEmpty(t, suggestions)

	_, err = svc.Suggest(context.Background(), uuid.New(), "", 4, false)
	assert.ErrorIs(t, err, apperrors.ErrSnapshotUnavailable)
}

func TestServiceFuzzyMatch(t *testing.T) {
	svc, _ := newTestService(t, &mockExecutorFactory{executor: &mockExecutor{}})

	matches := svc.FuzzyMatch("revenu", []string{"revenue", "region"}, 0.75, 5)
	require.NotEmpty(t, matches)
	assert.Equal(t, "revenue", matches[0].Candidate)
}

func TestServiceSuggestCorrections(t *testing.T) {
	svc, _ := newTestService(t, &mockExecutorFactory{executor: &mockExecutor{}})

	t.Run("against explicit terms", func(t *testing.T) {
		corrections, err := svc.SuggestCorrections(uuid.Nil, "kalifornia", []string{"California"})
		require.NoError(t, err)
		require.Len(t, corrections, 1)
		assert.Equal(t, "California", corrections[0].Suggestion)
	})

	t.Run("against the connection vocabulary", func(t *testing.T) {
		corrections, err := svc.SuggestCorrections(testConnectionID, "total revenu", nil)
		require.NoError(t, err)
		require.Len(t, corrections, 1)
		assert.Equal(t, "revenue", corrections[0].Suggestion)
	})

	t.Run("unknown connection without terms", func(t *testing.T) {
		_, err := svc.SuggestCorrections(uuid.New(), "revenu", nil)
		assert.ErrorIs(t, err, apperrors.ErrSnapshotUnavailable)
	})
}
