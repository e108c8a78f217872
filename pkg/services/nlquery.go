package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/insightloop/insight-engine/pkg/adapters/datasource"
	"github.com/insightloop/insight-engine/pkg/apperrors"
	"github.com/insightloop/insight-engine/pkg/cache"
	"github.com/insightloop/insight-engine/pkg/matching"
	"github.com/insightloop/insight-engine/pkg/models"
)

// NLQueryService is the engine's front door: free text in, generated query
// plus result set out. It wires the resolver, intent builder, generator,
// computation cache, and execution collaborator together.
type NLQueryService interface {
	// ResolveAndQuery turns a question into a query, executes it, and
	// returns the result with generation metadata, or the clarifications
	// needed before it can.
	ResolveAndQuery(ctx context.Context, req *QueryRequest) (*QueryResponse, error)

	// Suggest produces autocomplete suggestions for a partial question.
	Suggest(ctx context.Context, connectionID uuid.UUID, partial string, maxSuggestions int, useLLM bool) ([]models.Suggestion, error)

	// FuzzyMatch exposes the term matcher for callers that bring their own
	// candidate vocabulary.
	FuzzyMatch(term string, candidates []string, threshold float64, maxResults int) []models.CandidateMatch

	// SuggestCorrections proposes typo fixes against the connection's
	// vocabulary, or the supplied one if non-empty.
	SuggestCorrections(connectionID uuid.UUID, text string, validTerms []string) ([]models.Correction, error)
}

// QueryRequest carries one natural-language question.
type QueryRequest struct {
	ConnectionID uuid.UUID `json:"connection_id"`
	SessionID    string    `json:"session_id"`
	Question     string    `json:"question"`
	UseLLM       bool      `json:"use_llm"`
	// Privileged controls how much execution error detail the caller gets.
	Privileged bool `json:"-"`
}

// QueryMetadata describes how the response was produced.
type QueryMetadata struct {
	ExecutionTimeMs    int64  `json:"execution_time_ms"`
	RowCount           int    `json:"row_count"`
	FromCache          bool   `json:"from_cache"`
	GeneratedQueryText string `json:"generated_query_text"`
}

// QueryResponse is the result of ResolveAndQuery.
type QueryResponse struct {
	Success            bool                             `json:"success"`
	Data               *datasource.QueryExecutionResult `json:"data,omitempty"`
	Metadata           *QueryMetadata                   `json:"metadata,omitempty"`
	NeedsClarification bool                             `json:"needs_clarification,omitempty"`
	Questions          []string                         `json:"questions,omitempty"`
}

// computedResult is what the computation cache stores per fingerprint.
type computedResult struct {
	GeneratedQueryText string
	Result             *datasource.QueryExecutionResult
}

type nlQueryService struct {
	schema      *SchemaService
	builder     *IntentBuilder
	generator   *QueryGenerator
	suggestions *SuggestionEngine
	matcher     *matching.Matcher
	sessions    SessionStore
	cache       *cache.ComputationCache[computedResult]
	adapters    datasource.ExecutorFactory
	logger      *zap.Logger
}

// NewNLQueryService creates the orchestrating service and hooks cache
// invalidation to schema snapshot publication.
func NewNLQueryService(
	schema *SchemaService,
	builder *IntentBuilder,
	generator *QueryGenerator,
	suggestions *SuggestionEngine,
	matcher *matching.Matcher,
	sessions SessionStore,
	computationCache *cache.ComputationCache[computedResult],
	adapters datasource.ExecutorFactory,
	logger *zap.Logger,
) NLQueryService {
	s := &nlQueryService{
		schema:      schema,
		builder:     builder,
		generator:   generator,
		suggestions: suggestions,
		matcher:     matcher,
		sessions:    sessions,
		cache:       computationCache,
		adapters:    adapters,
		logger:      logger.Named("nlquery"),
	}
	schema.OnPublish(func(connectionID uuid.UUID, version int64) {
		s.cache.InvalidateConnection(connectionID.String())
	})
	return s
}

// NewComputationCache creates the cache used by NewNLQueryService. Split out
// so main and tests control sizing and TTL.
func NewComputationCache(maxEntries int, ttl time.Duration, logger *zap.Logger) *cache.ComputationCache[computedResult] {
	return cache.New[computedResult](maxEntries, ttl, logger)
}

func (s *nlQueryService) ResolveAndQuery(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	index, err := s.schema.Current(req.ConnectionID)
	if err != nil {
		return nil, err
	}

	qctx := s.sessions.Context(req.SessionID)

	intent, clarification, err := s.builder.Build(req.Question, qctx, index)
	if err != nil {
		return nil, err
	}
	if clarification != nil {
		return &QueryResponse{
			NeedsClarification: true,
			Questions:          clarification.Questions,
		}, nil
	}

	// Keyed on the resolved intent, not the question text: rewordings and
	// repeats that resolve to the same intent share one cache entry, while
	// the same follow-up under different conversation context does not.
	// The context window argument stays nil on purpose. Context already
	// shaped the intent during Build, and hashing the raw window would
	// change the key between the first and second ask of the same question
	// (the first ask enters the window).
	fingerprint := cache.Fingerprint(req.ConnectionID.String(), index.Snapshot.Version, intent.CanonicalKey(), nil)

	computed, fromCache, err := s.cache.GetOrCompute(ctx, fingerprint, func(ctx context.Context) (computedResult, error) {
		return s.generateAndExecute(ctx, req, index, intent)
	})
	if err != nil {
		if req.Privileged {
			return nil, err
		}
		return nil, sanitizeError(err)
	}

	s.sessions.Append(req.SessionID, req.ConnectionID, req.Question)

	return &QueryResponse{
		Success: true,
		Data:    computed.Result,
		Metadata: &QueryMetadata{
			ExecutionTimeMs:    computed.Result.ExecutionTime.Milliseconds(),
			RowCount:           computed.Result.RowCount,
			FromCache:          fromCache,
			GeneratedQueryText: computed.GeneratedQueryText,
		},
	}, nil
}

func (s *nlQueryService) generateAndExecute(ctx context.Context, req *QueryRequest, index *SnapshotIndex, intent *models.ResolvedIntent) (computedResult, error) {
	generated, err := s.generator.Generate(intent, index)
	if err != nil && req.UseLLM && !errors.Is(err, apperrors.ErrUnsafeGeneratedQuery) {
		// The rule-based compiler could not express the question; try the
		// assist path once before giving up.
		generated, err = s.generator.GenerateWithAssist(ctx, req.Question, index)
	}
	if err != nil {
		return computedResult{}, err
	}

	info, err := s.schema.Connection(req.ConnectionID)
	if err != nil {
		return computedResult{}, err
	}

	executor, err := s.adapters.NewQueryExecutor(ctx, info.DatasourceType, info.ConnString)
	if err != nil {
		return computedResult{}, fmt.Errorf("failed to create query executor: %w", err)
	}
	defer executor.Close()

	result, err := executor.Query(ctx, generated.Text, intent.Limit)
	if err != nil {
		return computedResult{}, fmt.Errorf("%w: %v", apperrors.ErrQueryExecution, err)
	}

	s.logger.Info("Executed generated query",
		zap.String("connection_id", req.ConnectionID.String()),
		zap.String("fingerprint", generated.Fingerprint),
		zap.Int("row_count", result.RowCount),
		zap.Duration("execution_time", result.ExecutionTime))

	return computedResult{
		GeneratedQueryText: generated.Text,
		Result:             result,
	}, nil
}

func (s *nlQueryService) Suggest(ctx context.Context, connectionID uuid.UUID, partial string, maxSuggestions int, useLLM bool) ([]models.Suggestion, error) {
	index, err := s.schema.Current(connectionID)
	if err != nil {
		return nil, err
	}
	return s.suggestions.Suggest(ctx, index, partial, maxSuggestions, useLLM), nil
}

func (s *nlQueryService) FuzzyMatch(term string, candidates []string, threshold float64, maxResults int) []models.CandidateMatch {
	return s.matcher.Match(term, candidates, threshold, maxResults)
}

func (s *nlQueryService) SuggestCorrections(connectionID uuid.UUID, text string, validTerms []string) ([]models.Correction, error) {
	if len(validTerms) == 0 {
		index, err := s.schema.Current(connectionID)
		if err != nil {
			return nil, err
		}
		validTerms = index.Terms()
	}
	return s.matcher.SuggestCorrections(text, validTerms), nil
}

// sanitizeError maps hard failures to generic messages for unprivileged
// callers while keeping the sentinel for status mapping.
func sanitizeError(err error) error {
	switch {
	case errors.Is(err, apperrors.ErrQueryExecution):
		return fmt.Errorf("the query could not be executed against the datasource: %w", apperrors.ErrQueryExecution)
	case errors.Is(err, apperrors.ErrGenerationUnavailable):
		return fmt.Errorf("query generation is temporarily unavailable, please retry: %w", apperrors.ErrGenerationUnavailable)
	default:
		return err
	}
}
