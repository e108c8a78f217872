package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/insightloop/insight-engine/pkg/apperrors"
	"github.com/insightloop/insight-engine/pkg/models"
	"github.com/insightloop/insight-engine/pkg/services"
)

// NLQueryHandler exposes the natural-language query surface.
type NLQueryHandler struct {
	service services.NLQueryService
	schema  *services.SchemaService
	logger  *zap.Logger
}

// NewNLQueryHandler creates an NL query handler.
func NewNLQueryHandler(service services.NLQueryService, schema *services.SchemaService, logger *zap.Logger) *NLQueryHandler {
	return &NLQueryHandler{
		service: service,
		schema:  schema,
		logger:  logger.Named("nlquery_handler"),
	}
}

// QueryRequest is the body for POST /api/query.
type QueryRequest struct {
	ConnectionID string `json:"connection_id"`
	SessionID    string `json:"session_id"`
	Question     string `json:"question"`
	UseLLM       bool   `json:"use_llm"`
}

// Query handles POST /api/query.
func (h *NLQueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = ErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Question == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "question is required")
		return
	}
	connectionID, err := uuid.Parse(req.ConnectionID)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "connection_id must be a valid UUID")
		return
	}

	resp, err := h.service.ResolveAndQuery(r.Context(), &services.QueryRequest{
		ConnectionID: connectionID,
		SessionID:    req.SessionID,
		Question:     req.Question,
		UseLLM:       req.UseLLM,
		Privileged:   isPrivileged(r),
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, resp)
}

// SuggestRequest is the body for POST /api/suggest.
type SuggestRequest struct {
	ConnectionID   string `json:"connection_id"`
	PartialQuery   string `json:"partial_query"`
	MaxSuggestions int    `json:"max_suggestions"`
	UseLLM         bool   `json:"use_llm"`
}

// SuggestResponse is the response for POST /api/suggest.
type SuggestResponse struct {
	Suggestions []models.Suggestion `json:"suggestions"`
}

// Suggest handles POST /api/suggest.
func (h *NLQueryHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = ErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}

	var req SuggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	connectionID, err := uuid.Parse(req.ConnectionID)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "connection_id must be a valid UUID")
		return
	}

	suggestions, err := h.service.Suggest(r.Context(), connectionID, req.PartialQuery, req.MaxSuggestions, req.UseLLM)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, SuggestResponse{Suggestions: suggestions})
}

// FuzzyMatchRequest is the body for POST /api/fuzzy-match.
type FuzzyMatchRequest struct {
	Query      string   `json:"query"`
	Candidates []string `json:"candidates"`
	Threshold  float64  `json:"threshold"`
	MaxResults int      `json:"max_results"`
}

// FuzzyMatchResponse is the response for POST /api/fuzzy-match.
type FuzzyMatchResponse struct {
	Matches []models.CandidateMatch `json:"matches"`
}

// FuzzyMatch handles POST /api/fuzzy-match.
func (h *NLQueryHandler) FuzzyMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = ErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}

	var req FuzzyMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Query == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	if len(req.Candidates) == 0 {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "candidates must not be empty")
		return
	}

	matches := h.service.FuzzyMatch(req.Query, req.Candidates, req.Threshold, req.MaxResults)
	_ = WriteJSON(w, http.StatusOK, FuzzyMatchResponse{Matches: matches})
}

// CorrectionsRequest is the body for POST /api/corrections.
type CorrectionsRequest struct {
	ConnectionID string   `json:"connection_id,omitempty"`
	Text         string   `json:"text"`
	ValidTerms   []string `json:"valid_terms,omitempty"`
}

// CorrectionsResponse is the response for POST /api/corrections.
type CorrectionsResponse struct {
	Corrections []models.Correction `json:"corrections"`
}

// Corrections handles POST /api/corrections.
func (h *NLQueryHandler) Corrections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = ErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}

	var req CorrectionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Text == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	var connectionID uuid.UUID
	if req.ConnectionID != "" {
		parsed, err := uuid.Parse(req.ConnectionID)
		if err != nil {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "connection_id must be a valid UUID")
			return
		}
		connectionID = parsed
	}
	if req.ConnectionID == "" && len(req.ValidTerms) == 0 {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "either connection_id or valid_terms is required")
		return
	}

	corrections, err := h.service.SuggestCorrections(connectionID, req.Text, req.ValidTerms)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, CorrectionsResponse{Corrections: corrections})
}

// PublishSnapshotRequest is the body for POST /api/snapshots.
type PublishSnapshotRequest struct {
	Connection *services.ConnectionInfo `json:"connection,omitempty"`
	Snapshot   models.SchemaSnapshot    `json:"snapshot"`
}

// PublishSnapshotResponse is the response for POST /api/snapshots.
type PublishSnapshotResponse struct {
	ConnectionID string `json:"connection_id"`
	Version      int64  `json:"version"`
}

// PublishSnapshot handles POST /api/snapshots. A snapshot replaces the
// connection's current one atomically and invalidates its cached results.
func (h *NLQueryHandler) PublishSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = ErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}

	var req PublishSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Snapshot.ConnectionID == uuid.Nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "snapshot.connection_id is required")
		return
	}
	if len(req.Snapshot.Tables) == 0 {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "snapshot must contain at least one table")
		return
	}

	if req.Connection != nil {
		h.schema.RegisterConnection(req.Snapshot.ConnectionID, *req.Connection)
	}
	if err := h.schema.Publish(r.Context(), &req.Snapshot); err != nil {
		h.logger.Warn("snapshot publish rejected",
			zap.String("connection_id", req.Snapshot.ConnectionID.String()),
			zap.Int64("version", req.Snapshot.Version),
			zap.Error(err))
		_ = ErrorResponse(w, http.StatusConflict, "snapshot_rejected", err.Error())
		return
	}
	_ = WriteJSON(w, http.StatusOK, PublishSnapshotResponse{
		ConnectionID: req.Snapshot.ConnectionID.String(),
		Version:      req.Snapshot.Version,
	})
}

func (h *NLQueryHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrSnapshotUnavailable):
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperrors.ErrCompilation):
		_ = ErrorResponse(w, http.StatusUnprocessableEntity, "compilation_failed", err.Error())
	case errors.Is(err, apperrors.ErrUnsafeGeneratedQuery):
		_ = ErrorResponse(w, http.StatusUnprocessableEntity, "unsafe_query", err.Error())
	case errors.Is(err, apperrors.ErrGenerationUnavailable):
		_ = ErrorResponse(w, http.StatusServiceUnavailable, "generation_unavailable", err.Error())
	case errors.Is(err, apperrors.ErrUnsupportedDatasource):
		_ = ErrorResponse(w, http.StatusBadRequest, "unsupported_datasource", err.Error())
	case errors.Is(err, apperrors.ErrQueryExecution):
		_ = ErrorResponse(w, http.StatusBadGateway, "query_execution_failed", err.Error())
	default:
		h.logger.Error("unexpected service error", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// isPrivileged reports whether the upstream gateway marked the request as
// coming from an operator. The gateway strips this header from external
// traffic.
func isPrivileged(r *http.Request) bool {
	return r.Header.Get("X-Internal-Access") == "true"
}

// RegisterRoutes registers the NL query endpoints on the mux.
func (h *NLQueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/query", h.Query)
	mux.HandleFunc("/api/suggest", h.Suggest)
	mux.HandleFunc("/api/fuzzy-match", h.FuzzyMatch)
	mux.HandleFunc("/api/corrections", h.Corrections)
	mux.HandleFunc("/api/snapshots", h.PublishSnapshot)
}
