package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/insightloop/insight-engine/pkg/apperrors"
	"github.com/insightloop/insight-engine/pkg/models"
)

// FieldMappingStore supplies business-facing display metadata edits that are
// merged into a snapshot before matching. Implemented by an external
// collaborator; may be nil.
type FieldMappingStore interface {
	Mappings(ctx context.Context, connectionID uuid.UUID) ([]models.FieldMapping, error)
}

// SnapshotProvider hands out the active schema index for a connection.
type SnapshotProvider interface {
	Current(connectionID uuid.UUID) (*SnapshotIndex, error)
}

// ConnectionInfo describes how to reach a connection's datasource.
type ConnectionInfo struct {
	DatasourceType string `json:"datasource_type"`
	ConnString     string `json:"conn_string"`
}

// EntityRef points at one schema entity a vocabulary term resolves to.
type EntityRef struct {
	Table   string `json:"table"`
	Column  string `json:"column,omitempty"` // empty for table refs
	IsTable bool   `json:"is_table"`
}

// SnapshotIndex pairs an immutable snapshot with its derived vocabulary.
// Built once per published version; read-only afterwards, so concurrent
// resolutions share it without locking.
type SnapshotIndex struct {
	Snapshot *models.SchemaSnapshot

	terms  []string
	byTerm map[string][]EntityRef
}

// Terms returns the full candidate vocabulary: table names, column names,
// display names and synonyms.
func (i *SnapshotIndex) Terms() []string {
	return i.terms
}

// Refs returns the entities a matched vocabulary term refers to.
func (i *SnapshotIndex) Refs(term string) []EntityRef {
	return i.byTerm[strings.ToLower(term)]
}

// Column resolves a column ref back to its entity, or nil.
func (i *SnapshotIndex) Column(ref EntityRef) *models.ColumnEntity {
	if ref.IsTable {
		return nil
	}
	return i.Snapshot.Column(ref.Table, ref.Column)
}

// SchemaService owns the active snapshot per connection. Updates are
// published via atomic replacement of the per-connection index pointer;
// in-flight resolutions keep the index they started with.
type SchemaService struct {
	mu          sync.RWMutex
	indexes     map[uuid.UUID]*SnapshotIndex
	connections map[uuid.UUID]ConnectionInfo

	mappings  FieldMappingStore
	onPublish []func(connectionID uuid.UUID, version int64)
	logger    *zap.Logger
}

// NewSchemaService creates a schema service. mappings may be nil.
func NewSchemaService(mappings FieldMappingStore, logger *zap.Logger) *SchemaService {
	return &SchemaService{
		indexes:     make(map[uuid.UUID]*SnapshotIndex),
		connections: make(map[uuid.UUID]ConnectionInfo),
		mappings:    mappings,
		logger:      logger.Named("schema"),
	}
}

// OnPublish registers a callback invoked after a new snapshot version goes
// live. The computation cache hooks it to invalidate stale entries.
func (s *SchemaService) OnPublish(fn func(connectionID uuid.UUID, version int64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPublish = append(s.onPublish, fn)
}

// RegisterConnection stores datasource access details for a connection.
func (s *SchemaService) RegisterConnection(connectionID uuid.UUID, info ConnectionInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[connectionID] = info
}

// Connection returns datasource access details for a connection.
func (s *SchemaService) Connection(connectionID uuid.UUID) (ConnectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.connections[connectionID]
	if !ok {
		return ConnectionInfo{}, fmt.Errorf("connection %s: %w", connectionID, apperrors.ErrNotFound)
	}
	return info, nil
}

// Publish merges field mappings into the snapshot, builds its vocabulary
// index, and atomically makes it the active version for the connection.
// Rejects versions older than the active one.
func (s *SchemaService) Publish(ctx context.Context, snap *models.SchemaSnapshot) error {
	if snap.ConnectionID == uuid.Nil {
		return fmt.Errorf("snapshot has no connection id")
	}
	if snap.PublishedAt.IsZero() {
		snap.PublishedAt = time.Now().UTC()
	}

	if s.mappings != nil {
		mappings, err := s.mappings.Mappings(ctx, snap.ConnectionID)
		if err != nil {
			return fmt.Errorf("failed to load field mappings: %w", err)
		}
		applyFieldMappings(snap, mappings)
	}

	index := BuildIndex(snap)

	s.mu.Lock()
	if cur, ok := s.indexes[snap.ConnectionID]; ok && cur.Snapshot.Version >= snap.Version {
		s.mu.Unlock()
		return fmt.Errorf("snapshot version %d is not newer than active version %d",
			snap.Version, cur.Snapshot.Version)
	}
	s.indexes[snap.ConnectionID] = index
	callbacks := append(([]func(uuid.UUID, int64))(nil), s.onPublish...)
	s.mu.Unlock()

	s.logger.Info("Published schema snapshot",
		zap.String("connection_id", snap.ConnectionID.String()),
		zap.Int64("version", snap.Version),
		zap.Int("tables", len(snap.Tables)))

	for _, fn := range callbacks {
		fn(snap.ConnectionID, snap.Version)
	}
	return nil
}

// Current returns the active snapshot index for a connection.
func (s *SchemaService) Current(connectionID uuid.UUID) (*SnapshotIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	index, ok := s.indexes[connectionID]
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", connectionID, apperrors.ErrSnapshotUnavailable)
	}
	return index, nil
}

// BuildIndex derives the matching vocabulary from a snapshot. Table names
// are also indexed under their singular form so "agent" finds "agents".
func BuildIndex(snap *models.SchemaSnapshot) *SnapshotIndex {
	index := &SnapshotIndex{
		Snapshot: snap,
		byTerm:   make(map[string][]EntityRef),
	}

	add := func(term string, ref EntityRef) {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			return
		}
		refs := index.byTerm[term]
		for _, r := range refs {
			if r == ref {
				return
			}
		}
		if len(refs) == 0 {
			index.terms = append(index.terms, term)
		}
		index.byTerm[term] = append(refs, ref)
	}

	for ti := range snap.Tables {
		table := &snap.Tables[ti]
		tableRef := EntityRef{Table: table.Name, IsTable: true}
		add(table.Name, tableRef)
		add(inflection.Singular(table.Name), tableRef)
		add(table.DisplayName, tableRef)

		for ci := range table.Columns {
			col := &table.Columns[ci]
			colRef := EntityRef{Table: table.Name, Column: col.Name}
			add(col.Name, colRef)
			add(col.DisplayName, colRef)
			for _, syn := range col.Synonyms {
				add(syn, colRef)
			}
		}
	}

	return index
}

func applyFieldMappings(snap *models.SchemaSnapshot, mappings []models.FieldMapping) {
	for _, m := range mappings {
		col := snap.Column(m.TableName, m.ColumnName)
		if col == nil {
			continue
		}
		if m.DisplayName != "" {
			col.DisplayName = m.DisplayName
		}
		if len(m.Synonyms) > 0 {
			col.Synonyms = append(col.Synonyms, m.Synonyms...)
		}
		if m.IsMeasure != nil {
			col.IsMeasure = *m.IsMeasure
		}
		if m.IsDimension != nil {
			col.IsDimension = *m.IsDimension
		}
		if m.DefaultAggregation != "" {
			col.DefaultAggregation = m.DefaultAggregation
		}
	}
}

var _ SnapshotProvider = (*SchemaService)(nil)
