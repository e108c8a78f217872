package services

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/insightloop/insight-engine/pkg/config"
	"github.com/insightloop/insight-engine/pkg/matching"
	"github.com/insightloop/insight-engine/pkg/models"
)

var testConnectionID = uuid.MustParse("7f8c1d2e-3a4b-4c5d-8e9f-0a1b2c3d4e5f")

func testResolutionConfig() config.ResolutionConfig {
	return config.ResolutionConfig{
		MatchThreshold:    0.75,
		AbbreviationScore: 0.95,
		PhoneticScore:     0.78,
		AmbiguityMargin:   0.05,
		CorrectionFloor:   0.6,
		ContextWindow:     3,
		DefaultRowLimit:   20,
	}
}

func newTestMatcher() *matching.Matcher {
	cfg := testResolutionConfig()
	return matching.NewMatcher(matching.Options{
		Threshold:         cfg.MatchThreshold,
		AbbreviationScore: cfg.AbbreviationScore,
		PhoneticScore:     cfg.PhoneticScore,
		CorrectionFloor:   cfg.CorrectionFloor,
	})
}

func newTestResolver() *SemanticResolver {
	return NewSemanticResolver(newTestMatcher(), testResolutionConfig(), zap.NewNop())
}

func newTestBuilder() *IntentBuilder {
	return NewIntentBuilder(newTestResolver(), testResolutionConfig(), zap.NewNop())
}

// salesSnapshot is a single fact table; the common case for most tests.
func salesSnapshot(version int64) *models.SchemaSnapshot {
	return &models.SchemaSnapshot{
		ConnectionID: testConnectionID,
		Version:      version,
		Tables: []models.TableEntity{
			{
				Name: "sales",
				Type: models.TableTypeFact,
				Columns: []models.ColumnEntity{
					{Name: "id", DataType: "integer", IsDimension: true},
					{Name: "revenue", DataType: "numeric", IsMeasure: true},
					{Name: "order_count", DataType: "integer", IsMeasure: true},
					{Name: "agent", DataType: "varchar", IsDimension: true},
					{Name: "region", DataType: "varchar", IsDimension: true},
					{Name: "created_at", DataType: "timestamp", IsDimension: true},
				},
			},
		},
		PublishedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func salesIndex(version int64) *SnapshotIndex {
	return BuildIndex(salesSnapshot(version))
}

// ambiguousSnapshot has the same column name in two tables, so the bare
// column name cannot bind without clarification.
func ambiguousSnapshot() *models.SchemaSnapshot {
	return &models.SchemaSnapshot{
		ConnectionID: testConnectionID,
		Version:      1,
		Tables: []models.TableEntity{
			{
				Name: "orders",
				Type: models.TableTypeFact,
				Columns: []models.ColumnEntity{
					{Name: "amount", DataType: "numeric", IsMeasure: true},
					{Name: "placed_at", DataType: "timestamp", IsDimension: true},
				},
			},
			{
				Name: "refunds",
				Type: models.TableTypeFact,
				Columns: []models.ColumnEntity{
					{Name: "amount", DataType: "numeric", IsMeasure: true},
					{Name: "refunded_at", DataType: "timestamp", IsDimension: true},
				},
			},
		},
		PublishedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

// joinedSnapshot relates a fact table to a dimension table.
func joinedSnapshot() *models.SchemaSnapshot {
	return &models.SchemaSnapshot{
		ConnectionID: testConnectionID,
		Version:      1,
		Tables: []models.TableEntity{
			{
				Name: "sales",
				Type: models.TableTypeFact,
				Columns: []models.ColumnEntity{
					{Name: "revenue", DataType: "numeric", IsMeasure: true},
					{Name: "agent_key", DataType: "integer", IsDimension: true},
					{Name: "sold_at", DataType: "timestamp", IsDimension: true},
				},
			},
			{
				Name: "agents",
				Type: models.TableTypeDimension,
				Columns: []models.ColumnEntity{
					{Name: "agent_key", DataType: "integer", IsDimension: true},
					{Name: "full_name", DataType: "varchar", IsDimension: true},
				},
			},
		},
		Relationships: []models.RelationshipEntity{
			{
				FromTable:   "sales",
				FromColumn:  "agent_key",
				ToTable:     "agents",
				ToColumn:    "agent_key",
				Cardinality: models.CardinalityNTo1,
			},
		},
		PublishedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}
