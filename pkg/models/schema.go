package models

import (
	"time"

	"github.com/google/uuid"
)

// SchemaSnapshot is an immutable, versioned view of a connection's schema
// plus semantic metadata. A new discovery publishes a new version; the active
// snapshot reference is swapped atomically and in-flight resolutions keep
// reading the version they started with.
type SchemaSnapshot struct {
	ConnectionID  uuid.UUID            `json:"connection_id"`
	Version       int64                `json:"version"`
	Tables        []TableEntity        `json:"tables"`
	Relationships []RelationshipEntity `json:"relationships,omitempty"`
	PublishedAt   time.Time            `json:"published_at"`
}

// Table types
const (
	TableTypeFact      = "fact"
	TableTypeDimension = "dimension"
)

// TableEntity represents one table in a snapshot.
type TableEntity struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"` // fact or dimension
	DisplayName string         `json:"display_name,omitempty"`
	Columns     []ColumnEntity `json:"columns"`
	PrimaryKeys []string       `json:"primary_keys,omitempty"`
}

// ColumnEntity represents a column with its business-facing metadata.
// Created by discovery, refined by field-mapping edits, replaced wholesale
// on rediscovery.
type ColumnEntity struct {
	Name               string   `json:"name"`
	DisplayName        string   `json:"display_name,omitempty"`
	Synonyms           []string `json:"synonyms,omitempty"`
	DataType           string   `json:"data_type"`
	IsMeasure          bool     `json:"is_measure"`
	IsDimension        bool     `json:"is_dimension"`
	DefaultAggregation string   `json:"default_aggregation,omitempty"`
}

// RelationshipEntity links two columns across tables.
type RelationshipEntity struct {
	FromTable   string `json:"from_table"`
	FromColumn  string `json:"from_column"`
	ToTable     string `json:"to_table"`
	ToColumn    string `json:"to_column"`
	Cardinality string `json:"cardinality"`
}

// Cardinality values
const (
	Cardinality1To1    = "1:1"
	Cardinality1ToN    = "1:N"
	CardinalityNTo1    = "N:1"
	CardinalityNToM    = "N:M"
	CardinalityUnknown = "unknown"
)

// Table returns the named table, or nil if the snapshot does not have it.
func (s *SchemaSnapshot) Table(name string) *TableEntity {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}

// Column returns the named column of the named table, or nil.
func (s *SchemaSnapshot) Column(table, column string) *ColumnEntity {
	t := s.Table(table)
	if t == nil {
		return nil
	}
	for i := range t.Columns {
		if t.Columns[i].Name == column {
			return &t.Columns[i]
		}
	}
	return nil
}

// FieldMapping carries display metadata edits supplied by the external
// field-mapping store. It is merged into a snapshot's columns before any
// matching happens.
type FieldMapping struct {
	TableName          string   `json:"table_name"`
	ColumnName         string   `json:"column_name"`
	DisplayName        string   `json:"display_name,omitempty"`
	Synonyms           []string `json:"synonyms,omitempty"`
	IsMeasure          *bool    `json:"is_measure,omitempty"`
	IsDimension        *bool    `json:"is_dimension,omitempty"`
	DefaultAggregation string   `json:"default_aggregation,omitempty"`
}
