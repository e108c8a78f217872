// Package datasource defines the query-execution collaborator consumed by
// the engine, plus adapters for the supported database dialects.
package datasource

import (
	"context"
	"time"
)

// Datasource types supported by the adapter factory.
const (
	TypePostgres = "postgres"
	TypeMSSQL    = "mssql"
)

// MaxQueryLimit is the hard cap on rows returned by Query.
// Protects against unbounded queries that could exhaust the server.
const MaxQueryLimit = 1000

// ColumnInfo describes one result column.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryExecutionResult contains the rows and metadata of one execution.
type QueryExecutionResult struct {
	Columns       []ColumnInfo     `json:"columns"`
	Rows          []map[string]any `json:"rows"`
	RowCount      int              `json:"row_count"`
	ExecutionTime time.Duration    `json:"execution_time"`
}

// QueryExecutor executes SQL against a datasource. Queries are always
// wrapped with a dialect-specific limit. Each implementation owns its
// connection and must be closed when done.
type QueryExecutor interface {
	// Query runs a SELECT statement and returns bounded results.
	Query(ctx context.Context, sqlQuery string, limit int) (*QueryExecutionResult, error)

	// Close releases the database connection.
	Close() error
}

// ExecutorFactory creates query executors by datasource type.
type ExecutorFactory interface {
	NewQueryExecutor(ctx context.Context, datasourceType, connString string) (QueryExecutor, error)
}
