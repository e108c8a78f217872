// Package postgres provides a PostgreSQL query executor adapter.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/insightloop/insight-engine/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.TypePostgres, func(ctx context.Context, connString string) (datasource.QueryExecutor, error) {
		return NewQueryExecutor(ctx, connString)
	})
}

// QueryExecutor provides PostgreSQL query execution.
type QueryExecutor struct {
	pool *pgxpool.Pool
}

// NewQueryExecutor connects to PostgreSQL and returns an executor owning the
// connection pool.
func NewQueryExecutor(ctx context.Context, connString string) (*QueryExecutor, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return &QueryExecutor{pool: pool}, nil
}

// Query runs a SELECT statement and returns bounded results.
// The query is always wrapped: SELECT * FROM (query) AS _limited LIMIT n.
func (e *QueryExecutor) Query(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error) {
	effectiveLimit := limit
	if effectiveLimit <= 0 || effectiveLimit > datasource.MaxQueryLimit {
		effectiveLimit = datasource.MaxQueryLimit
	}
	queryToRun := fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", sqlQuery, effectiveLimit)

	start := time.Now()
	rows, err := e.pool.Query(ctx, queryToRun)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]datasource.ColumnInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = datasource.ColumnInfo{Name: string(fd.Name)}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}
		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col.Name] = values[i]
		}
		resultRows = append(resultRows, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return &datasource.QueryExecutionResult{
		Columns:       columns,
		Rows:          resultRows,
		RowCount:      len(resultRows),
		ExecutionTime: time.Since(start),
	}, nil
}

// Close releases the connection pool.
func (e *QueryExecutor) Close() error {
	e.pool.Close()
	return nil
}

var _ datasource.QueryExecutor = (*QueryExecutor)(nil)
