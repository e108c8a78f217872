package datasource

import (
	"context"
	"fmt"

	"github.com/insightloop/insight-engine/pkg/apperrors"
)

// Constructors registered by the dialect subpackages via Register.
var constructors = map[string]func(ctx context.Context, connString string) (QueryExecutor, error){}

// Register installs a QueryExecutor constructor for a datasource type.
// Called from dialect package init functions.
func Register(datasourceType string, ctor func(ctx context.Context, connString string) (QueryExecutor, error)) {
	constructors[datasourceType] = ctor
}

// Factory creates executors for the registered dialects.
type Factory struct{}

// NewFactory returns the default executor factory.
func NewFactory() *Factory {
	return &Factory{}
}

// NewQueryExecutor creates an executor for the given datasource type.
func (f *Factory) NewQueryExecutor(ctx context.Context, datasourceType, connString string) (QueryExecutor, error) {
	ctor, ok := constructors[datasourceType]
	if !ok {
		return nil, fmt.Errorf("datasource type %q: %w", datasourceType, apperrors.ErrUnsupportedDatasource)
	}
	return ctor(ctx, connString)
}

var _ ExecutorFactory = (*Factory)(nil)
