package apperrors

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrCompilation           = errors.New("intent compilation failed")
	ErrGenerationUnavailable = errors.New("query generation unavailable")
	ErrQueryExecution        = errors.New("query execution failed")
	ErrSnapshotUnavailable   = errors.New("schema snapshot unavailable")
	ErrUnsafeGeneratedQuery  = errors.New("generated query rejected by safety screen")
	ErrUnsupportedDatasource = errors.New("unsupported datasource type")
)
