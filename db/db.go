// Package db resolves pivot queries against the pivot schema, and defines the databases that run
// them.
package db

import (
	"context"
	"errors"

	"hermannm.dev/pivot/pivot"
	"hermannm.dev/wrap"
)

// PivotDB runs resolved queries. Implementations must return ErrQueryTimeout (or an error wrapping
// it) when the database gives up on a query for taking too long.
type PivotDB interface {
	RunPivotQuery(ctx context.Context, query ResolvedQuery) (pivot.QueryResult, error)
	DimensionValues(ctx context.Context, query ValuesQuery) ([]pivot.Option, error)
}

// ValueSearcher serves dimension value listings from a search index instead of the PivotDB.
type ValueSearcher interface {
	SearchDimensionValues(ctx context.Context, query ValuesQuery) ([]pivot.Option, error)
}

// ValueIndexer maintains the index that a ValueSearcher searches.
type ValueIndexer interface {
	ValueSearcher
	IndexDimensionValues(ctx context.Context, documents []ValueDocument) error
}

// ValueDocument is one dimension value in a search index.
type ValueDocument struct {
	DimensionID  string      `json:"dimension"`
	Value        pivot.Value `json:"value"`
	Label        string      `json:"label"`
	Region       string      `json:"region,omitempty"`
	Municipality string      `json:"municipality,omitempty"`
}

var ErrQueryTimeout = errors.New("query exceeded the database's time limit")

// InvalidRequestError is returned for requests that can never succeed as given.
type InvalidRequestError struct {
	err error
}

func newInvalidRequestError(message string, errs []error) InvalidRequestError {
	return InvalidRequestError{err: wrap.Errors(message, errs...)}
}

func (err InvalidRequestError) Error() string {
	return err.err.Error()
}

func (err InvalidRequestError) Unwrap() error {
	return err.err
}

func IsInvalidRequest(err error) bool {
	var invalidErr InvalidRequestError
	return errors.As(err, &invalidErr)
}
