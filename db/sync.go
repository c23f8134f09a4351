package db

import (
	"context"
	"log/slog"

	"hermannm.dev/devlog/log"
	"hermannm.dev/wrap"
)

// MaxIndexedValuesPerDimension bounds how many values of each dimension are copied into the value
// search index.
const MaxIndexedValuesPerDimension = 100000

// ValueDocumentSource lists every value of a dimension, with the region and municipality scopes
// each value occurs in.
type ValueDocumentSource interface {
	ValueDocuments(ctx context.Context, query ValueDocumentsQuery) ([]ValueDocument, error)
}

type ValueDocumentsQuery struct {
	Table       string
	DimensionID string
	Column      string
	LabelColumn string
	// Blank if the schema has no such scope.
	RegionColumn       string
	MunicipalityColumn string
	Limit              int
}

// ValueDocumentsQueries returns a query for each dimension without inline values.
func (schema Schema) ValueDocumentsQueries() []ValueDocumentsQuery {
	var regionColumn, municipalityColumn string
	if dimension, ok := schema.dimension(schema.RegionDimension); ok {
		regionColumn = dimension.Column
	}
	if dimension, ok := schema.dimension(schema.MunicipalityDimension); ok {
		municipalityColumn = dimension.Column
	}

	var queries []ValueDocumentsQuery
	for _, dimension := range schema.Dimensions {
		if len(dimension.Values) != 0 {
			continue
		}
		queries = append(queries, ValueDocumentsQuery{
			Table:              schema.Table,
			DimensionID:        dimension.ID,
			Column:             dimension.Column,
			LabelColumn:        dimension.labelColumn(),
			RegionColumn:       regionColumn,
			MunicipalityColumn: municipalityColumn,
			Limit:              MaxIndexedValuesPerDimension,
		})
	}
	return queries
}

// SyncValueIndex copies the values of every dimension without inline values from source into the
// search index.
func SyncValueIndex(
	ctx context.Context,
	schema Schema,
	source ValueDocumentSource,
	index ValueIndexer,
) error {
	for _, query := range schema.ValueDocumentsQueries() {
		documents, err := source.ValueDocuments(ctx, query)
		if err != nil {
			return wrap.Errorf(err, "failed to list values of dimension '%s'", query.DimensionID)
		}

		if err := index.IndexDimensionValues(ctx, documents); err != nil {
			return wrap.Errorf(err, "failed to index values of dimension '%s'", query.DimensionID)
		}

		log.Info(
			"indexed dimension values",
			slog.String("dimension", query.DimensionID),
			slog.Int("count", len(documents)),
		)
	}

	return nil
}
