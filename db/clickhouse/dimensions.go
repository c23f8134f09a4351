package clickhouse

import (
	"context"

	"hermannm.dev/pivot/db"
	"hermannm.dev/pivot/pivot"
	"hermannm.dev/wrap"
)

func (clickhouse ClickHouseDB) DimensionValues(
	ctx context.Context,
	query db.ValuesQuery,
) ([]pivot.Option, error) {
	if len(query.InlineValues) != 0 {
		return query.FilterInline(), nil
	}

	queryString, err := buildValuesQuery(query)
	if err != nil {
		return nil, wrap.Error(err, "failed to build dimension values query")
	}

	rows, err := clickhouse.query(withExecutionTimeLimit(ctx), queryString)
	if err != nil {
		return nil, wrapQueryError(err, "dimension values query failed")
	}

	options := make([]pivot.Option, 0, len(rows))
	for _, row := range rows {
		options = append(options, pivot.Option{Value: row[0], Label: toLabel(row[1])})
	}
	return options, nil
}

func (clickhouse ClickHouseDB) ValueDocuments(
	ctx context.Context,
	query db.ValueDocumentsQuery,
) ([]db.ValueDocument, error) {
	queryString, err := buildValueDocumentsQuery(query)
	if err != nil {
		return nil, wrap.Error(err, "failed to build value documents query")
	}

	rows, err := clickhouse.query(ctx, queryString)
	if err != nil {
		return nil, wrapQueryError(err, "value documents query failed")
	}

	documents := make([]db.ValueDocument, 0, len(rows))
	for _, row := range rows {
		document := db.ValueDocument{
			DimensionID: query.DimensionID,
			Value:       row[0],
			Label:       toLabel(row[1]),
		}

		scopes := row[2:]
		if query.RegionColumn != "" {
			document.Region = toLabel(scopes[0])
			scopes = scopes[1:]
		}
		if query.MunicipalityColumn != "" {
			document.Municipality = toLabel(scopes[0])
		}

		documents = append(documents, document)
	}
	return documents, nil
}

func buildValuesQuery(query db.ValuesQuery) (string, error) {
	identifiers := []string{query.Table, query.Column, query.LabelColumn}
	for _, filter := range query.Filters {
		identifiers = append(identifiers, filter.Column)
	}
	if err := ValidateIdentifiers(identifiers...); err != nil {
		return "", wrap.Error(err, "invalid table/column name in query")
	}
	if query.Limit <= 0 {
		return "", wrap.Error(errInvalidQuery, "limit must be positive")
	}

	var builder QueryBuilder
	builder.WriteString("SELECT ")
	builder.WriteIdentifier(query.Column)
	builder.WriteString(" AS pivot_value, any(")
	builder.WriteIdentifier(query.LabelColumn)
	builder.WriteString(") AS pivot_label FROM ")
	builder.WriteIdentifier(query.Table)

	conditions := filterConditions(query.Filters)
	if query.Search != "" {
		conditions = append(conditions, func(builder *QueryBuilder) error {
			// See https://clickhouse.com/docs/en/sql-reference/functions/string-search-functions#positioncaseinsensitiveutf8
			builder.WriteString("positionCaseInsensitiveUTF8(toString(")
			builder.WriteIdentifier(query.LabelColumn)
			builder.WriteString("), ")
			builder.WriteStringLiteral(query.Search)
			builder.WriteString(") > 0")
			return nil
		})
	}
	if err := builder.WriteWhere(conditions...); err != nil {
		return "", err
	}

	builder.WriteString(" GROUP BY pivot_value ORDER BY pivot_label LIMIT ")
	builder.WriteInt(query.Limit)

	return builder.String(), nil
}

func buildValueDocumentsQuery(query db.ValueDocumentsQuery) (string, error) {
	identifiers := []string{query.Table, query.Column, query.LabelColumn}
	var scopeColumns []string
	for _, column := range []string{query.RegionColumn, query.MunicipalityColumn} {
		if column != "" {
			scopeColumns = append(scopeColumns, column)
		}
	}
	if err := ValidateIdentifiers(append(identifiers, scopeColumns...)...); err != nil {
		return "", wrap.Error(err, "invalid table/column name in query")
	}
	if query.Limit <= 0 {
		return "", wrap.Error(errInvalidQuery, "limit must be positive")
	}

	var builder QueryBuilder
	builder.WriteString("SELECT ")
	builder.WriteIdentifier(query.Column)
	builder.WriteString(" AS pivot_value, any(")
	builder.WriteIdentifier(query.LabelColumn)
	builder.WriteString(") AS pivot_label")
	for i, column := range scopeColumns {
		builder.WriteString(", ")
		builder.WriteIdentifier(column)
		builder.WriteString(" AS pivot_scope")
		builder.WriteInt(i)
	}

	builder.WriteString(" FROM ")
	builder.WriteIdentifier(query.Table)
	builder.WriteString(" GROUP BY pivot_value")
	for i := range scopeColumns {
		builder.WriteString(", pivot_scope")
		builder.WriteInt(i)
	}
	builder.WriteString(" LIMIT ")
	builder.WriteInt(query.Limit)

	return builder.String(), nil
}
