package clickhouse

import (
	"context"
	"log/slog"
	"strconv"

	"hermannm.dev/devlog/log"
	"hermannm.dev/pivot/db"
	"hermannm.dev/pivot/pivot"
	"hermannm.dev/wrap"
)

func (clickhouse ClickHouseDB) RunPivotQuery(
	ctx context.Context,
	query db.ResolvedQuery,
) (pivot.QueryResult, error) {
	result := query.NewQueryResult()

	dataQuery, err := buildPivotQuery(query)
	if err != nil {
		return pivot.QueryResult{}, wrap.Error(err, "failed to build pivot query")
	}

	ctx = withExecutionTimeLimit(ctx)

	rows, err := clickhouse.query(ctx, dataQuery)
	if err != nil {
		return pivot.QueryResult{}, wrapQueryError(err, "pivot query failed")
	}

	dimensions := query.Dimensions()
	for _, row := range rows {
		record := make(map[string]any, len(row))
		for i, value := range row {
			if i < len(dimensions) {
				record[dimensions[i].ID] = value
			} else {
				record[query.Measures[i-len(dimensions)].ID] = value
			}
		}
		result.Data = append(result.Data, record)
	}

	if query.IncludeTotals {
		totalsQuery, err := buildTotalsQuery(query)
		if err != nil {
			return pivot.QueryResult{}, wrap.Error(err, "failed to build totals query")
		}

		rows, err := clickhouse.query(ctx, totalsQuery)
		if err != nil {
			return pivot.QueryResult{}, wrapQueryError(err, "totals query failed")
		}

		result.GrandTotal = make(map[string]any, len(query.Measures))
		if len(rows) != 0 {
			for i, value := range rows[0] {
				result.GrandTotal[query.Measures[i].ID] = value
			}
		}
	}

	periodsQuery, err := buildPeriodsQuery(query)
	if err != nil {
		return pivot.QueryResult{}, wrap.Error(err, "failed to build periods query")
	}

	rows, err = clickhouse.query(ctx, periodsQuery)
	if err != nil {
		return pivot.QueryResult{}, wrapQueryError(err, "periods query failed")
	}

	result.Periods = make([]int, 0, len(rows))
	for _, row := range rows {
		period, err := toInt(row[0])
		if err != nil {
			return pivot.QueryResult{}, wrap.Error(err, "invalid value in period column")
		}
		result.Periods = append(result.Periods, period)
	}

	return result, nil
}

func (clickhouse ClickHouseDB) query(ctx context.Context, queryString string) ([][]any, error) {
	log.Debug("generated clickhouse query", slog.String("query", queryString))

	rows, err := clickhouse.conn.Query(ctx, queryString)
	if err != nil {
		return nil, err
	}

	return scanRows(rows)
}

func dimensionAlias(index int) string {
	return "pivot_d" + strconv.Itoa(index)
}

func measureAlias(index int) string {
	return "pivot_m" + strconv.Itoa(index)
}

// Columns are aliased by position rather than by ID, since ClickHouse resolves aliases in WHERE
// clauses too, and an ID could shadow a filtered column.
func buildPivotQuery(query db.ResolvedQuery) (string, error) {
	if err := validateQuery(query); err != nil {
		return "", err
	}

	dimensions := query.Dimensions()

	var builder QueryBuilder
	builder.WriteString("SELECT ")
	for i, dimension := range dimensions {
		builder.WriteIdentifier(dimension.Column)
		builder.WriteString(" AS ")
		builder.WriteString(dimensionAlias(i))
		builder.WriteString(", ")
	}
	if err := builder.writeMeasures(query.Measures); err != nil {
		return "", err
	}

	builder.WriteString(" FROM ")
	builder.WriteIdentifier(query.Table)
	if err := builder.writeQueryWhere(query); err != nil {
		return "", err
	}

	if len(dimensions) != 0 {
		builder.WriteString(" GROUP BY ")
		builder.writeDimensionAliases(len(dimensions))
		builder.WriteString(" ORDER BY ")
		builder.writeDimensionAliases(len(dimensions))
	}

	builder.WriteString(" LIMIT ")
	builder.WriteInt(query.Limit)

	return builder.String(), nil
}

func buildTotalsQuery(query db.ResolvedQuery) (string, error) {
	if err := validateQuery(query); err != nil {
		return "", err
	}

	var builder QueryBuilder
	builder.WriteString("SELECT ")
	if err := builder.writeMeasures(query.Measures); err != nil {
		return "", err
	}
	builder.WriteString(" FROM ")
	builder.WriteIdentifier(query.Table)
	if err := builder.writeQueryWhere(query); err != nil {
		return "", err
	}

	return builder.String(), nil
}

// buildPeriodsQuery finds the periods that actually have data for the query's filters.
func buildPeriodsQuery(query db.ResolvedQuery) (string, error) {
	if err := validateQuery(query); err != nil {
		return "", err
	}

	var builder QueryBuilder
	builder.WriteString("SELECT DISTINCT ")
	builder.WriteIdentifier(query.PeriodColumn)
	builder.WriteString(" AS pivot_period FROM ")
	builder.WriteIdentifier(query.Table)
	if err := builder.writeQueryWhere(query); err != nil {
		return "", err
	}
	builder.WriteString(" ORDER BY pivot_period")

	return builder.String(), nil
}

func validateQuery(query db.ResolvedQuery) error {
	if len(query.Measures) == 0 {
		return wrap.Error(errInvalidQuery, "no measures selected")
	}
	if query.Limit <= 0 {
		return wrap.Error(errInvalidQuery, "limit must be positive")
	}

	identifiers := []string{query.Table, query.PeriodColumn}
	for _, dimension := range query.Dimensions() {
		identifiers = append(identifiers, dimension.Column)
	}
	for _, measure := range query.Measures {
		identifiers = append(identifiers, measure.Column)
	}
	for _, filter := range query.Filters {
		identifiers = append(identifiers, filter.Column)
	}

	if err := ValidateIdentifiers(identifiers...); err != nil {
		return wrap.Error(err, "invalid table/column name in query")
	}
	return nil
}

func (builder *QueryBuilder) writeMeasures(measures []db.ResolvedMeasure) error {
	for i, measure := range measures {
		if i != 0 {
			builder.WriteString(", ")
		}
		if err := builder.WriteAggregation(measure); err != nil {
			return err
		}
		builder.WriteString(" AS ")
		builder.WriteString(measureAlias(i))
	}
	return nil
}

func (builder *QueryBuilder) writeDimensionAliases(count int) {
	for i := 0; i < count; i++ {
		if i != 0 {
			builder.WriteString(", ")
		}
		builder.WriteString(dimensionAlias(i))
	}
}

func (builder *QueryBuilder) writeQueryWhere(query db.ResolvedQuery) error {
	var conditions []func(*QueryBuilder) error

	if len(query.Periods) != 0 {
		conditions = append(conditions, func(builder *QueryBuilder) error {
			builder.WriteIdentifier(query.PeriodColumn)
			builder.WriteString(" IN (")
			for i, period := range query.Periods {
				if i != 0 {
					builder.WriteString(", ")
				}
				builder.WriteInt(period)
			}
			builder.WriteRune(')')
			return nil
		})
	}

	conditions = append(conditions, filterConditions(query.Filters)...)

	return builder.WriteWhere(conditions...)
}

func filterConditions(filters []db.ResolvedFilter) []func(*QueryBuilder) error {
	conditions := make([]func(*QueryBuilder) error, 0, len(filters))
	for _, filter := range filters {
		conditions = append(conditions, func(builder *QueryBuilder) error {
			return builder.WriteIn(filter.Column, filter.Values)
		})
	}
	return conditions
}
