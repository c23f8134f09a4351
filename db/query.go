package db

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"hermannm.dev/pivot/pivot"
	"hermannm.dev/wrap"
)

const (
	DefaultQueryLimit = 1000
	MaxQueryLimit     = 10000

	DefaultValuesLimit = pivot.DefaultDimensionValuesLimit
	MaxValuesLimit     = 1000
)

// ResolvedQuery is a pivot query checked against the schema, with IDs translated to columns.
type ResolvedQuery struct {
	Table        string
	PeriodColumn string
	// Sorted and deduplicated.
	Periods       []int
	Rows          []ResolvedDimension
	Columns       []ResolvedDimension
	Measures      []ResolvedMeasure
	Filters       []ResolvedFilter
	Limit         int
	IncludeTotals bool
}

type ResolvedDimension struct {
	ID     string
	Column string
}

type ResolvedMeasure struct {
	ID          string
	Column      string
	Aggregation pivot.Aggregation
}

// ResolvedFilter restricts Column to one of Values, which are strings or float64s matching the
// column's dimension type.
type ResolvedFilter struct {
	Column string
	Values []pivot.Value
}

// Dimensions returns row dimensions followed by column dimensions.
func (query ResolvedQuery) Dimensions() []ResolvedDimension {
	dimensions := make([]ResolvedDimension, 0, len(query.Rows)+len(query.Columns))
	dimensions = append(dimensions, query.Rows...)
	return append(dimensions, query.Columns...)
}

// NewQueryResult returns a result with metadata describing the query, for the database to fill
// with data.
func (query ResolvedQuery) NewQueryResult() pivot.QueryResult {
	result := pivot.QueryResult{
		Data: []map[string]any{},
		Metadata: pivot.QueryMetadata{
			SelectedDimensions: make([]string, 0, len(query.Rows)+len(query.Columns)),
			RowDimensions:      make([]string, 0, len(query.Rows)),
			ColumnDimensions:   make([]string, 0, len(query.Columns)),
			SelectedMeasures:   make([]string, 0, len(query.Measures)),
		},
	}
	for _, dimension := range query.Rows {
		result.Metadata.RowDimensions = append(result.Metadata.RowDimensions, dimension.ID)
		result.Metadata.SelectedDimensions = append(result.Metadata.SelectedDimensions, dimension.ID)
	}
	for _, dimension := range query.Columns {
		result.Metadata.ColumnDimensions = append(result.Metadata.ColumnDimensions, dimension.ID)
		result.Metadata.SelectedDimensions = append(result.Metadata.SelectedDimensions, dimension.ID)
	}
	for _, measure := range query.Measures {
		result.Metadata.SelectedMeasures = append(result.Metadata.SelectedMeasures, measure.ID)
	}
	return result
}

// ResolveQuery checks the payload against the schema. Fails with an InvalidRequestError if the
// payload refers to unknown dimensions or measures, or is otherwise malformed.
func (schema Schema) ResolveQuery(payload pivot.QueryPayload) (ResolvedQuery, error) {
	errs := payload.Validate()

	query := ResolvedQuery{
		Table:         schema.Table,
		PeriodColumn:  schema.PeriodColumn,
		Periods:       payload.Periods(),
		IncludeTotals: payload.IncludeTotals,
	}

	switch {
	case payload.Limit == 0:
		query.Limit = DefaultQueryLimit
	case payload.Limit > MaxQueryLimit:
		query.Limit = MaxQueryLimit
	default:
		query.Limit = payload.Limit
	}

	selected := make(map[string]struct{}, len(payload.Rows)+len(payload.Columns))
	resolveDimensions := func(ids []string, kind string) []ResolvedDimension {
		resolved := make([]ResolvedDimension, 0, len(ids))
		for _, id := range ids {
			dimension, ok := schema.dimension(id)
			if !ok {
				errs = append(errs, fmt.Errorf("unknown %s dimension '%s'", kind, id))
				continue
			}
			if _, duplicate := selected[id]; duplicate {
				errs = append(errs, fmt.Errorf("dimension '%s' selected more than once", id))
				continue
			}
			selected[id] = struct{}{}
			resolved = append(resolved, ResolvedDimension{ID: id, Column: dimension.Column})
		}
		return resolved
	}
	query.Rows = resolveDimensions(payload.Rows, "row")
	query.Columns = resolveDimensions(payload.Columns, "column")

	selectedMeasures := make(map[string]struct{}, len(payload.Values))
	for _, value := range payload.Values {
		if value.Field == "" {
			continue // Reported by payload.Validate
		}
		measure, ok := schema.measure(value.Field)
		if !ok {
			errs = append(errs, fmt.Errorf("unknown measure '%s'", value.Field))
			continue
		}
		if _, duplicate := selectedMeasures[value.Field]; duplicate {
			errs = append(errs, fmt.Errorf("measure '%s' requested more than once", value.Field))
			continue
		}
		selectedMeasures[value.Field] = struct{}{}

		aggregation, _ := measure.defaultAggregation()
		if value.Aggregation != nil {
			aggregation = *value.Aggregation
		}
		query.Measures = append(query.Measures, ResolvedMeasure{
			ID:          measure.ID,
			Column:      measure.Column,
			Aggregation: aggregation,
		})
	}

	for _, filter := range payload.Filters {
		if filter.Field == "" || len(filter.Values) == 0 {
			continue
		}
		dimension, ok := schema.dimension(filter.Field)
		if !ok {
			errs = append(errs, fmt.Errorf("unknown filter dimension '%s'", filter.Field))
			continue
		}
		if !dimension.Filterable {
			errs = append(errs, fmt.Errorf("dimension '%s' does not support filtering", filter.Field))
			continue
		}
		resolved, err := resolveFilter(dimension, filter.Values)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		query.Filters = append(query.Filters, resolved)
	}

	if len(errs) != 0 {
		return ResolvedQuery{}, newInvalidRequestError("invalid pivot query", errs)
	}
	return query, nil
}

// ValuesQuery lists the distinct values of one dimension.
type ValuesQuery struct {
	Table       string
	DimensionID string
	Column      string
	LabelColumn string
	// Case-insensitive substring of the label, if not blank.
	Search  string
	Limit   int
	Filters []ResolvedFilter
	// Scopes behind Filters, for searching the value index. Blank if not given, or if the schema
	// has no such scope.
	Region       string
	Municipality string
	// Inline values from the schema. When present, the database is not queried.
	InlineValues []pivot.Option
}

func (schema Schema) ResolveValuesQuery(req pivot.DimensionValuesRequest) (ValuesQuery, error) {
	dimension, ok := schema.dimension(req.DimensionID)
	if !ok {
		return ValuesQuery{}, newInvalidRequestError(
			"invalid dimension values request",
			[]error{fmt.Errorf("unknown dimension '%s'", req.DimensionID)},
		)
	}

	query := ValuesQuery{
		Table:       schema.Table,
		DimensionID: dimension.ID,
		Column:      dimension.Column,
		LabelColumn: dimension.labelColumn(),
		Search:      strings.TrimSpace(req.Search),
	}

	switch {
	case req.Limit < 0:
		return ValuesQuery{}, newInvalidRequestError(
			"invalid dimension values request",
			[]error{errors.New("limit cannot be negative")},
		)
	case req.Limit == 0:
		query.Limit = DefaultValuesLimit
	case req.Limit > MaxValuesLimit:
		query.Limit = MaxValuesLimit
	default:
		query.Limit = req.Limit
	}

	for _, option := range dimension.Values {
		query.InlineValues = append(query.InlineValues, pivot.Option{
			Value: option.Value,
			Label: option.Label,
		})
	}

	for _, scope := range []struct {
		dimensionID string
		value       string
		target      *string
	}{
		{schema.RegionDimension, req.Region, &query.Region},
		{schema.MunicipalityDimension, req.Municipality, &query.Municipality},
	} {
		if scope.dimensionID == "" || scope.value == "" {
			continue
		}
		*scope.target = scope.value

		scopeDimension, _ := schema.dimension(scope.dimensionID) // Checked by Validate
		filter, err := resolveFilter(scopeDimension, []pivot.Value{scope.value})
		if err != nil {
			return ValuesQuery{}, newInvalidRequestError(
				"invalid dimension values request",
				[]error{err},
			)
		}
		query.Filters = append(query.Filters, filter)
	}

	return query, nil
}

// FilterInline applies the query's search and limit to its inline values.
func (query ValuesQuery) FilterInline() []pivot.Option {
	options := make([]pivot.Option, 0, min(len(query.InlineValues), query.Limit))
	search := strings.ToLower(query.Search)
	for _, option := range query.InlineValues {
		if len(options) == query.Limit {
			break
		}
		if search == "" || strings.Contains(strings.ToLower(option.Label), search) {
			options = append(options, option)
		}
	}
	return options
}

func resolveFilter(dimension DimensionSchema, values []pivot.Value) (ResolvedFilter, error) {
	filter := ResolvedFilter{Column: dimension.Column, Values: make([]pivot.Value, 0, len(values))}

	for _, value := range values {
		converted, err := convertFilterValue(value, dimension.dimensionType())
		if err != nil {
			return ResolvedFilter{}, wrap.Errorf(err, "invalid filter value for '%s'", dimension.ID)
		}
		filter.Values = append(filter.Values, converted)
	}

	return filter, nil
}

func convertFilterValue(value pivot.Value, dimensionType pivot.DimensionType) (pivot.Value, error) {
	switch dimensionType {
	case pivot.DimensionTypeNumber:
		switch value := value.(type) {
		case float64:
			return value, nil
		case int:
			return float64(value), nil
		case string:
			number, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				return nil, fmt.Errorf("'%s' is not a number", value)
			}
			return number, nil
		}
	default:
		switch value := value.(type) {
		case string:
			return value, nil
		case float64:
			return strconv.FormatFloat(value, 'f', -1, 64), nil
		case int:
			return strconv.Itoa(value), nil
		}
	}

	return nil, fmt.Errorf("unsupported value type %T", value)
}
