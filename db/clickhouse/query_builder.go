package clickhouse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"hermannm.dev/pivot/db"
	"hermannm.dev/pivot/pivot"
)

type QueryBuilder struct {
	strings.Builder
}

func (builder *QueryBuilder) WriteInt(i int) {
	builder.WriteString(strconv.Itoa(i))
}

// Must only be called after calling ValidateIdentifier/ValidateIdentifiers on the given identifier.
func (builder *QueryBuilder) WriteIdentifier(identifier string) {
	builder.WriteRune('`')
	builder.WriteString(identifier)
	builder.WriteRune('`')
}

// WriteStringLiteral writes a single-quoted string, escaping backslashes and quotes.
// See https://clickhouse.com/docs/en/sql-reference/syntax#string
func (builder *QueryBuilder) WriteStringLiteral(value string) {
	builder.WriteRune('\'')
	for _, char := range value {
		switch char {
		case '\\', '\'':
			builder.WriteRune('\\')
		}
		builder.WriteRune(char)
	}
	builder.WriteRune('\'')
}

// WriteValue writes a resolved filter value as a literal.
func (builder *QueryBuilder) WriteValue(value pivot.Value) error {
	switch value := value.(type) {
	case string:
		builder.WriteStringLiteral(value)
	case float64:
		builder.WriteString(strconv.FormatFloat(value, 'f', -1, 64))
	case int:
		builder.WriteInt(value)
	default:
		return fmt.Errorf("unsupported filter value type %T", value)
	}
	return nil
}

func (builder *QueryBuilder) WriteAggregation(measure db.ResolvedMeasure) error {
	// See https://clickhouse.com/docs/en/sql-reference/aggregate-functions/reference
	switch measure.Aggregation {
	case pivot.AggregationSum:
		builder.WriteString("sum(")
	case pivot.AggregationAverage:
		builder.WriteString("avg(")
	case pivot.AggregationCount:
		builder.WriteString("count(")
	case pivot.AggregationMax:
		builder.WriteString("max(")
	case pivot.AggregationMin:
		builder.WriteString("min(")
	default:
		return fmt.Errorf("invalid aggregation for measure '%s'", measure.ID)
	}
	builder.WriteIdentifier(measure.Column)
	builder.WriteRune(')')
	return nil
}

// WriteIn writes "`column` IN (values...)".
func (builder *QueryBuilder) WriteIn(column string, values []pivot.Value) error {
	builder.WriteIdentifier(column)
	builder.WriteString(" IN (")
	for i, value := range values {
		if i != 0 {
			builder.WriteString(", ")
		}
		if err := builder.WriteValue(value); err != nil {
			return err
		}
	}
	builder.WriteRune(')')
	return nil
}

// WriteWhere writes a WHERE clause combining the given conditions, or nothing if there are none.
// Each condition writes one boolean expression.
func (builder *QueryBuilder) WriteWhere(conditions ...func(*QueryBuilder) error) error {
	for i, condition := range conditions {
		if i == 0 {
			builder.WriteString(" WHERE ")
		} else {
			builder.WriteString(" AND ")
		}
		if err := condition(builder); err != nil {
			return err
		}
	}
	return nil
}

func ValidateIdentifier(identifier string) error {
	if identifier == "" {
		return errors.New("identifier is blank")
	}
	if strings.ContainsRune(identifier, '`') {
		return fmt.Errorf("'%s' contains `, which is incompatible with database", identifier)
	}

	return nil
}

func ValidateIdentifiers(identifiers ...string) error {
	for _, identifier := range identifiers {
		if err := ValidateIdentifier(identifier); err != nil {
			return err
		}
	}

	return nil
}
