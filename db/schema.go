package db

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"hermannm.dev/pivot/pivot"
	"hermannm.dev/wrap"
)

// Schema describes the table that pivot queries run against, and which of its columns are exposed
// as dimensions and measures. It is loaded from YAML.
type Schema struct {
	Table        string `yaml:"table"`
	PeriodColumn string `yaml:"periodColumn"`
	// IDs of the dimensions that dimension value listings can be scoped by.
	RegionDimension       string            `yaml:"regionDimension"`
	MunicipalityDimension string            `yaml:"municipalityDimension"`
	Dimensions            []DimensionSchema `yaml:"dimensions"`
	Measures              []MeasureSchema   `yaml:"measures"`
}

type DimensionSchema struct {
	ID     string `yaml:"id"`
	Label  string `yaml:"label"`
	Column string `yaml:"column"`
	// Column with display labels for the dimension's values. Defaults to Column.
	LabelColumn string `yaml:"labelColumn"`
	// "string" (default) or "number".
	Type       string `yaml:"type"`
	Filterable bool   `yaml:"filterable"`
	// Values to send along with the catalog, for dimensions with a small, fixed set of values.
	Values []OptionSchema `yaml:"values"`
}

type OptionSchema struct {
	Value string `yaml:"value"`
	Label string `yaml:"label"`
}

type MeasureSchema struct {
	ID          string `yaml:"id"`
	Label       string `yaml:"label"`
	Description string `yaml:"description"`
	Column      string `yaml:"column"`
	// One of SUM, AVG, COUNT, MAX, MIN. Defaults to SUM.
	DefaultAggregation string `yaml:"defaultAggregation"`
}

func LoadSchema(path string) (Schema, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, wrap.Errorf(err, "failed to read pivot schema file '%s'", path)
	}

	schema, err := ParseSchema(content)
	if err != nil {
		return Schema{}, wrap.Errorf(err, "invalid pivot schema in '%s'", path)
	}
	return schema, nil
}

func ParseSchema(content []byte) (Schema, error) {
	var schema Schema
	if err := yaml.Unmarshal(content, &schema); err != nil {
		return Schema{}, wrap.Error(err, "failed to parse YAML")
	}

	if errs := schema.Validate(); len(errs) != 0 {
		return Schema{}, wrap.Errors("schema failed validation", errs...)
	}

	return schema, nil
}

func (schema Schema) Validate() []error {
	var errs []error

	if schema.Table == "" {
		errs = append(errs, errors.New("table is blank"))
	}
	if schema.PeriodColumn == "" {
		errs = append(errs, errors.New("periodColumn is blank"))
	}

	dimensionIDs := make(map[string]struct{}, len(schema.Dimensions))
	for i, dimension := range schema.Dimensions {
		if err := dimension.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("dimension %d ('%s'): %w", i, dimension.ID, err))
		}
		if _, duplicate := dimensionIDs[dimension.ID]; duplicate {
			errs = append(errs, fmt.Errorf("duplicate dimension ID '%s'", dimension.ID))
		}
		dimensionIDs[dimension.ID] = struct{}{}
	}

	measureIDs := make(map[string]struct{}, len(schema.Measures))
	for i, measure := range schema.Measures {
		if err := measure.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("measure %d ('%s'): %w", i, measure.ID, err))
		}
		if _, duplicate := measureIDs[measure.ID]; duplicate {
			errs = append(errs, fmt.Errorf("duplicate measure ID '%s'", measure.ID))
		}
		if _, clash := dimensionIDs[measure.ID]; clash {
			errs = append(errs, fmt.Errorf("measure ID '%s' is also used by a dimension", measure.ID))
		}
		measureIDs[measure.ID] = struct{}{}
	}

	for _, scope := range []struct {
		field       string
		dimensionID string
	}{
		{"regionDimension", schema.RegionDimension},
		{"municipalityDimension", schema.MunicipalityDimension},
	} {
		if scope.dimensionID == "" {
			continue
		}
		if _, ok := dimensionIDs[scope.dimensionID]; !ok {
			errs = append(
				errs,
				fmt.Errorf("%s refers to unknown dimension '%s'", scope.field, scope.dimensionID),
			)
		}
	}

	return errs
}

func (dimension DimensionSchema) Validate() error {
	if dimension.ID == "" {
		return errors.New("dimension ID is blank")
	}
	if dimension.Column == "" {
		return errors.New("column is blank")
	}
	if _, err := pivot.ParseDimensionType(dimension.Type); err != nil {
		return err
	}
	return nil
}

func (measure MeasureSchema) Validate() error {
	if measure.ID == "" {
		return errors.New("measure ID is blank")
	}
	if measure.Column == "" {
		return errors.New("column is blank")
	}
	if _, err := measure.defaultAggregation(); err != nil {
		return err
	}
	return nil
}

// Must only be called on a validated schema.
func (dimension DimensionSchema) dimensionType() pivot.DimensionType {
	dimensionType, _ := pivot.ParseDimensionType(dimension.Type)
	return dimensionType
}

func (dimension DimensionSchema) labelColumn() string {
	if dimension.LabelColumn == "" {
		return dimension.Column
	}
	return dimension.LabelColumn
}

func (measure MeasureSchema) defaultAggregation() (pivot.Aggregation, error) {
	if measure.DefaultAggregation == "" {
		return pivot.AggregationSum, nil
	}
	return pivot.ParseAggregation(measure.DefaultAggregation)
}

func (schema Schema) dimension(id string) (DimensionSchema, bool) {
	for _, dimension := range schema.Dimensions {
		if dimension.ID == id {
			return dimension, true
		}
	}
	return DimensionSchema{}, false
}

func (schema Schema) measure(id string) (MeasureSchema, bool) {
	for _, measure := range schema.Measures {
		if measure.ID == id {
			return measure, true
		}
	}
	return MeasureSchema{}, false
}

// Catalog lists the schema's dimensions and measures for clients.
func (schema Schema) Catalog(updatedAt time.Time) pivot.Catalog {
	catalog := pivot.Catalog{
		Dimensions: make([]pivot.Dimension, 0, len(schema.Dimensions)),
		Measures:   make([]pivot.Measure, 0, len(schema.Measures)),
		UpdatedAt:  updatedAt,
	}

	for _, dimensionSchema := range schema.Dimensions {
		dimension := pivot.Dimension{
			ID:         dimensionSchema.ID,
			Label:      dimensionSchema.Label,
			Type:       dimensionSchema.dimensionType(),
			Filterable: dimensionSchema.Filterable,
		}

		if len(dimensionSchema.Values) == 0 {
			dimension.ValuesEndpoint = DimensionValuesEndpoint(dimensionSchema.ID)
		} else {
			dimension.Values = make([]pivot.Option, 0, len(dimensionSchema.Values))
			for _, option := range dimensionSchema.Values {
				dimension.Values = append(dimension.Values, pivot.Option{
					Value: option.Value,
					Label: option.Label,
				})
			}
			totalValues := len(dimension.Values)
			dimension.TotalValues = &totalValues
		}

		catalog.Dimensions = append(catalog.Dimensions, dimension)
	}

	for _, measureSchema := range schema.Measures {
		aggregation, _ := measureSchema.defaultAggregation()
		catalog.Measures = append(catalog.Measures, pivot.Measure{
			ID:                 measureSchema.ID,
			Label:              measureSchema.Label,
			Description:        measureSchema.Description,
			DefaultAggregation: aggregation,
		})
	}

	return catalog
}

func DimensionValuesEndpoint(dimensionID string) string {
	return "/api/pivot/dimensiones/" + dimensionID + "/valores"
}
