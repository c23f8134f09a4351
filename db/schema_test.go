package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hermannm.dev/pivot/db"
	"hermannm.dev/pivot/pivot"
)

func loadTestSchema(t *testing.T) db.Schema {
	t.Helper()
	schema, err := db.LoadSchema("testdata/pivot_schema.yaml")
	require.NoError(t, err)
	return schema
}

func TestLoadSchema(t *testing.T) {
	schema := loadTestSchema(t)

	assert.Equal(t, "matricula", schema.Table)
	assert.Equal(t, "anio", schema.PeriodColumn)
	assert.Len(t, schema.Dimensions, 5)
	assert.Len(t, schema.Measures, 2)
}

func TestParseSchemaValidation(t *testing.T) {
	_, err := db.ParseSchema([]byte(`
table: matricula
regionDimension: DEPARTAMENTO
dimensions:
  - id: GRADO
    column: grado
    type: date
  - id: GRADO
    column: grado
measures:
  - id: MATRICULA
    column: matricula_total
    defaultAggregation: MEDIAN
`))

	require.Error(t, err)
	for _, expected := range []string{
		"periodColumn is blank",
		"unrecognized dimension type 'date'",
		"duplicate dimension ID 'GRADO'",
		"MEDIAN",
		"unknown dimension 'DEPARTAMENTO'",
	} {
		assert.ErrorContains(t, err, expected)
	}
}

func TestCatalog(t *testing.T) {
	schema := loadTestSchema(t)
	updatedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	catalog := schema.Catalog(updatedAt)
	assert.Equal(t, updatedAt, catalog.UpdatedAt)

	gender, ok := catalog.Dimension("GENERO")
	require.True(t, ok)
	assert.Equal(t, []pivot.Option{
		{Value: "F", Label: "Femenino"},
		{Value: "M", Label: "Masculino"},
	}, gender.Values)
	require.NotNil(t, gender.TotalValues)
	assert.Equal(t, 2, *gender.TotalValues)
	assert.Empty(t, gender.ValuesEndpoint)

	municipality, ok := catalog.Dimension("MUNICIPIO")
	require.True(t, ok)
	assert.Equal(t, "/api/pivot/dimensiones/MUNICIPIO/valores", municipality.ValuesEndpoint)
	assert.Nil(t, municipality.Values)

	grade, ok := catalog.Dimension("GRADO")
	require.True(t, ok)
	assert.Equal(t, pivot.DimensionTypeNumber, grade.Type)

	teachers, ok := catalog.Measure("DOCENTES")
	require.True(t, ok)
	assert.Equal(t, pivot.AggregationMax, teachers.DefaultAggregation)

	enrollment, ok := catalog.Measure("MATRICULA")
	require.True(t, ok)
	assert.Equal(t, pivot.AggregationSum, enrollment.DefaultAggregation)
}

func TestResolveQuery(t *testing.T) {
	schema := loadTestSchema(t)
	average := pivot.AggregationAverage

	query, err := schema.ResolveQuery(pivot.QueryPayload{
		Years:   []int{2024, 2022, 2024},
		Rows:    []string{"REGION"},
		Columns: []string{"GENERO"},
		Values: []pivot.ValueRequest{
			{Field: "MATRICULA"},
			{Field: "DOCENTES", Aggregation: &average},
		},
		Filters: []pivot.Filter{
			{Field: "GRADO", Values: []pivot.Value{"7", float64(8)}},
			{Field: "MUNICIPIO", Values: []pivot.Value{float64(801)}},
			{Field: "GENERO"},
		},
		IncludeTotals: true,
	})
	require.NoError(t, err)

	assert.Equal(t, []int{2022, 2024}, query.Periods)
	assert.Equal(t, db.DefaultQueryLimit, query.Limit)
	assert.True(t, query.IncludeTotals)
	assert.Equal(t, []db.ResolvedDimension{{ID: "REGION", Column: "codigo_region"}}, query.Rows)
	assert.Equal(t, []db.ResolvedDimension{{ID: "GENERO", Column: "genero"}}, query.Columns)
	assert.Equal(t, []db.ResolvedMeasure{
		{ID: "MATRICULA", Column: "matricula_total", Aggregation: pivot.AggregationSum},
		{ID: "DOCENTES", Column: "docentes", Aggregation: pivot.AggregationAverage},
	}, query.Measures)
	assert.Equal(t, []db.ResolvedFilter{
		{Column: "grado", Values: []pivot.Value{float64(7), float64(8)}},
		{Column: "codigo_municipio", Values: []pivot.Value{"801"}},
	}, query.Filters)

	result := query.NewQueryResult()
	assert.Equal(t, []string{"REGION", "GENERO"}, result.Metadata.SelectedDimensions)
	assert.Equal(t, []string{"MATRICULA", "DOCENTES"}, result.Metadata.SelectedMeasures)
}

func TestResolveQueryLimit(t *testing.T) {
	schema := loadTestSchema(t)
	year := 2024

	query, err := schema.ResolveQuery(pivot.QueryPayload{
		Year:   &year,
		Values: []pivot.ValueRequest{{Field: "MATRICULA"}},
		Limit:  50000,
	})
	require.NoError(t, err)
	assert.Equal(t, db.MaxQueryLimit, query.Limit)
	assert.Equal(t, []int{2024}, query.Periods)
}

func TestResolveQueryRejectsInvalid(t *testing.T) {
	schema := loadTestSchema(t)

	_, err := schema.ResolveQuery(pivot.QueryPayload{
		Years:   []int{2024},
		Rows:    []string{"REGION", "ESCUELA"},
		Columns: []string{"REGION"},
		Values:  []pivot.ValueRequest{{Field: "MATRICULA"}, {Field: "COSTO"}},
		Filters: []pivot.Filter{
			{Field: "CENTRO", Values: []pivot.Value{"Escuela Morazán"}},
			{Field: "GRADO", Values: []pivot.Value{"séptimo"}},
		},
	})

	require.Error(t, err)
	assert.True(t, db.IsInvalidRequest(err))
	for _, expected := range []string{
		"unknown row dimension 'ESCUELA'",
		"dimension 'REGION' selected more than once",
		"unknown measure 'COSTO'",
		"dimension 'CENTRO' does not support filtering",
		"'séptimo' is not a number",
	} {
		assert.ErrorContains(t, err, expected)
	}
}

func TestResolveValuesQuery(t *testing.T) {
	schema := loadTestSchema(t)

	query, err := schema.ResolveValuesQuery(pivot.DimensionValuesRequest{
		DimensionID:  "MUNICIPIO",
		Search:       "  san ",
		Region:       "5",
		Municipality: "0501",
	})
	require.NoError(t, err)

	assert.Equal(t, "codigo_municipio", query.Column)
	assert.Equal(t, "nombre_municipio", query.LabelColumn)
	assert.Equal(t, "san", query.Search)
	assert.Equal(t, db.DefaultValuesLimit, query.Limit)
	assert.Equal(t, []db.ResolvedFilter{
		{Column: "codigo_region", Values: []pivot.Value{"5"}},
		{Column: "codigo_municipio", Values: []pivot.Value{"0501"}},
	}, query.Filters)

	query, err = schema.ResolveValuesQuery(pivot.DimensionValuesRequest{
		DimensionID: "CENTRO",
		Limit:       5000,
	})
	require.NoError(t, err)
	assert.Equal(t, db.MaxValuesLimit, query.Limit)
	assert.Equal(t, "nombre_centro", query.LabelColumn)

	_, err = schema.ResolveValuesQuery(pivot.DimensionValuesRequest{DimensionID: "ESCUELA"})
	assert.True(t, db.IsInvalidRequest(err))

	_, err = schema.ResolveValuesQuery(pivot.DimensionValuesRequest{DimensionID: "CENTRO", Limit: -1})
	assert.True(t, db.IsInvalidRequest(err))
}

func TestFilterInline(t *testing.T) {
	schema := loadTestSchema(t)

	query, err := schema.ResolveValuesQuery(pivot.DimensionValuesRequest{
		DimensionID: "GENERO",
		Search:      "FEM",
	})
	require.NoError(t, err)

	assert.Equal(t, []pivot.Option{{Value: "F", Label: "Femenino"}}, query.FilterInline())

	query.Search = ""
	query.Limit = 1
	assert.Len(t, query.FilterInline(), 1)
}

func TestSyncValueIndex(t *testing.T) {
	schema := loadTestSchema(t)
	source := &fakeValueSource{}
	index := &fakeValueIndex{}

	require.NoError(t, db.SyncValueIndex(context.Background(), schema, source, index))

	assert.Equal(t, []string{"REGION", "MUNICIPIO", "GRADO", "CENTRO"}, source.dimensions)
	for _, query := range source.queries {
		assert.Equal(t, "codigo_region", query.RegionColumn)
		assert.Equal(t, "codigo_municipio", query.MunicipalityColumn)
	}
	assert.Len(t, index.documents, 4)
}

type fakeValueSource struct {
	dimensions []string
	queries    []db.ValueDocumentsQuery
}

func (source *fakeValueSource) ValueDocuments(
	_ context.Context,
	query db.ValueDocumentsQuery,
) ([]db.ValueDocument, error) {
	source.dimensions = append(source.dimensions, query.DimensionID)
	source.queries = append(source.queries, query)
	return []db.ValueDocument{{DimensionID: query.DimensionID, Value: "1", Label: "Uno"}}, nil
}

type fakeValueIndex struct {
	documents []db.ValueDocument
}

func (index *fakeValueIndex) IndexDimensionValues(
	_ context.Context,
	documents []db.ValueDocument,
) error {
	index.documents = append(index.documents, documents...)
	return nil
}

func (index *fakeValueIndex) SearchDimensionValues(
	context.Context,
	db.ValuesQuery,
) ([]pivot.Option, error) {
	return nil, nil
}
