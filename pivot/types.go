// Package pivot is the client for the pivot table backend: it fetches the catalog of dimensions
// and measures, runs pivot queries, and lists dimension values, translating every failure into a
// QueryError.
//
// JSON field names follow the backend's wire format.
package pivot

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

type Catalog struct {
	Dimensions []Dimension `json:"dimensiones"`
	Measures   []Measure   `json:"medidas"`
	UpdatedAt  time.Time   `json:"actualizadoEn"`
}

type Dimension struct {
	ID         string        `json:"id"`
	Label      string        `json:"etiqueta"`
	Type       DimensionType `json:"tipo"`
	Filterable bool          `json:"admiteFiltrado"`
	// Present for dimensions with few enough values to send along with the catalog.
	Values      []Option `json:"valores,omitempty"`
	TotalValues *int     `json:"totalValores,omitempty"`
	// Path of the endpoint listing the dimension's values, for dimensions without inline Values.
	ValuesEndpoint string `json:"endpointValores,omitempty"`
}

type Measure struct {
	ID                 string      `json:"id"`
	Label              string      `json:"etiqueta"`
	Description        string      `json:"descripcion"`
	DefaultAggregation Aggregation `json:"agregacionPorDefecto"`
}

func (catalog Catalog) Dimension(id string) (Dimension, bool) {
	for _, dimension := range catalog.Dimensions {
		if dimension.ID == id {
			return dimension, true
		}
	}
	return Dimension{}, false
}

func (catalog Catalog) Measure(id string) (Measure, bool) {
	for _, measure := range catalog.Measures {
		if measure.ID == id {
			return measure, true
		}
	}
	return Measure{}, false
}

// Value is a string or a number (float64 once decoded from JSON).
type Value = any

type Option struct {
	Value Value  `json:"valor"`
	Label string `json:"etiqueta"`
}

type Filter struct {
	Field  string  `json:"field"`
	Values []Value `json:"values,omitempty"`
}

type ValueRequest struct {
	Field string `json:"field"`
	// Uses the measure's default aggregation if nil.
	Aggregation *Aggregation `json:"aggregation,omitempty"`
}

// QueryPayload describes a pivot query. It must not be modified after being passed to the client.
type QueryPayload struct {
	// Single period to query. Ignored if Years is non-nil.
	Year          *int           `json:"year,omitempty"`
	Years         []int          `json:"years,omitempty"`
	Filters       []Filter       `json:"filters,omitempty"`
	Rows          []string       `json:"rows,omitempty"`
	Columns       []string       `json:"columns,omitempty"`
	Values        []ValueRequest `json:"values"`
	Limit         int            `json:"limit,omitempty"`
	IncludeTotals bool           `json:"includeTotals,omitempty"`
}

// PeriodCount is the number of periods the query spans, which its cost scales with. A payload
// with a single Year (or none) counts as 1.
func (payload QueryPayload) PeriodCount() int {
	if payload.Years == nil {
		return 1
	}
	return len(payload.Years)
}

// Periods returns the requested periods, sorted and deduplicated.
func (payload QueryPayload) Periods() []int {
	var periods []int
	if payload.Years != nil {
		periods = slices.Clone(payload.Years)
	} else if payload.Year != nil {
		periods = []int{*payload.Year}
	}

	slices.Sort(periods)
	return slices.Compact(periods)
}

// WithFilter returns a copy of the payload where the given filter replaces any existing filter on
// the same field.
func (payload QueryPayload) WithFilter(filter Filter) QueryPayload {
	filters := make([]Filter, 0, len(payload.Filters)+1)
	for _, existing := range payload.Filters {
		if existing.Field != filter.Field {
			filters = append(filters, existing)
		}
	}
	payload.Filters = append(filters, filter)
	return payload
}

func (payload QueryPayload) Validate() []error {
	var errs []error

	if len(payload.Values) == 0 {
		errs = append(errs, errors.New("at least one measure must be requested"))
	}
	for i, value := range payload.Values {
		if value.Field == "" {
			errs = append(errs, fmt.Errorf("measure %d is missing a field", i+1))
		}
		if value.Aggregation != nil && !value.Aggregation.IsValid() {
			errs = append(errs, fmt.Errorf("invalid aggregation for measure '%s'", value.Field))
		}
	}
	if payload.Years != nil && len(payload.Years) == 0 {
		errs = append(errs, errors.New("years must not be empty when given"))
	}
	if payload.Years == nil && payload.Year == nil {
		errs = append(errs, errors.New("either year or years must be given"))
	}
	for _, filter := range payload.Filters {
		if filter.Field == "" {
			errs = append(errs, errors.New("filter is missing a field"))
		}
	}
	if payload.Limit < 0 {
		errs = append(errs, errors.New("limit cannot be negative"))
	}

	return errs
}

type QueryResult struct {
	Data       []map[string]any `json:"datos"`
	GrandTotal map[string]any   `json:"totalGeneral"`
	Periods    []int            `json:"aniosConsultados"`
	Metadata   QueryMetadata    `json:"metadata"`
}

type QueryMetadata struct {
	SelectedDimensions []string `json:"dimensionesSeleccionadas"`
	RowDimensions      []string `json:"dimensionesFilas"`
	ColumnDimensions   []string `json:"dimensionesColumnas"`
	SelectedMeasures   []string `json:"medidasSeleccionadas"`
}

type QueryResponse struct {
	Result      QueryResult `json:"resultado"`
	GeneratedAt time.Time   `json:"generadoEn"`
}

const DefaultDimensionValuesLimit = 200

type DimensionValuesRequest struct {
	DimensionID string
	// Free-text search on value labels.
	Search string
	// Defaults to DefaultDimensionValuesLimit if 0.
	Limit int
	// Scope candidate values to a region or municipality.
	Region       string
	Municipality string
}

type DimensionValues struct {
	Values      []Option  `json:"valores"`
	GeneratedAt time.Time `json:"generadoEn"`
}

// FilterDescriptor is the UI state of one filter. Locked filters are forced from outside (such as
// a region given in the page URL), and must not be changed by the user.
type FilterDescriptor struct {
	Field    string   `json:"field"`
	Label    string   `json:"label"`
	Options  []Option `json:"options"`
	Selected []Value  `json:"seleccionados"`
	Locked   bool     `json:"bloqueado,omitempty"`
}
