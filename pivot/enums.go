package pivot

import (
	"fmt"
	"strings"

	"hermannm.dev/enumnames"
)

type Aggregation int8

const (
	AggregationSum Aggregation = iota + 1
	AggregationAverage
	AggregationCount
	AggregationMax
	AggregationMin
)

var aggregationMap = enumnames.NewMap(map[Aggregation]string{
	AggregationSum:     "SUM",
	AggregationAverage: "AVG",
	AggregationCount:   "COUNT",
	AggregationMax:     "MAX",
	AggregationMin:     "MIN",
})

var aggregations = []Aggregation{
	AggregationSum,
	AggregationAverage,
	AggregationCount,
	AggregationMax,
	AggregationMin,
}

func ParseAggregation(name string) (Aggregation, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, aggregation := range aggregations {
		if aggregation.String() == name {
			return aggregation, nil
		}
	}
	return 0, fmt.Errorf("unrecognized aggregation '%s'", name)
}

func (aggregation Aggregation) IsValid() bool {
	_, ok := aggregationMap.GetName(aggregation)
	return ok
}

func (aggregation Aggregation) String() string {
	return aggregationMap.GetNameOrFallback(aggregation, "INVALID_AGGREGATION")
}

func (aggregation Aggregation) MarshalJSON() ([]byte, error) {
	return aggregationMap.MarshalToNameJSON(aggregation)
}

func (aggregation *Aggregation) UnmarshalJSON(bytes []byte) error {
	return aggregationMap.UnmarshalFromNameJSON(bytes, aggregation)
}

type DimensionType int8

const (
	DimensionTypeString DimensionType = iota + 1
	DimensionTypeNumber
)

var dimensionTypeMap = enumnames.NewMap(map[DimensionType]string{
	DimensionTypeString: "string",
	DimensionTypeNumber: "number",
})

func ParseDimensionType(name string) (DimensionType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", DimensionTypeString.String():
		return DimensionTypeString, nil
	case DimensionTypeNumber.String():
		return DimensionTypeNumber, nil
	default:
		return 0, fmt.Errorf("unrecognized dimension type '%s'", name)
	}
}

func (dimensionType DimensionType) IsValid() bool {
	_, ok := dimensionTypeMap.GetName(dimensionType)
	return ok
}

func (dimensionType DimensionType) String() string {
	return dimensionTypeMap.GetNameOrFallback(dimensionType, "INVALID_DIMENSION_TYPE")
}

func (dimensionType DimensionType) MarshalJSON() ([]byte, error) {
	return dimensionTypeMap.MarshalToNameJSON(dimensionType)
}

func (dimensionType *DimensionType) UnmarshalJSON(bytes []byte) error {
	return dimensionTypeMap.UnmarshalFromNameJSON(bytes, dimensionType)
}
