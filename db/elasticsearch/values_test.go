package elasticsearch

import (
	"errors"
	"testing"

	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hermannm.dev/pivot/db"
)

func TestBuildSearchRequest(t *testing.T) {
	request := buildSearchRequest(db.ValuesQuery{
		DimensionID:  "CENTRO",
		Search:       "escuela mora",
		Region:       "8",
		Municipality: "0801",
		Limit:        50,
	})

	require.NotNil(t, request.Size)
	assert.Equal(t, 50, *request.Size)
	require.NotNil(t, request.Collapse)
	assert.EqualValues(t, "value", request.Collapse.Field)

	require.NotNil(t, request.Query)
	boolQuery := request.Query.Bool
	require.NotNil(t, boolQuery)

	assert.Equal(t, []types.Query{
		termQuery("dimension", "CENTRO"),
		termQuery("region", "8"),
		termQuery("municipality", "0801"),
	}, boolQuery.Filter)

	require.Len(t, boolQuery.Must, 1)
	assert.Equal(t, "escuela mora", boolQuery.Must[0].MatchPhrasePrefix["label"].Query)
}

func TestBuildSearchRequestWithoutSearch(t *testing.T) {
	request := buildSearchRequest(db.ValuesQuery{DimensionID: "CENTRO", Limit: 200})

	assert.Len(t, request.Query.Bool.Filter, 1)
	assert.Empty(t, request.Query.Bool.Must)
}

func TestDocumentID(t *testing.T) {
	document := db.ValueDocument{DimensionID: "CENTRO", Value: "0801-001", Region: "8"}

	assert.Equal(t, documentID(document), documentID(document))

	otherRegion := document
	otherRegion.Region = "5"
	assert.NotEqual(t, documentID(document), documentID(otherRegion))
}

func TestFormatElasticError(t *testing.T) {
	reason := "no such index [pivot-dimension-values]"
	rootReason := "index missing"
	elasticErr := &types.ElasticsearchError{
		Status: 404,
		ErrorCause: types.ErrorCause{
			Type:      "index_not_found_exception",
			Reason:    &reason,
			RootCause: []types.ErrorCause{{Type: "index_not_found_exception", Reason: &rootReason}},
		},
	}

	err := wrapElasticError(elasticErr, "value search request failed for dimension '%s'", "CENTRO")
	assert.ErrorContains(t, err, "value search request failed for dimension 'CENTRO'")
	assert.ErrorContains(t, err, "no such index [pivot-dimension-values] (index_not_found_exception, status 404)")
	assert.ErrorContains(t, err, "index missing (index_not_found_exception)")

	plainErr := errors.New("connection refused")
	assert.Equal(t, plainErr, formatElasticError(plainErr))
}

func TestBulkItemError(t *testing.T) {
	var response esutil.BulkIndexerResponseItem
	response.Status = 400
	response.Error.Type = "mapper_parsing_exception"
	response.Error.Reason = "failed to parse field [region]"

	assert.EqualError(
		t,
		bulkItemError(response, nil),
		"failed to parse field [region] (mapper_parsing_exception, status 400)",
	)

	requestErr := errors.New("connection reset")
	assert.Equal(t, requestErr, bulkItemError(response, requestErr))
}
