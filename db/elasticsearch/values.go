package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/elastic/go-elasticsearch/v8/typedapi/core/search"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types"
	"github.com/google/uuid"
	"hermannm.dev/pivot/db"
	"hermannm.dev/pivot/pivot"
	"hermannm.dev/wrap"
)

const (
	fieldDimension    = "dimension"
	fieldValue        = "value"
	fieldLabel        = "label"
	fieldRegion       = "region"
	fieldMunicipality = "municipality"
)

func valueDocumentMappings() *types.TypeMapping {
	return &types.TypeMapping{
		Properties: map[string]types.Property{
			fieldDimension:    types.NewKeywordProperty(),
			fieldValue:        types.NewKeywordProperty(),
			fieldLabel:        types.NewTextProperty(),
			fieldRegion:       types.NewKeywordProperty(),
			fieldMunicipality: types.NewKeywordProperty(),
		},
	}
}

func (elastic ElasticsearchDB) SearchDimensionValues(
	ctx context.Context,
	query db.ValuesQuery,
) ([]pivot.Option, error) {
	request := buildSearchRequest(query)

	response, err := elastic.client.Search().Index(elastic.index).Request(request).Do(ctx)
	if err != nil {
		return nil, wrapElasticError(
			err,
			"value search request failed for dimension '%s'",
			query.DimensionID,
		)
	}

	options := make([]pivot.Option, 0, len(response.Hits.Hits))
	for _, hit := range response.Hits.Hits {
		var document db.ValueDocument
		if err := json.Unmarshal(hit.Source_, &document); err != nil {
			return nil, wrap.Error(err, "failed to decode value document from search hit")
		}
		options = append(options, pivot.Option{Value: document.Value, Label: document.Label})
	}
	return options, nil
}

// buildSearchRequest matches the dimension's documents within the query's scopes, preferring
// labels that start with the search text. Documents are collapsed on value, since a value is
// indexed once per scope it occurs in.
func buildSearchRequest(query db.ValuesQuery) *search.Request {
	filters := []types.Query{termQuery(fieldDimension, query.DimensionID)}
	if query.Region != "" {
		filters = append(filters, termQuery(fieldRegion, query.Region))
	}
	if query.Municipality != "" {
		filters = append(filters, termQuery(fieldMunicipality, query.Municipality))
	}

	boolQuery := &types.BoolQuery{Filter: filters}
	if query.Search != "" {
		boolQuery.Must = []types.Query{{
			MatchPhrasePrefix: map[string]types.MatchPhrasePrefixQuery{
				fieldLabel: {Query: query.Search},
			},
		}}
	}

	size := query.Limit
	return &search.Request{
		Query:    &types.Query{Bool: boolQuery},
		Size:     &size,
		Collapse: &types.FieldCollapse{Field: fieldValue},
	}
}

func termQuery(field string, value string) types.Query {
	return types.Query{Term: map[string]types.TermQuery{field: {Value: value}}}
}

const BulkInsertSize = 1000

func (elastic ElasticsearchDB) IndexDimensionValues(
	ctx context.Context,
	documents []db.ValueDocument,
) error {
	bulk, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:     elastic.untypedClient,
		Index:      elastic.index,
		FlushBytes: BulkInsertSize * 256,
	})
	if err != nil {
		return wrap.Error(err, "failed to prepare bulk value insert")
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var failed atomic.Int64

	for i, document := range documents {
		documentJSON, err := json.Marshal(document)
		if err != nil {
			return wrap.Errorf(err, "failed to encode value document %d to JSON", i+1)
		}

		if err := bulk.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: documentID(document),
			Body:       bytes.NewReader(documentJSON),
			OnFailure: func(
				ctx context.Context,
				item esutil.BulkIndexerItem,
				response esutil.BulkIndexerResponseItem,
				err error,
			) {
				failed.Add(1)
				cancel(wrap.Errorf(bulkItemError(response, err), "failed to index value document %d", i+1))
			},
		}); err != nil {
			return wrap.Errorf(err, "failed to add value document %d to bulk insert", i+1)
		}
	}

	if err := bulk.Close(ctx); err != nil {
		return wrap.Error(err, "failed to finish bulk value insert")
	}

	if failed.Load() != 0 {
		if cause := context.Cause(ctx); cause != nil {
			return wrap.Errorf(cause, "%d value documents failed to index", failed.Load())
		}
	}

	return nil
}

var valueDocumentNamespace = uuid.MustParse("1b671a64-40d5-491e-99b0-da01ff1f3341")

// documentID is derived from the document's identity, so that re-indexing a value overwrites it
// instead of adding a duplicate.
func documentID(document db.ValueDocument) string {
	key := fmt.Sprintf(
		"%s\x00%v\x00%s\x00%s",
		document.DimensionID,
		document.Value,
		document.Region,
		document.Municipality,
	)
	return uuid.NewSHA1(valueDocumentNamespace, []byte(key)).String()
}
