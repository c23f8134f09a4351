package elasticsearch

import (
	"context"

	"github.com/elastic/go-elasticsearch/v8"
	"hermannm.dev/pivot/config"
	"hermannm.dev/wrap"
)

// Implements db.ValueIndexer, serving dimension value searches from an index of value documents.
type ElasticsearchDB struct {
	client        *elasticsearch.TypedClient
	untypedClient *elasticsearch.Client
	index         string
}

func NewElasticsearchDB(config config.Elasticsearch) (ElasticsearchDB, error) {
	elasticConfig := elasticsearch.Config{
		Addresses:         []string{config.Address},
		EnableDebugLogger: config.Debug,
	}

	client, err := elasticsearch.NewTypedClient(elasticConfig)
	if err != nil {
		return ElasticsearchDB{}, wrap.Error(err, "failed to connect to Elasticsearch")
	}

	// The bulk indexer only accepts the untyped client.
	untypedClient, err := elasticsearch.NewClient(elasticConfig)
	if err != nil {
		return ElasticsearchDB{}, wrap.Error(err, "failed to connect to Elasticsearch")
	}

	return ElasticsearchDB{client: client, untypedClient: untypedClient, index: config.Index}, nil
}

// EnsureIndex creates the value index with its mappings, unless it already exists.
func (elastic ElasticsearchDB) EnsureIndex(ctx context.Context) error {
	exists, err := elastic.client.Indices.Exists(elastic.index).Do(ctx)
	if err != nil {
		return wrapElasticError(err, "failed to check if index '%s' exists", elastic.index)
	}
	if exists {
		return nil
	}

	if _, err := elastic.client.Indices.Create(elastic.index).
		Mappings(valueDocumentMappings()).
		Do(ctx); err != nil {
		return wrapElasticError(err, "Elasticsearch index creation request failed for '%s'", elastic.index)
	}

	return nil
}
