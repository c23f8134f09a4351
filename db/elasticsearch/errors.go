package elasticsearch

import (
	"errors"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types"
	"hermannm.dev/wrap"
)

func wrapElasticError(wrapped error, format string, args ...any) error {
	return wrap.Errorf(formatElasticError(wrapped), format, args...)
}

// formatElasticError flattens the nested causes of an Elasticsearch error response, which are
// otherwise left out of its message.
func formatElasticError(err error) error {
	var elasticErr *types.ElasticsearchError
	if !errors.As(err, &elasticErr) {
		return err
	}

	message := describeCause(elasticErr.ErrorCause, fmt.Sprintf("status %d", elasticErr.Status))

	if len(elasticErr.ErrorCause.RootCause) == 0 {
		return errors.New(message)
	}

	rootCauses := make([]error, 0, len(elasticErr.ErrorCause.RootCause))
	for _, cause := range elasticErr.ErrorCause.RootCause {
		rootCauses = append(rootCauses, errors.New(describeCause(cause, "")))
	}
	return wrap.Errors(message, rootCauses...)
}

// describeCause formats a cause as "<reason> (<type>, <details>)", or just its type and details if
// it has no reason.
func describeCause(cause types.ErrorCause, details string) string {
	if cause.Reason == nil {
		if details == "" {
			return cause.Type
		}
		return fmt.Sprintf("%s (%s)", cause.Type, details)
	}

	if details == "" {
		return fmt.Sprintf("%s (%s)", *cause.Reason, cause.Type)
	}
	return fmt.Sprintf("%s (%s, %s)", *cause.Reason, cause.Type, details)
}

// bulkItemError returns the error of a failed bulk item, taken from the item's response when the
// request itself went through.
func bulkItemError(response esutil.BulkIndexerResponseItem, err error) error {
	if err != nil {
		return err
	}

	reason := &response.Error.Reason
	if response.Error.Reason == "" {
		reason = nil
	}
	return errors.New(describeCause(
		types.ErrorCause{Type: response.Error.Type, Reason: reason},
		fmt.Sprintf("status %d", response.Status),
	))
}
