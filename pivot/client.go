package pivot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"hermannm.dev/devlog/log"
	"hermannm.dev/pivot/request"
	"hermannm.dev/wrap"
)

// RegionField is the dimension that a forced region is applied to.
const RegionField = "REGION"

// RegionSource provides the region that all queries must be restricted to, if any.
type RegionSource interface {
	ForcedRegion() (code string, ok bool)
}

// Client talks to the pivot backend. Each of its three operations (catalog, query and dimension
// values) has its own request controller: starting an operation aborts the previous call of the
// same operation still in flight, whose caller then receives an error matching
// request.ErrCancelled instead of a result.
//
// A Client is safe for concurrent use.
type Client struct {
	baseURLLock sync.RWMutex
	baseURL     string

	origin     string
	httpClient *http.Client
	timeouts   TimeoutPolicy
	regions    RegionSource
	afterFunc  request.AfterFunc

	catalogRequests   *request.Controller
	queryRequests     *request.Controller
	dimensionRequests *request.Controller
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = httpClient
	}
}

// WithOrigin sets the origin to resolve endpoint paths against when the client has no base URL.
func WithOrigin(origin string) ClientOption {
	return func(client *Client) {
		client.origin = origin
	}
}

func WithTimeoutPolicy(policy TimeoutPolicy) ClientOption {
	return func(client *Client) {
		client.timeouts = policy
	}
}

func WithRegionSource(regions RegionSource) ClientOption {
	return func(client *Client) {
		client.regions = regions
	}
}

// WithAfterFunc replaces the scheduler used for query timeouts (time.AfterFunc by default).
func WithAfterFunc(afterFunc request.AfterFunc) ClientOption {
	return func(client *Client) {
		client.afterFunc = afterFunc
	}
}

func NewClient(baseURL string, options ...ClientOption) *Client {
	client := &Client{
		baseURL:           normalizeBaseURL(baseURL),
		httpClient:        http.DefaultClient,
		timeouts:          DefaultTimeoutPolicy,
		afterFunc:         request.TimeAfterFunc,
		catalogRequests:   request.NewController(),
		queryRequests:     request.NewController(),
		dimensionRequests: request.NewController(),
	}
	for _, option := range options {
		option(client)
	}
	return client
}

func (client *Client) BaseURL() string {
	client.baseURLLock.RLock()
	defer client.baseURLLock.RUnlock()
	return client.baseURL
}

// SetBaseURL changes the API URL used by subsequent calls. Calls already in flight are not
// affected.
func (client *Client) SetBaseURL(baseURL string) {
	client.baseURLLock.Lock()
	defer client.baseURLLock.Unlock()
	client.baseURL = normalizeBaseURL(baseURL)
}

func (client *Client) FetchCatalog(ctx context.Context) (Catalog, error) {
	return execute[Catalog](ctx, client, call{
		operation:  "catalog",
		controller: client.catalogRequests,
		method:     http.MethodGet,
		path:       catalogPath,
	})
}

// Query runs a pivot query, aborting the previous query if it is still in flight. It fails with a
// QueryError of kind ErrorKindClientTimeout if no response arrives within the client's
// TimeoutPolicy for the payload's period count.
//
// If the client has a forced region, it replaces any region filter in the payload.
func (client *Client) Query(ctx context.Context, payload QueryPayload) (QueryResponse, error) {
	if client.regions != nil {
		if code, ok := client.regions.ForcedRegion(); ok {
			payload = payload.WithFilter(Filter{Field: RegionField, Values: []Value{code}})
		}
	}

	periodCount := payload.PeriodCount()

	return execute[QueryResponse](ctx, client, call{
		operation:   "query",
		controller:  client.queryRequests,
		method:      http.MethodPost,
		path:        queryPath,
		body:        payload,
		timeout:     client.timeouts.Timeout(periodCount),
		periodCount: periodCount,
	})
}

// DimensionValues lists the values of a dimension, aborting the previous listing if it is still in
// flight. A forced region takes precedence over req.Region.
func (client *Client) DimensionValues(
	ctx context.Context,
	req DimensionValuesRequest,
) (DimensionValues, error) {
	params := url.Values{}
	if req.Search != "" {
		params.Set("busqueda", req.Search)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultDimensionValuesLimit
	}
	params.Set("limite", strconv.Itoa(limit))

	region := req.Region
	if client.regions != nil {
		if code, ok := client.regions.ForcedRegion(); ok {
			region = code
		}
	}
	if region != "" {
		params.Set("filtroRegion", region)
	}
	if req.Municipality != "" {
		params.Set("filtroMunicipio", req.Municipality)
	}

	return execute[DimensionValues](ctx, client, call{
		operation:  "dimension values",
		controller: client.dimensionRequests,
		method:     http.MethodGet,
		path:       dimensionValuesPath(req.DimensionID),
		query:      params,
	})
}

func (client *Client) CancelCatalog() {
	client.catalogRequests.Cancel()
}

// CancelQuery aborts the query in flight, if any. Useful when the user navigates away from the
// table.
func (client *Client) CancelQuery() {
	client.queryRequests.Cancel()
}

func (client *Client) CancelDimensionValues() {
	client.dimensionRequests.Cancel()
}

// Close aborts every call in flight. The client can still be used afterwards.
func (client *Client) Close() {
	client.CancelCatalog()
	client.CancelQuery()
	client.CancelDimensionValues()
}

type call struct {
	operation  string
	controller *request.Controller
	method     string
	path       string
	query      url.Values
	body       any
	// 0 for no timeout.
	timeout     time.Duration
	periodCount int
}

func execute[T any](ctx context.Context, client *Client, call call) (T, error) {
	var zero T

	signal := call.controller.AcquireSignal(ctx)
	defer signal.Release()

	abort := request.Bind(signal, call.timeout, client.afterFunc)
	defer abort.Release()

	req, err := client.newRequest(abort.Context(), call)
	if err != nil {
		return zero, newGeneralError("", wrap.Errorf(err, "failed to create %s request", call.operation))
	}
	req.Header.Set("X-Request-ID", signal.ID().String())

	start := time.Now()

	var value T
	res, err := client.httpClient.Do(req)
	if err == nil {
		value, err = classifyResponse[T](res)
	}

	source := abort.Settle()

	log.Debug(
		"pivot request settled",
		slog.String("operation", call.operation),
		slog.String("requestId", signal.ID().String()),
		slog.Uint64("sequence", signal.Sequence()),
		slog.String("abortSource", source.String()),
		slog.Duration("duration", time.Since(start)),
	)

	// A superseded request must never deliver its outcome, not even its own timeout.
	if revokeErr := signal.Err(); revokeErr != nil {
		return zero, revokeErr
	}
	if source == request.AbortTimeout {
		return zero, newClientTimeoutError(call.periodCount, call.timeout)
	}
	if err != nil {
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%w: %w", request.ErrCancelled, context.Cause(ctx))
		}
		if _, isQueryErr := AsQueryError(err); isQueryErr {
			return zero, err
		}
		return zero, newGeneralError(
			"Could not reach the server. Check your connection and try again.",
			wrap.Errorf(err, "%s request failed", call.operation),
		)
	}

	return value, nil
}

func (client *Client) newRequest(ctx context.Context, call call) (*http.Request, error) {
	endpoint, err := buildURL(client.BaseURL(), client.origin, call.path, call.query)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if call.body != nil {
		encoded, err := json.Marshal(call.body)
		if err != nil {
			return nil, wrap.Error(err, "failed to encode request body")
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, call.method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
