// Package api serves the pivot catalog, pivot queries and dimension value listings over HTTP,
// under the rate, concurrency and time limits that the query client classifies.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
	"hermannm.dev/devlog/log"
	"hermannm.dev/pivot/config"
	"hermannm.dev/pivot/db"
	"hermannm.dev/pivot/pivot"
	"hermannm.dev/wrap"
)

const (
	CatalogPath         = "/api/pivot/catalogo"
	QueryPath           = "/api/pivot/consulta"
	DimensionValuesPath = "/api/pivot/dimensiones/{dimensionID}/valores"

	serverBusyRetryAfterSeconds = 10
	maxRequestBodySize          = 1 << 20
	shutdownTimeout             = 10 * time.Second
)

type PivotAPI struct {
	schema   db.Schema
	db       db.PivotDB
	searcher db.ValueSearcher
	config   config.API
	router   chi.Router
	limiter  *rate.Limiter
	queries  *semaphore.Weighted
	loadedAt time.Time
}

type Option func(*PivotAPI)

// WithValueSearcher serves dimension values without inline values from the given search index,
// falling back to the database if the search fails.
func WithValueSearcher(searcher db.ValueSearcher) Option {
	return func(api *PivotAPI) {
		api.searcher = searcher
	}
}

func NewPivotAPI(
	schema db.Schema,
	pivotDB db.PivotDB,
	config config.API,
	options ...Option,
) *PivotAPI {
	api := &PivotAPI{
		schema:   schema,
		db:       pivotDB,
		config:   config,
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimitPerSecond), config.RateLimitBurst),
		queries:  semaphore.NewWeighted(config.MaxConcurrentQueries),
		loadedAt: time.Now().UTC(),
	}
	for _, option := range options {
		option(api)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID, logRequests, middleware.Recoverer, api.limitRate)
	router.Get(CatalogPath, api.Catalog)
	router.Post(QueryPath, api.Query)
	router.Get(DimensionValuesPath, api.DimensionValues)
	api.router = router

	return api
}

func (api *PivotAPI) Handler() http.Handler {
	return api.router
}

// ListenAndServe serves the API until ctx is cancelled, then waits for in-flight requests to
// finish.
func (api *PivotAPI) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + api.config.Port,
		Handler:           api.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("listening", slog.String("port", api.config.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return wrap.Error(err, "server stopped")
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		log.Info("shutting down server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			return wrap.Error(err, "failed to shut down server")
		}
		return nil
	})

	return group.Wait()
}

func (api *PivotAPI) Catalog(res http.ResponseWriter, req *http.Request) {
	sendJSON(res, api.schema.Catalog(api.loadedAt))
}

func (api *PivotAPI) Query(res http.ResponseWriter, req *http.Request) {
	var payload pivot.QueryPayload
	body := http.MaxBytesReader(res, req.Body, maxRequestBodySize)
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		sendClientError(res, err, "failed to parse pivot query from request body")
		return
	}

	query, err := api.schema.ResolveQuery(payload)
	if err != nil {
		sendClientError(res, err, "")
		return
	}

	if !api.queries.TryAcquire(1) {
		log.Warn(
			"rejected pivot query, too many queries in progress",
			slog.Int64("maxConcurrentQueries", api.config.MaxConcurrentQueries),
		)
		sendRetryLater(res, http.StatusServiceUnavailable, serverBusyRetryAfterSeconds)
		return
	}
	defer api.queries.Release(1)

	ctx, cancel := context.WithTimeout(req.Context(), api.config.QueryTimeout)
	defer cancel()

	result, err := api.db.RunPivotQuery(ctx, query)
	if err != nil {
		sendQueryError(res, req, ctx, err, "pivot query failed")
		return
	}

	sendJSON(res, pivot.QueryResponse{Result: result, GeneratedAt: time.Now().UTC()})
}

func (api *PivotAPI) DimensionValues(res http.ResponseWriter, req *http.Request) {
	dimensionID, err := url.PathUnescape(chi.URLParam(req, "dimensionID"))
	if err != nil {
		sendClientError(res, err, "invalid dimension ID in path")
		return
	}

	params := req.URL.Query()
	valuesReq := pivot.DimensionValuesRequest{
		DimensionID:  dimensionID,
		Search:       params.Get("busqueda"),
		Region:       params.Get("filtroRegion"),
		Municipality: params.Get("filtroMunicipio"),
	}
	if limit := params.Get("limite"); limit != "" {
		valuesReq.Limit, err = strconv.Atoi(limit)
		if err != nil {
			sendClientError(res, err, "invalid 'limite' query parameter")
			return
		}
	}

	query, err := api.schema.ResolveValuesQuery(valuesReq)
	if err != nil {
		sendClientError(res, err, "")
		return
	}

	var values []pivot.Option
	if len(query.InlineValues) != 0 {
		values = query.FilterInline()
	} else {
		ctx, cancel := context.WithTimeout(req.Context(), api.config.QueryTimeout)
		defer cancel()

		values, err = api.dimensionValues(ctx, query)
		if err != nil {
			sendQueryError(res, req, ctx, err, "dimension values query failed")
			return
		}
	}

	if values == nil {
		values = []pivot.Option{}
	}
	sendJSON(res, pivot.DimensionValues{Values: values, GeneratedAt: time.Now().UTC()})
}

func (api *PivotAPI) dimensionValues(
	ctx context.Context,
	query db.ValuesQuery,
) ([]pivot.Option, error) {
	if api.searcher != nil {
		values, err := api.searcher.SearchDimensionValues(ctx, query)
		if err == nil || ctx.Err() != nil {
			return values, err
		}
		log.Warn(
			"dimension value search failed, falling back to database",
			slog.String("dimension", query.DimensionID),
			slog.String("cause", err.Error()),
		)
	}

	return api.db.DimensionValues(ctx, query)
}

func sendQueryError(
	res http.ResponseWriter,
	req *http.Request,
	queryCtx context.Context,
	err error,
	message string,
) {
	switch {
	case req.Context().Err() != nil:
		log.Debug("client left before query finished", slog.String("path", req.URL.Path))
	case errors.Is(err, db.ErrQueryTimeout), errors.Is(queryCtx.Err(), context.DeadlineExceeded):
		log.Warn(message+", timed out", slog.String("cause", err.Error()))
		http.Error(res, http.StatusText(http.StatusGatewayTimeout), http.StatusGatewayTimeout)
	case db.IsInvalidRequest(err):
		sendClientError(res, err, "")
	default:
		sendServerError(res, err, message)
	}
}

func (api *PivotAPI) limitRate(next http.Handler) http.Handler {
	retryAfter := max(1, int(math.Ceil(api.config.RateLimitRetryAfter.Seconds())))

	return http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		if !api.limiter.Allow() {
			log.Warn("rate limit exceeded", slog.String("path", req.URL.Path))
			sendRetryLater(res, http.StatusTooManyRequests, retryAfter)
			return
		}
		next.ServeHTTP(res, req)
	})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(res, req.ProtoMajor)

		next.ServeHTTP(wrapped, req)

		log.Debug(
			"handled request",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int("status", wrapped.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("requestId", middleware.GetReqID(req.Context())),
		)
	})
}
