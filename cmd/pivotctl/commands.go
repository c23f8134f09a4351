package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"hermannm.dev/pivot/pivot"
)

// errReported is returned once a failure has been printed, so that main only sets the exit code.
var errReported = errors.New("query failed")

func newCatalogCommand(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the dimensions and measures available for pivot queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := withRetry(cmd, app, app.client.FetchCatalog)
			if err != nil {
				return reportError(cmd, err)
			}
			return app.renderCatalog(cmd.OutOrStdout(), catalog)
		},
	}
}

type queryOptions struct {
	year     int
	years    []int
	rows     []string
	columns  []string
	measures []string
	filters  []string
	limit    int
	totals   bool
	watch    bool
}

func newQueryCommand(app *app) *cobra.Command {
	opts := &queryOptions{}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a pivot query",
		Example: `  # Enrollment per region in 2023
  pivotctl query --year 2023 --rows REGION --measure MATRICULA

  # Enrollment per grade and gender over three years, with grand total
  pivotctl query --years 2021,2022,2023 --rows GRADO --columns GENERO \
    --measure MATRICULA:SUM --filter REGION=8 --totals

  # Re-run the query as filter edits (GENERO=F, or GENERO= to clear) are typed
  pivotctl query --year 2023 --rows REGION --measure MATRICULA --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := opts.payload()
			if err != nil {
				return err
			}
			if opts.watch {
				return runWatch(cmd, app, payload)
			}

			res, err := withRetry(cmd, app, func(ctx context.Context) (pivot.QueryResponse, error) {
				return app.client.Query(ctx, payload)
			})
			if err != nil {
				return reportError(cmd, err)
			}
			return app.renderQueryResult(cmd.OutOrStdout(), res)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.year, "year", 0, "Single period to query")
	flags.IntSliceVar(&opts.years, "years", nil, "Periods to query (overrides --year)")
	flags.StringSliceVar(&opts.rows, "rows", nil, "Row dimensions")
	flags.StringSliceVar(&opts.columns, "columns", nil, "Column dimensions")
	flags.StringArrayVarP(&opts.measures, "measure", "m", nil, "Measure to aggregate, as ID or ID:AGGREGATION")
	flags.StringArrayVar(&opts.filters, "filter", nil, "Filter, as DIMENSION=VALUE[,VALUE...]")
	flags.IntVar(&opts.limit, "limit", 0, "Maximum number of rows (server default if 0)")
	flags.BoolVar(&opts.totals, "totals", false, "Include the grand total")
	flags.BoolVar(&opts.watch, "watch", false, "Re-run the query for each filter edit read from stdin")

	return cmd
}

func (opts *queryOptions) payload() (pivot.QueryPayload, error) {
	payload := pivot.QueryPayload{
		Rows:          opts.rows,
		Columns:       opts.columns,
		Limit:         opts.limit,
		IncludeTotals: opts.totals,
	}

	switch {
	case len(opts.years) != 0:
		payload.Years = opts.years
	case opts.year != 0:
		year := opts.year
		payload.Year = &year
	default:
		return pivot.QueryPayload{}, errors.New("either --year or --years must be given")
	}

	if len(opts.measures) == 0 {
		return pivot.QueryPayload{}, errors.New("at least one --measure must be given")
	}
	for _, measure := range opts.measures {
		field, aggregationName, hasAggregation := strings.Cut(measure, ":")
		value := pivot.ValueRequest{Field: field}
		if hasAggregation {
			aggregation, err := pivot.ParseAggregation(aggregationName)
			if err != nil {
				return pivot.QueryPayload{}, err
			}
			value.Aggregation = &aggregation
		}
		payload.Values = append(payload.Values, value)
	}

	for _, filter := range opts.filters {
		parsed, err := parseFilter(filter, false)
		if err != nil {
			return pivot.QueryPayload{}, err
		}
		payload = payload.WithFilter(parsed)
	}

	return payload, nil
}

// parseFilter parses DIMENSION=VALUE[,VALUE...]. With allowClear, DIMENSION= is accepted as well,
// and gives a filter without values.
func parseFilter(text string, allowClear bool) (pivot.Filter, error) {
	field, values, ok := strings.Cut(text, "=")
	field = strings.TrimSpace(field)
	values = strings.TrimSpace(values)
	if !ok || field == "" || (values == "" && !allowClear) {
		return pivot.Filter{}, fmt.Errorf(
			"invalid filter '%s' (expected DIMENSION=VALUE[,VALUE...])",
			text,
		)
	}

	filter := pivot.Filter{Field: field}
	if values == "" {
		return filter, nil
	}
	for _, value := range strings.Split(values, ",") {
		filter.Values = append(filter.Values, strings.TrimSpace(value))
	}
	return filter, nil
}

type valuesOptions struct {
	search       string
	limit        int
	region       string
	municipality string
}

func (opts *valuesOptions) addFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntVar(&opts.limit, "limit", 0, "Maximum number of values")
	flags.StringVar(&opts.region, "in-region", "", "Only list values occurring in this region")
	flags.StringVar(&opts.municipality, "in-municipality", "", "Only list values occurring in this municipality")
}

func (opts *valuesOptions) request(dimensionID string, search string) pivot.DimensionValuesRequest {
	return pivot.DimensionValuesRequest{
		DimensionID:  dimensionID,
		Search:       search,
		Limit:        opts.limit,
		Region:       opts.region,
		Municipality: opts.municipality,
	}
}

func newValuesCommand(app *app) *cobra.Command {
	opts := &valuesOptions{}

	cmd := &cobra.Command{
		Use:   "values DIMENSION",
		Short: "List the values of a dimension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := opts.request(args[0], opts.search)
			res, err := withRetry(cmd, app, func(ctx context.Context) (pivot.DimensionValues, error) {
				return app.client.DimensionValues(ctx, req)
			})
			if err != nil {
				return reportError(cmd, err)
			}
			return app.renderValues(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVarP(&opts.search, "search", "s", "", "Only list values whose label contains this text")
	opts.addFlags(cmd)
	return cmd
}

// withRetry makes the call, and if --retry is set and the server told us when to retry, counts
// down and makes it once more.
func withRetry[T any](
	cmd *cobra.Command,
	app *app,
	call func(context.Context) (T, error),
) (T, error) {
	value, err := call(cmd.Context())
	if err == nil || !app.retry {
		return value, err
	}

	queryErr, ok := pivot.AsQueryError(err)
	if !ok {
		return value, err
	}
	wait, ok := queryErr.RetryAfter()
	if !ok {
		return value, err
	}

	printQueryError(cmd.ErrOrStderr(), queryErr)
	if err := countdown(cmd, wait); err != nil {
		return value, err
	}
	return call(cmd.Context())
}

func countdown(cmd *cobra.Command, wait time.Duration) error {
	output := cmd.ErrOrStderr()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for remaining := wait; remaining > 0; remaining -= time.Second {
		fmt.Fprintf(output, "\rRetrying in %d seconds...", int(remaining/time.Second))
		select {
		case <-cmd.Context().Done():
			fmt.Fprintln(output)
			return cmd.Context().Err()
		case <-ticker.C:
		}
	}
	fmt.Fprintln(output)
	return nil
}

// reportError prints a QueryError for the user. Cancellations are not errors from the user's
// point of view, so they are dropped.
func reportError(cmd *cobra.Command, err error) error {
	if pivot.IsCancelled(err) {
		return nil
	}
	if queryErr, ok := pivot.AsQueryError(err); ok {
		printQueryError(cmd.ErrOrStderr(), queryErr)
		return errReported
	}
	return err
}
