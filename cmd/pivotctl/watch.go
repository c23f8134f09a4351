package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"hermannm.dev/pivot/pivot"
	"hermannm.dev/pivot/request"
	"hermannm.dev/wrap"
)

type watchOutcome struct {
	sequence int
	payload  pivot.QueryPayload
	res      pivot.QueryResponse
	err      error
}

// runWatch runs the query, and re-runs it with each filter edit read from stdin once edits pause
// for the query debounce delay. Only the result for the latest edit is printed.
func runWatch(cmd *cobra.Command, app *app, payload pivot.QueryPayload) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	fetcher := request.NewDebouncedFetcher(app.config.Debounce.Query, app.client.Query)
	defer fetcher.Cancel()

	outcomes := make(chan watchOutcome)
	latest := 0
	fetch := func(payload pivot.QueryPayload) {
		latest++
		sequence := latest
		go func() {
			res, err := fetcher.Fetch(ctx, payload)
			select {
			case outcomes <- watchOutcome{sequence: sequence, payload: payload, res: res, err: err}:
			case <-ctx.Done():
			}
		}()
	}

	fetch(payload)
	lines, readErr := readLines(ctx, cmd.InOrStdin())

	// Watching ends once stdin is exhausted and the query for the last edit has settled.
	latestSettled := false
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return wrap.Error(err, "failed to read filter edits")
				}
				if latestSettled {
					return nil
				}
				lines = nil
				continue
			}
			if line == "" {
				continue
			}

			filter, err := parseFilter(line, true)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				continue
			}
			payload = applyFilterEdit(payload, filter)
			latestSettled = false
			fetch(payload)
		case outcome := <-outcomes:
			// Callers in one quiet period share its outcome, so earlier edits are already covered.
			if outcome.sequence != latest {
				continue
			}
			latestSettled = true
			if err := app.renderWatchOutcome(cmd, outcome); err != nil {
				return err
			}
			if lines == nil {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// applyFilterEdit replaces the payload's filter on the edited field, or removes it if the edit has
// no values.
func applyFilterEdit(payload pivot.QueryPayload, edit pivot.Filter) pivot.QueryPayload {
	if len(edit.Values) != 0 {
		return payload.WithFilter(edit)
	}

	filters := make([]pivot.Filter, 0, len(payload.Filters))
	for _, filter := range payload.Filters {
		if filter.Field != edit.Field {
			filters = append(filters, filter)
		}
	}
	payload.Filters = filters
	return payload
}

func (app *app) renderWatchOutcome(cmd *cobra.Command, outcome watchOutcome) error {
	if outcome.err != nil {
		if pivot.IsCancelled(outcome.err) {
			return nil
		}
		if queryErr, ok := pivot.AsQueryError(outcome.err); ok {
			// The next edit may fix the query, so keep watching.
			printQueryError(cmd.ErrOrStderr(), queryErr)
			return nil
		}
		return outcome.err
	}

	if app.format == formatTable {
		fmt.Fprintf(cmd.OutOrStdout(), "Filters: %s\n", describeFilters(outcome.payload.Filters))
	}
	return app.renderQueryResult(cmd.OutOrStdout(), outcome.res)
}

func describeFilters(filters []pivot.Filter) string {
	if len(filters) == 0 {
		return "none"
	}

	descriptions := make([]string, 0, len(filters))
	for _, filter := range filters {
		values := make([]string, 0, len(filter.Values))
		for _, value := range filter.Values {
			values = append(values, formatValue(value))
		}
		descriptions = append(descriptions, filter.Field+"="+strings.Join(values, ","))
	}
	return strings.Join(descriptions, "; ")
}
