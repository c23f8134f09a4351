package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"hermannm.dev/pivot/debounce"
	"hermannm.dev/pivot/pivot"
	"hermannm.dev/wrap"
)

func newSearchCommand(app *app) *cobra.Command {
	opts := &valuesOptions{}

	cmd := &cobra.Command{
		Use:   "search DIMENSION",
		Short: "Search the values of a dimension as you type",
		Long: `Reads search text from stdin, one line at a time, and lists the matching values
of the dimension once input pauses for the search debounce delay. A search that
is still running when new input arrives is aborted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, app, args[0], opts)
		},
	}

	opts.addFlags(cmd)
	return cmd
}

type searchInput struct {
	sequence int
	text     string
}

type searchOutcome struct {
	searchInput
	values pivot.DimensionValues
	err    error
}

func runSearch(cmd *cobra.Command, app *app, dimensionID string, opts *valuesOptions) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	outcomes := make(chan searchOutcome)
	search := debounce.New(app.config.Debounce.Search, func(input searchInput) {
		values, err := app.client.DimensionValues(ctx, opts.request(dimensionID, input.text))
		select {
		case outcomes <- searchOutcome{searchInput: input, values: values, err: err}:
		case <-ctx.Done():
		}
	})
	defer search.Cancel()

	lines, readErr := readLines(ctx, cmd.InOrStdin())

	// Input ends once stdin is exhausted and the search for the last line has settled.
	sent, settled := 0, 0
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return wrap.Error(err, "failed to read search input")
				}
				if settled == sent {
					return nil
				}
				lines = nil
				continue
			}
			sent++
			search.Call(searchInput{sequence: sent, text: line})
		case outcome := <-outcomes:
			settled = max(settled, outcome.sequence)
			if err := app.renderSearchOutcome(cmd, outcome); err != nil {
				return err
			}
			if lines == nil && settled == sent {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (app *app) renderSearchOutcome(cmd *cobra.Command, outcome searchOutcome) error {
	if outcome.err != nil {
		if pivot.IsCancelled(outcome.err) {
			return nil
		}
		if queryErr, ok := pivot.AsQueryError(outcome.err); ok {
			// The next input may succeed, so keep reading.
			printQueryError(cmd.ErrOrStderr(), queryErr)
			return nil
		}
		return outcome.err
	}

	if app.format == formatTable {
		fmt.Fprintf(cmd.OutOrStdout(), "Results for '%s':\n", outcome.text)
	}
	return app.renderValues(cmd.OutOrStdout(), outcome.values)
}

// readLines sends the trimmed lines of input until it is exhausted or ctx is done, and closes the
// returned line channel. The error channel then receives the read error, or nil.
func readLines(ctx context.Context, input io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				readErr <- nil
				return
			}
		}
		readErr <- scanner.Err()
	}()

	return lines, readErr
}
