package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hermannm.dev/pivot/debounce"
)

// DebouncedFetcher debounces calls to a fetch function, and aborts the in-flight fetch whenever a
// new call arrives. Suited for searches and filters that update as the user types.
//
// Callers within one quiet period share the outcome of its single fetch (see debounce.Async). A
// fetch that is aborted by a newer call settles with ErrSuperseded.
type DebouncedFetcher[Arg any, Value any] struct {
	controller *Controller
	debounced  *debounce.Async[Arg, Value]
}

func NewDebouncedFetcher[Arg any, Value any](
	delay time.Duration,
	fetch func(context.Context, Arg) (Value, error),
) *DebouncedFetcher[Arg, Value] {
	controller := NewController()

	return &DebouncedFetcher[Arg, Value]{
		controller: controller,
		debounced: debounce.NewAsync(
			delay,
			func(ctx context.Context, arg Arg) (Value, error) {
				signal := controller.AcquireSignal(ctx)
				defer signal.Release()

				value, err := fetch(signal.Context(), arg)
				if revokeErr := signal.Err(); revokeErr != nil {
					var zero Value
					return zero, revokeErr
				}
				return value, err
			},
		),
	}
}

// Fetch aborts the fetch in flight (which then settles with ErrSuperseded), and joins the current
// quiet period with arg. If ctx is done before the period's fetch settles, Fetch returns an error
// matching ErrCancelled, and the fetch keeps running for the other callers.
func (fetcher *DebouncedFetcher[Arg, Value]) Fetch(ctx context.Context, arg Arg) (Value, error) {
	fetcher.controller.Supersede()

	value, err := fetcher.debounced.Call(ctx, arg)
	if errors.Is(err, debounce.ErrCancelled) {
		return value, ErrCancelled
	}
	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
		return value, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	}
	return value, err
}

// Cancel drops the pending fetch, and aborts the one in flight.
func (fetcher *DebouncedFetcher[Arg, Value]) Cancel() {
	fetcher.debounced.Cancel()
	fetcher.controller.Cancel()
}
