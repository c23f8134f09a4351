package debounce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrCancelled = errors.New("debounced call was cancelled before it ran")

type Result[Value any] struct {
	Value Value
	Err   error
}

// Async is the result-returning variant of Func.
//
// Calls that arrive within the delay of each other form one quiet period, and the wrapped
// function runs at most once per quiet period: with the argument of the last call, once the delay
// has passed after that call. Every caller that joined the quiet period receives the outcome of
// that single execution. This is at-most-one-execution-per-quiet-period, not one result per call:
// earlier callers are never rejected for having been superseded, they share the last caller's
// outcome.
//
// The execution's context carries the values of the last caller's context, and is cancelled only
// once the contexts of all callers in the quiet period are done.
type Async[Arg any, Value any] struct {
	fn    func(context.Context, Arg) (Value, error)
	delay time.Duration

	lock       sync.Mutex
	timer      *time.Timer
	generation uint64
	pending    asyncCall[Arg, Value]
}

type asyncCall[Arg any, Value any] struct {
	arg      Arg
	waiters  []chan Result[Value]
	contexts []context.Context
}

func NewAsync[Arg any, Value any](
	delay time.Duration,
	fn func(context.Context, Arg) (Value, error),
) *Async[Arg, Value] {
	return &Async[Arg, Value]{fn: fn, delay: delay}
}

// Call joins the current quiet period with the given argument, and blocks until the period's
// execution has settled. If ctx is done first, Call returns ctx.Err(), but the execution still
// runs for the other callers, and is not cancelled by ctx while any of them is waiting.
func (debounced *Async[Arg, Value]) Call(ctx context.Context, arg Arg) (Value, error) {
	waiter := debounced.schedule(ctx, arg)

	select {
	case result := <-waiter:
		return result.Value, result.Err
	case <-ctx.Done():
		var zero Value
		return zero, ctx.Err()
	}
}

// Go is like Call, but returns a channel that receives the outcome instead of blocking.
// The channel is buffered, so it is fine to never read from it.
func (debounced *Async[Arg, Value]) Go(ctx context.Context, arg Arg) <-chan Result[Value] {
	return debounced.schedule(ctx, arg)
}

func (debounced *Async[Arg, Value]) schedule(ctx context.Context, arg Arg) chan Result[Value] {
	waiter := make(chan Result[Value], 1)

	debounced.lock.Lock()
	defer debounced.lock.Unlock()

	if debounced.timer != nil {
		debounced.timer.Stop()
	}

	debounced.pending.arg = arg
	debounced.pending.waiters = append(debounced.pending.waiters, waiter)
	debounced.pending.contexts = append(debounced.pending.contexts, ctx)

	debounced.generation++
	generation := debounced.generation
	debounced.timer = time.AfterFunc(debounced.delay, func() {
		debounced.run(generation)
	})

	return waiter
}

func (debounced *Async[Arg, Value]) run(generation uint64) {
	debounced.lock.Lock()
	if debounced.generation != generation {
		debounced.lock.Unlock()
		return
	}
	call := debounced.pending
	debounced.pending = asyncCall[Arg, Value]{}
	debounced.timer = nil
	debounced.lock.Unlock()

	ctx, release := outliveCallers(call.contexts)
	defer release()

	value, err := debounced.fn(ctx, call.arg)
	deliver(call.waiters, Result[Value]{Value: value, Err: err})
}

// outliveCallers returns a context with the values of the last caller's context, which is
// cancelled once every caller's context is done, with the cause of the last one to finish.
// The returned release function must be called when the execution is over.
func outliveCallers(callers []context.Context) (context.Context, func()) {
	last := callers[len(callers)-1]
	ctx, cancel := context.WithCancelCause(context.WithoutCancel(last))

	var live atomic.Int64
	live.Store(int64(len(callers)))

	stops := make([]func() bool, 0, len(callers))
	for _, caller := range callers {
		stops = append(stops, context.AfterFunc(caller, func() {
			if live.Add(-1) == 0 {
				cancel(context.Cause(caller))
			}
		}))
	}

	return ctx, func() {
		for _, stop := range stops {
			stop()
		}
		cancel(nil)
	}
}

// Cancel drops the pending execution, if any. Its waiters receive ErrCancelled. An execution that
// has already started is not affected. Returns true if an execution was dropped.
func (debounced *Async[Arg, Value]) Cancel() bool {
	debounced.lock.Lock()
	if debounced.timer == nil {
		debounced.lock.Unlock()
		return false
	}

	debounced.timer.Stop()
	debounced.timer = nil
	debounced.generation++
	waiters := debounced.pending.waiters
	debounced.pending = asyncCall[Arg, Value]{}
	debounced.lock.Unlock()

	deliver(waiters, Result[Value]{Err: ErrCancelled})
	return true
}

func deliver[Value any](waiters []chan Result[Value], result Result[Value]) {
	for _, waiter := range waiters {
		waiter <- result
	}
}
