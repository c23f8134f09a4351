package request

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var ErrTimeout = errors.New("request exceeded its allowed duration")

// AbortSource records what ended a request bound with Bind: whichever trigger fired first.
type AbortSource int32

const (
	// Nothing has fired yet.
	AbortNone AbortSource = iota
	// The request's signal was revoked (superseded or explicitly cancelled).
	AbortCancelled
	// The scheduled timeout fired.
	AbortTimeout
	// The request completed before either trigger fired.
	AbortSettled
)

func (source AbortSource) String() string {
	switch source {
	case AbortNone:
		return "none"
	case AbortCancelled:
		return "cancelled"
	case AbortTimeout:
		return "timeout"
	case AbortSettled:
		return "settled"
	default:
		return "invalid"
	}
}

// AfterFunc schedules f to run after d, like time.AfterFunc. The returned function stops the
// schedule.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func TimeAfterFunc(d time.Duration, f func()) (stop func() bool) {
	return time.AfterFunc(d, f).Stop
}

// Abort combines two independent triggers for ending a request: revocation of its signal, and a
// scheduled timeout. Only the first trigger to fire is recorded.
type Abort struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	source    atomic.Int32
	stopTimer func() bool
	stopHook  func()
}

// Bind derives the context to run a request with from signal, and schedules a timeout on it.
// A timeout of 0 or less schedules nothing. If afterFunc is nil, TimeAfterFunc is used.
func Bind(signal *Signal, timeout time.Duration, afterFunc AfterFunc) *Abort {
	ctx, cancel := context.WithCancelCause(signal.Context())
	abort := &Abort{ctx: ctx, cancel: cancel, stopTimer: func() bool { return false }}

	abort.stopHook = signal.OnRevoke(func() {
		abort.fire(AbortCancelled)
	})

	if timeout > 0 {
		if afterFunc == nil {
			afterFunc = TimeAfterFunc
		}
		abort.stopTimer = afterFunc(timeout, func() {
			if abort.fire(AbortTimeout) {
				cancel(ErrTimeout)
			}
		})
	}

	return abort
}

func (abort *Abort) Context() context.Context {
	return abort.ctx
}

// Source returns the trigger that fired first, or AbortNone if neither has fired and the request
// has not settled.
func (abort *Abort) Source() AbortSource {
	return AbortSource(abort.source.Load())
}

// Settle marks the request as completed and disarms both triggers, so that neither can fire
// afterwards. Returns the trigger that fired first, or AbortSettled if the request completed
// before either.
func (abort *Abort) Settle() AbortSource {
	abort.fire(AbortSettled)
	abort.stopTimer()
	abort.stopHook()
	return abort.Source()
}

// Release frees the request context. Call it once the response has been consumed.
func (abort *Abort) Release() {
	abort.Settle()
	abort.cancel(nil)
}

func (abort *Abort) fire(source AbortSource) (first bool) {
	return abort.source.CompareAndSwap(int32(AbortNone), int32(source))
}
