package request_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hermannm.dev/pivot/request"
)

func TestAcquireSignalRevokesPrevious(t *testing.T) {
	controller := request.NewController()

	first := controller.AcquireSignal(context.Background())
	assert.False(t, first.Revoked())
	assert.False(t, controller.IsCancelled())

	second := controller.AcquireSignal(context.Background())

	// Revocation is observable as soon as AcquireSignal returns, without waiting.
	assert.True(t, first.Revoked())
	assert.ErrorIs(t, first.Context().Err(), context.Canceled)
	assert.ErrorIs(t, context.Cause(first.Context()), request.ErrSuperseded)
	assert.ErrorIs(t, first.Err(), request.ErrCancelled)

	assert.False(t, second.Revoked())
	assert.NoError(t, second.Context().Err())
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, uint64(2), second.Sequence())
	assert.Equal(t, uint64(2), controller.RequestCount())
}

func TestCancel(t *testing.T) {
	controller := request.NewController()

	assert.NotPanics(t, controller.Cancel, "cancel without a signal is a no-op")
	assert.False(t, controller.IsCancelled())

	signal := controller.AcquireSignal(context.Background())
	controller.Cancel()

	assert.True(t, signal.Revoked())
	assert.ErrorIs(t, signal.Err(), request.ErrCancelled)
	assert.NotErrorIs(t, signal.Err(), request.ErrSuperseded)
	assert.False(t, controller.IsCancelled(), "cancel clears the current signal")

	next := controller.AcquireSignal(context.Background())
	assert.False(t, next.Revoked())
}

func TestSupersede(t *testing.T) {
	controller := request.NewController()
	assert.NotPanics(t, controller.Supersede)

	signal := controller.AcquireSignal(context.Background())
	controller.Supersede()

	assert.True(t, signal.Revoked())
	assert.ErrorIs(t, signal.Err(), request.ErrSuperseded)
	assert.False(t, controller.IsCancelled())
}

func TestIsCancelledAfterParentDone(t *testing.T) {
	controller := request.NewController()
	ctx, cancel := context.WithCancel(context.Background())

	signal := controller.AcquireSignal(ctx)
	cancel()

	<-signal.Done()
	assert.False(t, signal.Revoked(), "parent cancellation is not a revocation")
	assert.False(t, controller.IsCancelled())
}

func TestReleaseDoesNotRevoke(t *testing.T) {
	controller := request.NewController()
	signal := controller.AcquireSignal(context.Background())

	signal.Release()
	assert.Error(t, signal.Context().Err())
	assert.False(t, signal.Revoked())
	assert.False(t, controller.IsCancelled())
}

func TestOnRevoke(t *testing.T) {
	controller := request.NewController()
	signal := controller.AcquireSignal(context.Background())

	var called, unregisteredCalled atomic.Bool
	signal.OnRevoke(func() {
		// Hooks run before the context is cancelled.
		assert.NoError(t, signal.Context().Err())
		called.Store(true)
	})
	stop := signal.OnRevoke(func() { unregisteredCalled.Store(true) })
	stop()

	controller.Cancel()
	assert.True(t, called.Load())
	assert.False(t, unregisteredCalled.Load())

	var lateCalled bool
	signal.OnRevoke(func() { lateCalled = true })
	assert.True(t, lateCalled, "hooks registered after revocation run immediately")
}

type manualTimer struct {
	duration time.Duration
	fire     func()
	stopped  bool
}

func (timer *manualTimer) afterFunc(d time.Duration, f func()) func() bool {
	timer.duration = d
	timer.fire = f
	return func() bool {
		timer.stopped = true
		return true
	}
}

func TestAbortTimeoutFiresFirst(t *testing.T) {
	controller := request.NewController()
	signal := controller.AcquireSignal(context.Background())

	var timer manualTimer
	abort := request.Bind(signal, 150*time.Second, timer.afterFunc)
	defer abort.Release()

	assert.Equal(t, 150*time.Second, timer.duration)
	assert.Equal(t, request.AbortNone, abort.Source())

	timer.fire()
	assert.ErrorIs(t, context.Cause(abort.Context()), request.ErrTimeout)

	// A later revocation does not change the attribution.
	controller.AcquireSignal(context.Background())
	assert.Equal(t, request.AbortTimeout, abort.Settle())
}

func TestAbortCancellationFiresFirst(t *testing.T) {
	controller := request.NewController()
	signal := controller.AcquireSignal(context.Background())

	var timer manualTimer
	abort := request.Bind(signal, time.Minute, timer.afterFunc)
	defer abort.Release()

	controller.AcquireSignal(context.Background())
	assert.Equal(t, request.AbortCancelled, abort.Source())
	assert.Error(t, abort.Context().Err())

	timer.fire()
	assert.Equal(t, request.AbortCancelled, abort.Settle())
	assert.NotErrorIs(t, context.Cause(abort.Context()), request.ErrTimeout)
}

func TestAbortSettleDisarms(t *testing.T) {
	controller := request.NewController()
	signal := controller.AcquireSignal(context.Background())

	var timer manualTimer
	abort := request.Bind(signal, time.Minute, timer.afterFunc)

	assert.Equal(t, request.AbortSettled, abort.Settle())
	assert.True(t, timer.stopped)

	// Stray triggers after completion are ignored.
	timer.fire()
	controller.Cancel()
	assert.Equal(t, request.AbortSettled, abort.Source())

	abort.Release()
	assert.Error(t, abort.Context().Err())
}

func TestAbortWithoutTimeout(t *testing.T) {
	controller := request.NewController()
	signal := controller.AcquireSignal(context.Background())

	var scheduled bool
	abort := request.Bind(signal, 0, func(time.Duration, func()) func() bool {
		scheduled = true
		return func() bool { return true }
	})
	defer abort.Release()

	assert.False(t, scheduled)
	assert.Equal(t, request.AbortSettled, abort.Settle())
}

func TestDebouncedFetcherSupersedesInFlight(t *testing.T) {
	started := make(chan string, 2)
	fetcher := request.NewDebouncedFetcher(
		10*time.Millisecond,
		func(ctx context.Context, search string) (string, error) {
			started <- search
			if search == "slow" {
				<-ctx.Done()
				return "", ctx.Err()
			}
			return "result for " + search, nil
		},
	)

	slowResult := make(chan error, 1)
	go func() {
		_, err := fetcher.Fetch(context.Background(), "slow")
		slowResult <- err
	}()
	require.Equal(t, "slow", <-started)

	value, err := fetcher.Fetch(context.Background(), "fast")
	require.NoError(t, err)
	assert.Equal(t, "result for fast", value)

	select {
	case err := <-slowResult:
		assert.ErrorIs(t, err, request.ErrSuperseded)
	case <-time.After(time.Second):
		t.Fatal("slow fetch was never aborted")
	}
}

func TestDebouncedFetcherOutlivesLastCaller(t *testing.T) {
	fetcher := request.NewDebouncedFetcher(
		200*time.Millisecond,
		func(ctx context.Context, search string) (string, error) {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			return "result for " + search, nil
		},
	)

	waitingResult := make(chan error, 1)
	waitingValue := make(chan string, 1)
	go func() {
		value, err := fetcher.Fetch(context.Background(), "a")
		waitingValue <- value
		waitingResult <- err
	}()

	// Let the first caller join the quiet period before the second one.
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	leavingResult := make(chan error, 1)
	go func() {
		_, err := fetcher.Fetch(ctx, "b")
		leavingResult <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-leavingResult
	assert.ErrorIs(t, err, request.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, <-waitingResult)
	assert.Equal(t, "result for b", <-waitingValue)
}

func TestDebouncedFetcherCancel(t *testing.T) {
	fetcher := request.NewDebouncedFetcher(
		time.Minute,
		func(context.Context, string) (string, error) {
			return "", errors.New("should not run")
		},
	)

	result := make(chan error, 1)
	go func() {
		_, err := fetcher.Fetch(context.Background(), "query")
		result <- err
	}()

	assert.Eventually(t, func() bool {
		fetcher.Cancel()
		select {
		case err := <-result:
			return errors.Is(err, request.ErrCancelled)
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
