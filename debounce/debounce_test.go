package debounce_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hermannm.dev/pivot/debounce"
)

const delay = 40 * time.Millisecond

func TestFuncRunsOnlyLastCall(t *testing.T) {
	var lock sync.Mutex
	var calls []string
	var lastCallAt, ranAt time.Time

	debounced := debounce.New(delay, func(arg string) {
		lock.Lock()
		defer lock.Unlock()
		calls = append(calls, arg)
		ranAt = time.Now()
	})

	for _, arg := range []string{"a", "ab", "abc"} {
		lastCallAt = time.Now()
		debounced.Call(arg)
		time.Sleep(delay / 4)
	}

	assert.Eventually(t, func() bool {
		lock.Lock()
		defer lock.Unlock()
		return len(calls) == 1
	}, time.Second, 5*time.Millisecond)

	// Give a stale timer the chance to misbehave before asserting.
	time.Sleep(2 * delay)

	lock.Lock()
	defer lock.Unlock()
	assert.Equal(t, []string{"abc"}, calls)
	assert.GreaterOrEqual(t, ranAt.Sub(lastCallAt), delay)
}

func TestFuncCancel(t *testing.T) {
	var ran atomic.Bool
	debounced := debounce.New(delay, func(struct{}) { ran.Store(true) })

	assert.False(t, debounced.Cancel(), "nothing pending yet")

	debounced.Call(struct{}{})
	assert.True(t, debounced.Pending())
	assert.True(t, debounced.Cancel())
	assert.False(t, debounced.Pending())

	time.Sleep(2 * delay)
	assert.False(t, ran.Load())
}

func TestAsyncExecutesOnceWithLastArgument(t *testing.T) {
	var executions atomic.Int32
	var executedWith atomic.Int64
	var executedAt atomic.Pointer[time.Time]

	debounced := debounce.NewAsync(delay, func(_ context.Context, arg int) (int, error) {
		now := time.Now()
		executedAt.Store(&now)
		executions.Add(1)
		executedWith.Store(int64(arg))
		return arg * 10, nil
	})

	var results []<-chan debounce.Result[int]
	var lastCallAt time.Time
	for i := 1; i <= 5; i++ {
		lastCallAt = time.Now()
		results = append(results, debounced.Go(context.Background(), i))
		time.Sleep(delay / 5)
	}

	for i, resultChan := range results {
		select {
		case result := <-resultChan:
			require.NoError(t, result.Err)
			assert.Equal(t, 50, result.Value, "caller %d should share the last call's outcome", i)
		case <-time.After(time.Second):
			t.Fatalf("caller %d never settled", i)
		}
	}

	require.NotNil(t, executedAt.Load())
	assert.GreaterOrEqual(t, executedAt.Load().Sub(lastCallAt), delay)
	assert.Equal(t, int32(1), executions.Load())
	assert.Equal(t, int64(5), executedWith.Load())
}

func TestAsyncSharesFailure(t *testing.T) {
	errFailed := errors.New("failed")
	debounced := debounce.NewAsync(delay, func(context.Context, string) (string, error) {
		return "", errFailed
	})

	first := debounced.Go(context.Background(), "first")
	_, err := debounced.Call(context.Background(), "second")
	assert.ErrorIs(t, err, errFailed)

	result := <-first
	assert.ErrorIs(t, result.Err, errFailed)
}

func TestAsyncSeparateQuietPeriods(t *testing.T) {
	var executions atomic.Int32
	debounced := debounce.NewAsync(delay, func(_ context.Context, arg string) (string, error) {
		executions.Add(1)
		return arg, nil
	})

	value, err := debounced.Call(context.Background(), "one")
	require.NoError(t, err)
	assert.Equal(t, "one", value)

	value, err = debounced.Call(context.Background(), "two")
	require.NoError(t, err)
	assert.Equal(t, "two", value)

	assert.Equal(t, int32(2), executions.Load())
}

func TestAsyncCallerContextEnds(t *testing.T) {
	debounced := debounce.NewAsync(delay, func(_ context.Context, arg string) (string, error) {
		return arg, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	other := debounced.Go(context.Background(), "other")
	_, err := debounced.Call(ctx, "abandoned")
	assert.ErrorIs(t, err, context.Canceled)

	// The execution still happens for the remaining caller, with the last argument.
	result := <-other
	require.NoError(t, result.Err)
	assert.Equal(t, "abandoned", result.Value)
}

func TestAsyncLastCallerLeavingDoesNotCancelExecution(t *testing.T) {
	debounced := debounce.NewAsync(delay, func(ctx context.Context, arg string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return arg, nil
	})

	waiting := debounced.Go(context.Background(), "a")

	ctx, cancel := context.WithCancel(context.Background())
	leaving := debounced.Go(ctx, "b")
	cancel()

	result := <-waiting
	require.NoError(t, result.Err)
	assert.Equal(t, "b", result.Value)

	// Go callers still receive the outcome after their context is done.
	result = <-leaving
	require.NoError(t, result.Err)
}

func TestAsyncExecutionCancelledOnceAllCallersLeave(t *testing.T) {
	started := make(chan struct{})
	debounced := debounce.NewAsync(delay, func(ctx context.Context, _ string) (string, error) {
		close(started)
		<-ctx.Done()
		return "", context.Cause(ctx)
	})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	secondCtx, cancelSecond := context.WithCancel(context.Background())
	first := debounced.Go(firstCtx, "a")
	second := debounced.Go(secondCtx, "b")
	<-started

	cancelFirst()
	select {
	case <-second:
		t.Fatal("execution was cancelled while a caller was still waiting")
	case <-time.After(delay):
	}

	cancelSecond()
	for _, resultChan := range []<-chan debounce.Result[string]{first, second} {
		select {
		case result := <-resultChan:
			assert.ErrorIs(t, result.Err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("execution was never cancelled")
		}
	}
}

func TestAsyncCancel(t *testing.T) {
	var executions atomic.Int32
	debounced := debounce.NewAsync(delay, func(context.Context, int) (int, error) {
		executions.Add(1)
		return 0, nil
	})

	assert.False(t, debounced.Cancel())

	pending := debounced.Go(context.Background(), 1)
	assert.True(t, debounced.Cancel())

	result := <-pending
	assert.ErrorIs(t, result.Err, debounce.ErrCancelled)

	time.Sleep(2 * delay)
	assert.Equal(t, int32(0), executions.Load())
}
