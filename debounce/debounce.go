// Package debounce coalesces rapid repeated calls into a single delayed execution, using the
// arguments of the most recent call.
package debounce

import (
	"sync"
	"time"
)

// Func delays calls to a function until no new call has arrived for the configured delay.
// Nothing is returned to callers.
type Func[Arg any] struct {
	fn    func(Arg)
	delay time.Duration

	lock       sync.Mutex
	timer      *time.Timer
	generation uint64
}

func New[Arg any](delay time.Duration, fn func(Arg)) *Func[Arg] {
	return &Func[Arg]{fn: fn, delay: delay}
}

// Call schedules the wrapped function to run with arg once the delay has passed. A call made
// while a previous one is still pending replaces it, and restarts the delay.
func (debounced *Func[Arg]) Call(arg Arg) {
	debounced.lock.Lock()
	defer debounced.lock.Unlock()

	if debounced.timer != nil {
		debounced.timer.Stop()
	}

	debounced.generation++
	generation := debounced.generation

	debounced.timer = time.AfterFunc(debounced.delay, func() {
		debounced.lock.Lock()
		// A newer call (or Cancel) got the lock between the timer firing and us taking it.
		if debounced.generation != generation {
			debounced.lock.Unlock()
			return
		}
		debounced.timer = nil
		debounced.lock.Unlock()

		debounced.fn(arg)
	})
}

// Cancel drops the pending call, if any. Returns true if a call was dropped.
func (debounced *Func[Arg]) Cancel() bool {
	debounced.lock.Lock()
	defer debounced.lock.Unlock()

	if debounced.timer == nil {
		return false
	}

	debounced.timer.Stop()
	debounced.timer = nil
	debounced.generation++
	return true
}

// Pending returns true if a call is scheduled but has not started yet.
func (debounced *Func[Arg]) Pending() bool {
	debounced.lock.Lock()
	defer debounced.lock.Unlock()
	return debounced.timer != nil
}
