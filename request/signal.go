package request

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Signal represents one request attempt that is still authoritative for its operation class, until
// revoked by its Controller. A revoked signal is never reused.
type Signal struct {
	id       uuid.UUID
	sequence uint64
	ctx      context.Context
	cancel   context.CancelCauseFunc

	lock        sync.Mutex
	revokeCause error
	hooks       map[int]func()
	nextHookID  int
}

func (signal *Signal) ID() uuid.UUID {
	return signal.id
}

// Sequence is the 1-based position of the signal among those acquired from its controller.
func (signal *Signal) Sequence() uint64 {
	return signal.sequence
}

// Context is done once the signal is revoked, the parent context given to AcquireSignal is done,
// or the signal is released.
func (signal *Signal) Context() context.Context {
	return signal.ctx
}

func (signal *Signal) Done() <-chan struct{} {
	return signal.ctx.Done()
}

func (signal *Signal) Revoked() bool {
	signal.lock.Lock()
	defer signal.lock.Unlock()
	return signal.revokeCause != nil
}

// Err returns ErrSuperseded or ErrCancelled if the signal was revoked, or nil otherwise.
func (signal *Signal) Err() error {
	signal.lock.Lock()
	defer signal.lock.Unlock()
	return signal.revokeCause
}

// OnRevoke registers f to be called synchronously when the signal is revoked, before its context
// is cancelled. If the signal is already revoked, f is called immediately. The returned function
// unregisters f.
func (signal *Signal) OnRevoke(f func()) (stop func()) {
	signal.lock.Lock()
	if signal.revokeCause != nil {
		signal.lock.Unlock()
		f()
		return func() {}
	}

	if signal.hooks == nil {
		signal.hooks = make(map[int]func())
	}
	hookID := signal.nextHookID
	signal.nextHookID++
	signal.hooks[hookID] = f
	signal.lock.Unlock()

	return func() {
		signal.lock.Lock()
		defer signal.lock.Unlock()
		delete(signal.hooks, hookID)
	}
}

// Release frees the signal's context once its request has completed. It does not revoke the
// signal.
func (signal *Signal) Release() {
	signal.cancel(nil)
}

func (signal *Signal) revoke(cause error) {
	signal.lock.Lock()
	if signal.revokeCause != nil {
		signal.lock.Unlock()
		return
	}
	signal.revokeCause = cause
	hooks := signal.hooks
	signal.hooks = nil
	signal.lock.Unlock()

	for _, hook := range hooks {
		hook()
	}
	signal.cancel(cause)
}
