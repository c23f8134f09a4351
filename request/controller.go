// Package request guarantees at most one live request per operation class, and attributes aborted
// requests to either cancellation or timeout.
package request

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	// Every request discarded without being an error matches ErrCancelled through errors.Is.
	ErrCancelled  = errors.New("request cancelled")
	ErrSuperseded = fmt.Errorf("%w: superseded by a newer request", ErrCancelled)
)

// Controller owns the current signal of one operation class. Acquiring a new signal revokes the
// previous one, so only the most recently started request is ever authoritative.
//
// A Controller is meant to be owned by the component that performs the requests, and lives as
// long as that component.
type Controller struct {
	lock    sync.Mutex
	current *Signal
	count   uint64
}

func NewController() *Controller {
	return &Controller{}
}

// AcquireSignal revokes the outstanding signal, if any, before returning a new one derived from
// ctx. When AcquireSignal returns, the previous signal reports Revoked() and its context is done.
func (controller *Controller) AcquireSignal(ctx context.Context) *Signal {
	controller.lock.Lock()
	defer controller.lock.Unlock()

	if controller.current != nil {
		controller.current.revoke(ErrSuperseded)
	}

	signalCtx, cancel := context.WithCancelCause(ctx)
	controller.count++
	controller.current = &Signal{
		id:       uuid.New(),
		sequence: controller.count,
		ctx:      signalCtx,
		cancel:   cancel,
	}
	return controller.current
}

// Cancel revokes the current signal, if any, and forgets it. The next AcquireSignal starts fresh.
func (controller *Controller) Cancel() {
	controller.revokeCurrent(ErrCancelled)
}

// Supersede is like Cancel, but for when a newer request is about to replace the current one
// before its signal is acquired. The revoked signal reports ErrSuperseded.
func (controller *Controller) Supersede() {
	controller.revokeCurrent(ErrSuperseded)
}

func (controller *Controller) revokeCurrent(cause error) {
	controller.lock.Lock()
	defer controller.lock.Unlock()

	if controller.current == nil {
		return
	}

	controller.current.revoke(cause)
	controller.current = nil
}

// IsCancelled returns true if there is a current signal, and it has been revoked.
func (controller *Controller) IsCancelled() bool {
	controller.lock.Lock()
	defer controller.lock.Unlock()

	return controller.current != nil && controller.current.Revoked()
}

// RequestCount returns the number of signals acquired from the controller so far.
func (controller *Controller) RequestCount() uint64 {
	controller.lock.Lock()
	defer controller.lock.Unlock()

	return controller.count
}
