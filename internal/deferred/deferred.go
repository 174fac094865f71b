// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package deferred provides a settle-once readiness token.
package deferred

import (
	"context"
	"sync"
)

// Deferred is settled exactly once, either resolved or rejected.
// Later calls to Resolve or Reject are ignored.
//
// The zero value is not usable; use New.
type Deferred struct {
	done chan struct{}
	once sync.Once
	err  error
}

// New creates an unsettled Deferred.
func New() *Deferred {
	return &Deferred{done: make(chan struct{})}
}

// Resolved creates a Deferred that is already resolved.
func Resolved() *Deferred {
	d := New()
	d.Resolve()
	return d
}

// Resolve settles the Deferred successfully. Returns false if it was
// already settled.
func (d *Deferred) Resolve() bool {
	return d.settle(nil)
}

// Reject settles the Deferred with err. Returns false if it was already
// settled.
func (d *Deferred) Reject(err error) bool {
	return d.settle(err)
}

func (d *Deferred) settle(err error) bool {
	settled := false
	d.once.Do(func() {
		d.err = err
		close(d.done)
		settled = true
	})
	return settled
}

// Done returns a channel closed when the Deferred settles.
func (d *Deferred) Done() <-chan struct{} {
	return d.done
}

// Settled reports whether the Deferred has been resolved or rejected.
func (d *Deferred) Settled() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Err returns the rejection error, or nil if unsettled or resolved.
func (d *Deferred) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}

// Wait blocks until the Deferred settles or ctx is done.
func (d *Deferred) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.err
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck // context errors are returned as-is
	}
}
