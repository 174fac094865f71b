// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"context"
	"sync"

	"github.com/holomush/exthost/internal/deferred"
	"github.com/holomush/exthost/internal/exthost"
)

// Readiness maps each host kind to its current readiness token. The
// orchestrator sets a token per host per generation; the bridge only reads.
type Readiness struct {
	mu      sync.Mutex
	tokens  map[exthost.Kind]*deferred.Deferred
	changed chan struct{}
}

// NewReadiness creates an empty map.
func NewReadiness() *Readiness {
	return &Readiness{
		tokens:  make(map[exthost.Kind]*deferred.Deferred),
		changed: make(chan struct{}),
	}
}

// Set replaces the token for kind and wakes waiters so they re-read it.
func (r *Readiness) Set(kind exthost.Kind, d *deferred.Deferred) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tokens[kind] = d
	close(r.changed)
	r.changed = make(chan struct{})
}

// Get returns the current token for kind, or nil.
func (r *Readiness) Get(kind exthost.Kind) *deferred.Deferred {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens[kind]
}

func (r *Readiness) snapshot(kind exthost.Kind) (*deferred.Deferred, <-chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens[kind], r.changed
}

// Wait blocks until the current token for kind settles and is still current.
// A token that is replaced while waiting is followed to its replacement.
func (r *Readiness) Wait(ctx context.Context, kind exthost.Kind) error {
	for {
		d, changed := r.snapshot(kind)
		if d == nil {
			select {
			case <-changed:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case <-d.Done():
			if r.Get(kind) == d {
				return d.Err()
			}
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
