// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"sync"

	"github.com/holomush/exthost/internal/exthost"
)

// Compile-time interface check.
var _ exthost.Runtime = (*Runtime)(nil)

// Runtime runs a Host inside the current process. It is used for the
// worker host. An in-process host never exits on its own, so onExit is
// never called.
type Runtime struct {
	kind exthost.Kind
	opts []Option

	mu   sync.Mutex
	host *Host
}

// NewRuntime creates a runtime that starts hosts of the given kind.
func NewRuntime(kind exthost.Kind, opts ...Option) *Runtime {
	return &Runtime{kind: kind, opts: opts}
}

// Start creates a fresh Host. A previous host is closed first.
func (r *Runtime) Start(ctx context.Context, _ func(error)) (exthost.Proxy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.host != nil {
		_ = r.host.Close(ctx)
	}
	r.host = NewHost(r.kind, r.opts...)
	return r.host, nil
}

// Stop closes the running host, if any.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	host := r.host
	r.host = nil
	r.mu.Unlock()

	if host == nil {
		return nil
	}
	return host.Close(ctx)
}
