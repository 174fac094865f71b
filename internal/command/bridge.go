// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/holomush/exthost/internal/exthost"
)

// Forwarder executes a command inside a host.
type Forwarder interface {
	ExecuteCommand(ctx context.Context, id string, args []any) (any, error)
}

// Bridge routes extension commands to the host that implements them.
type Bridge struct {
	management *ExtCommandManagement
	readiness  *Readiness

	mu    sync.RWMutex
	hosts map[exthost.Kind]Forwarder
}

// NewBridge creates a bridge over the given ownership map and readiness.
func NewBridge(management *ExtCommandManagement, readiness *Readiness) *Bridge {
	return &Bridge{
		management: management,
		readiness:  readiness,
		hosts:      make(map[exthost.Kind]Forwarder),
	}
}

// SetHost sets the forwarding target for kind.
func (b *Bridge) SetHost(kind exthost.Kind, f Forwarder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hosts[kind] = f
}

// ExecuteExtensionCommand forwards command to its owning host once that host
// is ready. A command no host claims fails immediately.
func (b *Bridge) ExecuteExtensionCommand(ctx context.Context, command string, args []any) (any, error) {
	kind, ok := b.management.Owner(command)
	if !ok {
		return nil, ErrUnknownExtensionCommand(command)
	}

	b.mu.RLock()
	host := b.hosts[kind]
	b.mu.RUnlock()
	if host == nil {
		return nil, ErrHostUnavailable(command, string(kind))
	}

	if d := b.readiness.Get(kind); d != nil && d.Settled() {
		if err := d.Err(); err != nil {
			return nil, err
		}
	} else {
		slog.DebugContext(ctx, "waiting for host before running command",
			"command", command,
			"host", string(kind))
		start := time.Now()
		err := b.readiness.Wait(ctx, kind)
		RecordReadinessWait(string(kind), time.Since(start))
		if err != nil {
			return nil, err
		}
	}

	return host.ExecuteCommand(ctx, command, args)
}

// Handler returns a registry handler that bridges command.
func (b *Bridge) Handler(command string) Handler {
	return func(ctx context.Context, args []any) (any, error) {
		return b.ExecuteExtensionCommand(ctx, command, args)
	}
}
