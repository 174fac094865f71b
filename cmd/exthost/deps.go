// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"os"

	"github.com/holomush/exthost/internal/exthost"
	"github.com/holomush/exthost/internal/exthost/goplugin"
	"github.com/holomush/exthost/internal/exthost/lua"
	"github.com/holomush/exthost/internal/extstorage"
	"github.com/holomush/exthost/internal/logging"
	"github.com/holomush/exthost/internal/observability"
	"github.com/holomush/exthost/internal/reload"
	"github.com/holomush/exthost/internal/scanner"
)

// ServeDeps contains injectable dependencies for the commands that boot
// the extension service. All fields with nil values use their default
// implementations.
type ServeDeps struct {
	// StorageOpener opens extension storage.
	// Default: openStorage
	StorageOpener func(ctx context.Context, databaseURL string) (extstorage.Store, func(), error)

	// NodeRuntimeFactory creates the node host runtime.
	// Default: goplugin.NewRuntime re-executing this binary
	NodeRuntimeFactory func(cfg *Config) exthost.Runtime

	// WorkerRuntimeFactory creates the worker host runtime.
	// Default: lua.NewRuntime with kv as extension storage
	WorkerRuntimeFactory func(cfg *Config, kv lua.KVStore) exthost.Runtime

	// Scanner discovers extensions.
	// Default: scanner.NewLocal
	Scanner scanner.Scanner

	// Prompter asks before recovering a host.
	// Default: a terminal prompter on stdin, or nil when stdin is not a terminal
	Prompter reload.Prompter

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, opts ...observability.Option) ObservabilityServer

	// WatcherFactory creates the scan dir watcher.
	// Default: scanner.NewWatcher
	WatcherFactory func(ctx context.Context, onRemoved scanner.RemovedFunc) (DirWatcher, error)
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// DirWatcher wraps the methods used from scanner.Watcher.
type DirWatcher interface {
	Watch(dir string) error
	Close() error
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.StorageOpener == nil {
		out.StorageOpener = openStorage
	}
	if out.NodeRuntimeFactory == nil {
		out.NodeRuntimeFactory = defaultNodeRuntime
	}
	if out.WorkerRuntimeFactory == nil {
		out.WorkerRuntimeFactory = func(cfg *Config, kv lua.KVStore) exthost.Runtime {
			return lua.NewRuntime(exthost.KindWorker,
				lua.WithKVStore(kv),
				lua.WithParticipantTimeout(cfg.FileParticipants.Timeout),
				lua.WithCallStackSize(cfg.Host.LuaCallStackSize))
		}
	}
	if out.Scanner == nil {
		out.Scanner = scanner.NewLocal()
	}
	if out.Prompter == nil {
		if p := newTerminalPrompter(os.Stdin, os.Stderr); p != nil {
			out.Prompter = p
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, opts ...observability.Option) ObservabilityServer {
			return observability.NewServer(addr, opts...)
		}
	}
	if out.WatcherFactory == nil {
		out.WatcherFactory = func(ctx context.Context, onRemoved scanner.RemovedFunc) (DirWatcher, error) {
			return scanner.NewWatcher(ctx, onRemoved)
		}
	}
	return &out
}

// openStorage opens PostgreSQL storage when databaseURL is set and
// in-memory storage otherwise. Persisted state is loaded before returning.
func openStorage(ctx context.Context, databaseURL string) (extstorage.Store, func(), error) {
	if databaseURL == "" {
		mem := extstorage.NewMemory()
		if err := mem.Load(ctx); err != nil {
			return nil, func() {}, err
		}
		return mem, func() {}, nil
	}

	pg, closeFn, err := extstorage.Open(ctx, databaseURL)
	if err != nil {
		return nil, func() {}, err
	}
	if err := pg.Load(ctx); err != nil {
		closeFn()
		return nil, func() {}, err
	}
	return pg, closeFn, nil
}

// nodeHostArgs are the arguments the node host process is started with.
// It reads the same config file as its parent.
func nodeHostArgs(cfg *Config) []string {
	args := []string{"node-host", "--log-format", cfg.Log.Format, "--log-level", cfg.Log.Level}
	if configFile != "" {
		args = append(args, "--config", configFile)
	}
	return args
}

func defaultNodeRuntime(cfg *Config) exthost.Runtime {
	opts := []goplugin.Option{
		goplugin.WithClientFactory(&goplugin.DefaultClientFactory{
			Logger: logging.HCLogger("exthost.node", cfg.Log.Format, nil),
		}),
	}
	path := cfg.Host.NodeExecutable
	if path == "" {
		if self, err := os.Executable(); err == nil {
			path = self
		}
	}
	if path != "" {
		opts = append(opts, goplugin.WithCommand(path, nodeHostArgs(cfg)...))
	}
	return goplugin.NewRuntime(opts...)
}
