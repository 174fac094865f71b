// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package exthost

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/exthost/internal/deferred"
	"github.com/holomush/exthost/internal/extension"
)

// Adapter owns one host process and its proxy.
//
// Adapter is safe for concurrent use. Activate calls are serialized.
type Adapter struct {
	kind     Kind
	required bool
	runtime  Runtime
	sink     CommandSink

	startMu sync.Mutex

	mu         sync.Mutex
	state      State
	proxy      Proxy
	ready      *deferred.Deferred
	generation uint64
	activated  map[string]struct{}
	onCrash    CrashHandler
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithCommandSink sets where activated commands are reported.
func WithCommandSink(s CommandSink) AdapterOption {
	return func(a *Adapter) { a.sink = s }
}

// WithCrashHandler sets the callback for unexpected exits.
func WithCrashHandler(fn CrashHandler) AdapterOption {
	return func(a *Adapter) { a.onCrash = fn }
}

// NewNodeAdapter creates the adapter for the required node host.
func NewNodeAdapter(rt Runtime, opts ...AdapterOption) *Adapter {
	return newAdapter(KindNode, true, rt, opts...)
}

// NewWorkerAdapter creates the adapter for the optional worker host.
func NewWorkerAdapter(rt Runtime, opts ...AdapterOption) *Adapter {
	return newAdapter(KindWorker, false, rt, opts...)
}

func newAdapter(kind Kind, required bool, rt Runtime, opts ...AdapterOption) *Adapter {
	if rt == nil {
		panic("exthost: runtime cannot be nil")
	}
	a := &Adapter{
		kind:      kind,
		required:  required,
		runtime:   rt,
		ready:     deferred.New(),
		activated: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Kind returns the host kind.
func (a *Adapter) Kind() Kind { return a.kind }

// Required reports whether a launch failure of this host is fatal.
func (a *Adapter) Required() bool { return a.required }

// State returns the current lifecycle state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Ready returns the current readiness token. A new pending token replaces a
// settled one whenever the host crashes or is disposed.
func (a *Adapter) Ready() *deferred.Deferred {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}

// SetCrashHandler replaces the crash callback.
func (a *Adapter) SetCrashHandler(fn CrashHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onCrash = fn
}

// transition must be called with mu held.
func (a *Adapter) transition(to State) {
	if !CanTransition(a.state, to) {
		slog.Warn("unexpected host state transition",
			"host", string(a.kind),
			"from", a.state.String(),
			"to", to.String())
	}
	a.state = to
	RecordTransition(a.kind, to)
}

// Activate starts the host process, or confirms it is live, and returns its
// proxy. The readiness token resolves on the first success of each
// generation.
func (a *Adapter) Activate(ctx context.Context) (Proxy, error) {
	a.startMu.Lock()
	defer a.startMu.Unlock()

	a.mu.Lock()
	if a.state == StateReady {
		p := a.proxy
		a.mu.Unlock()
		return p, nil
	}
	switch a.state {
	case StateUnstarted:
		a.transition(StateStarting)
	default:
		a.transition(StateRestarting)
	}
	a.generation++
	gen := a.generation
	a.mu.Unlock()

	slog.InfoContext(ctx, "starting extension host", "host", string(a.kind))

	proxy, err := a.runtime.Start(ctx, func(exitErr error) { a.handleExit(gen, exitErr) })

	a.mu.Lock()
	defer a.mu.Unlock()

	if gen != a.generation {
		// Disposed while starting.
		if err == nil {
			go func() { _ = a.runtime.Stop(context.WithoutCancel(ctx)) }()
		}
		return nil, oops.Code(CodeHostLaunchFailed).
			With("host", string(a.kind)).
			Wrap(ErrAdapterDisposed)
	}

	if err != nil {
		RecordLaunch(a.kind, LaunchFailure)
		if a.state == StateStarting {
			a.transition(StateUnstarted)
		} else {
			a.transition(StateCrashed)
		}
		return nil, ErrHostLaunchFailed(a.kind, err)
	}

	RecordLaunch(a.kind, LaunchSuccess)
	a.proxy = proxy
	a.transition(StateReady)
	a.ready.Resolve()
	slog.InfoContext(ctx, "extension host ready", "host", string(a.kind))
	return proxy, nil
}

func (a *Adapter) handleExit(gen uint64, exitErr error) {
	a.mu.Lock()
	if gen != a.generation || a.state != StateReady {
		a.mu.Unlock()
		return
	}
	a.transition(StateCrashed)
	a.proxy = nil
	a.activated = make(map[string]struct{})
	a.rearm()
	onCrash := a.onCrash
	a.mu.Unlock()

	// Command ownership is kept so callers wait for the restart instead of
	// failing as unknown.
	slog.Error("extension host exited unexpectedly",
		"host", string(a.kind),
		"error", exitErr)

	if onCrash != nil {
		onCrash(a.kind, exitErr)
	}
}

// rearm must be called with mu held.
func (a *Adapter) rearm() {
	if a.ready.Settled() {
		a.ready = deferred.New()
	}
}

// DisposeProcess stops the host process. It is safe to call repeatedly and
// on a host that never started or already died.
func (a *Adapter) DisposeProcess(ctx context.Context) error {
	a.mu.Lock()
	if a.state == StateDisposed {
		a.mu.Unlock()
		return nil
	}
	wasRunning := a.state == StateReady || a.state == StateStarting || a.state == StateRestarting
	a.generation++
	a.transition(StateDisposed)
	a.proxy = nil
	a.activated = make(map[string]struct{})
	a.rearm()
	sink := a.sink
	a.mu.Unlock()

	if sink != nil {
		sink.UnregisterHost(a.kind)
	}
	if !wasRunning {
		return nil
	}
	if err := a.runtime.Stop(ctx); err != nil {
		slog.WarnContext(ctx, "error stopping extension host",
			"host", string(a.kind),
			"error", err)
	}
	return nil
}

func (a *Adapter) liveProxy() (Proxy, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateReady || a.proxy == nil {
		return nil, ErrHostNotRunning(a.kind, a.state)
	}
	return a.proxy, nil
}

// UpdateExtensionData pushes the full instance list to the host. It is a
// no-op when the host is not running; the list is pushed again on start.
func (a *Adapter) UpdateExtensionData(ctx context.Context, exts []*extension.Extension) error {
	proxy, err := a.liveProxy()
	if err != nil {
		return nil //nolint:nilerr // not running yet; data is sent on start
	}
	if err := proxy.UpdateExtensionData(ctx, extension.Infos(exts)); err != nil {
		return oops.Code(CodeHostNotRunning).
			With("host", string(a.kind)).
			Wrapf(err, "update extension data")
	}
	return nil
}

// entry returns the entry point this host runs for ext.
func (a *Adapter) entry(ext *extension.Extension) string {
	if a.kind == KindWorker {
		return ext.WorkerMain()
	}
	return ext.Main()
}

// ActiveExtension activates ext in this host. It is a no-op when ext has no
// entry for this host, when the host is not running, or when ext is already
// active here.
func (a *Adapter) ActiveExtension(ctx context.Context, ext *extension.Extension) error {
	if a.entry(ext) == "" {
		return nil
	}

	a.mu.Lock()
	if a.state != StateReady || a.proxy == nil {
		a.mu.Unlock()
		slog.DebugContext(ctx, "skipping activation, host not running",
			"host", string(a.kind),
			"extension", ext.ID())
		return nil
	}
	if _, done := a.activated[ext.ID()]; done {
		a.mu.Unlock()
		return nil
	}
	a.activated[ext.ID()] = struct{}{}
	proxy := a.proxy
	gen := a.generation
	sink := a.sink
	a.mu.Unlock()

	result, err := proxy.ActivateExtension(ctx, ext.Info())
	if err != nil {
		a.mu.Lock()
		if gen == a.generation {
			delete(a.activated, ext.ID())
		}
		a.mu.Unlock()
		return oops.Code(CodeActivateFailed).
			With("host", string(a.kind)).
			With("extension", ext.ID()).
			Wrapf(err, "activate extension")
	}

	ext.MarkActivated()
	if sink != nil && len(result.Commands) > 0 {
		sink.RegisterCommands(a.kind, ext.ID(), result.Commands)
	}
	slog.DebugContext(ctx, "extension activated",
		"host", string(a.kind),
		"extension", ext.ID(),
		"commands", len(result.Commands))
	return nil
}

// ExecuteCommand forwards a command to the host.
func (a *Adapter) ExecuteCommand(ctx context.Context, id string, args []any) (any, error) {
	proxy, err := a.liveProxy()
	if err != nil {
		return nil, err
	}
	return proxy.ExecuteCommand(ctx, id, args)
}

// ActivatedExtensions lists the extensions active in the host. A host that
// is not running has none.
func (a *Adapter) ActivatedExtensions(ctx context.Context) ([]string, error) {
	proxy, err := a.liveProxy()
	if err != nil {
		return nil, nil //nolint:nilerr // not running means nothing activated
	}
	return proxy.ActivatedExtensions(ctx)
}

// WillRunFileOperation collects participant edits from the host. A host
// that is not running contributes none.
func (a *Adapter) WillRunFileOperation(ctx context.Context, op FileOperation, files []FileChange) ([]FileEdit, error) {
	proxy, err := a.liveProxy()
	if err != nil {
		return nil, nil //nolint:nilerr // not running means no participants
	}
	return proxy.WillRunFileOperation(ctx, op, files)
}
