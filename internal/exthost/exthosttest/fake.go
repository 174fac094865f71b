// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package exthosttest provides in-memory host runtimes for tests.
package exthosttest

import (
	"context"
	"slices"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/exthost/internal/exthost"
	"github.com/holomush/exthost/internal/extension"
)

// CodeCommandNotFound is returned for a command no activated extension
// registered in the current process.
const CodeCommandNotFound = "COMMAND_NOT_FOUND"

// Runtime is a scripted exthost.Runtime.
type Runtime struct {
	mu sync.Mutex
	// StartErr, when set, is returned by every Start call.
	StartErr error
	// StartGate, when set, blocks Start until it is closed.
	StartGate chan struct{}
	// Proxy is returned by Start. A fresh Proxy is created when nil.
	Proxy *Proxy

	starts int
	stops  int
	onExit func(error)
}

// Start implements exthost.Runtime.
func (r *Runtime) Start(ctx context.Context, onExit func(error)) (exthost.Proxy, error) {
	r.mu.Lock()
	gate := r.StartGate
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	if r.StartErr != nil {
		return nil, r.StartErr
	}
	if r.Proxy == nil {
		r.Proxy = NewProxy()
	}
	r.Proxy.newProcess()
	r.onExit = onExit
	return r.Proxy, nil
}

// Stop implements exthost.Runtime.
func (r *Runtime) Stop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	r.onExit = nil
	return nil
}

// Crash simulates the process exiting on its own.
func (r *Runtime) Crash(err error) {
	r.mu.Lock()
	onExit := r.onExit
	r.onExit = nil
	r.mu.Unlock()
	if onExit != nil {
		onExit(err)
	}
}

// SetStartErr changes the Start result.
func (r *Runtime) SetStartErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StartErr = err
}

// Starts returns the number of Start calls that got past the gate.
func (r *Runtime) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

// Stops returns the number of Stop calls.
func (r *Runtime) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

// Proxy is a recording exthost.Proxy. Activating an extension registers the
// commands listed for it in Commands. Registrations last until the owning
// Runtime starts a new process.
type Proxy struct {
	mu sync.Mutex
	// Commands maps extension id to the commands its activation registers.
	Commands map[string][]string
	// ActivateErr maps extension id to an activation error.
	ActivateErr map[string]error
	// Edits is returned from WillRunFileOperation.
	Edits []exthost.FileEdit
	// BeforeActivate, when set, runs at the start of every ActivateExtension.
	BeforeActivate func(id string)

	updates   [][]extension.Info
	activated []string
	executed  []string
	live      map[string]struct{}
}

// NewProxy creates an empty proxy.
func NewProxy() *Proxy {
	return &Proxy{
		Commands:    make(map[string][]string),
		ActivateErr: make(map[string]error),
		live:        make(map[string]struct{}),
	}
}

func (p *Proxy) newProcess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live = make(map[string]struct{})
}

// UpdateExtensionData implements exthost.Proxy.
func (p *Proxy) UpdateExtensionData(_ context.Context, exts []extension.Info) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, exts)
	return nil
}

// ActivateExtension implements exthost.Proxy.
func (p *Proxy) ActivateExtension(_ context.Context, ext extension.Info) (exthost.ActivateResult, error) {
	if p.BeforeActivate != nil {
		p.BeforeActivate(ext.ID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ActivateErr[ext.ID]; err != nil {
		return exthost.ActivateResult{}, err
	}
	p.activated = append(p.activated, ext.ID)
	for _, c := range p.Commands[ext.ID] {
		p.live[c] = struct{}{}
	}
	return exthost.ActivateResult{Commands: p.Commands[ext.ID]}, nil
}

// ExecuteCommand implements exthost.Proxy. It returns the command id, or
// CodeCommandNotFound when no extension activated in this process registered
// it.
func (p *Proxy) ExecuteCommand(_ context.Context, id string, _ []any) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.live[id]; !ok {
		return nil, oops.Code(CodeCommandNotFound).With("command", id).Errorf("command %q is not registered", id)
	}
	p.executed = append(p.executed, id)
	return id, nil
}

// ActivatedExtensions implements exthost.Proxy.
func (p *Proxy) ActivatedExtensions(context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.activated), nil
}

// WillRunFileOperation implements exthost.Proxy.
func (p *Proxy) WillRunFileOperation(context.Context, exthost.FileOperation, []exthost.FileChange) ([]exthost.FileEdit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.Edits), nil
}

// Activated returns the extension ids activated so far.
func (p *Proxy) Activated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.activated)
}

// Executed returns the command ids executed so far.
func (p *Proxy) Executed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.executed)
}

// Updates returns every pushed extension list.
func (p *Proxy) Updates() [][]extension.Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.updates)
}

// LastUpdate returns the ids from the most recent UpdateExtensionData.
func (p *Proxy) LastUpdate() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.updates) == 0 {
		return nil
	}
	last := p.updates[len(p.updates)-1]
	ids := make([]string, 0, len(last))
	for _, e := range last {
		ids = append(ids, e.ID)
	}
	return ids
}

// Sink records command registrations.
type Sink struct {
	mu       sync.Mutex
	Commands map[string]exthost.Kind
	Cleared  []exthost.Kind
}

// NewSink creates an empty sink.
func NewSink() *Sink {
	return &Sink{Commands: make(map[string]exthost.Kind)}
}

// RegisterCommands implements exthost.CommandSink.
func (s *Sink) RegisterCommands(kind exthost.Kind, _ string, commands []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range commands {
		s.Commands[c] = kind
	}
}

// UnregisterHost implements exthost.CommandSink.
func (s *Sink) UnregisterHost(kind exthost.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cleared = append(s.Cleared, kind)
	for c, k := range s.Commands {
		if k == kind {
			delete(s.Commands, c)
		}
	}
}

// Owner returns the host that registered command.
func (s *Sink) Owner(command string) (exthost.Kind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.Commands[command]
	return k, ok
}
