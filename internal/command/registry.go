// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/samber/oops"
)

// Registry manages command registration, lookup and execution.
// It is thread-safe for concurrent access.
type Registry struct {
	commands     map[string]Entry
	interceptors []interceptorEntry
	nextID       uint64
	mu           sync.RWMutex
}

type interceptorEntry struct {
	id uint64
	fn Interceptor
}

// NewRegistry creates a new command registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]Entry),
	}
}

// Register adds a command to the registry.
// If a command with the same id exists, it is overwritten and a warning is
// logged: last registration wins.
func (r *Registry) Register(entry Entry) error {
	if entry.ID == "" {
		return oops.Code(CodeUnknownCommand).Errorf("command id is required")
	}
	if entry.Handler == nil {
		return oops.Code(CodeUnknownCommand).
			With("command", entry.ID).
			Errorf("command %s has no handler", entry.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.commands[entry.ID]; ok {
		slog.Warn("command conflict: overwriting existing command",
			"command", entry.ID,
			"previous_source", existing.Source,
			"new_source", entry.Source)
	}

	r.commands[entry.ID] = entry
	return nil
}

// Unregister removes a command. It reports whether the command existed.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.commands[id]
	delete(r.commands, id)
	return ok
}

// UnregisterSource removes every command registered by source.
func (r *Registry) UnregisterSource(source string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, e := range r.commands {
		if e.Source == source {
			delete(r.commands, id)
			n++
		}
	}
	return n
}

// Get retrieves a command by id.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.commands[id]
	return entry, ok
}

// All returns all registered commands sorted by id.
// The returned slice is a copy and safe to modify.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.commands))
	for _, e := range r.commands {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.ID, b.ID) })
	return entries
}

// BeforeExecute registers an interceptor that runs before every command, in
// registration order. The returned func removes it.
func (r *Registry) BeforeExecute(fn Interceptor) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.interceptors = append(r.interceptors, interceptorEntry{id: id, fn: fn})

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.interceptors = slices.DeleteFunc(r.interceptors, func(e interceptorEntry) bool { return e.id == id })
	}
}

// Execute runs the interceptors and then the command handler.
func (r *Registry) Execute(ctx context.Context, id string, args ...any) (any, error) {
	exec := startExecution(id)

	r.mu.RLock()
	entry, ok := r.commands[id]
	interceptors := make([]Interceptor, 0, len(r.interceptors))
	for _, e := range r.interceptors {
		interceptors = append(interceptors, e.fn)
	}
	r.mu.RUnlock()

	if !ok {
		return exec.finish(nil, ErrUnknownCommand(id))
	}
	exec.source = entry.Source

	for _, fn := range interceptors {
		next, err := fn(ctx, id, args)
		if err != nil {
			return exec.finish(nil, oops.Code(CodeInterceptorFailed).
				With("command", id).
				Wrapf(err, "before-execute interceptor"))
		}
		args = next
	}

	return exec.finish(entry.Handler(ctx, args))
}
