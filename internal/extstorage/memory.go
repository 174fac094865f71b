// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extstorage

import (
	"context"
	"slices"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/exthost/internal/deferred"
)

// Compile-time interface check.
var _ Store = (*Memory)(nil)

// Memory is a non-persistent Store.
type Memory struct {
	mu       sync.RWMutex
	disabled map[string]bool
	kv       map[string]map[string][]byte
	ready    *deferred.Deferred
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		disabled: make(map[string]bool),
		kv:       make(map[string]map[string][]byte),
		ready:    deferred.New(),
	}
}

// Load resolves Ready. There is nothing to read.
func (m *Memory) Load(context.Context) error {
	m.ready.Resolve()
	return nil
}

// Ready implements Store.
func (m *Memory) Ready() *deferred.Deferred { return m.ready }

// IsEnabled implements extension.Enablement. Extensions are enabled unless
// disabled explicitly.
func (m *Memory) IsEnabled(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.disabled[id]
}

// SetEnabled implements Store.
func (m *Memory) SetEnabled(_ context.Context, id string, enabled bool) error {
	if id == "" {
		return oops.Code(CodeInvalidKey).Errorf("extension id must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if enabled {
		delete(m.disabled, id)
	} else {
		m.disabled[id] = true
	}
	return nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, namespace, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.kv[namespace][key]
	if !ok {
		return nil, nil
	}
	return slices.Clone(v), nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, namespace, key string, value []byte) error {
	if err := validateKey(namespace, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.kv[namespace]
	if !ok {
		ns = make(map[string][]byte)
		m.kv[namespace] = ns
	}
	ns[key] = slices.Clone(value)
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv[namespace], key)
	return nil
}

func validateKey(namespace, key string) error {
	if namespace == "" || key == "" {
		return oops.Code(CodeInvalidKey).
			With("namespace", namespace).
			With("key", key).
			Errorf("namespace and key must not be empty")
	}
	return nil
}
