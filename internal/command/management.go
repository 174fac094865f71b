// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"log/slog"
	"sync"

	"github.com/holomush/exthost/internal/exthost"
)

// Compile-time interface check.
var _ exthost.CommandSink = (*ExtCommandManagement)(nil)

type ownership struct {
	host      exthost.Kind
	extension string
}

// ExtCommandManagement records which host implements each extension
// command. Host adapters populate it as activations register commands.
type ExtCommandManagement struct {
	mu     sync.RWMutex
	owners map[string]ownership
}

// NewExtCommandManagement creates an empty mapping.
func NewExtCommandManagement() *ExtCommandManagement {
	return &ExtCommandManagement{owners: make(map[string]ownership)}
}

// RegisterCommands implements exthost.CommandSink.
func (m *ExtCommandManagement) RegisterCommands(kind exthost.Kind, extensionID string, commands []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range commands {
		if prev, ok := m.owners[c]; ok && prev.host != kind {
			slog.Warn("extension command claimed by another host",
				"command", c,
				"previous_host", string(prev.host),
				"new_host", string(kind))
		}
		m.owners[c] = ownership{host: kind, extension: extensionID}
	}
}

// UnregisterHost implements exthost.CommandSink.
func (m *ExtCommandManagement) UnregisterHost(kind exthost.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for c, o := range m.owners {
		if o.host == kind {
			delete(m.owners, c)
		}
	}
}

// Owner returns the host that implements command.
func (m *ExtCommandManagement) Owner(command string) (exthost.Kind, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.owners[command]
	return o.host, ok
}

// Extension returns the extension that registered command.
func (m *ExtCommandManagement) Extension(command string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.owners[command]
	return o.extension, ok
}
