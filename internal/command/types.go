// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package command provides the command registry and the bridge that routes
// extension commands to the host process that implements them.
package command

import "context"

// SourceCore marks commands registered by the host application itself.
const SourceCore = "core"

// Handler runs a command.
type Handler func(ctx context.Context, args []any) (any, error)

// Entry is a registered command.
type Entry struct {
	ID       string  // command id (e.g., "git.commit")
	Title    string  // human-readable title
	Category string  // optional grouping
	Source   string  // "core" or the contributing extension id
	Handler  Handler // invoked by Registry.Execute
}

// Interceptor runs before every command. It may replace the arguments; the
// returned slice is passed to the next interceptor and then the handler.
type Interceptor func(ctx context.Context, id string, args []any) ([]any, error)
