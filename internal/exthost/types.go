// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package exthost manages extension host processes. One Adapter owns one
// host process; the node host is required, the worker host is optional.
package exthost

import (
	"context"

	"github.com/holomush/exthost/internal/extension"
)

// Kind names a host process.
type Kind string

// Host kinds.
const (
	KindNode   Kind = "node"
	KindWorker Kind = "worker"
)

// FileOperation is a workspace file operation that extensions may
// participate in before it runs.
type FileOperation string

// File operations.
const (
	FileCreate FileOperation = "create"
	FileDelete FileOperation = "delete"
	FileMove   FileOperation = "move"
)

// FileChange is one file affected by a FileOperation. Source is only set
// for moves.
type FileChange struct {
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
}

// FileEdit is a text edit contributed by a will-operation participant.
type FileEdit struct {
	Path      string `json:"path"`
	NewText   string `json:"newText"`
	Extension string `json:"extension,omitempty"`
}

// ActivateResult reports what an extension activation registered.
type ActivateResult struct {
	Commands []string `json:"commands,omitempty"`
}

// Proxy is the RPC surface of a running host process.
type Proxy interface {
	// UpdateExtensionData replaces the host's view of installed extensions.
	UpdateExtensionData(ctx context.Context, exts []extension.Info) error
	// ActivateExtension runs the extension's entry point in the host.
	ActivateExtension(ctx context.Context, ext extension.Info) (ActivateResult, error)
	// ExecuteCommand runs a command registered by an extension.
	ExecuteCommand(ctx context.Context, id string, args []any) (any, error)
	// ActivatedExtensions lists the ids of extensions activated in the host.
	ActivatedExtensions(ctx context.Context) ([]string, error)
	// WillRunFileOperation asks participants for edits before op runs.
	WillRunFileOperation(ctx context.Context, op FileOperation, files []FileChange) ([]FileEdit, error)
}

// Runtime starts host processes. Start returns once the process accepts
// calls; onExit is invoked at most once when the process goes away without
// Stop having been called.
type Runtime interface {
	Start(ctx context.Context, onExit func(err error)) (Proxy, error)
	Stop(ctx context.Context) error
}

// CommandSink receives the commands an activation registered.
type CommandSink interface {
	RegisterCommands(kind Kind, extensionID string, commands []string)
	UnregisterHost(kind Kind)
}

// CrashHandler is called when a ready host exits unexpectedly.
type CrashHandler func(kind Kind, err error)
