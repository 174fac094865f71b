// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package extension models discovered extensions and owns the registry of
// live extension instances.
package extension

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/tidwall/gjson"
)

// Enablement reports whether an extension is enabled by the user.
type Enablement interface {
	IsEnabled(id string) bool
}

// Contributor performs an extension's static contribution registration.
type Contributor interface {
	Contribute(ctx context.Context, ext *Extension) error
}

// alwaysEnabled is used when no Enablement is configured.
type alwaysEnabled struct{}

func (alwaysEnabled) IsEnabled(string) bool { return true }

// Extension is the live instance of one extension. It is owned by a
// Registry and discarded, not disposed, on reset.
type Extension struct {
	md          Metadata
	manifest    *Manifest
	id          string
	builtin     bool
	development bool
	enablement  Enablement
	contributor Contributor

	mu          sync.Mutex
	contributed bool
	activated   bool
	uninstalled bool
}

// ID returns "publisher.name", or the bare name when there is no publisher.
func (e *Extension) ID() string { return e.id }

// Name returns the manifest name.
func (e *Extension) Name() string { return e.manifest.Name }

// Version returns the manifest version.
func (e *Extension) Version() string { return e.manifest.Version }

// Path returns the discovery path.
func (e *Extension) Path() string { return e.md.Path }

// RealPath returns the symlink-resolved path.
func (e *Extension) RealPath() string {
	if e.md.RealPath == "" {
		return e.md.Path
	}
	return e.md.RealPath
}

// PackageJSON returns the raw manifest document.
func (e *Extension) PackageJSON() []byte { return e.md.PackageJSON }

// Manifest returns the decoded manifest.
func (e *Extension) Manifest() *Manifest { return e.manifest }

// Get queries the raw manifest with a gjson path.
func (e *Extension) Get(path string) gjson.Result {
	return gjson.GetBytes(e.md.PackageJSON, path)
}

// ExtraMetadata returns auxiliary discovery data.
func (e *Extension) ExtraMetadata() map[string]string { return e.md.ExtraMetadata }

// ExtendConfig returns the parsed extend.yaml.
func (e *Extension) ExtendConfig() map[string]any { return e.md.ExtendConfig }

// IsBuiltin reports the builtin classification.
func (e *Extension) IsBuiltin() bool { return e.builtin }

// IsDevelopment reports the development classification.
func (e *Extension) IsDevelopment() bool { return e.development }

// EnableProposedAPI reports whether proposed APIs are exposed to the
// extension: always for builtins, on request for development extensions.
func (e *Extension) EnableProposedAPI() bool {
	return e.builtin || (e.development && e.manifest.EnableProposedAPI)
}

// IsLanguagePack reports whether the extension contributes localizations.
func (e *Extension) IsLanguagePack() bool {
	return IsLanguagePack(e.md.PackageJSON)
}

// ActivationEvents returns the declared activation events.
func (e *Extension) ActivationEvents() []string {
	out := make([]string, len(e.manifest.ActivationEvents))
	copy(out, e.manifest.ActivationEvents)
	return out
}

// Main returns the absolute node-host entry, or "" when there is none.
func (e *Extension) Main() string { return e.resolve(e.manifest.Main) }

// WorkerMain returns the absolute worker-host entry, or "" when there is none.
func (e *Extension) WorkerMain() string { return e.resolve(e.manifest.WorkerMain) }

func (e *Extension) resolve(entry string) string {
	if entry == "" {
		return ""
	}
	if filepath.IsAbs(entry) {
		return entry
	}
	return filepath.Join(e.RealPath(), entry)
}

// Enabled reports whether the extension is installed and enabled.
func (e *Extension) Enabled() bool {
	e.mu.Lock()
	uninstalled := e.uninstalled
	e.mu.Unlock()
	return !uninstalled && e.enablement.IsEnabled(e.id)
}

// Activated reports whether any host has activated the extension.
func (e *Extension) Activated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activated
}

// MarkActivated records a successful activation.
func (e *Extension) MarkActivated() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activated = true
}

func (e *Extension) markUninstalled() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.uninstalled = true
}

// ContributeIfEnabled runs the extension's contributions once, and only if it
// is enabled. Later calls are no-ops.
func (e *Extension) ContributeIfEnabled(ctx context.Context) error {
	if !e.Enabled() || e.contributor == nil {
		return nil
	}

	e.mu.Lock()
	if e.contributed {
		e.mu.Unlock()
		return nil
	}
	e.contributed = true
	e.mu.Unlock()

	return e.contributor.Contribute(ctx, e)
}

// Contributed reports whether ContributeIfEnabled has run the contributions.
func (e *Extension) Contributed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.contributed
}

// Info is a serializable snapshot of an extension, sent to host processes.
type Info struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Version           string         `json:"version"`
	Path              string         `json:"path"`
	RealPath          string         `json:"realPath"`
	Main              string         `json:"main,omitempty"`
	WorkerMain        string         `json:"workerMain,omitempty"`
	Enabled           bool           `json:"enabled"`
	IsBuiltin         bool           `json:"isBuiltin"`
	IsDevelopment     bool           `json:"isDevelopment"`
	EnableProposedAPI bool           `json:"enableProposedApi"`
	ActivationEvents  []string       `json:"activationEvents,omitempty"`
	ExtendConfig      map[string]any `json:"extendConfig,omitempty"`
}

// Info returns a snapshot of the extension.
func (e *Extension) Info() Info {
	return Info{
		ID:                e.id,
		Name:              e.Name(),
		Version:           e.Version(),
		Path:              e.Path(),
		RealPath:          e.RealPath(),
		Main:              e.Main(),
		WorkerMain:        e.WorkerMain(),
		Enabled:           e.Enabled(),
		IsBuiltin:         e.builtin,
		IsDevelopment:     e.development,
		EnableProposedAPI: e.EnableProposedAPI(),
		ActivationEvents:  e.ActivationEvents(),
		ExtendConfig:      e.md.ExtendConfig,
	}
}

// Infos snapshots a list of extensions.
func Infos(exts []*Extension) []Info {
	out := make([]Info, 0, len(exts))
	for _, e := range exts {
		out = append(out, e.Info())
	}
	return out
}
