// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
)

// Registry owns the canonical collection of extension instances.
//
// Registry is safe for concurrent use. Instances keep insertion order and
// are unique by path.
type Registry struct {
	mu        sync.RWMutex
	instances []*Extension
	byPath    map[string]int

	classifier  Classifier
	enablement  Enablement
	contributor Contributor
	hostVersion *semver.Version
}

// Option configures a Registry.
type Option func(*Registry)

// WithClassifier sets the builtin/development classifier.
func WithClassifier(c Classifier) Option {
	return func(r *Registry) { r.classifier = c }
}

// WithEnablement sets the source of enabled/disabled state.
func WithEnablement(e Enablement) Option {
	return func(r *Registry) { r.enablement = e }
}

// WithContributor sets the contribution executor handed to new instances.
func WithContributor(c Contributor) Option {
	return func(r *Registry) { r.contributor = c }
}

// WithHostVersion sets the version checked against engines.exthost.
func WithHostVersion(v *semver.Version) Option {
	return func(r *Registry) { r.hostVersion = v }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byPath:     make(map[string]int),
		classifier: &GlobClassifier{},
		enablement: alwaysEnabled{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetContributor replaces the contributor used for instances created from
// now on.
func (r *Registry) SetContributor(c Contributor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contributor = c
}

// CheckIsBuiltin reports whether md is a builtin extension.
func (r *Registry) CheckIsBuiltin(md Metadata) bool {
	return r.classifier.IsBuiltin(md)
}

// CheckIsDevelopment reports whether md is a development extension.
func (r *Registry) CheckIsDevelopment(md Metadata) bool {
	return r.classifier.IsDevelopment(md)
}

// CreateExtensionInstance builds an instance from md. It returns nil when md
// fails validation; the reason is logged and the extension is excluded.
func (r *Registry) CreateExtensionInstance(ctx context.Context, md Metadata, isBuiltin, isDevelopment bool) *Extension {
	ext, err := r.newExtension(md, isBuiltin, isDevelopment)
	if err != nil {
		slog.WarnContext(ctx, "excluding invalid extension",
			"path", md.Path,
			"error", err)
		RecordInstanceRejected()
		return nil
	}
	return ext
}

func (r *Registry) newExtension(md Metadata, isBuiltin, isDevelopment bool) (*Extension, error) {
	m, err := ParseManifest(md.PackageJSON)
	if err != nil {
		return nil, ErrInvalidManifest(md.Path, err)
	}

	id := m.Name
	if m.Publisher != "" {
		id = m.Publisher + "." + m.Name
	}

	if err := r.checkEngine(id, m.Engines.ExtHost); err != nil {
		return nil, err
	}

	r.mu.RLock()
	contributor := r.contributor
	r.mu.RUnlock()

	return &Extension{
		md:          md,
		manifest:    m,
		id:          id,
		builtin:     isBuiltin,
		development: isDevelopment,
		enablement:  r.enablement,
		contributor: contributor,
	}, nil
}

func (r *Registry) checkEngine(id, constraint string) error {
	if constraint == "" || constraint == "*" || r.hostVersion == nil {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return oops.Code(CodeInvalidManifest).
			With("extension", id).
			With("constraint", constraint).
			Wrapf(err, "invalid engines.exthost constraint")
	}
	if !c.Check(r.hostVersion) {
		return ErrIncompatibleEngine(id, constraint, r.hostVersion.String())
	}
	return nil
}

// AddExtensionInstance adds ext, replacing any instance with the same path.
func (r *Registry) AddExtensionInstance(ext *Extension) {
	if ext == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.byPath[ext.Path()]; ok {
		r.instances[i] = ext
		return
	}
	r.byPath[ext.Path()] = len(r.instances)
	r.instances = append(r.instances, ext)
}

// GetExtensionInstances returns a copy of the instances in insertion order.
func (r *Registry) GetExtensionInstances() []*Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Extension, len(r.instances))
	copy(out, r.instances)
	return out
}

// ResetExtensionInstances discards every instance.
func (r *Registry) ResetExtensionInstances() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.instances = nil
	r.byPath = make(map[string]int)
}

// GetExtension returns the instance with the given id.
func (r *Registry) GetExtension(id string) (*Extension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.instances {
		if e.id == id {
			return e, true
		}
	}
	return nil, false
}

// GetExtensionByPath returns the instance discovered at path.
func (r *Registry) GetExtensionByPath(path string) (*Extension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.byPath[path]
	if !ok {
		return nil, false
	}
	return r.instances[i], true
}

// MarkUninstalled disables the instance at path without removing it, so
// hosts that already loaded it can still resolve it. Returns false when no
// instance has that path.
func (r *Registry) MarkUninstalled(path string) bool {
	ext, ok := r.GetExtensionByPath(path)
	if !ok {
		return false
	}
	ext.markUninstalled()
	return true
}

// Len returns the number of instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}
