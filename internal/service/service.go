// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package service orchestrates extension discovery, contribution, host
// startup, activation, and crash recovery.
package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Masterminds/semver/v3"
	"go.opentelemetry.io/otel"

	"github.com/holomush/exthost/internal/activation"
	"github.com/holomush/exthost/internal/command"
	"github.com/holomush/exthost/internal/contribution"
	"github.com/holomush/exthost/internal/deferred"
	"github.com/holomush/exthost/internal/eventbus"
	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/exthost"
	"github.com/holomush/exthost/internal/extstorage"
	"github.com/holomush/exthost/internal/reload"
	"github.com/holomush/exthost/internal/scanner"
)

var tracer = otel.Tracer("exthost/service")

// Config holds the settings the orchestrator consumes.
type Config struct {
	// ScanDir is scanned for extension directories.
	ScanDir string
	// Candidates are individual extension paths.
	Candidates []string
	// Language selects localized nls bundles.
	Language string
	// ExtraMetadata maps extra metadata names to files inside each
	// extension. Defaults to scanner.DefaultExtraMetadata.
	ExtraMetadata map[string]string
	// NoExtHost disables the node host.
	NoExtHost bool
	// ExtWorkerHost enables the worker host.
	ExtWorkerHost bool
	// HostVersion is checked against engines.exthost.
	HostVersion *semver.Version
}

// Deps are the collaborators the orchestrator drives. Scanner is required,
// and NodeRuntime is required unless Config.NoExtHost is set. Everything
// else has a default.
type Deps struct {
	Scanner       scanner.Scanner
	NodeRuntime   exthost.Runtime
	WorkerRuntime exthost.Runtime
	Storage       extstorage.Store
	Classifier    extension.Classifier
	Broadcasts    *eventbus.Bus
	Reload        *reload.Decider

	ColorTheme ThemeService
	IconTheme  ThemeService
	Workspace  Workspace
	View       ViewExtension
	Client     ClientApp
}

// Service is the extension service orchestrator. It owns no extension state
// itself; instances live in the registry and fired events in the bus.
type Service struct {
	cfg  Config
	deps Deps

	bus        *activation.Bus
	registry   *extension.Registry
	commands   *command.Registry
	management *command.ExtCommandManagement
	readiness  *command.Readiness
	bridge     *command.Bridge
	points     *contribution.Points
	runner     *contribution.Runner
	node       *exthost.Adapter
	worker     *exthost.Adapter

	// lifecycleMu serializes Activate, RestartExtProcess, and Close.
	lifecycleMu sync.Mutex

	mu         sync.Mutex
	metadata   []extension.Metadata
	discovered bool
	eager      *deferred.Deferred
	subs       map[string][]func()
	closed     bool

	removeHandlers []func()
	background     sync.WaitGroup
}

// New assembles the orchestrator and the components it sequences.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Scanner == nil {
		return nil, ErrMissingDependency("scanner")
	}
	if !cfg.NoExtHost && deps.NodeRuntime == nil {
		return nil, ErrMissingDependency("node runtime")
	}
	if cfg.ExtraMetadata == nil {
		cfg.ExtraMetadata = scanner.DefaultExtraMetadata
	}
	if deps.Storage == nil {
		mem := extstorage.NewMemory()
		_ = mem.Load(context.Background()) //nolint:errcheck // in-memory load cannot fail
		deps.Storage = mem
	}
	if deps.Broadcasts == nil {
		deps.Broadcasts = eventbus.New()
	}
	if deps.Reload == nil {
		deps.Reload = reload.NewDecider(reload.PolicyNever, nil)
	}
	if deps.ColorTheme == nil {
		deps.ColorTheme = noopTheme{}
	}
	if deps.IconTheme == nil {
		deps.IconTheme = noopTheme{}
	}
	if deps.Workspace == nil {
		deps.Workspace = noopWorkspace{}
	}
	if deps.View == nil {
		deps.View = noopView{}
	}
	if deps.Client == nil {
		deps.Client = noopClient{}
	}

	s := &Service{
		cfg:   cfg,
		deps:  deps,
		eager: deferred.New(),
		subs:  make(map[string][]func()),
	}

	s.bus = activation.NewBus(activation.WithObserver(s.onActivationFired))
	s.commands = command.NewRegistry()
	s.management = command.NewExtCommandManagement()
	s.readiness = command.NewReadiness()
	s.bridge = command.NewBridge(s.management, s.readiness)
	s.points = contribution.NewPoints(s.commands, s.bridge)
	s.runner = contribution.NewRunner(s.commands, s.bus)

	regOpts := []extension.Option{
		extension.WithEnablement(deps.Storage),
		extension.WithContributor(s.points),
	}
	if deps.Classifier != nil {
		regOpts = append(regOpts, extension.WithClassifier(deps.Classifier))
	}
	if cfg.HostVersion != nil {
		regOpts = append(regOpts, extension.WithHostVersion(cfg.HostVersion))
	}
	s.registry = extension.NewRegistry(regOpts...)

	adapterOpts := []exthost.AdapterOption{
		exthost.WithCommandSink(s.management),
		exthost.WithCrashHandler(s.handleCrash),
	}
	if !cfg.NoExtHost {
		s.node = exthost.NewNodeAdapter(deps.NodeRuntime, adapterOpts...)
		s.bridge.SetHost(exthost.KindNode, s.node)
	}
	if cfg.ExtWorkerHost && deps.WorkerRuntime != nil {
		s.worker = exthost.NewWorkerAdapter(deps.WorkerRuntime, adapterOpts...)
		s.bridge.SetHost(exthost.KindWorker, s.worker)
	}

	s.removeHandlers = []func(){
		deps.Broadcasts.On(eventbus.TopicExtensionEnabled, s.onExtensionEnabled),
		deps.Broadcasts.On(eventbus.TopicExtensionDisabled, s.onExtensionDisabled),
		deps.Broadcasts.On(eventbus.TopicExtensionUninstalled, s.onExtensionUninstalled),
	}
	return s, nil
}

// Registry returns the extension instance registry.
func (s *Service) Registry() *extension.Registry { return s.registry }

// Bus returns the activation event bus.
func (s *Service) Bus() *activation.Bus { return s.bus }

// Commands returns the command registry.
func (s *Service) Commands() *command.Registry { return s.commands }

// Broadcasts returns the process-wide broadcast bus.
func (s *Service) Broadcasts() *eventbus.Bus { return s.deps.Broadcasts }

// Localizations returns the contributed string tables.
func (s *Service) Localizations() *contribution.Localizations { return s.points.Localizations }

// Configuration returns the contributed configuration defaults.
func (s *Service) Configuration() *contribution.Configuration { return s.points.Configuration }

// Node returns the node host adapter, or nil when the node host is disabled.
func (s *Service) Node() *exthost.Adapter { return s.node }

// Worker returns the worker host adapter, or nil when it is disabled.
func (s *Service) Worker() *exthost.Adapter { return s.worker }

// EagerExtensionsActivated resolves once the boot sequence has fired "*",
// whatever the outcome.
func (s *Service) EagerExtensionsActivated() *deferred.Deferred {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eager
}

// Ready reports whether eager activation finished without a boot failure.
func (s *Service) Ready() bool {
	d := s.EagerExtensionsActivated()
	return d.Settled() && d.Err() == nil
}

// HostStates reports the lifecycle state of each configured host by kind.
func (s *Service) HostStates() map[string]string {
	out := make(map[string]string, 2)
	for _, a := range s.adapters() {
		out[string(a.Kind())] = a.State().String()
	}
	return out
}

// adapters returns the configured hosts, node first.
func (s *Service) adapters() []*exthost.Adapter {
	out := make([]*exthost.Adapter, 0, 2)
	if s.node != nil {
		out = append(out, s.node)
	}
	if s.worker != nil {
		out = append(out, s.worker)
	}
	return out
}

func (s *Service) onActivationFired(ctx context.Context, rec activation.Record) {
	s.deps.Broadcasts.Publish(ctx, eventbus.TopicActivationFired, rec.Key())
}

// Close stops both hosts and detaches broadcast handlers. It is idempotent.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	for _, remove := range s.removeHandlers {
		remove()
	}
	s.background.Wait()

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	for _, a := range s.adapters() {
		if err := a.DisposeProcess(ctx); err != nil {
			slog.WarnContext(ctx, "error disposing extension host",
				"host", string(a.Kind()),
				"error", err)
		}
	}
	s.deps.Broadcasts.Wait()
	return nil
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
