// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/holomush/exthost/internal/activation"
	"github.com/holomush/exthost/internal/eventbus"
	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/exthost"
)

// Activate runs the boot sequence: discover, instantiate, contribute, apply
// themes, start hosts, and fire eager activation. Discovery and node host
// failures are returned. Once eager activation starts it always runs to the
// API-ready broadcast, even if ctx is cancelled.
func (s *Service) Activate(ctx context.Context) (err error) {
	if s.isClosed() {
		return ErrServiceClosed()
	}
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	start := time.Now()
	ctx, span := tracer.Start(ctx, "extension.activate")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.EagerExtensionsActivated().Reject(err)
		}
		span.End()
	}()

	mds, err := s.discover(ctx)
	if err != nil {
		return err
	}

	exts := s.initExtensionInstances(ctx, mds)
	span.SetAttributes(attribute.Int("extension.count", len(exts)))

	if err := s.runner.Run(ctx, exts); err != nil {
		slog.WarnContext(ctx, "some extension contributions failed", "error", err)
	}

	s.applyThemes(ctx)

	if err := s.deps.Workspace.WhenReady(ctx); err != nil {
		return oops.Code(CodeBootFailed).With("step", "workspace").Wrap(err)
	}
	if err := s.deps.Storage.Ready().Wait(ctx); err != nil {
		return oops.Code(CodeBootFailed).With("step", "storage").Wrap(err)
	}
	if err := s.deps.View.Activate(ctx); err != nil {
		slog.WarnContext(ctx, "view extension integration failed", "error", err)
	}

	release := s.holdReadiness()
	if err := s.startProcesses(ctx); err != nil {
		release()
		return err
	}
	s.subscribeAll(ctx)
	release()

	s.activateEager(context.WithoutCancel(ctx))
	RecordBoot(time.Since(start))
	return nil
}

// discover scans once per process lifetime; later calls reuse the result.
func (s *Service) discover(ctx context.Context) ([]extension.Metadata, error) {
	s.mu.Lock()
	if s.discovered {
		mds := s.metadata
		s.mu.Unlock()
		return mds, nil
	}
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "extension.discover")
	defer span.End()

	var scanDirs []string
	if s.cfg.ScanDir != "" {
		scanDirs = []string{s.cfg.ScanDir}
	}
	mds, err := s.deps.Scanner.GetAllExtensions(ctx, scanDirs, s.cfg.Candidates, s.cfg.Language, s.cfg.ExtraMetadata)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("extension.discovered", len(mds)))

	s.mu.Lock()
	s.metadata = mds
	s.discovered = true
	s.mu.Unlock()

	slog.InfoContext(ctx, "extensions discovered", "count", len(mds))
	return mds, nil
}

// initExtensionInstances classifies and instantiates every discovered
// extension and pushes the list to the hosts.
func (s *Service) initExtensionInstances(ctx context.Context, mds []extension.Metadata) []*extension.Extension {
	for _, md := range mds {
		ext := s.registry.CreateExtensionInstance(ctx, md,
			s.registry.CheckIsBuiltin(md),
			s.registry.CheckIsDevelopment(md))
		if ext == nil {
			continue
		}
		s.registry.AddExtensionInstance(ext)
	}
	s.updateExtensionData(ctx)
	return s.registry.GetExtensionInstances()
}

// updateExtensionData pushes the current instance list to every host.
func (s *Service) updateExtensionData(ctx context.Context) {
	exts := s.registry.GetExtensionInstances()
	for _, a := range s.adapters() {
		if err := a.UpdateExtensionData(ctx, exts); err != nil {
			slog.WarnContext(ctx, "failed to push extension data",
				"host", string(a.Kind()),
				"error", err)
		}
	}
}

func (s *Service) applyThemes(ctx context.Context) {
	if err := s.deps.ColorTheme.ApplyTheme(ctx); err != nil {
		slog.WarnContext(ctx, "failed to apply color theme", "error", err)
	}
	if err := s.deps.IconTheme.ApplyTheme(ctx); err != nil {
		slog.WarnContext(ctx, "failed to apply icon theme", "error", err)
	}
}

// startProcesses starts both hosts in parallel. A worker failure is logged
// and swallowed; a node failure is returned.
func (s *Service) startProcesses(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "extension.start_processes")
	defer span.End()

	var g errgroup.Group
	if s.node != nil {
		g.Go(func() error { return s.startHost(ctx, s.node) })
	}
	if s.worker != nil {
		g.Go(func() error {
			if err := s.startHost(ctx, s.worker); err != nil {
				slog.ErrorContext(ctx, "worker host failed to start, continuing without it",
					"error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (s *Service) startHost(ctx context.Context, a *exthost.Adapter) error {
	if _, err := a.Activate(ctx); err != nil {
		return err
	}
	if err := a.UpdateExtensionData(ctx, s.registry.GetExtensionInstances()); err != nil {
		slog.WarnContext(ctx, "failed to push extension data",
			"host", string(a.Kind()),
			"error", err)
	}
	return nil
}

// subscribeAll subscribes every enabled extension to its declared
// activation events.
func (s *Service) subscribeAll(ctx context.Context, opts ...activation.SubscribeOption) {
	for _, ext := range s.registry.GetExtensionInstances() {
		if ext.Enabled() {
			s.subscribe(ctx, ext, opts...)
		}
	}
}

// subscribe replaces any earlier subscriptions of ext.
func (s *Service) subscribe(ctx context.Context, ext *extension.Extension, opts ...activation.SubscribeOption) {
	s.unsubscribe(ext.ID())

	listener := func(ctx context.Context, _ activation.Record) error {
		return s.ActiveExtension(ctx, ext)
	}
	opts = append(opts, activation.WithOwner(ext.ID()))

	var unsubs []func()
	for _, key := range ext.ActivationEvents() {
		unsub, err := s.bus.Subscribe(ctx, key, listener, opts...)
		if err != nil {
			slog.WarnContext(ctx, "replayed activation failed",
				"extension", ext.ID(),
				"event", key,
				"error", err)
		}
		unsubs = append(unsubs, unsub)
	}

	s.mu.Lock()
	s.subs[ext.ID()] = unsubs
	s.mu.Unlock()
}

func (s *Service) unsubscribe(id string) {
	s.mu.Lock()
	unsubs := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}

// activateEager fires the before-activate broadcast and "*" concurrently,
// then always resolves eager activation, fires onStartupFinished, and
// publishes API ready.
func (s *Service) activateEager(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "extension.activate_eager",
		trace.WithAttributes(attribute.String("activation.event", activation.TopicEager)))
	defer span.End()

	var g errgroup.Group
	g.Go(func() error {
		return s.deps.Broadcasts.PublishAndWait(ctx, eventbus.TopicBeforeActivate, "")
	})
	g.Go(func() error {
		return s.bus.FireEvent(ctx, activation.TopicEager)
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		slog.WarnContext(ctx, "eager activation finished with errors", "error", err)
	}

	s.EagerExtensionsActivated().Resolve()

	if err := s.bus.FireEvent(ctx, activation.TopicStartupFinished); err != nil {
		slog.WarnContext(ctx, "onStartupFinished activation finished with errors", "error", err)
	}
	s.deps.Broadcasts.Publish(ctx, eventbus.TopicAPIReady, "")
	slog.InfoContext(ctx, "extension API ready")
}
