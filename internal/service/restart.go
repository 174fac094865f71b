// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/holomush/exthost/internal/activation"
	"github.com/holomush/exthost/internal/deferred"
	"github.com/holomush/exthost/internal/exthost"
	"github.com/holomush/exthost/internal/reload"
	"github.com/holomush/exthost/pkg/errutil"
)

// RestartExtProcess tears down every extension and host, rebuilds the
// instances, restarts the hosts, and replays the full activation history.
func (s *Service) RestartExtProcess(ctx context.Context) (err error) {
	if s.isClosed() {
		return ErrServiceClosed()
	}
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	ctx, span := tracer.Start(ctx, "extension.restart")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			RecordRestart(OutcomeFailure)
		} else {
			RecordRestart(OutcomeSuccess)
		}
		span.End()
	}()

	slog.InfoContext(ctx, "restarting extension hosts")

	release := s.holdReadiness()
	defer release()

	s.disposeExtensions(ctx)
	s.bus.NewGeneration()

	s.mu.Lock()
	mds := s.metadata
	s.mu.Unlock()

	exts := s.initExtensionInstances(ctx, mds)
	if err := s.runner.Run(ctx, exts); err != nil {
		slog.WarnContext(ctx, "some extension contributions failed", "error", err)
	}

	if err := s.startProcesses(ctx); err != nil {
		return oops.Code(CodeRestartFailed).Wrap(err)
	}
	s.subscribeAll(ctx, activation.WithoutReplay())

	records := s.bus.Records()
	span.SetAttributes(attribute.Int("activation.replayed", len(records)))
	if err := s.fire(ctx, records); err != nil {
		slog.WarnContext(ctx, "activation replay finished with errors", "error", err)
	}
	return nil
}

// holdReadiness points every host's readiness at a pending gate, so bridged
// commands wait while hosts start and history replays. The returned func
// hands each host back to its adapter's token.
func (s *Service) holdReadiness() func() {
	for _, a := range s.adapters() {
		s.readiness.Set(a.Kind(), deferred.New())
	}
	return func() {
		for _, a := range s.adapters() {
			s.readiness.Set(a.Kind(), a.Ready())
		}
	}
}

// disposeExtensions drops every instance, its contributed commands, and both
// host processes.
func (s *Service) disposeExtensions(ctx context.Context) {
	for _, ext := range s.registry.GetExtensionInstances() {
		s.commands.UnregisterSource(ext.ID())
		s.unsubscribe(ext.ID())
	}
	s.registry.ResetExtensionInstances()
	s.points.Localizations.Reset()
	s.points.Configuration.Reset()

	for _, a := range s.adapters() {
		if err := a.DisposeProcess(ctx); err != nil {
			slog.WarnContext(ctx, "error disposing extension host",
				"host", string(a.Kind()),
				"error", err)
		}
	}
}

// fire fires every record concurrently. Order between records is not
// defined.
func (s *Service) fire(ctx context.Context, records []activation.Record) error {
	p := pool.New().WithErrors()
	for _, rec := range records {
		p.Go(func() error {
			var data []string
			if rec.HasData {
				data = []string{rec.Data}
			}
			return s.bus.FireEvent(ctx, rec.Topic, data...)
		})
	}
	return p.Wait()
}

// ProcessNotExist handles a host that is gone for good: the client is
// reloaded once the reload policy allows it.
func (s *Service) ProcessNotExist(ctx context.Context) error {
	ok, err := s.deps.Reload.Decide(ctx, reload.ProcessNotExist)
	if err != nil {
		return err
	}
	if !ok {
		slog.InfoContext(ctx, "client reload declined")
		return nil
	}
	return s.deps.Client.Reload(ctx)
}

// ProcessCrashRestart handles a crashed host: the hosts are restarted once
// the reload policy allows it.
func (s *Service) ProcessCrashRestart(ctx context.Context) error {
	ok, err := s.deps.Reload.Decide(ctx, reload.ProcessCrashed)
	if err != nil {
		return err
	}
	if !ok {
		slog.InfoContext(ctx, "extension host restart declined")
		return nil
	}
	if err := s.RestartExtProcess(ctx); err != nil {
		if s.isClosed() {
			return err
		}
		errutil.LogErrorContext(ctx, nil, "extension host restart failed", err)
		return s.ProcessNotExist(ctx)
	}
	return nil
}

// handleCrash runs on the adapter's exit notification. The readiness map is
// pointed at the re-armed token, so command callers wait for the recovery.
// A node host whose executable is gone goes straight to ProcessNotExist.
func (s *Service) handleCrash(kind exthost.Kind, exitErr error) {
	var a *exthost.Adapter
	switch kind {
	case exthost.KindNode:
		a = s.node
	case exthost.KindWorker:
		a = s.worker
	}
	if a == nil {
		return
	}
	s.readiness.Set(kind, a.Ready())

	if kind != exthost.KindNode {
		slog.Warn("worker host exited, continuing without it", "error", exitErr)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.background.Add(1)
	s.mu.Unlock()

	recovery := s.ProcessCrashRestart
	if errors.Is(exitErr, exthost.ErrProcessNotExist) {
		recovery = s.ProcessNotExist
	}
	go func() {
		defer s.background.Done()
		if err := recovery(context.Background()); err != nil {
			errutil.LogError(nil, "crash recovery failed", err)
		}
	}()
}
