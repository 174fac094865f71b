// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/holomush/exthost/internal/activation"
	"github.com/holomush/exthost/internal/eventbus"
	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/exthost"
)

// ActiveExtension activates ext in the node host first, then in the view
// integration and the worker host in parallel. Disabled extensions are
// skipped.
func (s *Service) ActiveExtension(ctx context.Context, ext *extension.Extension) error {
	if !ext.Enabled() {
		return nil
	}

	ctx, span := tracer.Start(ctx, "extension.active",
		trace.WithAttributes(attribute.String("extension.id", ext.ID())))
	defer span.End()

	if s.node != nil {
		if err := s.node.ActiveExtension(ctx, ext); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	collect := func(err error) {
		if err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		collect(s.deps.View.ActiveExtension(ctx, ext))
	}()
	if s.worker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collect(s.worker.ActiveExtension(ctx, ext))
		}()
	}
	wg.Wait()

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// GetActivatedExtensions lists the active extension ids per host. Hosts that
// are not running report none.
func (s *Service) GetActivatedExtensions(ctx context.Context) (map[exthost.Kind][]string, error) {
	adapters := s.adapters()
	results := make([][]string, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range adapters {
		g.Go(func() error {
			ids, err := a.ActivatedExtensions(gctx)
			if err != nil {
				return err
			}
			results[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[exthost.Kind][]string, len(adapters))
	for i, a := range adapters {
		out[a.Kind()] = results[i]
	}
	return out, nil
}

// ExecuteCommand runs a registered command. Interceptors fire onCommand
// first, so a lazily activated extension is loaded before its command runs.
func (s *Service) ExecuteCommand(ctx context.Context, id string, args ...any) (result any, err error) {
	ctx, span := tracer.Start(ctx, "command.execute",
		trace.WithAttributes(attribute.String("command.name", id)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if _, ok := s.commands.Get(id); !ok {
		// Registered at activation time only.
		if err := s.bus.FireEvent(ctx, activation.TopicCommand, id); err != nil {
			slog.WarnContext(ctx, "onCommand activation failed",
				"command", id,
				"error", err)
		}
		return s.ExecuteExtensionCommand(ctx, id, args)
	}
	return s.commands.Execute(ctx, id, args...)
}

// ExecuteExtensionCommand forwards command to its owning host once that host
// is ready. A command no host claims fails immediately.
func (s *Service) ExecuteExtensionCommand(ctx context.Context, command string, args []any) (any, error) {
	return s.bridge.ExecuteExtensionCommand(ctx, command, args)
}

// WillRunFileOperation collects edits from file operation participants in
// every host, node edits first. A host that fails contributes nothing.
func (s *Service) WillRunFileOperation(ctx context.Context, op exthost.FileOperation, files []exthost.FileChange) ([]exthost.FileEdit, error) {
	ctx, span := tracer.Start(ctx, "extension.will_run_file_operation",
		trace.WithAttributes(
			attribute.String("file.operation", string(op)),
			attribute.Int("file.count", len(files)),
		))
	defer span.End()

	adapters := s.adapters()
	results := make([][]exthost.FileEdit, len(adapters))

	var wg sync.WaitGroup
	for i, a := range adapters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			edits, err := a.WillRunFileOperation(ctx, op, files)
			if err != nil {
				slog.WarnContext(ctx, "file operation participants failed",
					"host", string(a.Kind()),
					"operation", string(op),
					"error", err)
				return
			}
			results[i] = edits
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []exthost.FileEdit
	for _, edits := range results {
		out = append(out, edits...)
	}
	return out, nil
}

// EnableExtension persists id as enabled and broadcasts the change. The
// broadcast handlers have finished when EnableExtension returns.
func (s *Service) EnableExtension(ctx context.Context, id string) error {
	ext, ok := s.registry.GetExtension(id)
	if !ok {
		return ErrExtensionNotFound(id)
	}
	if err := s.deps.Storage.SetEnabled(ctx, id, true); err != nil {
		return err
	}
	return s.deps.Broadcasts.PublishAndWait(ctx, eventbus.TopicExtensionEnabled, ext.Path())
}

// DisableExtension persists id as disabled and broadcasts the change. The
// extension stays loaded in hosts that already activated it.
func (s *Service) DisableExtension(ctx context.Context, id string) error {
	ext, ok := s.registry.GetExtension(id)
	if !ok {
		return ErrExtensionNotFound(id)
	}
	if err := s.deps.Storage.SetEnabled(ctx, id, false); err != nil {
		return err
	}
	return s.deps.Broadcasts.PublishAndWait(ctx, eventbus.TopicExtensionDisabled, ext.Path())
}

// OnExtensionRemoved marks the extension installed at path as uninstalled
// and broadcasts it. It matches scanner.RemovedFunc.
func (s *Service) OnExtensionRemoved(ctx context.Context, path string) {
	if !s.registry.MarkUninstalled(path) {
		return
	}
	slog.InfoContext(ctx, "extension uninstalled", "path", path)
	s.deps.Broadcasts.Publish(ctx, eventbus.TopicExtensionUninstalled, path)
}

// onExtensionEnabled pushes the instance list, subscribes the extension, and
// fires its startup events plus any declared event that already fired.
func (s *Service) onExtensionEnabled(ctx context.Context, ev eventbus.Event) error {
	ext, ok := s.registry.GetExtensionByPath(ev.Subject)
	if !ok || !ext.Enabled() {
		return nil
	}

	s.updateExtensionData(ctx)
	if err := ext.ContributeIfEnabled(ctx); err != nil {
		slog.WarnContext(ctx, "extension contribution failed",
			"extension", ext.ID(),
			"error", err)
	}
	s.subscribe(ctx, ext, activation.WithoutReplay())

	var records []activation.Record
	for _, key := range ext.ActivationEvents() {
		rec := activation.ParseKey(key)
		if rec.IsStartup() || s.bus.Has(rec.Key()) {
			records = append(records, rec)
		}
	}
	return s.fire(ctx, records)
}

func (s *Service) onExtensionDisabled(ctx context.Context, ev eventbus.Event) error {
	if ext, ok := s.registry.GetExtensionByPath(ev.Subject); ok {
		s.unsubscribe(ext.ID())
	}
	s.updateExtensionData(ctx)
	return nil
}

func (s *Service) onExtensionUninstalled(ctx context.Context, ev eventbus.Event) error {
	if ext, ok := s.registry.GetExtensionByPath(ev.Subject); ok {
		s.unsubscribe(ext.ID())
	}
	s.updateExtensionData(ctx)
	return nil
}
