// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/exthost/internal/observability"
	"github.com/holomush/exthost/internal/service"
	"github.com/holomush/exthost/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand. A nil deps uses the defaults.
func NewServeCmd(deps *ServeDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the extension service",
		Long: `Discover extensions, start the extension hosts, fire eager
activation events, and keep the hosts running until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cmd, deps)
		},
	}

	addExtensionFlags(cmd.Flags())
	cmd.Flags().String("metrics-addr", defaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")

	return cmd
}

// runServe boots the service and blocks until a shutdown signal arrives or
// ctx is cancelled.
func runServe(ctx context.Context, cfg *Config, cmd *cobra.Command, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps = deps.withDefaults()

	store, closeStore, err := deps.StorageOpener(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		return oops.Code("STORAGE_OPEN_FAILED").With("operation", "open extension storage").Wrap(err)
	}
	defer closeStore()

	client := newProcessClient()
	svc, err := buildService(ctx, cfg, deps, store, client)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsServer ObservabilityServer
	if cfg.Observability.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Observability.MetricsAddr,
			observability.WithReadiness(svc.Ready),
			observability.WithMetrics(metricsRegistrations...),
			observability.WithHostStatus(svc.HostStates))
		obsErrChan, err := obsServer.Start()
		if err != nil {
			closeService(svc)
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Observability.MetricsAddr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		slog.Info("observability server started", "addr", obsServer.Addr())
	}

	shutdown := func() {
		closeService(svc)
		if obsServer != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if err := obsServer.Stop(stopCtx); err != nil {
				slog.Warn("error stopping observability server", "error", err)
			}
		}
	}

	if err := svc.Activate(ctx); err != nil {
		shutdown()
		return err
	}

	watcher, err := deps.WatcherFactory(ctx, svc.OnExtensionRemoved)
	if err != nil {
		errutil.LogErrorContext(ctx, nil, "extension directory watcher unavailable", err)
	} else {
		defer func() {
			if err := watcher.Close(); err != nil {
				slog.Debug("error closing watcher", "error", err)
			}
		}()
		if err := watcher.Watch(cfg.ScanDir()); err != nil {
			errutil.LogErrorContext(ctx, nil, "failed to watch extension directory", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Extension service started")
	slog.Info("extension service ready",
		"extensions", svc.Registry().Len(),
		"commands", len(svc.Commands().All()))

	var exitErr error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	case <-client.Requested():
		exitErr = oops.Code(CodeClientReload).Errorf("extension host is gone, client reload requested")
	}

	slog.Info("shutting down...")
	shutdown()
	slog.Info("shutdown complete")
	return exitErr
}

func closeService(svc *service.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Close(ctx); err != nil {
		slog.Warn("error closing extension service", "error", err)
	}
}

// monitorServerErrors cancels ctx when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errChan <-chan error, name string) {
	select {
	case err, ok := <-errChan:
		if ok && err != nil {
			slog.Error("server failed", "server", name, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
