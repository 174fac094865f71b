// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/exthost/internal/activation"
	"github.com/holomush/exthost/internal/command"
	"github.com/holomush/exthost/internal/contribution"
	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/exthost"
	"github.com/holomush/exthost/internal/extstorage"
	"github.com/holomush/exthost/internal/observability"
	"github.com/holomush/exthost/internal/reload"
	"github.com/holomush/exthost/internal/service"
)

// metricsRegistrations registers every package's collectors.
var metricsRegistrations = []observability.RegisterFunc{
	activation.RegisterMetrics,
	command.RegisterMetrics,
	contribution.RegisterMetrics,
	extension.RegisterMetrics,
	exthost.RegisterMetrics,
	reload.RegisterMetrics,
	service.RegisterMetrics,
}

// serviceConfig converts the loaded configuration into orchestrator
// settings.
func serviceConfig(cfg *Config) service.Config {
	return service.Config{
		ScanDir:       cfg.ScanDir(),
		Candidates:    cfg.Extensions.Candidates,
		Language:      cfg.Extensions.Language,
		NoExtHost:     cfg.Host.NoExtHost,
		ExtWorkerHost: cfg.Host.ExtWorkerHost,
		HostVersion:   cfg.HostVersion(),
	}
}

// buildService assembles the orchestrator over store. A nil client makes
// client reloads a no-op.
func buildService(ctx context.Context, cfg *Config, deps *ServeDeps, store extstorage.Store, client service.ClientApp) (*service.Service, error) {
	classifier, err := extension.NewGlobClassifier(cfg.Extensions.Builtin, cfg.Extensions.Development)
	if err != nil {
		return nil, oops.Code(CodeConfigInvalid).With("field", "extensions").Wrap(err)
	}

	sd := service.Deps{
		Scanner:    deps.Scanner,
		Storage:    store,
		Classifier: classifier,
		Reload:     reload.NewDecider(cfg.ReloadPolicy(), deps.Prompter),
		Client:     client,
	}
	if !cfg.Host.NoExtHost {
		sd.NodeRuntime = deps.NodeRuntimeFactory(cfg)
	}
	if cfg.Host.ExtWorkerHost {
		sd.WorkerRuntime = deps.WorkerRuntimeFactory(cfg, store)
	}

	svc, err := service.New(serviceConfig(cfg), sd)
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "extension service assembled",
		"scan_dir", cfg.ScanDir(),
		"node_host", !cfg.Host.NoExtHost,
		"worker_host", cfg.Host.ExtWorkerHost)
	return svc, nil
}
