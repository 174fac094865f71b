// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package contribution runs extensions' static contribution points in two
// phases: language packs first, then everything else.
package contribution

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/holomush/exthost/internal/activation"
	"github.com/holomush/exthost/internal/command"
	"github.com/holomush/exthost/internal/extension"
)

// Phase labels.
const (
	PhaseLanguagePacks = "language_packs"
	PhaseNormal        = "normal"
)

// Partition splits exts into language packs and normal extensions,
// preserving order within each group.
func Partition(exts []*extension.Extension) (languagePacks, normal []*extension.Extension) {
	for _, e := range exts {
		if e.IsLanguagePack() {
			languagePacks = append(languagePacks, e)
		} else {
			normal = append(normal, e)
		}
	}
	return languagePacks, normal
}

// Runner executes contributions and installs the onCommand interceptor.
type Runner struct {
	commands *command.Registry
	bus      *activation.Bus

	mu                sync.Mutex
	removeInterceptor func()
}

// NewRunner creates a runner. The interceptor it installs fires onCommand
// activation events on bus before commands in registry run.
func NewRunner(commands *command.Registry, bus *activation.Bus) *Runner {
	return &Runner{commands: commands, bus: bus}
}

// Run contributes every extension. All language packs finish before any
// normal extension starts. Within a phase contributions run concurrently and
// a failure does not cancel siblings; failures are logged and returned
// joined.
func (r *Runner) Run(ctx context.Context, exts []*extension.Extension) error {
	languagePacks, normal := Partition(exts)

	langErr := runPhase(ctx, PhaseLanguagePacks, languagePacks)
	normalErr := runPhase(ctx, PhaseNormal, normal)

	r.installInterceptor()

	if langErr != nil {
		return langErr
	}
	return normalErr
}

func runPhase(ctx context.Context, phase string, exts []*extension.Extension) error {
	start := time.Now()
	defer func() { RecordPhaseDuration(phase, time.Since(start)) }()

	p := pool.New().WithErrors()
	for _, ext := range exts {
		p.Go(func() error {
			if err := ext.ContributeIfEnabled(ctx); err != nil {
				slog.ErrorContext(ctx, "extension contribution failed",
					"extension", ext.ID(),
					"phase", phase,
					"error", err)
				RecordFailure(phase)
				return err
			}
			return nil
		})
	}
	return p.Wait()
}

// installInterceptor replaces any previously installed interceptor, so
// repeated runs after a restart keep exactly one.
func (r *Runner) installInterceptor() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.removeInterceptor != nil {
		r.removeInterceptor()
	}
	r.removeInterceptor = r.commands.BeforeExecute(func(ctx context.Context, id string, args []any) ([]any, error) {
		if err := r.bus.FireEvent(ctx, activation.TopicCommand, id); err != nil {
			slog.WarnContext(ctx, "onCommand activation failed",
				"command", id,
				"error", err)
		}
		return args, nil
	})
}
