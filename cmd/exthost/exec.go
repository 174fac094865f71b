// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

// NewExecCmd creates the exec subcommand. A nil deps uses the defaults.
func NewExecCmd(deps *ServeDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <command> [args...]",
		Short: "Boot the extension service and run one command",
		Long: `Boot the extension service, execute a command by id, print its
result as JSON, and shut down. Arguments that parse as JSON are passed as
JSON values; anything else is passed as a string.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			result, err := runExec(cmd.Context(), cfg, deps, args[0], parseArgs(args[1:]))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	addExtensionFlags(cmd.Flags())

	return cmd
}

// parseArgs decodes JSON arguments and keeps the rest as strings.
func parseArgs(raw []string) []any {
	out := make([]any, 0, len(raw))
	for _, a := range raw {
		if gjson.Valid(a) {
			out = append(out, gjson.Parse(a).Value())
			continue
		}
		out = append(out, a)
	}
	return out
}

func runExec(ctx context.Context, cfg *Config, deps *ServeDeps, id string, args []any) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	deps = deps.withDefaults()

	store, closeStore, err := deps.StorageOpener(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		return nil, oops.Code("STORAGE_OPEN_FAILED").With("operation", "open extension storage").Wrap(err)
	}
	defer closeStore()

	svc, err := buildService(ctx, cfg, deps, store, nil)
	if err != nil {
		return nil, err
	}
	defer closeService(svc)

	if err := svc.Activate(ctx); err != nil {
		return nil, err
	}
	return svc.ExecuteCommand(ctx, id, args...)
}
