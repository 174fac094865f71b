// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/extstorage"
	"github.com/holomush/exthost/internal/scanner"
)

// NewListCmd creates the list subcommand.
func NewListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered extensions",
		Long: `Scan the extension directory and candidate paths and print every
valid extension with its enablement and classification.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, closeStore, err := openStorage(cmd.Context(), cfg.Storage.DatabaseURL)
			if err != nil {
				return err
			}
			defer closeStore()

			exts, err := listExtensions(cmd.Context(), cfg, scanner.NewLocal(), store)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), extension.Infos(exts))
			}
			return writeTable(cmd.OutOrStdout(), exts)
		},
	}

	addExtensionFlags(cmd.Flags())
	cmd.Flags().BoolVar(&asJSON, "json", false, "print extension info as JSON")

	return cmd
}

// listExtensions discovers and validates extensions without starting any
// host.
func listExtensions(ctx context.Context, cfg *Config, sc scanner.Scanner, store extstorage.Store) ([]*extension.Extension, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	classifier, err := extension.NewGlobClassifier(cfg.Extensions.Builtin, cfg.Extensions.Development)
	if err != nil {
		return nil, oops.Code(CodeConfigInvalid).With("field", "extensions").Wrap(err)
	}
	mds, err := sc.GetAllExtensions(ctx, []string{cfg.ScanDir()}, cfg.Extensions.Candidates,
		cfg.Extensions.Language, scanner.DefaultExtraMetadata)
	if err != nil {
		return nil, err
	}

	reg := extension.NewRegistry(
		extension.WithClassifier(classifier),
		extension.WithEnablement(store),
		extension.WithHostVersion(cfg.HostVersion()),
	)
	exts := make([]*extension.Extension, 0, len(mds))
	for _, md := range mds {
		ext := reg.CreateExtensionInstance(ctx, md, reg.CheckIsBuiltin(md), reg.CheckIsDevelopment(md))
		if ext != nil {
			exts = append(exts, ext)
		}
	}
	return exts, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTable(w io.Writer, exts []*extension.Extension) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVERSION\tENABLED\tTYPE\tPATH")
	for _, ext := range exts {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n",
			ext.ID(), ext.Version(), ext.Enabled(), extensionType(ext), ext.Path())
	}
	return tw.Flush()
}

func extensionType(ext *extension.Extension) string {
	switch {
	case ext.IsBuiltin():
		return "builtin"
	case ext.IsDevelopment():
		return "development"
	default:
		return "user"
	}
}
