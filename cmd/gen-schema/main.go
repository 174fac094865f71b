// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Command gen-schema writes the extension manifest JSON Schema.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/holomush/exthost/internal/extension"
)

func main() {
	out := flag.String("out", filepath.Join("schemas", "extension-manifest.schema.json"), "output path")
	flag.Parse()

	if err := run(*out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %s\n", *out)
}

func run(outPath string) error {
	schema, err := extension.GenerateSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(outPath, schema, 0o600); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	return nil
}
