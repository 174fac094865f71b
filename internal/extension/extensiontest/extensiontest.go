// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package extensiontest builds extension metadata and instances for tests.
package extensiontest

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/holomush/exthost/internal/extension"
)

// Manifest is a package.json document under construction.
type Manifest map[string]any

// Metadata returns metadata for an extension named name located at
// /extensions/<name>. Fields in extra are merged into the manifest.
func Metadata(t *testing.T, name string, extra Manifest) extension.Metadata {
	t.Helper()

	m := Manifest{
		"name":      name,
		"publisher": "test",
		"version":   "1.0.0",
	}
	for k, v := range extra {
		m[k] = v
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)

	path := filepath.Join("/extensions", name)
	return extension.Metadata{
		Path:        path,
		RealPath:    path,
		PackageJSON: data,
	}
}

// Add creates an instance from Metadata(name, extra) and adds it to reg.
func Add(t *testing.T, reg *extension.Registry, name string, extra Manifest) *extension.Extension {
	t.Helper()

	md := Metadata(t, name, extra)
	ext := reg.CreateExtensionInstance(context.Background(), md, reg.CheckIsBuiltin(md), reg.CheckIsDevelopment(md))
	require.NotNil(t, ext, "extension %s should be valid", name)
	reg.AddExtensionInstance(ext)
	return ext
}
