// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package scanner discovers extensions on disk and watches scan
// directories for removals.
package scanner

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
	"github.com/sourcegraph/conc/iter"
	"gopkg.in/yaml.v3"

	"github.com/holomush/exthost/internal/extension"
)

// CodeDiscoveryFailed is the error code for a failed scan.
const CodeDiscoveryFailed = "DISCOVERY_FAILED"

// File names inside an extension directory.
const (
	ManifestFile     = "package.json"
	ExtendConfigFile = "extend.yaml"
	NLSFile          = "package.nls.json"
)

// Extra metadata keys.
const (
	// LanguageBundleField holds the preferred-language nls bundle.
	LanguageBundleField = "languageBundle"
	// PackageNLSField holds the default package.nls.json.
	PackageNLSField = "packageNLS"
)

// DefaultExtraMetadata is requested by the orchestrator for every
// extension.
var DefaultExtraMetadata = map[string]string{
	LanguageBundleField: "./" + NLSFile,
}

// Scanner finds extension metadata.
type Scanner interface {
	GetAllExtensions(ctx context.Context, scanDirs, candidates []string, language string, extraMetadata map[string]string) ([]extension.Metadata, error)
}

// Local scans the local filesystem.
type Local struct{}

// NewLocal creates a filesystem scanner.
func NewLocal() *Local {
	return &Local{}
}

// Compile-time interface check.
var _ Scanner = (*Local)(nil)

// GetAllExtensions returns metadata for every extension directory directly
// under a scan dir plus every candidate path, in that order, without
// duplicates. Directories without a package.json are skipped. A missing
// scan dir is skipped; any other read failure aborts discovery.
func (l *Local) GetAllExtensions(ctx context.Context, scanDirs, candidates []string, language string, extraMetadata map[string]string) ([]extension.Metadata, error) {
	var paths []string
	seen := make(map[string]struct{})
	add := func(p string) {
		p = filepath.Clean(p)
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}

	for _, dir := range scanDirs {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				slog.DebugContext(ctx, "extension scan dir does not exist", "dir", dir)
				continue
			}
			return nil, oops.Code(CodeDiscoveryFailed).With("dir", dir).Wrapf(err, "read scan dir")
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".") {
				continue
			}
			add(filepath.Join(dir, e.Name()))
		}
	}
	for _, c := range candidates {
		if c != "" {
			add(c)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, oops.Code(CodeDiscoveryFailed).Wrapf(err, "discovery cancelled")
	}

	found, err := iter.MapErr(paths, func(p *string) (*extension.Metadata, error) {
		return readExtension(ctx, *p, language, extraMetadata)
	})
	if err != nil {
		return nil, err
	}

	out := make([]extension.Metadata, 0, len(found))
	for _, md := range found {
		if md != nil {
			out = append(out, *md)
		}
	}
	slog.InfoContext(ctx, "extensions discovered",
		"candidates", len(paths),
		"found", len(out))
	return out, nil
}

// readExtension returns nil metadata when path is not an extension.
func readExtension(ctx context.Context, path, language string, extraMetadata map[string]string) (*extension.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code(CodeDiscoveryFailed).With("path", path).Wrapf(err, "discovery cancelled")
	}

	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		slog.WarnContext(ctx, "skipping unreadable extension path", "path", path, "error", err)
		return nil, nil
	}
	info, err := os.Stat(realPath)
	if err != nil || !info.IsDir() {
		return nil, nil
	}

	pkg, err := os.ReadFile(filepath.Join(realPath, ManifestFile))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.WarnContext(ctx, "skipping extension with unreadable manifest", "path", path, "error", err)
		}
		return nil, nil
	}

	md := &extension.Metadata{
		Path:          path,
		RealPath:      realPath,
		PackageJSON:   pkg,
		ExtraMetadata: make(map[string]string),
	}

	for key, rel := range extraMetadata {
		if content, ok := readLocalized(realPath, rel, language); ok {
			md.ExtraMetadata[key] = content
		}
	}
	if _, ok := md.ExtraMetadata[PackageNLSField]; !ok {
		if content, err := os.ReadFile(filepath.Join(realPath, NLSFile)); err == nil {
			md.ExtraMetadata[PackageNLSField] = string(content)
		}
	}

	cfg, err := readExtendConfig(realPath)
	if err != nil {
		slog.WarnContext(ctx, "ignoring invalid extend config", "path", path, "error", err)
	}
	md.ExtendConfig = cfg
	return md, nil
}

// readLocalized reads rel relative to dir, preferring the language variant
// ("package.nls.json" with "zh-CN" tries "package.nls.zh-CN.json" first).
func readLocalized(dir, rel, language string) (string, bool) {
	base := filepath.Join(dir, filepath.FromSlash(rel))
	if !within(dir, base) {
		return "", false
	}
	var tries []string
	if language != "" {
		ext := filepath.Ext(base)
		tries = append(tries, strings.TrimSuffix(base, ext)+"."+language+ext)
		if lang, _, ok := strings.Cut(language, "-"); ok {
			tries = append(tries, strings.TrimSuffix(base, ext)+"."+lang+ext)
		}
	}
	tries = append(tries, base)

	for _, p := range tries {
		if content, err := os.ReadFile(p); err == nil { // #nosec G304 -- confined to the extension directory
			return string(content), true
		}
	}
	return "", false
}

func within(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func readExtendConfig(dir string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(dir, ExtendConfigFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg map[string]any
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
