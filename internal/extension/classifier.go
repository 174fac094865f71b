// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

import (
	"path/filepath"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Classifier decides whether discovered metadata is builtin or development.
type Classifier interface {
	IsBuiltin(md Metadata) bool
	IsDevelopment(md Metadata) bool
}

// GlobClassifier classifies metadata by matching its real path against
// path globs. Patterns use '/' as the separator: '*' stays inside one path
// segment, '**' crosses segments.
//
// The zero value classifies nothing as builtin or development.
type GlobClassifier struct {
	builtin     []glob.Glob
	development []glob.Glob
}

// NewGlobClassifier compiles builtin and development path patterns.
func NewGlobClassifier(builtin, development []string) (*GlobClassifier, error) {
	b, err := compileGlobs(builtin)
	if err != nil {
		return nil, err
	}
	d, err := compileGlobs(development)
	if err != nil {
		return nil, err
	}
	return &GlobClassifier{builtin: b, development: d}, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(filepath.ToSlash(p), '/')
		if err != nil {
			return nil, oops.Code(CodeInvalidPattern).
				With("pattern", p).
				Wrapf(err, "invalid path pattern")
		}
		out = append(out, g)
	}
	return out, nil
}

// IsBuiltin implements Classifier.
func (c *GlobClassifier) IsBuiltin(md Metadata) bool {
	return matchAny(c.builtin, md)
}

// IsDevelopment implements Classifier.
func (c *GlobClassifier) IsDevelopment(md Metadata) bool {
	return matchAny(c.development, md)
}

func matchAny(globs []glob.Glob, md Metadata) bool {
	path := md.RealPath
	if path == "" {
		path = md.Path
	}
	path = filepath.ToSlash(path)
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}
