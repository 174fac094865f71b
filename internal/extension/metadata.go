// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

// Metadata describes a discovered extension before it is instantiated.
// It is immutable once discovery produces it and is keyed by Path.
type Metadata struct {
	Path     string
	RealPath string
	// PackageJSON is the raw package.json document.
	PackageJSON []byte
	// ExtraMetadata holds auxiliary files read during discovery, keyed by
	// the name the caller asked for (for example "languageBundle").
	ExtraMetadata map[string]string
	// ExtendConfig is the parsed extend.yaml, if present.
	ExtendConfig map[string]any
}
