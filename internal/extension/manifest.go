// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

import (
	"encoding/json"
	"regexp"

	"github.com/samber/oops"
	"github.com/tidwall/gjson"
)

// Manifest is the typed view of the package.json fields the host relies on.
// Contribution points and any unknown keys stay in the raw document and are
// queried with gjson.
type Manifest struct {
	Name              string         `json:"name" jsonschema:"minLength=1,maxLength=214"`
	Publisher         string         `json:"publisher,omitempty"`
	Version           string         `json:"version" jsonschema:"minLength=1"`
	DisplayName       string         `json:"displayName,omitempty"`
	Main              string         `json:"main,omitempty"`
	WorkerMain        string         `json:"workerMain,omitempty"`
	ActivationEvents  []string       `json:"activationEvents,omitempty"`
	Engines           Engines        `json:"engines,omitempty"`
	EnableProposedAPI bool           `json:"enableProposedApi,omitempty"`
	Contributes       map[string]any `json:"contributes,omitempty"`
}

// Engines lists host compatibility constraints.
type Engines struct {
	// ExtHost is a semver constraint on the host version, e.g. "^1.2.0".
	ExtHost string `json:"exthost,omitempty"`
}

// namePattern accepts npm-style package names.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// ParseManifest validates raw package.json bytes against the manifest schema
// and decodes them.
func ParseManifest(data []byte) (*Manifest, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, oops.Code(CodeInvalidManifest).Wrapf(err, "decode package.json")
	}
	if !namePattern.MatchString(m.Name) {
		return nil, oops.Code(CodeInvalidManifest).
			With("name", m.Name).
			Errorf("name %q must be lowercase and contain only a-z, 0-9, '.', '_' and '-'", m.Name)
	}
	return &m, nil
}

// IsLanguagePack reports whether the manifest contributes localizations.
func IsLanguagePack(packageJSON []byte) bool {
	return gjson.GetBytes(packageJSON, "contributes.localizations.#").Int() > 0
}

// Contribution returns the raw value of one contribution point.
func Contribution(packageJSON []byte, point string) gjson.Result {
	return gjson.GetBytes(packageJSON, "contributes."+gjsonEscape(point))
}

// ContributionPoints lists the contribution point names the manifest
// declares, in document order.
func ContributionPoints(packageJSON []byte) []string {
	var points []string
	gjson.GetBytes(packageJSON, "contributes").ForEach(func(key, _ gjson.Result) bool {
		points = append(points, key.String())
		return true
	})
	return points
}

func gjsonEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '*', '?', '|', '#', '@', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
