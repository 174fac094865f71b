// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package contribution

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
	"github.com/tidwall/gjson"

	"github.com/holomush/exthost/internal/command"
	"github.com/holomush/exthost/internal/extension"
)

// Compile-time interface check.
var _ extension.Contributor = (*Points)(nil)

// Error codes for contribution failures.
const (
	CodeInvalidContribution = "INVALID_CONTRIBUTION"
)

// Point handles one contribution point of one extension.
type Point func(ctx context.Context, ext *extension.Extension, value gjson.Result) error

// Points runs the known contribution points of an extension. Points the
// host does not know are ignored.
type Points struct {
	Localizations *Localizations
	Configuration *Configuration
	commands      *command.Registry
	bridge        *command.Bridge
	handlers      map[string]Point
}

// NewPoints creates the standard contribution points. Contributed commands
// are registered in commands and run through bridge.
func NewPoints(commands *command.Registry, bridge *command.Bridge) *Points {
	p := &Points{
		Localizations: NewLocalizations(),
		Configuration: NewConfiguration(),
		commands:      commands,
		bridge:        bridge,
	}
	p.handlers = map[string]Point{
		"localizations": p.contributeLocalizations,
		"commands":      p.contributeCommands,
		"configuration": p.contributeConfiguration,
	}
	return p
}

// Contribute implements extension.Contributor.
func (p *Points) Contribute(ctx context.Context, ext *extension.Extension) error {
	var errs []error
	for _, name := range extension.ContributionPoints(ext.PackageJSON()) {
		h, ok := p.handlers[name]
		if !ok {
			continue
		}
		if err := h(ctx, ext, extension.Contribution(ext.PackageJSON(), name)); err != nil {
			errs = append(errs, oops.Code(CodeInvalidContribution).
				With("extension", ext.ID()).
				With("point", name).
				Wrap(err))
		}
	}
	return errors.Join(errs...)
}

// contributeLocalizations loads each translation file into the
// localization registry under its language id.
//
//	"localizations": [{"languageId": "de", "translations": [{"id": "vscode.git", "path": "./git.de.json"}]}]
func (p *Points) contributeLocalizations(_ context.Context, ext *extension.Extension, value gjson.Result) error {
	var errs []error
	value.ForEach(func(_, loc gjson.Result) bool {
		lang := strings.ToLower(loc.Get("languageId").String())
		if lang == "" {
			errs = append(errs, oops.Errorf("localization without languageId"))
			return true
		}
		p.Localizations.AddLanguage(lang, loc.Get("localizedLanguageName").String())

		loc.Get("translations").ForEach(func(_, tr gjson.Result) bool {
			target := tr.Get("id").String()
			file := filepath.Join(ext.RealPath(), tr.Get("path").String())
			// #nosec G304 -- path comes from a validated extension manifest
			data, err := os.ReadFile(file)
			if err != nil {
				errs = append(errs, oops.With("file", file).Wrapf(err, "read translation"))
				return true
			}
			doc := gjson.ParseBytes(data)
			if contents := doc.Get("contents"); contents.Exists() {
				doc = contents
			}
			strs := make(map[string]string)
			flatten("", doc, strs)
			p.Localizations.Add(lang, target, strs)
			return true
		})
		return true
	})
	return errors.Join(errs...)
}

func flatten(prefix string, v gjson.Result, out map[string]string) {
	v.ForEach(func(k, val gjson.Result) bool {
		key := k.String()
		if prefix != "" {
			key = prefix + "." + key
		}
		if val.IsObject() {
			flatten(key, val, out)
		} else {
			out[key] = val.String()
		}
		return true
	})
}

// contributeCommands registers each declared command with the bridge as its
// handler.
//
//	"commands": [{"command": "git.commit", "title": "%command.commit%", "category": "Git"}]
func (p *Points) contributeCommands(_ context.Context, ext *extension.Extension, value gjson.Result) error {
	var errs []error
	value.ForEach(func(_, c gjson.Result) bool {
		id := c.Get("command").String()
		if id == "" {
			errs = append(errs, oops.Errorf("command without id"))
			return true
		}
		if err := p.commands.Register(command.Entry{
			ID:       id,
			Title:    localize(ext, c.Get("title").String()),
			Category: localize(ext, c.Get("category").String()),
			Source:   ext.ID(),
			Handler:  p.bridge.Handler(id),
		}); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}

// contributeConfiguration records property defaults. The point may be a
// single object or an array of objects.
//
//	"configuration": {"properties": {"git.enabled": {"type": "boolean", "default": true}}}
func (p *Points) contributeConfiguration(_ context.Context, ext *extension.Extension, value gjson.Result) error {
	sections := []gjson.Result{value}
	if value.IsArray() {
		sections = value.Array()
	}
	for _, s := range sections {
		s.Get("properties").ForEach(func(key, prop gjson.Result) bool {
			p.Configuration.SetDefault(key.String(), ext.ID(), prop.Get("default").Value())
			return true
		})
	}
	return nil
}

// localize resolves "%key%" against the extension's language bundle or its
// package.nls.json.
func localize(ext *extension.Extension, s string) string {
	if len(s) < 3 || s[0] != '%' || s[len(s)-1] != '%' {
		return s
	}
	key := s[1 : len(s)-1]
	for _, bundle := range []string{"languageBundle", "packageNLS"} {
		raw, ok := ext.ExtraMetadata()[bundle]
		if !ok {
			continue
		}
		if v := gjson.Get(raw, gjsonKey(key)); v.Exists() {
			return v.String()
		}
	}
	return s
}

func gjsonKey(key string) string {
	return strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`).Replace(key)
}
