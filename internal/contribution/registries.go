// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package contribution

import (
	"maps"
	"slices"
	"sync"
)

// Localizations holds translated string tables contributed by language
// packs, per language and target extension.
type Localizations struct {
	mu        sync.RWMutex
	languages map[string]string
	tables    map[string]map[string]map[string]string
}

// NewLocalizations creates an empty registry.
func NewLocalizations() *Localizations {
	return &Localizations{
		languages: make(map[string]string),
		tables:    make(map[string]map[string]map[string]string),
	}
}

// AddLanguage records a language and its display name.
func (l *Localizations) AddLanguage(lang, name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.languages[lang]; !ok || name != "" {
		l.languages[lang] = name
	}
}

// Add merges strs into the table for (lang, target).
func (l *Localizations) Add(lang, target string, strs map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	byTarget, ok := l.tables[lang]
	if !ok {
		byTarget = make(map[string]map[string]string)
		l.tables[lang] = byTarget
	}
	table, ok := byTarget[target]
	if !ok {
		table = make(map[string]string, len(strs))
		byTarget[target] = table
	}
	maps.Copy(table, strs)
}

// Lookup returns the translation of key for target in lang.
func (l *Localizations) Lookup(lang, target, key string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.tables[lang][target][key]
	return s, ok
}

// Languages returns the contributed language ids, sorted.
func (l *Localizations) Languages() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Sorted(maps.Keys(l.languages))
}

// Reset drops every table.
func (l *Localizations) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.languages = make(map[string]string)
	l.tables = make(map[string]map[string]map[string]string)
}

// Configuration holds contributed configuration defaults.
type Configuration struct {
	mu       sync.RWMutex
	defaults map[string]any
	owners   map[string]string
}

// NewConfiguration creates an empty registry.
func NewConfiguration() *Configuration {
	return &Configuration{
		defaults: make(map[string]any),
		owners:   make(map[string]string),
	}
}

// SetDefault records the default value of key, contributed by owner.
func (c *Configuration) SetDefault(key, owner string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaults[key] = value
	c.owners[key] = owner
}

// Default returns the contributed default of key.
func (c *Configuration) Default(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.defaults[key]
	return v, ok
}

// Owner returns the extension that contributed key.
func (c *Configuration) Owner(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owners[key]
}

// Keys returns every contributed key, sorted.
func (c *Configuration) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.defaults))
}

// Reset drops every default.
func (c *Configuration) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaults = make(map[string]any)
	c.owners = make(map[string]string)
}
