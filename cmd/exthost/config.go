// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/exthost/internal/exthost/lua"
	"github.com/holomush/exthost/internal/logging"
	"github.com/holomush/exthost/internal/reload"
	"github.com/holomush/exthost/internal/xdg"
)

// CodeConfigInvalid is the error code for unusable configuration.
const CodeConfigInvalid = "CONFIG_INVALID"

// Config is the full exthost configuration.
type Config struct {
	Extensions       ExtensionsConfig       `koanf:"extensions" yaml:"extensions"`
	Host             HostConfig             `koanf:"host" yaml:"host"`
	Application      ApplicationConfig      `koanf:"application" yaml:"application"`
	Storage          StorageConfig          `koanf:"storage" yaml:"storage"`
	Observability    ObservabilityConfig    `koanf:"observability" yaml:"observability"`
	Log              LogConfig              `koanf:"log" yaml:"log"`
	FileParticipants FileParticipantsConfig `koanf:"file_participants" yaml:"file_participants"`
}

// ExtensionsConfig controls discovery.
type ExtensionsConfig struct {
	Dir         string   `koanf:"dir" yaml:"dir"`
	Candidates  []string `koanf:"candidates" yaml:"candidates"`
	Builtin     []string `koanf:"builtin" yaml:"builtin"`
	Development []string `koanf:"development" yaml:"development"`
	Language    string   `koanf:"language" yaml:"language"`
}

// HostConfig controls the host processes.
type HostConfig struct {
	NoExtHost      bool   `koanf:"no_ext_host" yaml:"no_ext_host"`
	ExtWorkerHost  bool   `koanf:"ext_worker_host" yaml:"ext_worker_host"`
	NodeExecutable string `koanf:"node_executable" yaml:"node_executable"`
	Version        string `koanf:"version" yaml:"version"`
	// LuaCallStackSize bounds call depth inside each extension.
	LuaCallStackSize int `koanf:"lua_call_stack_size" yaml:"lua_call_stack_size"`
}

// ApplicationConfig holds client-facing behavior.
type ApplicationConfig struct {
	InvalidExthostReload string `koanf:"invalid_exthost_reload" yaml:"invalid_exthost_reload"`
}

// StorageConfig selects the storage backend. An empty DatabaseURL keeps
// enablement and extension data in memory.
type StorageConfig struct {
	DatabaseURL string `koanf:"database_url" yaml:"database_url"`
}

// ObservabilityConfig controls the metrics and health endpoint. An empty
// MetricsAddr disables it.
type ObservabilityConfig struct {
	MetricsAddr string `koanf:"metrics_addr" yaml:"metrics_addr"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// FileParticipantsConfig controls will-file-operation participants.
type FileParticipantsConfig struct {
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`
}

// Default values.
const (
	defaultLanguage       = "en"
	defaultHostVersion    = "1.0.0"
	defaultMetricsAddr    = "127.0.0.1:9110"
	defaultLogFormat      = "json"
	defaultLogLevel       = "info"
	defaultReloadPolicy   = string(reload.PolicyAlways)
	defaultParticipantTTL = 1500 * time.Millisecond
)

func defaults() map[string]any {
	return map[string]any{
		"extensions.dir":                     "",
		"extensions.candidates":              []string{},
		"extensions.builtin":                 []string{},
		"extensions.development":             []string{},
		"extensions.language":                defaultLanguage,
		"host.no_ext_host":                   false,
		"host.ext_worker_host":               false,
		"host.node_executable":               "",
		"host.version":                       defaultHostVersion,
		"host.lua_call_stack_size":           lua.DefaultCallStackSize,
		"application.invalid_exthost_reload": defaultReloadPolicy,
		"storage.database_url":               "",
		"observability.metrics_addr":         defaultMetricsAddr,
		"log.format":                         defaultLogFormat,
		"log.level":                          defaultLogLevel,
		"file_participants.timeout":          defaultParticipantTTL.String(),
	}
}

// flagKeys maps command-line flags onto configuration keys. Flags not
// listed here are not configuration.
var flagKeys = map[string]string{
	"extensions-dir":  "extensions.dir",
	"candidate":       "extensions.candidates",
	"language":        "extensions.language",
	"no-ext-host":     "host.no_ext_host",
	"ext-worker-host": "host.ext_worker_host",
	"node-executable": "host.node_executable",
	"database-url":    "storage.database_url",
	"metrics-addr":    "observability.metrics_addr",
	"log-format":      "log.format",
	"log-level":       "log.level",
}

// LoadConfig layers defaults, the YAML file at path, and flags. An empty
// path reads the XDG config file when it exists. An explicit path must
// exist.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, oops.Code(CodeConfigInvalid).With("operation", "load defaults").Wrap(err)
	}

	load := true
	if path == "" {
		path = xdg.ConfigFile()
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			load = false
		}
	}
	if load {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code(CodeConfigInvalid).With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code(CodeConfigInvalid).With("operation", "load flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(CodeConfigInvalid).With("operation", "unmarshal").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code(CodeConfigInvalid).With("field", "log.format").
			Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.Code(CodeConfigInvalid).With("field", "log.level").Wrap(err)
	}
	if _, err := semver.NewVersion(c.Host.Version); err != nil {
		return oops.Code(CodeConfigInvalid).With("field", "host.version").Wrap(err)
	}
	if c.Host.LuaCallStackSize < 0 {
		return oops.Code(CodeConfigInvalid).With("field", "host.lua_call_stack_size").
			Errorf("host.lua_call_stack_size must not be negative")
	}
	if c.FileParticipants.Timeout < 0 {
		return oops.Code(CodeConfigInvalid).With("field", "file_participants.timeout").
			Errorf("file_participants.timeout must not be negative")
	}
	for _, g := range [][]string{c.Extensions.Builtin, c.Extensions.Development} {
		for _, p := range g {
			if strings.TrimSpace(p) == "" {
				return oops.Code(CodeConfigInvalid).With("field", "extensions").
					Errorf("empty classification pattern")
			}
		}
	}
	return nil
}

// ReloadPolicy returns the configured policy. Unknown values fall back to
// always.
func (c *Config) ReloadPolicy() reload.Policy {
	p, ok := reload.ParsePolicy(c.Application.InvalidExthostReload)
	if !ok {
		slog.Warn("unknown reload policy, using always",
			"value", c.Application.InvalidExthostReload)
	}
	return p
}

// HostVersion returns the parsed engine version. Validate has already
// rejected unparseable values.
func (c *Config) HostVersion() *semver.Version {
	v, err := semver.NewVersion(c.Host.Version)
	if err != nil {
		return nil
	}
	return v
}

// ScanDir returns the configured scan dir, defaulting to the XDG
// extensions dir.
func (c *Config) ScanDir() string {
	if c.Extensions.Dir != "" {
		return c.Extensions.Dir
	}
	return xdg.ExtensionsDir()
}
