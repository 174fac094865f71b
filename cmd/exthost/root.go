// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/holomush/exthost/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the exthost CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exthost",
		Short: "exthost - extension host service",
		Long: `exthost discovers extensions, contributes their commands and
configuration, and runs their code in supervised extension host processes.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/exthost/config.yaml)")
	cmd.PersistentFlags().String("log-format", defaultLogFormat, "log format (json or text)")
	cmd.PersistentFlags().String("log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL URL for extension storage (empty = in-memory)")

	cmd.AddCommand(NewServeCmd(nil))
	cmd.AddCommand(NewListCmd())
	cmd.AddCommand(NewExecCmd(nil))
	cmd.AddCommand(NewConfigCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewNodeHostCmd())

	return cmd
}

// addExtensionFlags registers the discovery and host flags shared by the
// commands that boot the service.
func addExtensionFlags(fs *pflag.FlagSet) {
	fs.String("extensions-dir", "", "extension scan directory (default: XDG_DATA_HOME/exthost/extensions)")
	fs.StringSlice("candidate", nil, "additional extension path (repeatable)")
	fs.String("language", defaultLanguage, "preferred language for localized bundles")
	fs.Bool("no-ext-host", false, "disable the node extension host")
	fs.Bool("ext-worker-host", false, "enable the worker extension host")
	fs.String("node-executable", "", "node host executable (default: this binary)")
}

// loadConfig reads configuration for cmd and installs the default logger.
func loadConfig(cmd *cobra.Command) (*Config, error) {
	cfg, err := LoadConfig(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logging.SetDefault("exthost", version, cfg.Log.Format, level)
	return cfg, nil
}
