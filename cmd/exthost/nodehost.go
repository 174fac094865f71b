// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/exthost/internal/exthost"
	"github.com/holomush/exthost/internal/exthost/lua"
	"github.com/holomush/exthost/internal/logging"
	"github.com/holomush/exthost/pkg/hostsdk"
)

// NewNodeHostCmd creates the hidden node-host subcommand. The service
// re-executes its own binary with it to run the node extension host.
func NewNodeHostCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "node-host",
		Short:  "Run the node extension host (internal)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			level, err := logging.ParseLevel(cfg.Log.Level)
			if err != nil {
				return err
			}
			// Stdout belongs to the go-plugin handshake.
			logging.SetDefault("exthost-node", version, cfg.Log.Format, level)

			store, closeStore, err := openStorage(cmd.Context(), cfg.Storage.DatabaseURL)
			if err != nil {
				return err
			}
			defer closeStore()

			hostsdk.Serve(&hostsdk.ServeConfig{
				Host: lua.NewHost(exthost.KindNode,
					lua.WithKVStore(store),
					lua.WithParticipantTimeout(cfg.FileParticipants.Timeout),
					lua.WithCallStackSize(cfg.Host.LuaCallStackSize)),
				Logger: logging.HCLogger("exthost.node-host", cfg.Log.Format, nil),
			})
			return nil
		},
	}
}
