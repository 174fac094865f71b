// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/exthost/internal/extstorage"
)

// migrator wraps the methods used from extstorage.Migrator.
type migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Pending() ([]uint, error)
	Close() error
}

// migratorFactory is replaced in tests.
var migratorFactory = func(databaseURL string) (migrator, error) {
	return extstorage.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage extension storage migrations",
		Long:  `Apply, roll back, or inspect the PostgreSQL extension storage schema.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m migrator) error {
				cmd.Println("Running migrations...")
				if err := m.Up(); err != nil {
					return err
				}
				cmd.Println("Migrations completed successfully")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m migrator) error {
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("Migrations rolled back")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m migrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				pending, err := m.Pending()
				if err != nil {
					return err
				}
				var notes []string
				if dirty {
					notes = append(notes, "dirty")
				}
				if len(pending) > 0 {
					notes = append(notes, fmt.Sprintf("%d pending", len(pending)))
				}
				if len(notes) == 0 {
					cmd.Printf("%d\n", v)
					return nil
				}
				cmd.Printf("%d (%s)\n", v, strings.Join(notes, ", "))
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(migrator) error) error {
	cfg, err := LoadConfig(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.Storage.DatabaseURL == "" {
		return oops.Code(CodeConfigInvalid).Errorf("storage.database_url is required for migrations")
	}

	m, err := migratorFactory(cfg.Storage.DatabaseURL)
	if err != nil {
		return err
	}
	runErr := fn(m)
	if err := m.Close(); err != nil && runErr == nil {
		return err
	}
	return runErr
}
