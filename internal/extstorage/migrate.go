// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extstorage

import (
	"embed"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	// pgx/v5 driver, registered under the pgx5 scheme.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

// Error codes for schema migrations.
const (
	CodeSchemaSource  = "SCHEMA_SOURCE_FAILED"
	CodeSchemaInit    = "SCHEMA_INIT_FAILED"
	CodeSchemaUp      = "SCHEMA_UP_FAILED"
	CodeSchemaDown    = "SCHEMA_DOWN_FAILED"
	CodeSchemaVersion = "SCHEMA_VERSION_FAILED"
	CodeSchemaClose   = "SCHEMA_CLOSE_FAILED"
	CodeSchemaList    = "SCHEMA_LIST_FAILED"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// schemaMigrate is the part of *migrate.Migrate the Migrator drives.
type schemaMigrate interface {
	Up() error
	Down() error
	Version() (version uint, dirty bool, err error)
	Close() (source error, database error)
}

// Migrator moves the extension storage schema between the embedded
// versions.
type Migrator struct {
	m schemaMigrate
}

// NewMigrator opens the database at databaseURL for migration. postgres://
// and postgresql:// URLs are accepted alongside pgx5://.
func NewMigrator(databaseURL string) (*Migrator, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, oops.Code(CodeSchemaSource).Wrap(err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(databaseURL))
	if err != nil {
		_ = src.Close() //nolint:errcheck // reporting the init error
		return nil, oops.Code(CodeSchemaInit).Wrap(err)
	}
	return &Migrator{m: m}, nil
}

// migrateURL rewrites libpq style schemes to the one the pgx/v5 driver
// registers.
func migrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(databaseURL, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return databaseURL
}

// Up applies every pending version.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code(CodeSchemaUp).Wrap(err)
	}
	return nil
}

// Down drops the schema, and with it every stored enablement and value.
func (m *Migrator) Down() error {
	if err := m.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code(CodeSchemaDown).Wrap(err)
	}
	return nil
}

// Version reports the applied version. An empty database is version 0.
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, false, nil
	case err != nil:
		return 0, false, oops.Code(CodeSchemaVersion).Wrap(err)
	}
	return v, dirty, nil
}

// Pending lists the embedded versions newer than the applied one.
func (m *Migrator) Pending() ([]uint, error) {
	applied, _, err := m.Version()
	if err != nil {
		return nil, err
	}
	all, err := MigrationVersions()
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(v uint) bool { return v <= applied }), nil
}

// Close releases the source and the database connection.
func (m *Migrator) Close() error {
	if err := errors.Join(m.m.Close()); err != nil {
		return oops.Code(CodeSchemaClose).Wrap(err)
	}
	return nil
}

// MigrationVersions returns the embedded versions, oldest first. Files not
// named NNNNNN_name.up.sql are skipped.
func MigrationVersions() ([]uint, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, oops.Code(CodeSchemaList).Wrap(err)
	}

	var versions []uint
	for _, e := range entries {
		base, ok := strings.CutSuffix(e.Name(), ".up.sql")
		if !ok {
			continue
		}
		prefix, _, _ := strings.Cut(base, "_")
		v, err := strconv.ParseUint(prefix, 10, 0)
		if err != nil || len(prefix) != 6 {
			slog.Warn("skipping migration with unexpected name", "file", e.Name())
			continue
		}
		versions = append(versions, uint(v))
	}
	slices.Sort(versions)
	return slices.Compact(versions), nil
}
