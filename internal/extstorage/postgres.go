// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extstorage

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/holomush/exthost/internal/deferred"
)

// Compile-time interface check.
var _ Store = (*Postgres)(nil)

// poolIface is the subset of pgxpool.Pool used by Postgres.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is a Store backed by PostgreSQL. Enablement is cached in memory
// after Load; writes go to the database first.
type Postgres struct {
	pool  poolIface
	ready *deferred.Deferred

	mu       sync.RWMutex
	disabled map[string]bool
}

// NewPostgres creates a store on pool.
func NewPostgres(pool poolIface) *Postgres {
	return &Postgres{
		pool:     pool,
		ready:    deferred.New(),
		disabled: make(map[string]bool),
	}
}

// Open connects to databaseURL. The returned func closes the pool.
func Open(ctx context.Context, databaseURL string) (*Postgres, func(), error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, oops.Code(CodeUnavailable).With("operation", "connect").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, oops.Code(CodeUnavailable).With("operation", "ping").Wrap(err)
	}
	return NewPostgres(pool), pool.Close, nil
}

// mapError attaches a storage code to a database error.
func mapError(operation string, err error) error {
	code := CodeQueryFailed
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.UndefinedTable:
			code = CodeNotMigrated
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgerrcode.IsInsufficientResources(pgErr.Code),
			pgerrcode.IsOperatorIntervention(pgErr.Code):
			code = CodeUnavailable
		}
	}
	return oops.Code(code).With("operation", operation).Wrap(err)
}

// Load reads every disabled extension into the cache and resolves Ready.
func (p *Postgres) Load(ctx context.Context) error {
	rows, err := p.pool.Query(ctx, `SELECT extension_id FROM extension_enablement WHERE enabled = false`)
	if err != nil {
		return mapError("load enablement", err)
	}
	defer rows.Close()

	disabled := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return mapError("scan enablement row", err)
		}
		disabled[id] = true
	}
	if err := rows.Err(); err != nil {
		return mapError("iterate enablement", err)
	}

	p.mu.Lock()
	p.disabled = disabled
	p.mu.Unlock()

	p.ready.Resolve()
	return nil
}

// Ready implements Store.
func (p *Postgres) Ready() *deferred.Deferred { return p.ready }

// IsEnabled implements extension.Enablement.
func (p *Postgres) IsEnabled(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.disabled[id]
}

// SetEnabled implements Store.
func (p *Postgres) SetEnabled(ctx context.Context, id string, enabled bool) error {
	if id == "" {
		return oops.Code(CodeInvalidKey).Errorf("extension id must not be empty")
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO extension_enablement (extension_id, enabled)
		 VALUES ($1, $2)
		 ON CONFLICT (extension_id) DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = now()`,
		id, enabled)
	if err != nil {
		return mapError("set enablement", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if enabled {
		delete(p.disabled, id)
	} else {
		p.disabled[id] = true
	}
	return nil
}

// Get implements Store.
func (p *Postgres) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM extension_kv WHERE namespace = $1 AND key = $2`,
		namespace, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError("get value", err)
	}
	return value, nil
}

// Set implements Store.
func (p *Postgres) Set(ctx context.Context, namespace, key string, value []byte) error {
	if err := validateKey(namespace, key); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO extension_kv (namespace, key, value)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		namespace, key, value)
	if err != nil {
		return mapError("set value", err)
	}
	return nil
}

// Delete implements Store.
func (p *Postgres) Delete(ctx context.Context, namespace, key string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM extension_kv WHERE namespace = $1 AND key = $2`,
		namespace, key)
	if err != nil {
		return mapError("delete value", err)
	}
	return nil
}
