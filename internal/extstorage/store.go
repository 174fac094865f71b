// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package extstorage persists extension enablement and per-extension
// key/value data.
package extstorage

import (
	"context"

	"github.com/holomush/exthost/internal/deferred"
	"github.com/holomush/exthost/internal/extension"
)

// Error codes for storage failures.
const (
	CodeUnavailable = "STORAGE_UNAVAILABLE"
	CodeNotMigrated = "STORAGE_NOT_MIGRATED"
	CodeQueryFailed = "STORAGE_QUERY_FAILED"
	CodeInvalidKey  = "STORAGE_INVALID_KEY"
)

// Store is the extension storage backend.
type Store interface {
	extension.Enablement

	// Load reads persisted enablement and resolves Ready.
	Load(ctx context.Context) error
	// Ready resolves once Load has completed.
	Ready() *deferred.Deferred
	// SetEnabled persists an enablement change.
	SetEnabled(ctx context.Context, id string, enabled bool) error

	// Get returns nil with no error when key is absent.
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
}
