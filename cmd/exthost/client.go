// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/holomush/exthost/internal/service"
)

// CodeClientReload is returned by serve when the service asks for a client
// reload. The process exits non-zero so its supervisor starts a fresh one.
const CodeClientReload = "CLIENT_RELOAD"

var _ service.ClientApp = (*processClient)(nil)

// processClient reloads by ending the serve process.
type processClient struct {
	once      sync.Once
	requested chan struct{}
}

func newProcessClient() *processClient {
	return &processClient{requested: make(chan struct{})}
}

// Reload implements service.ClientApp.
func (c *processClient) Reload(ctx context.Context) error {
	c.once.Do(func() {
		slog.WarnContext(ctx, "client reload requested, stopping the extension service")
		close(c.requested)
	})
	return nil
}

// Requested is closed once Reload has been called.
func (c *processClient) Requested() <-chan struct{} {
	return c.requested
}
