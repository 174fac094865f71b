// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package service

import (
	"context"

	"github.com/holomush/exthost/internal/extension"
)

// ThemeService applies a theme. Color and icon themes are separate services.
type ThemeService interface {
	ApplyTheme(ctx context.Context) error
}

// Workspace reports when the workspace is open and usable.
type Workspace interface {
	WhenReady(ctx context.Context) error
}

// ViewExtension integrates extensions with the view layer.
type ViewExtension interface {
	Activate(ctx context.Context) error
	ActiveExtension(ctx context.Context, ext *extension.Extension) error
}

// ClientApp is the client shell hosting the extensions.
type ClientApp interface {
	// Reload reloads the whole client.
	Reload(ctx context.Context) error
}

type noopTheme struct{}

func (noopTheme) ApplyTheme(context.Context) error { return nil }

type noopWorkspace struct{}

func (noopWorkspace) WhenReady(context.Context) error { return nil }

type noopView struct{}

func (noopView) Activate(context.Context) error                              { return nil }
func (noopView) ActiveExtension(context.Context, *extension.Extension) error { return nil }

type noopClient struct{}

func (noopClient) Reload(context.Context) error { return nil }
