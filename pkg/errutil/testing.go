// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireOops fails the test unless err carries oops metadata somewhere in
// its chain.
func requireOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode asserts that err carries the given oops code.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	requireOops(t, err)
	assert.Equal(t, code, Code(err), "error: %v", err)
}

// AssertErrorContext asserts that err carries key=value in its oops context.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	ctx := requireOops(t, err).Context()
	if assert.Contains(t, ctx, key) {
		assert.Equal(t, value, ctx[key])
	}
}
