// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

import "github.com/samber/oops"

// Error codes for extension model failures.
const (
	CodeInvalidManifest    = "INVALID_MANIFEST"
	CodeIncompatibleEngine = "INCOMPATIBLE_ENGINE"
	CodeInvalidPattern     = "INVALID_PATTERN"
	CodeContributeFailed   = "CONTRIBUTE_FAILED"
)

// ErrInvalidManifest wraps a manifest validation failure.
func ErrInvalidManifest(path string, cause error) error {
	return oops.Code(CodeInvalidManifest).
		With("path", path).
		Wrapf(cause, "invalid extension manifest")
}

// ErrIncompatibleEngine reports an engines.exthost constraint that the
// running host version does not satisfy.
func ErrIncompatibleEngine(id, constraint, version string) error {
	return oops.Code(CodeIncompatibleEngine).
		With("extension", id).
		With("constraint", constraint).
		With("host_version", version).
		Errorf("extension %s requires exthost %s, running %s", id, constraint, version)
}
