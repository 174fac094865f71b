// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package service

import "github.com/samber/oops"

// Error codes for orchestration failures.
const (
	CodeMissingDependency = "MISSING_DEPENDENCY"
	CodeBootFailed        = "BOOT_FAILED"
	CodeRestartFailed     = "RESTART_FAILED"
	CodeExtensionNotFound = "EXTENSION_NOT_FOUND"
	CodeServiceClosed     = "SERVICE_CLOSED"
)

// ErrMissingDependency reports a required collaborator that was not supplied.
func ErrMissingDependency(name string) error {
	return oops.Code(CodeMissingDependency).
		With("dependency", name).
		Errorf("%s is required", name)
}

// ErrExtensionNotFound reports an unknown extension id.
func ErrExtensionNotFound(id string) error {
	return oops.Code(CodeExtensionNotFound).
		With("extension", id).
		Errorf("extension %s not found", id)
}

// ErrServiceClosed is returned by operations after Close.
func ErrServiceClosed() error {
	return oops.Code(CodeServiceClosed).Errorf("extension service closed")
}
