// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"github.com/samber/oops"
)

// Error codes for command failures.
const (
	CodeUnknownCommand          = "UNKNOWN_COMMAND"
	CodeUnknownExtensionCommand = "UNKNOWN_EXTENSION_COMMAND"
	CodeHostUnavailable         = "HOST_UNAVAILABLE"
	CodeInterceptorFailed       = "INTERCEPTOR_FAILED"
)

// ErrUnknownCommand creates an error for a command nobody registered.
func ErrUnknownCommand(cmd string) error {
	return oops.Code(CodeUnknownCommand).
		With("command", cmd).
		Errorf("unknown command: %s", cmd)
}

// ErrUnknownExtensionCommand creates an error for a command no host claims.
func ErrUnknownExtensionCommand(cmd string) error {
	return oops.Code(CodeUnknownExtensionCommand).
		With("command", cmd).
		Errorf("unknown extension command: %s", cmd)
}

// ErrHostUnavailable reports a command owner with no forwarding target.
func ErrHostUnavailable(cmd, host string) error {
	return oops.Code(CodeHostUnavailable).
		With("command", cmd).
		With("host", host).
		Errorf("host %s is not available for command %s", host, cmd)
}
