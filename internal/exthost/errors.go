// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package exthost

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes for host failures.
const (
	CodeHostLaunchFailed = "HOST_LAUNCH_FAILED"
	CodeHostNotRunning   = "HOST_NOT_RUNNING"
	CodeActivateFailed   = "EXTENSION_ACTIVATE_FAILED"
)

// ErrAdapterDisposed is returned by Activate while a dispose is in flight.
var ErrAdapterDisposed = errors.New("host adapter disposed")

// ErrProcessNotExist reports a host whose executable is gone. Restarting
// such a host cannot succeed.
var ErrProcessNotExist = errors.New("host executable does not exist")

// ErrHostLaunchFailed wraps a host start failure.
func ErrHostLaunchFailed(kind Kind, cause error) error {
	return oops.Code(CodeHostLaunchFailed).
		With("host", string(kind)).
		Wrapf(cause, "%s host failed to launch", kind)
}

// ErrHostNotRunning reports a call against a host that is not ready.
func ErrHostNotRunning(kind Kind, state State) error {
	return oops.Code(CodeHostNotRunning).
		With("host", string(kind)).
		With("state", state.String()).
		Errorf("%s host is not running (%s)", kind, state)
}
