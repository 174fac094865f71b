// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

// Error codes returned by the Lua host.
const (
	CodeHostClosed       = "HOST_CLOSED"
	CodeExtensionLoad    = "EXTENSION_LOAD_FAILED"
	CodeCommandNotFound  = "COMMAND_NOT_FOUND"
	CodeCommandFailed    = "COMMAND_FAILED"
	CodeParticipantError = "FILE_PARTICIPANT_FAILED"
)
