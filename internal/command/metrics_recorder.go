// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
)

// execution records the metrics of one Registry.Execute call.
type execution struct {
	command string
	source  string
	start   time.Time
}

func startExecution(command string) *execution {
	return &execution{command: command, source: "unknown", start: time.Now()}
}

// executionStatus classifies the outcome of an execution.
func executionStatus(err error) string {
	if err == nil {
		return StatusSuccess
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return StatusCancelled
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		switch oopsErr.Code() {
		case CodeUnknownCommand:
			return StatusNotFound
		case CodeHostUnavailable:
			return StatusHostUnavailable
		}
	}
	return StatusError
}

// finish records the outcome. It passes err through so callers can
// return e.finish(result, err).
func (e *execution) finish(result any, err error) (any, error) {
	RecordCommandExecution(e.command, e.source, executionStatus(err))
	RecordCommandDuration(e.command, e.source, time.Since(e.start))
	return result, err
}
