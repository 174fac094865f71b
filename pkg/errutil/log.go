// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package errutil logs and inspects oops errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// Code returns the oops error code of err, or "" when err carries none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// LogError logs err at error level without a request context.
func LogError(logger *slog.Logger, msg string, err error) {
	LogErrorContext(context.Background(), logger, msg, err)
}

// LogErrorContext logs err at error level. Oops errors contribute their code
// and context as attributes; other errors are logged as a string. A nil
// logger logs to slog.Default.
func LogErrorContext(ctx context.Context, logger *slog.Logger, msg string, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		logger.ErrorContext(ctx, msg, "error", err)
		return
	}

	attrs := []any{"error", oopsErr.Error()}
	if code := Code(err); code != "" {
		attrs = append(attrs, "code", code)
	}
	if kv := oopsErr.Context(); len(kv) > 0 {
		attrs = append(attrs, "context", kv)
	}
	logger.ErrorContext(ctx, msg, attrs...)
}
