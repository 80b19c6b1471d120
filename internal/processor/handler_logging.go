// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package processor

import (
	"context"
	"strings"
	"time"

	"go.chromium.org/devicetest/internal/logging"
	"go.chromium.org/devicetest/internal/result"
)

// loggingHandler logs the results of each invocation.
type loggingHandler struct {
	baseHandler
}

// NewLoggingHandler creates a handler which logs test results.
func NewLoggingHandler() Handler {
	return &loggingHandler{}
}

func (h *loggingHandler) Name() string { return "logging" }

func (h *loggingHandler) BatchStart(ctx context.Context, bi *BatchInfo) error {
	logging.Debugf(ctx, "Starting %s with %d test(s)", bi.Name, len(bi.Tests))
	return nil
}

func (h *loggingHandler) BatchEnd(ctx context.Context, bi *BatchInfo, results []result.RawResult) ([]result.RawResult, error) {
	if bi.Abnormal {
		logging.Warningf(ctx, "%s ended abnormally: %s", bi.Name, bi.AbnormalReason)
	}
	for _, r := range results {
		logging.Infof(ctx, "[%s] %s (%v)", r.Status, r.Name, r.Duration.Round(time.Millisecond))
		if !r.Status.Passed() && r.Log != "" {
			for _, line := range strings.Split(strings.TrimRight(r.Log, "\n"), "\n") {
				logging.Debug(ctx, "  ", line)
			}
		}
	}
	return nil, nil
}
