// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package processor post-processes the results of one device invocation.
//
// Processor consists of a preprocessor and multiple Handlers. The
// preprocessor makes results consistent: every test of the batch gets exactly
// one result in batch order, and tests left without a terminal result by an
// abnormally ended invocation become crashes. Handlers then perform general
// processing such as logging results and attaching artifacts. Handlers are
// isolated from each other and their failures are logged, never propagated.
package processor

import (
	"context"
	"time"

	"go.chromium.org/devicetest/internal/device"
	"go.chromium.org/devicetest/internal/logging"
	"go.chromium.org/devicetest/internal/result"
)

// BatchInfo describes one device invocation.
type BatchInfo struct {
	// Name uniquely names the invocation within a run. Artifact file names
	// are derived from it.
	Name   string
	Device device.Device
	// Tests lists the tests of the batch in order.
	Tests []result.TestID
	// Elapsed is the wall time of the invocation.
	Elapsed time.Duration
	// Abnormal is set if the invocation ended abnormally, e.g. the test
	// process crashed. AbnormalReason explains why.
	Abnormal       bool
	AbnormalReason string
	// TimedOut is set if the invocation was stopped by its timeout.
	TimedOut bool
	// LogcatLink is the link to the logcat captured during the invocation.
	LogcatLink string
}

// Processor processes the results of device invocations.
type Processor struct {
	handlers []Handler
}

// New creates a new Processor.
func New(handlers []Handler) *Processor {
	return &Processor{handlers: handlers}
}

// BatchStart is called before an invocation starts.
func (p *Processor) BatchStart(ctx context.Context, bi *BatchInfo) {
	for _, h := range p.handlers {
		if err := h.BatchStart(ctx, bi); err != nil {
			logging.Warningf(ctx, "%s: %v", h.Name(), err)
		}
	}
}

// BatchEnd is called with the parsed results of an invocation and returns
// the final results of the batch, one per test of bi.Tests in order.
func (p *Processor) BatchEnd(ctx context.Context, bi *BatchInfo, parsed []result.RawResult) []result.RawResult {
	results := preprocess(ctx, bi, parsed)
	for _, h := range p.handlers {
		rs, err := h.BatchEnd(ctx, bi, results)
		if err != nil {
			logging.Warningf(ctx, "%s: %v", h.Name(), err)
		}
		if rs != nil {
			results = rs
		}
	}
	return results
}
