// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package gtest runs native gtest binaries on devices.
package gtest

import (
	"context"
	"strings"
	"time"

	"go.chromium.org/devicetest/internal/device"
	"go.chromium.org/devicetest/internal/logging"
	"go.chromium.org/devicetest/internal/result"
	"go.chromium.org/devicetest/internal/runner"
	"go.chromium.org/devicetest/internal/testspec"
)

// Variant runs a shard of gtest cases with a single invocation of the gtest
// binary.
type Variant struct {
	spec *testspec.Spec
}

var _ runner.Variant = (*Variant)(nil)

// NewVariant returns a Variant for spec, whose suite must be a gtest suite.
func NewVariant(spec *testspec.Spec) *Variant {
	return &Variant{spec: spec}
}

// Batches returns the whole shard as one batch.
func (v *Variant) Batches(tests []*testspec.TestCase) [][]*testspec.TestCase {
	if len(tests) == 0 {
		return nil
	}
	return [][]*testspec.TestCase{tests}
}

// Timeout returns the sum of the scaled per-test timeouts.
func (v *Variant) Timeout(batch []*testspec.TestCase) time.Duration {
	if v.spec.WaitForJavaDebugger {
		return 0
	}
	return time.Duration(len(batch)) * v.spec.ScaledTimeout(v.spec.Suite.Gtest.TestTimeout)
}

func (v *Variant) PrepareDevice(ctx context.Context, dev device.Device, batch []*testspec.TestCase) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// command returns the device command line running batch with an XML report
// written to reportPath.
func (v *Variant) command(batch []*testspec.TestCase, reportPath string) []string {
	names := make([]string, len(batch))
	for i, tc := range batch {
		names[i] = string(tc.ID())
	}
	cmd := []string{
		v.spec.Suite.Gtest.Binary,
		"--gtest_filter=" + strings.Join(names, ":"),
		"--gtest_output=xml:" + reportPath,
	}
	return append(cmd, v.spec.Suite.Gtest.ExtraArgs...)
}

func (v *Variant) Invoke(ctx context.Context, dev device.Device, batch []*testspec.TestCase, tmp *device.TempFile, timeout time.Duration) *runner.Invocation {
	inv := &runner.Invocation{}
	// A failing test makes the binary exit non-zero, so the exit status is
	// not checked.
	inv.Output, inv.Err = dev.RunShellCommand(ctx, v.command(batch, tmp.Path), &device.ShellOptions{Timeout: timeout})
	if device.IsUnreachable(inv.Err) {
		return inv
	}
	if b, err := dev.ReadFile(ctx, tmp.Path); err == nil && len(b) > 0 {
		inv.Report = b
	}
	return inv
}

// Parse prefers the XML report and falls back to stdout. The invocation is
// abnormal if a test started and the binary died before printing its final
// summary. Output with no started test is not abnormal, so its tests stay
// UNKNOWN.
func (v *Variant) Parse(ctx context.Context, batch []*testspec.TestCase, inv *runner.Invocation) *runner.Parsed {
	stdout, complete := ParseOutput(inv.Output)
	p := &runner.Parsed{Results: stdout}
	if inv.Report != nil {
		if xmlResults, err := ParseXML(inv.Report); err != nil {
			logging.Warningf(ctx, "Falling back to stdout: %v", err)
		} else if complete || len(xmlResults) >= len(stdout) {
			p.Results = xmlResults
		}
	}
	if !complete && interrupted(stdout) {
		p.Abnormal = true
		p.AbnormalReason = "gtest binary exited without printing its summary"
	}
	return p
}

// interrupted reports whether results include a test that started without
// finishing.
func interrupted(results []result.RawResult) bool {
	for _, r := range results {
		if r.Status == result.StatusUnknown {
			return true
		}
	}
	return false
}
