// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package instrumentation runs Android instrumentation tests on devices.
package instrumentation

import (
	"context"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"go.chromium.org/devicetest/errors"
	"go.chromium.org/devicetest/internal/device"
	"go.chromium.org/devicetest/internal/logging"
	"go.chromium.org/devicetest/internal/result"
	"go.chromium.org/devicetest/internal/runner"
	"go.chromium.org/devicetest/internal/testspec"
)

// DefaultFlagsFile is the command-line flags file read by Chrome-based test
// APKs.
const DefaultFlagsFile = "/data/local/tmp/chrome-command-line"

// batchAnnotation groups JUnit4 tests that may share one invocation.
const batchAnnotation = "Batch"

// Variant runs instrumentation tests with "am instrument".
type Variant struct {
	spec      *testspec.Spec
	flagsFile string
}

var _ runner.Variant = (*Variant)(nil)

// NewVariant returns a Variant for spec, whose suite must be an
// instrumentation suite. Per-test flags are written to flagsFile.
func NewVariant(spec *testspec.Spec, flagsFile string) *Variant {
	if flagsFile == "" {
		flagsFile = DefaultFlagsFile
	}
	return &Variant{spec: spec, flagsFile: flagsFile}
}

// Batches groups JUnit4 tests sharing a Batch annotation value and identical
// flags into one invocation. Every other test gets its own invocation. Batch
// order follows the first test of each batch.
func (v *Variant) Batches(tests []*testspec.TestCase) [][]*testspec.TestCase {
	var batches [][]*testspec.TestCase
	index := make(map[string]int)
	for _, tc := range tests {
		key, ok := batchKey(tc)
		if !ok {
			batches = append(batches, []*testspec.TestCase{tc})
			continue
		}
		if i, ok := index[key]; ok {
			batches[i] = append(batches[i], tc)
			continue
		}
		index[key] = len(batches)
		batches = append(batches, []*testspec.TestCase{tc})
	}
	return batches
}

func batchKey(tc *testspec.TestCase) (string, bool) {
	if !tc.IsJUnit4 {
		return "", false
	}
	b, ok := tc.Annotation(batchAnnotation)
	if !ok || b.String() == "" {
		return "", false
	}
	return b.String() + "\x00" + strings.Join(tc.Flags, "\x00"), true
}

// Timeout returns the largest scaled per-test timeout of batch.
func (v *Variant) Timeout(batch []*testspec.TestCase) time.Duration {
	if v.spec.WaitForJavaDebugger {
		return 0
	}
	var max time.Duration
	for _, tc := range batch {
		d, _ := tc.Timeout()
		if d = v.spec.ScaledTimeout(d); d > max {
			max = d
		}
	}
	return max
}

// PrepareDevice writes the flags of batch to the flags file and sets the
// device timeout scale.
func (v *Variant) PrepareDevice(ctx context.Context, dev device.Device, batch []*testspec.TestCase) (func(context.Context) error, error) {
	var restores []func(context.Context) error
	restoreAll := func(ctx context.Context) error {
		var err error
		for i := len(restores) - 1; i >= 0; i-- {
			err = multierr.Append(err, restores[i](ctx))
		}
		return err
	}

	for _, tc := range batch {
		if _, err := tc.Timeout(); errors.Is(err, testspec.ErrMissingSizeAnnotation) {
			logging.Warningf(ctx, "%v; using default timeout %v", err, testspec.DefaultTestTimeout)
		}
	}

	if flags := batch[0].Flags; len(flags) > 0 {
		fc, err := device.NewFlagChanger(ctx, dev, v.flagsFile)
		if err != nil {
			return nil, err
		}
		if err := fc.AddFlags(ctx, flags); err != nil {
			return nil, multierr.Append(err, fc.Restore(ctx))
		}
		restores = append(restores, fc.Restore)
	}

	if v.spec.TimeoutScale > 0 && v.spec.TimeoutScale != 1 {
		restore, err := device.SetTimeoutScale(ctx, dev, v.spec.TimeoutScale)
		if err != nil {
			return nil, multierr.Append(err, restoreAll(ctx))
		}
		restores = append(restores, restore)
	}
	return restoreAll, nil
}

// target returns the instrumentation component.
func (v *Variant) target() string {
	return v.spec.Suite.Package + "/" + v.spec.Suite.Runner
}

// extras returns the instrumentation arguments for batch.
func (v *Variant) extras(batch []*testspec.TestCase, tmp *device.TempFile) map[string]string {
	names := make([]string, len(batch))
	for i, tc := range batch {
		names[i] = tc.Class + "#" + tc.Method
	}
	extras := map[string]string{"class": strings.Join(names, ",")}
	if v.spec.WaitForJavaDebugger {
		extras["debug"] = "true"
	}
	if v.spec.CoverageDir != "" {
		extras["coverage"] = "true"
		extras["coverageFile"] = path.Join(v.spec.CoverageDir, path.Base(tmp.Path)+".ec")
	}
	return extras
}

func (v *Variant) Invoke(ctx context.Context, dev device.Device, batch []*testspec.TestCase, tmp *device.TempFile, timeout time.Duration) *runner.Invocation {
	inv := &runner.Invocation{}
	inv.Output, inv.Err = dev.StartInstrumentation(ctx, v.target(), v.extras(batch, tmp), &device.InstrumentationOptions{
		Timeout: timeout,
		Raw:     true,
	})
	return inv
}

// Parse converts status blocks to results. START begins a result; OK, SKIP
// and ASSUMPTION_FAILURE finish it as passed or skipped; any other code
// finishes it as failed.
func (v *Variant) Parse(ctx context.Context, batch []*testspec.TestCase, inv *runner.Invocation) *runner.Parsed {
	ids := make(map[string]result.TestID, len(batch))
	for _, tc := range batch {
		ids[tc.Class+"#"+tc.Method] = tc.ID()
	}
	nameOf := func(b Bundle) result.TestID {
		key := b["class"] + "#" + b["test"]
		if id, ok := ids[key]; ok {
			return id
		}
		return result.TestID(key)
	}

	out := ParseOutput(inv.Output)
	var results []result.RawResult
	var cur *result.RawResult
	for _, st := range out.Statuses {
		switch st.Code {
		case StatusCodeStart:
			if cur != nil {
				results = append(results, *cur)
			}
			cur = &result.RawResult{Name: nameOf(st.Bundle), Status: result.StatusUnknown}
			continue
		case StatusCodeTestDuration:
			ms, err := strconv.Atoi(st.Bundle["duration_ms"])
			if err != nil {
				continue
			}
			if cur != nil {
				cur.Duration = time.Duration(ms) * time.Millisecond
			} else if n := len(results); n > 0 && results[n-1].Name == nameOf(st.Bundle) {
				results[n-1].Duration = time.Duration(ms) * time.Millisecond
			}
			continue
		}

		name := nameOf(st.Bundle)
		if cur == nil || cur.Name != name {
			if cur != nil {
				results = append(results, *cur)
			}
			cur = &result.RawResult{Name: name}
		}
		switch st.Code {
		case StatusCodeOK:
			cur.Status = result.StatusPass
		case StatusCodeSkip, StatusCodeAssumptionFailure:
			cur.Status = result.StatusSkip
		case StatusCodeFailure, StatusCodeError:
			cur.Status = result.StatusFail
			cur.Log = st.Bundle["stack"]
		default:
			logging.Warningf(ctx, "Unknown status code %d for %s", st.Code, name)
			cur.Status = result.StatusFail
			cur.Log = st.Bundle["stack"]
		}
		results = append(results, *cur)
		cur = nil
	}
	if cur != nil {
		results = append(results, *cur)
	}

	p := &runner.Parsed{Results: dedupLast(results)}
	if crashed, reason := out.Crashed(); crashed {
		p.Abnormal = true
		p.AbnormalReason = reason
	}
	return p
}

// dedupLast keeps the last result of each test, in first-seen order.
func dedupLast(results []result.RawResult) []result.RawResult {
	var order []result.TestID
	last := make(map[result.TestID]result.RawResult)
	for _, r := range results {
		if _, ok := last[r.Name]; !ok {
			order = append(order, r.Name)
		}
		last[r.Name] = r
	}
	out := make([]result.RawResult, 0, len(order))
	for _, n := range order {
		out = append(out, last[n])
	}
	return out
}
