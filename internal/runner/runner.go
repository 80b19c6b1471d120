// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package runner runs shards of tests on a single device.
package runner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/clock"

	"go.chromium.org/devicetest/errors"
	"go.chromium.org/devicetest/internal/archive"
	"go.chromium.org/devicetest/internal/device"
	"go.chromium.org/devicetest/internal/logging"
	"go.chromium.org/devicetest/internal/processor"
	"go.chromium.org/devicetest/internal/result"
	"go.chromium.org/devicetest/internal/sharding"
	"go.chromium.org/devicetest/internal/testspec"
)

// Invocation is the raw outcome of one device invocation.
type Invocation struct {
	// Output holds the output lines of the device command, possibly partial.
	Output []string
	// Report is a structured report written by the test binary, if any.
	Report []byte
	// Err is the host-level error of the invocation, if any.
	Err error
}

// Parsed is the outcome of parsing an Invocation.
type Parsed struct {
	// Results holds the results found in the output. A test that started
	// without finishing has an UNKNOWN result.
	Results []result.RawResult
	// Abnormal is set if the test process ended abnormally.
	Abnormal bool
	// AbnormalReason explains Abnormal.
	AbnormalReason string
}

// Variant runs one kind of test.
type Variant interface {
	// Batches splits the tests of a shard into device invocations.
	Batches(tests []*testspec.TestCase) [][]*testspec.TestCase
	// Timeout returns the timeout of the invocation running batch. Zero
	// disables the timeout.
	Timeout(batch []*testspec.TestCase) time.Duration
	// PrepareDevice changes device state for batch. The returned function
	// restores it and is called even if the invocation fails.
	PrepareDevice(ctx context.Context, dev device.Device, batch []*testspec.TestCase) (restore func(ctx context.Context) error, err error)
	// Invoke runs batch on dev. tmp is a scoped device file the variant
	// may use for a report.
	Invoke(ctx context.Context, dev device.Device, batch []*testspec.TestCase, tmp *device.TempFile, timeout time.Duration) *Invocation
	// Parse extracts results from an invocation.
	Parse(ctx context.Context, batch []*testspec.TestCase, inv *Invocation) *Parsed
}

// Runner runs shards on devices. It is safe for concurrent use with
// different devices.
type Runner struct {
	spec    *testspec.Spec
	variant Variant
	proc    *processor.Processor
	arch    archive.Archiver
	clk     clock.Clock

	seq atomic.Int32 // numbers shard runs for artifact names
}

// New creates a new Runner.
func New(spec *testspec.Spec, variant Variant, proc *processor.Processor, arch archive.Archiver) *Runner {
	return &Runner{spec: spec, variant: variant, proc: proc, arch: arch, clk: clock.NewClock()}
}

// RunShard runs shard on dev.
//
// It returns one result per shard test in shard order, and the tests that
// produced no terminal result. Per-test failures are results, not errors.
// An error is returned if preparing the device for a batch failed or the
// device became unreachable; in that case the result set is still returned
// with UNKNOWN results for tests that did not run.
func (r *Runner) RunShard(ctx context.Context, dev device.Device, shard *sharding.Shard) (*result.RunResultSet, []result.TestID, error) {
	set := &result.RunResultSet{Device: dev.Serial()}

	cases, err := r.lookup(shard.Tests)
	if err != nil {
		return nil, nil, err
	}

	seq := r.seq.Add(1)
	var runErr error
	for i, batch := range r.variant.Batches(cases) {
		if runErr != nil {
			for _, tc := range batch {
				set.Results = append(set.Results, result.RawResult{Name: tc.ID(), Status: result.StatusUnknown})
			}
			continue
		}
		name := fmt.Sprintf("%s_%04d_%d", dev.Serial(), seq, i)
		var rs []result.RawResult
		rs, runErr = r.runBatch(ctx, dev, batch, name)
		set.Results = append(set.Results, rs...)
	}
	set.Results = orderLike(shard.Tests, set.Results)

	var notRun []result.TestID
	for _, res := range set.Results {
		if res.Status == result.StatusUnknown || res.Status == result.StatusCrash {
			notRun = append(notRun, res.Name)
		}
	}
	return set, notRun, runErr
}

func (r *Runner) lookup(ids []result.TestID) ([]*testspec.TestCase, error) {
	cases := make([]*testspec.TestCase, len(ids))
	for i, id := range ids {
		tc, ok := r.spec.Suite.Lookup(id)
		if !ok {
			return nil, errors.Errorf("unknown test %s", id)
		}
		cases[i] = tc
	}
	return cases, nil
}

// runBatch runs one device invocation. It returns one result per test of
// batch; on error, tests that were not run have UNKNOWN results.
func (r *Runner) runBatch(ctx context.Context, dev device.Device, batch []*testspec.TestCase, name string) (results []result.RawResult, retErr error) {
	ids := make([]result.TestID, len(batch))
	for i, tc := range batch {
		ids[i] = tc.ID()
	}
	unknown := func() []result.RawResult {
		rs := make([]result.RawResult, len(ids))
		for i, id := range ids {
			rs[i] = result.RawResult{Name: id, Status: result.StatusUnknown}
		}
		return rs
	}

	tmp, err := device.NewTempFile(ctx, dev, "devicetest_", ".out")
	if err != nil {
		return unknown(), errors.Wrap(err, "failed to create device temp file")
	}
	defer func() {
		if err := tmp.Close(ctx); err != nil {
			logging.Warningf(ctx, "Failed to remove %s: %v", tmp.Path, err)
		}
	}()

	restore, err := r.variant.PrepareDevice(ctx, dev, batch)
	if err != nil {
		return unknown(), errors.Wrap(err, "failed to prepare device")
	}
	defer func() {
		if err := restore(ctx); err != nil {
			logging.Warningf(ctx, "Failed to restore device state: %v", err)
			if device.IsUnreachable(err) && retErr == nil {
				retErr = err
			}
		}
	}()

	bi := &processor.BatchInfo{Name: name, Device: dev, Tests: ids}
	r.proc.BatchStart(ctx, bi)

	stopLogcat := r.startLogcat(ctx, dev, name)

	timeout := r.variant.Timeout(batch)
	start := r.clk.Now()
	inv := r.variant.Invoke(ctx, dev, batch, tmp, timeout)
	bi.Elapsed = r.clk.Since(start)
	if inv.Err != nil {
		logging.Warningf(ctx, "Invocation %s failed: %v", name, inv.Err)
	}
	bi.TimedOut = device.IsTimeout(inv.Err)

	bi.LogcatLink = stopLogcat(ctx)

	parsed := r.variant.Parse(ctx, batch, inv)
	// A host-side timeout or disconnect cuts the output short without the
	// test process having crashed.
	if parsed.Abnormal && !bi.TimedOut && !device.IsUnreachable(inv.Err) {
		bi.Abnormal = true
		bi.AbnormalReason = parsed.AbnormalReason
	}
	results = r.proc.BatchEnd(ctx, bi, parsed.Results)

	if device.IsUnreachable(inv.Err) {
		return results, inv.Err
	}
	return results, nil
}

// startLogcat starts capturing logcat to an archived file. The returned
// function stops the capture and returns the archive link, or an empty
// string if capture failed.
func (r *Runner) startLogcat(ctx context.Context, dev device.Device, name string) func(ctx context.Context) string {
	f, err := r.arch.ArchivedTempfile(ctx, name+"_logcat.txt", "logcat", "text/plain")
	if err != nil {
		logging.Warningf(ctx, "Failed to create logcat file: %v", err)
		return func(context.Context) string { return "" }
	}
	mon, err := device.StartLogcatMonitor(ctx, dev, f, r.spec.LogcatFilters)
	if err != nil {
		logging.Warningf(ctx, "Failed to start logcat: %v", err)
		f.Close(ctx)
		return func(context.Context) string { return "" }
	}
	return func(ctx context.Context) string {
		if err := mon.Close(ctx); err != nil {
			logging.Warningf(ctx, "Failed to stop logcat: %v", err)
		}
		if err := f.Close(ctx); err != nil {
			logging.Warningf(ctx, "Failed to archive logcat: %v", err)
			return ""
		}
		return f.Link()
	}
}

// orderLike orders results like names.
func orderLike(names []result.TestID, results []result.RawResult) []result.RawResult {
	byName := make(map[result.TestID]result.RawResult, len(results))
	for _, r := range results {
		byName[r.Name] = r
	}
	out := make([]result.RawResult, 0, len(names))
	for _, n := range names {
		if r, ok := byName[n]; ok {
			out = append(out, r)
		}
	}
	return out
}
