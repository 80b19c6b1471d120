// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"time"

	"go.chromium.org/devicetest/errors"
	"go.chromium.org/devicetest/internal/archive"
	"go.chromium.org/devicetest/internal/config"
	"go.chromium.org/devicetest/internal/gtest"
	"go.chromium.org/devicetest/internal/instrumentation"
	"go.chromium.org/devicetest/internal/logging"
	"go.chromium.org/devicetest/internal/orchestrator"
	"go.chromium.org/devicetest/internal/processor"
	"go.chromium.org/devicetest/internal/result"
	"go.chromium.org/devicetest/internal/runner"
	"go.chromium.org/devicetest/internal/sharding"
	"go.chromium.org/devicetest/internal/testspec"
)

// tearDownTimeout bounds device teardown after the run context is done.
const tearDownTimeout = 2 * time.Minute

// runReport holds the outcome of a run.
type runReport struct {
	// Tests are the tests selected for this run, in suite order.
	Tests      []result.TestID
	Iterations []*orchestrator.Iteration
	Excluded   map[string]error
	Elapsed    time.Duration
	// TearDownErr is the error returned by device teardown, if any.
	TearDownErr error
}

// selectTests loads the suite file and returns it with the IDs of the tests
// selected by the filter flags and this bot's shard index.
func selectTests(ctx context.Context, cfg *config.Config) (*testspec.Suite, []result.TestID, error) {
	suite, err := testspec.LoadSuite(cfg.Suite())
	if err != nil {
		return nil, nil, err
	}
	filter, err := cfg.Filter()
	if err != nil {
		return nil, nil, err
	}
	selected, rejected := filter.Apply(suite.Tests)
	for _, r := range rejected {
		logging.Debug(ctx, "Skipping ", r)
	}

	ids := make([]result.TestID, len(selected))
	for i, tc := range selected {
		ids[i] = tc.ID()
	}
	ids, err = sharding.Compute(ids, cfg.ShardIndex(), cfg.TotalShards())
	if err != nil {
		return nil, nil, err
	}
	return suite, ids, nil
}

// newHandlers returns the result handlers enabled by spec.
func newHandlers(spec *testspec.Spec, arch archive.Archiver) []processor.Handler {
	hs := []processor.Handler{
		processor.NewLoggingHandler(),
		processor.NewLogcatHandler(),
	}
	if spec.Screenshots {
		hs = append(hs, processor.NewScreenshotHandler(arch))
	}
	if spec.Tombstones {
		hs = append(hs, processor.NewTombstoneHandler(arch))
	}
	if spec.CoverageDir != "" {
		hs = append(hs, processor.NewCoverageHandler(arch, spec.CoverageDir))
	}
	return hs
}

// newVariant returns the runner variant for the suite kind.
func newVariant(cfg *config.Config, spec *testspec.Spec) runner.Variant {
	if spec.Suite.Kind == testspec.KindGtest {
		return gtest.NewVariant(spec)
	}
	return instrumentation.NewVariant(spec, cfg.FlagsFile())
}

// runSuite runs the selected tests of the suite on the devices provided by
// env. The returned report is non-nil whenever devices were set up, even if
// an error is also returned.
func runSuite(ctx context.Context, cfg *config.Config, env environment) (*runReport, error) {
	start := time.Now()

	suite, ids, err := selectTests(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.New("no tests matched the filters")
	}
	spec := cfg.TestSpec(suite)
	logging.Infof(ctx, "Selected %d %v test(s) from %s", len(ids), suite.Kind, suite.TestPackage())

	devs, err := env.devices(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get devices")
	}
	arch, err := env.archiver(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create archiver")
	}

	proc := processor.New(newHandlers(spec, arch))
	r := runner.New(spec, newVariant(cfg, spec), proc, arch)
	o, err := orchestrator.New(spec, ids, devs, r, arch, orchestrator.Options{
		NumRetries:     cfg.NumRetries(),
		Repeat:         cfg.Repeat(),
		BreakOnFailure: cfg.BreakOnFailure(),
		MaxShardSize:   cfg.MaxShardSize(),
		OnExclude: func(serial string, err error) {
			logging.Warningf(ctx, "Excluded device %s: %v", serial, err)
		},
	})
	if err != nil {
		return nil, err
	}

	rep := &runReport{Tests: ids}
	defer func() {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tearDownTimeout)
		defer cancel()
		rep.TearDownErr = o.TearDown(tctx)
		rep.Excluded = o.Excluded()
		rep.Elapsed = time.Since(start)
	}()

	if err := o.SetUp(ctx); err != nil {
		return rep, errors.Wrap(err, "failed to set up devices")
	}
	rep.Iterations, err = o.Run(ctx)
	return rep, err
}

// iterationSets returns the result sets of each iteration.
func iterationSets(its []*orchestrator.Iteration) [][]*result.RunResultSet {
	sets := make([][]*result.RunResultSet, len(its))
	for i, it := range its {
		sets[i] = it.Sets
	}
	return sets
}
