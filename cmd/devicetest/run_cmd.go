// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/subcommands"

	"go.chromium.org/devicetest/errors"
	"go.chromium.org/devicetest/internal/config"
	"go.chromium.org/devicetest/internal/logging"
	"go.chromium.org/devicetest/internal/orchestrator"
	"go.chromium.org/devicetest/internal/resultsjson"
	"go.chromium.org/devicetest/internal/xcontext"
)

const fullLogName = "full.txt" // file in the results directory containing full output

// runCmd implements subcommands.Command to support running tests.
type runCmd struct {
	cfg *config.MutableConfig
	env environment // can be replaced by tests to stub out devices
}

var _ = subcommands.Command(&runCmd{})

func newRunCmd(env environment) *runCmd {
	return &runCmd{
		cfg: config.NewMutableConfig(""),
		env: env,
	}
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run tests" }
func (*runCmd) Usage() string {
	return `Usage: run [flag]...

Description:
    Runs the tests of a suite file on every selected device. Tests are
    sharded across devices and tests that do not pass are retried.
    Exits with 0 only if every test passed or was skipped.

Flag:
`
}

func (r *runCmd) SetFlags(f *flag.FlagSet) {
	r.cfg.SetFlags(f)
}

func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := r.cfg.DeriveDefaults(); err != nil {
		logging.Info(ctx, "Failed to derive defaults: ", err)
		return subcommands.ExitUsageError
	}
	if err := r.cfg.Validate(); err != nil {
		logging.Infof(ctx, "%v\n\n%s", err, r.Usage())
		return subcommands.ExitUsageError
	}
	cfg := r.cfg.Freeze()

	if err := os.MkdirAll(cfg.ResDir(), 0755); err != nil {
		logging.Info(ctx, err)
		return subcommands.ExitFailure
	}

	// Log the full output of the command to disk.
	fullLog, err := os.Create(filepath.Join(cfg.ResDir(), fullLogName))
	if err != nil {
		logging.Info(ctx, err)
		return subcommands.ExitFailure
	}
	defer fullLog.Close()
	ctx = logging.AttachLogger(ctx, logging.NewSinkLogger(logging.LevelDebug, true, logging.NewWriterSink(fullLog)))

	if d := cfg.Timeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = xcontext.WithTimeout(ctx, d, errors.Errorf("%v: global timeout reached (%v)", context.DeadlineExceeded, d))
		defer cancel()
	}

	logging.Info(ctx, "Command line: ", strings.Join(os.Args, " "))
	logging.Info(ctx, "Writing results to ", cfg.ResDir())

	rep, runErr := runSuite(ctx, cfg, r.env)
	if rep == nil {
		logging.Infof(ctx, "Failed to run tests: %v", runErr)
		return subcommands.ExitFailure
	}

	rf := resultsjson.New(rep.Tests, iterationSets(rep.Iterations))
	if err := resultsjson.Write(cfg.JSONResultsFile(), rf); err != nil {
		logging.Infof(ctx, "Failed to write results: %v", err)
		return subcommands.ExitFailure
	}
	logging.Info(ctx, "Results written to ", cfg.JSONResultsFile())

	passed := logSummary(ctx, rep)

	status := subcommands.ExitSuccess
	if runErr != nil {
		if errors.Is(runErr, orchestrator.ErrNoResults) {
			logging.Critical(ctx, "No device produced any result")
		} else {
			logging.Infof(ctx, "Failed to run tests: %v", runErr)
		}
		status = subcommands.ExitFailure
	}
	if rep.TearDownErr != nil {
		logging.Infof(ctx, "Failed to tear down devices: %v", rep.TearDownErr)
		status = subcommands.ExitFailure
	}
	if !passed {
		status = subcommands.ExitFailure
	}
	return status
}
