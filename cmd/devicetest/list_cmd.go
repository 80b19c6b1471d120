// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/google/subcommands"

	"go.chromium.org/devicetest/internal/config"
	"go.chromium.org/devicetest/internal/logging"
	"go.chromium.org/devicetest/internal/result"
)

// listCmd implements subcommands.Command to support listing tests.
type listCmd struct {
	json   bool                  // marshal tests to JSON instead of just printing names
	cfg    *config.MutableConfig // shared config for listing tests
	stdout io.Writer             // where to write tests
}

var _ = subcommands.Command(&listCmd{})

// newListCmd returns a new listCmd that will write tests to stdout.
func newListCmd(stdout io.Writer) *listCmd {
	return &listCmd{
		cfg:    config.NewMutableConfig(""),
		stdout: stdout,
	}
}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list tests" }
func (*listCmd) Usage() string {
	return `Usage: list [flag]...

Description:
    Lists the tests of a suite file selected by the filter and shard flags,
    without touching any device.

Flag:
`
}

func (lc *listCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&lc.json, "json", false, "print full test details as JSON")
	lc.cfg.SetFlags(f)
}

// testInfo is the JSON representation of a listed test.
type testInfo struct {
	Name        result.TestID     `json:"name"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Flags       []string          `json:"flags,omitempty"`
}

func (lc *listCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := lc.cfg.Validate(); err != nil {
		logging.Infof(ctx, "%v\n\n%s", err, lc.Usage())
		return subcommands.ExitUsageError
	}
	cfg := lc.cfg.Freeze()

	suite, ids, err := selectTests(ctx, cfg)
	if err != nil {
		logging.Info(ctx, "Failed to list tests: ", err)
		return subcommands.ExitFailure
	}

	if !lc.json {
		for _, id := range ids {
			fmt.Fprintln(lc.stdout, id)
		}
		return subcommands.ExitSuccess
	}

	infos := make([]testInfo, 0, len(ids))
	for _, id := range ids {
		tc, _ := suite.Lookup(id)
		ti := testInfo{Name: id, Flags: tc.Flags}
		for name, v := range tc.Annotations {
			if ti.Annotations == nil {
				ti.Annotations = make(map[string]string)
			}
			ti.Annotations[name] = v.String()
		}
		infos = append(infos, ti)
	}
	enc := json.NewEncoder(lc.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(infos); err != nil {
		logging.Info(ctx, "Failed to write tests: ", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
