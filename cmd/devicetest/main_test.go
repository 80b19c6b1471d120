// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/subcommands"

	"go.chromium.org/devicetest/internal/archive"
	"go.chromium.org/devicetest/internal/config"
	"go.chromium.org/devicetest/internal/device"
	"go.chromium.org/devicetest/internal/device/devicetest"
	"go.chromium.org/devicetest/testutil"
)

const (
	fakeBinary = "/data/local/tmp/foo_tests"
	suiteYAML  = `kind: gtest
package: foo_tests
gtest:
  binary: /data/local/tmp/foo_tests
tests:
- name: Foo.A
- name: Foo.B
- name: Foo.C
- name: Bar.D
`
)

// stubEnvironment is an environment returning fixed devices and an archiver
// writing under a temporary directory.
type stubEnvironment struct {
	devs   []device.Device
	devErr error
	cfg    *config.Config // last config passed to devices
}

func (e *stubEnvironment) devices(ctx context.Context, cfg *config.Config) ([]device.Device, error) {
	e.cfg = cfg
	return e.devs, e.devErr
}

func (e *stubEnvironment) archiver(ctx context.Context, cfg *config.Config) (archive.Archiver, error) {
	return archive.NewLocalArchiver(cfg.ArchiveDir())
}

// newGtestDevice returns a fake device running fakeBinary, on which the
// tests in failing fail.
func newGtestDevice(serial string, failing ...string) *devicetest.Device {
	dev := devicetest.New(serial)
	dev.Shell[fakeBinary] = func(ctx context.Context, cmd []string, opts *device.ShellOptions) ([]string, error) {
		var names []string
		for _, arg := range cmd[1:] {
			if strings.HasPrefix(arg, "--gtest_filter=") {
				names = strings.Split(strings.TrimPrefix(arg, "--gtest_filter="), ":")
			}
		}
		var out []string
		for _, name := range names {
			out = append(out, "[ RUN      ] "+name)
			status := "OK"
			for _, f := range failing {
				if f == name {
					status = "FAILED"
				}
			}
			out = append(out, fmt.Sprintf("[  %6s  ] %s (1 ms)", status, name))
		}
		out = append(out, fmt.Sprintf("[==========] %d tests from 1 test suite ran. (1 ms total)", len(names)))
		return out, nil
	}
	return dev
}

// executeCmd sets flags of cmd from args and executes it.
func executeCmd(t *testing.T, cmd subcommands.Command, args []string) subcommands.ExitStatus {
	t.Helper()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	cmd.SetFlags(flags)
	if err := flags.Parse(args); err != nil {
		t.Fatal(err)
	}
	return cmd.Execute(context.Background(), flags)
}

// writeSuite writes a suite file to a new temporary directory and returns
// the directory and the suite path.
func writeSuite(t *testing.T) (td, path string) {
	td = testutil.TempDir(t)
	if err := testutil.WriteFiles(td, map[string]string{"suite.yaml": suiteYAML}); err != nil {
		t.Fatal(err)
	}
	return td, filepath.Join(td, "suite.yaml")
}
