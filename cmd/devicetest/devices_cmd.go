// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/google/subcommands"

	"go.chromium.org/devicetest/internal/config"
	"go.chromium.org/devicetest/internal/device"
	"go.chromium.org/devicetest/internal/logging"
)

// devicesCmd implements subcommands.Command to list usable devices.
type devicesCmd struct {
	cfg    *config.MutableConfig
	env    environment
	stdout io.Writer
}

var _ = subcommands.Command(&devicesCmd{})

func newDevicesCmd(stdout io.Writer, env environment) *devicesCmd {
	return &devicesCmd{
		cfg:    config.NewMutableConfig(""),
		env:    env,
		stdout: stdout,
	}
}

func (*devicesCmd) Name() string     { return "devices" }
func (*devicesCmd) Synopsis() string { return "list devices tests would run on" }
func (*devicesCmd) Usage() string {
	return `Usage: devices [flag]...

Description:
    Lists the online devices known to the ADB server, after connecting to
    emulator containers selected by -emulators. Each line holds a serial and
    the device's SDK level.

Flag:
`
}

func (dc *devicesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&dc.cfg.ADB, "adb", "adb", "path to adb executable")
	f.StringVar(&dc.cfg.Emulators, "emulators", "", "docker label selecting emulator containers to connect to")
}

func (dc *devicesCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	devs, err := dc.env.devices(ctx, dc.cfg.Freeze())
	if err != nil {
		logging.Info(ctx, "Failed to list devices: ", err)
		return subcommands.ExitFailure
	}
	for _, dev := range devs {
		sdk, err := device.SDKVersion(ctx, dev)
		if err != nil {
			logging.Debugf(ctx, "Failed to get SDK level of %s: %v", dev.Serial(), err)
			fmt.Fprintf(dc.stdout, "%s\tunknown\n", dev.Serial())
			continue
		}
		fmt.Fprintf(dc.stdout, "%s\t%s\n", dev.Serial(), sdk.Original())
	}
	return subcommands.ExitSuccess
}
