// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"strings"

	"go.chromium.org/devicetest/errors"
	"go.chromium.org/devicetest/internal/archive"
	"go.chromium.org/devicetest/internal/config"
	"go.chromium.org/devicetest/internal/device"
	"go.chromium.org/devicetest/internal/logging"
)

// environment wraps access to devices and artifact storage so that they can
// be stubbed out for testing.
type environment interface {
	// devices returns the devices selected by cfg.
	devices(ctx context.Context, cfg *config.Config) ([]device.Device, error)
	// archiver returns the artifact archiver selected by cfg.
	archiver(ctx context.Context, cfg *config.Config) (archive.Archiver, error)
}

// realEnvironment is an environment talking to the local ADB server, docker
// and Google Cloud Storage.
type realEnvironment struct{}

func newRealEnvironment() *realEnvironment { return &realEnvironment{} }

func (realEnvironment) devices(ctx context.Context, cfg *config.Config) ([]device.Device, error) {
	bridge, err := device.NewBridge(cfg.ADB())
	if err != nil {
		return nil, err
	}

	if label := cfg.Emulators(); label != "" {
		addrs, err := device.DiscoverEmulators(ctx, label)
		if err != nil {
			return nil, err
		}
		logging.Infof(ctx, "Found %d emulator(s) with label %s", len(addrs), label)
		for _, addr := range addrs {
			if err := bridge.Connect(ctx, addr); err != nil {
				logging.Warning(ctx, err)
			}
		}
	}

	serials := cfg.Devices()
	if len(serials) == 0 {
		devs, err := bridge.Devices(ctx)
		if err != nil {
			return nil, err
		}
		if len(devs) == 0 {
			return nil, errors.New("no online devices found")
		}
		return devs, nil
	}

	var devs []device.Device
	for _, serial := range serials {
		if strings.Contains(serial, ":") {
			if err := bridge.Connect(ctx, serial); err != nil {
				return nil, err
			}
		}
		dev, err := bridge.Device(ctx, serial)
		if err != nil {
			return nil, err
		}
		devs = append(devs, dev)
	}
	return devs, nil
}

func (realEnvironment) archiver(ctx context.Context, cfg *config.Config) (archive.Archiver, error) {
	switch cfg.Archive() {
	case config.ArchiveGS:
		return archive.NewGSArchiver(ctx, cfg.GSBucket(), cfg.GSPrefix(), cfg.ArchiveDir())
	default:
		return archive.NewLocalArchiver(cfg.ArchiveDir())
	}
}
