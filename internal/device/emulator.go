// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package device

import (
	"context"
	"net"
	"sort"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	"go.chromium.org/devicetest/errors"
	"go.chromium.org/devicetest/internal/logging"
)

// emulatorADBPort is the port the ADB daemon listens on inside an emulator
// container.
const emulatorADBPort = 5555

// DiscoverEmulators returns the host ADB addresses ("host:port") of running
// Docker containers carrying label that publish the emulator ADB port.
func DiscoverEmulators(ctx context.Context, label string) ([]string, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Docker client")
	}
	defer cli.Close()

	containers, err := cli.ContainerList(ctx, types.ContainerListOptions{
		Filters: filters.NewArgs(filters.Arg("label", label)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list containers")
	}
	addrs := emulatorAddrs(containers)
	logging.Infof(ctx, "Found %d emulator container(s) with label %q", len(addrs), label)
	return addrs, nil
}

func emulatorAddrs(containers []types.Container) []string {
	var addrs []string
	for _, c := range containers {
		for _, p := range c.Ports {
			if p.PrivatePort != emulatorADBPort || p.PublicPort == 0 {
				continue
			}
			ip := p.IP
			if ip == "" || ip == "0.0.0.0" || ip == "::" {
				ip = "127.0.0.1"
			}
			addrs = append(addrs, net.JoinHostPort(ip, strconv.Itoa(int(p.PublicPort))))
			break
		}
	}
	sort.Strings(addrs)
	return addrs
}
