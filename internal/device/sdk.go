// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package device

import (
	"context"
	"strings"

	"github.com/hashicorp/go-version"

	"go.chromium.org/devicetest/errors"
)

// GetProp returns the value of a system property.
func GetProp(ctx context.Context, dev Device, name string) (string, error) {
	lines, err := dev.RunShellCommand(ctx, []string{"getprop", name}, &ShellOptions{CheckReturn: true})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

// SDKVersion returns the API level of the device as a version.
func SDKVersion(ctx context.Context, dev Device) (*version.Version, error) {
	v, err := GetProp(ctx, dev, "ro.build.version.sdk")
	if err != nil {
		return nil, err
	}
	ver, err := version.NewVersion(v)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: bad SDK version %q", dev.Serial(), v)
	}
	return ver, nil
}

// AtLeastSDK reports whether the device API level is at least level.
func AtLeastSDK(ctx context.Context, dev Device, level int) (bool, error) {
	ver, err := SDKVersion(ctx, dev)
	if err != nil {
		return false, err
	}
	return ver.Segments()[0] >= level, nil
}
