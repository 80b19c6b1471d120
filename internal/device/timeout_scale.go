// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package device

import (
	"context"
	"strconv"
)

// TimeoutScaleFile is read by test frameworks on the device to scale their
// internal timeouts.
const TimeoutScaleFile = TempDir + "/chrome_timeout_scale"

// SetTimeoutScale writes scale to TimeoutScaleFile and returns a function
// that restores the previous content. A scale of 1 removes the file.
func SetTimeoutScale(ctx context.Context, dev Device, scale float64) (restore func(ctx context.Context) error, err error) {
	old, readErr := dev.ReadFile(ctx, TimeoutScaleFile)
	hadOld := readErr == nil

	if scale == 1 {
		err = removeFile(ctx, dev, TimeoutScaleFile)
	} else {
		err = dev.WriteFile(ctx, TimeoutScaleFile, []byte(strconv.FormatFloat(scale, 'f', -1, 64)))
	}
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		if hadOld {
			return dev.WriteFile(ctx, TimeoutScaleFile, old)
		}
		return removeFile(ctx, dev, TimeoutScaleFile)
	}, nil
}

func removeFile(ctx context.Context, dev Device, p string) error {
	_, err := dev.RunShellCommand(ctx, []string{"rm", "-f", p}, &ShellOptions{CheckReturn: true})
	return err
}
