// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package device

import (
	"context"
	"fmt"
	"math/rand"
	"path"

	"go.chromium.org/devicetest/errors"
)

// TempDir is the device directory temporary files are created in.
const TempDir = "/data/local/tmp"

// TempFile is a uniquely named file on the device. The file itself is not
// created; Close deletes it if the device process created it.
type TempFile struct {
	dev  Device
	Path string
}

// NewTempFile reserves a new unique device path with the given prefix and
// suffix under TempDir.
func NewTempFile(ctx context.Context, dev Device, prefix, suffix string) (*TempFile, error) {
	for i := 0; i < 10; i++ {
		p := path.Join(TempDir, fmt.Sprintf("%s%08x%s", prefix, rand.Uint32(), suffix))
		lines, err := dev.RunShellCommand(ctx, []string{"ls", p}, nil)
		if err != nil {
			return nil, err
		}
		if len(lines) == 0 || lines[0] != p {
			return &TempFile{dev: dev, Path: p}, nil
		}
	}
	return nil, errors.Errorf("%s: failed to find an unused temporary path", dev.Serial())
}

// Close removes the file from the device.
func (f *TempFile) Close(ctx context.Context) error {
	_, err := f.dev.RunShellCommand(ctx, []string{"rm", "-f", f.Path}, &ShellOptions{CheckReturn: true})
	return err
}
