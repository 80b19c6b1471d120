// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package archive

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"go.chromium.org/devicetest/internal/logging"
)

// LocalArchiver keeps artifacts in a host directory.
type LocalArchiver struct {
	dir string
}

var _ Archiver = (*LocalArchiver)(nil)

// NewLocalArchiver returns an archiver writing under dir.
func NewLocalArchiver(dir string) (*LocalArchiver, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &LocalArchiver{dir: abs}, nil
}

func (a *LocalArchiver) ArchivedTempfile(ctx context.Context, name, category, datatype string) (*File, error) {
	p := filepath.Join(a.dir, category, name)
	return newFile(p, func(ctx context.Context, hostPath string) (string, error) {
		if fi, err := os.Stat(hostPath); err == nil {
			logging.Debugf(ctx, "Archived %s (%s)", hostPath, humanize.Bytes(uint64(fi.Size())))
		}
		return "file://" + hostPath, nil
	})
}

func (a *LocalArchiver) Remote() bool { return false }
