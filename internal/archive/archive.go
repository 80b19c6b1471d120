// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package archive stores test artifacts such as logcat dumps, screenshots
// and tombstones, and produces links to them for test results.
package archive

import (
	"context"
	"os"
	"path/filepath"

	"go.chromium.org/devicetest/errors"
)

// Archiver creates artifact files.
type Archiver interface {
	// ArchivedTempfile returns a new file to write an artifact to. name is
	// the file's base name, category groups related files (e.g. "logcat")
	// and datatype is its MIME type. The artifact is stored when the file
	// is closed.
	ArchivedTempfile(ctx context.Context, name, category, datatype string) (*File, error)
	// Remote reports whether artifacts leave the host.
	Remote() bool
}

// finishFunc stores the artifact at hostPath and returns its link.
type finishFunc func(ctx context.Context, hostPath string) (string, error)

// File is an artifact being written. It implements io.Writer.
type File struct {
	f      *os.File
	finish finishFunc
	link   string
	closed bool
}

func newFile(path string, finish finishFunc) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &File{f: f, finish: finish}, nil
}

// Name returns the host path of the file while it is being written.
func (f *File) Name() string { return f.f.Name() }

func (f *File) Write(p []byte) (int, error) { return f.f.Write(p) }

// Close stores the artifact. It is safe to call Close more than once.
func (f *File) Close(ctx context.Context) error {
	if f.closed {
		return nil
	}
	f.closed = true
	if err := f.f.Close(); err != nil {
		return err
	}
	link, err := f.finish(ctx, f.f.Name())
	if err != nil {
		return errors.Wrapf(err, "failed to archive %s", filepath.Base(f.f.Name()))
	}
	f.link = link
	return nil
}

// Link returns where the artifact can be found. It is empty until Close
// succeeds.
func (f *File) Link() string { return f.link }
