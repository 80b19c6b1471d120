// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package device

import (
	"context"
	"strings"

	"github.com/google/shlex"
	"github.com/kballard/go-shellquote"
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"

	"go.chromium.org/devicetest/errors"
)

// FlagChanger edits a command-line flags file on the device, such as the one
// read by Chrome-based test APKs at startup. The first token of the file is
// a placeholder program name.
type FlagChanger struct {
	dev  Device
	path string

	orig    []byte
	hadOrig bool
	flags   []string
}

// NewFlagChanger reads the current flags file at path and remembers it for
// Restore.
func NewFlagChanger(ctx context.Context, dev Device, path string) (*FlagChanger, error) {
	fc := &FlagChanger{dev: dev, path: path}
	b, err := dev.ReadFile(ctx, path)
	if err != nil {
		if IsUnreachable(err) {
			return nil, err
		}
		return fc, nil
	}
	fc.orig = b
	fc.hadOrig = true
	fc.flags, err = parseFlagsFile(string(b))
	if err != nil {
		return nil, errors.Wrapf(err, "%s: failed to parse %s", dev.Serial(), path)
	}
	return fc, nil
}

func parseFlagsFile(s string) ([]string, error) {
	toks, err := shlex.Split(s)
	if err != nil {
		return nil, err
	}
	if len(toks) > 0 && !strings.HasPrefix(toks[0], "-") {
		toks = toks[1:]
	}
	return toks, nil
}

// Flags returns the current flags.
func (fc *FlagChanger) Flags() []string {
	return append([]string(nil), fc.flags...)
}

// AddFlags adds flags that are not already present and writes the file.
func (fc *FlagChanger) AddFlags(ctx context.Context, flags []string) error {
	next := fc.Flags()
	for _, f := range flags {
		if !slices.Contains(next, f) {
			next = append(next, f)
		}
	}
	return fc.ReplaceFlags(ctx, next)
}

// RemoveFlags removes flags and writes the file.
func (fc *FlagChanger) RemoveFlags(ctx context.Context, flags []string) error {
	var next []string
	for _, f := range fc.flags {
		if !slices.Contains(flags, f) {
			next = append(next, f)
		}
	}
	return fc.ReplaceFlags(ctx, next)
}

// ReplaceFlags replaces all flags and writes the file.
func (fc *FlagChanger) ReplaceFlags(ctx context.Context, flags []string) error {
	content := shellquote.Join(append([]string{"_"}, flags...)...) + "\n"
	if err := fc.dev.WriteFile(ctx, fc.path, []byte(content)); err != nil {
		return err
	}
	if _, err := fc.dev.RunShellCommand(ctx, []string{"chmod", "0644", fc.path}, &ShellOptions{CheckReturn: true}); err != nil {
		return err
	}
	fc.flags = append([]string(nil), flags...)
	return nil
}

// Restore puts the original file back, or deletes the file if there was
// none.
func (fc *FlagChanger) Restore(ctx context.Context) error {
	var err error
	if fc.hadOrig {
		err = multierr.Append(err, fc.dev.WriteFile(ctx, fc.path, fc.orig))
		fc.flags, _ = parseFlagsFile(string(fc.orig))
	} else {
		err = multierr.Append(err, removeFile(ctx, fc.dev, fc.path))
		fc.flags = nil
	}
	return err
}
