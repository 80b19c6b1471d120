// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package device provides access to Android devices over ADB.
package device

import (
	"context"
	"io"
	"time"
)

// Device is a single physical or virtual Android device.
//
// Methods that talk to the device block until the operation finishes, the
// context is canceled, or a per-call timeout expires. Host-level failures are
// reported as *CommandFailedError, *CommandTimeoutError or
// *DeviceUnreachableError.
type Device interface {
	// Serial returns the ADB serial of the device.
	Serial() string

	// RunShellCommand runs cmd with the device shell and returns its output
	// lines. opts may be nil.
	RunShellCommand(ctx context.Context, cmd []string, opts *ShellOptions) ([]string, error)

	// Install installs an APK from the host.
	Install(ctx context.Context, apkPath string) error
	// Uninstall removes a package.
	Uninstall(ctx context.Context, pkg string) error
	// PushChangedFiles pushes host files or directories to the device,
	// skipping files whose content is already identical on the device.
	PushChangedFiles(ctx context.Context, files []FilePair) error
	// PullFile copies a device file to the host.
	PullFile(ctx context.Context, devicePath, hostPath string) error
	// ReadFile returns the content of a device file.
	ReadFile(ctx context.Context, devicePath string) ([]byte, error)
	// WriteFile replaces the content of a device file.
	WriteFile(ctx context.Context, devicePath string, data []byte) error

	// StartInstrumentation runs "am instrument" on target and returns the
	// raw output lines. On a host-level error the output collected so far is
	// returned together with the error.
	StartInstrumentation(ctx context.Context, target string, extras map[string]string, opts *InstrumentationOptions) ([]string, error)

	// Logcat starts streaming logcat with args. Closing the returned reader
	// stops the stream.
	Logcat(ctx context.Context, args []string) (io.ReadCloser, error)
	// BugReport writes a bugreport zip to hostPath.
	BugReport(ctx context.Context, hostPath string) error
}

// ShellOptions holds options for Device.RunShellCommand.
type ShellOptions struct {
	// Timeout bounds the command. Zero means DefaultShellTimeout.
	Timeout time.Duration
	// CheckReturn makes a non-zero exit status a *CommandFailedError.
	CheckReturn bool
	// AsRoot runs the command through su.
	AsRoot bool
	// RunAs runs the command as the given package through run-as.
	RunAs string
}

// InstrumentationOptions holds options for Device.StartInstrumentation.
type InstrumentationOptions struct {
	// Timeout bounds the whole invocation. Zero disables the timeout.
	Timeout time.Duration
	// Retries is the number of extra attempts made after a host-level
	// command failure. Timeouts and unreachable devices are not retried.
	Retries int
	// Raw requests "am instrument -r" status output.
	Raw bool
}

// FilePair maps a host path to a device path.
type FilePair struct {
	Host   string
	Device string
}

const (
	// DefaultShellTimeout is used by RunShellCommand when no timeout is
	// given.
	DefaultShellTimeout = 30 * time.Second
	// KillGracePeriod is how long a timed out host command may take to exit
	// after SIGTERM before it is killed.
	KillGracePeriod = 10 * time.Second
)
