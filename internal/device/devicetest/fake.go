// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package devicetest provides a fake device.Device for unit tests.
package devicetest

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"go.chromium.org/devicetest/internal/device"
)

// ShellHandler handles a shell command on a fake device.
type ShellHandler func(ctx context.Context, cmd []string, opts *device.ShellOptions) ([]string, error)

// InstrumentHandler handles an instrumentation invocation on a fake device.
type InstrumentHandler func(ctx context.Context, target string, extras map[string]string, opts *device.InstrumentationOptions) ([]string, error)

// Device is an in-memory device.Device. Its file system is a flat map from
// device paths to contents.
//
// Shell commands are dispatched on their first word to Shell handlers. A few
// commands used by the device package (getprop, ls, rm, mkdir, chmod, logcat
// and md5sum) have built-in behavior when no handler is registered. Other
// commands succeed with no output.
type Device struct {
	SerialValue string

	// SDK is returned for ro.build.version.sdk.
	SDK string
	// Shell maps command names to handlers.
	Shell map[string]ShellHandler
	// Instrument handles StartInstrumentation. Nil makes it fail.
	Instrument InstrumentHandler
	// InstallErr is returned by Install if set.
	InstallErr error
	// BugReportErr is returned by BugReport if set.
	BugReportErr error
	// LogcatOutput is streamed by Logcat.
	LogcatOutput string

	mu        sync.Mutex
	files     map[string][]byte
	installed map[string]bool
	commands  [][]string
	bugs      []string
}

var _ device.Device = (*Device)(nil)

// New returns a fake device with the given serial.
func New(serial string) *Device {
	return &Device{
		SerialValue: serial,
		SDK:         "30",
		Shell:       make(map[string]ShellHandler),
		files:       make(map[string][]byte),
		installed:   make(map[string]bool),
	}
}

// File returns the content of a device file.
func (d *Device) File(p string) (data []byte, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok = d.files[p]
	return data, ok
}

// SetFile sets the content of a device file.
func (d *Device) SetFile(p string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[p] = data
}

// Installed reports whether an APK was installed.
func (d *Device) Installed(apk string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.installed[apk]
}

// Commands returns the shell commands run so far.
func (d *Device) Commands() [][]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]string(nil), d.commands...)
}

// BugReports returns the host paths bugreports were written to.
func (d *Device) BugReports() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.bugs...)
}

func (d *Device) Serial() string { return d.SerialValue }

func (d *Device) RunShellCommand(ctx context.Context, cmd []string, opts *device.ShellOptions) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &device.ShellOptions{}
	}
	d.mu.Lock()
	d.commands = append(d.commands, append([]string(nil), cmd...))
	h := d.Shell[cmd[0]]
	d.mu.Unlock()

	if h != nil {
		return h(ctx, cmd, opts)
	}
	return d.builtin(cmd, opts)
}

func (d *Device) builtin(cmd []string, opts *device.ShellOptions) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch cmd[0] {
	case "getprop":
		if len(cmd) > 1 && cmd[1] == "ro.build.version.sdk" {
			return []string{d.SDK}, nil
		}
		return []string{""}, nil
	case "ls":
		var out []string
		for _, p := range cmd[1:] {
			if _, ok := d.files[p]; ok {
				out = append(out, p)
			}
		}
		return out, nil
	case "rm":
		for _, p := range cmd[1:] {
			if !strings.HasPrefix(p, "-") {
				delete(d.files, p)
			}
		}
	}
	return nil, nil
}

func (d *Device) Install(ctx context.Context, apkPath string) error {
	if d.InstallErr != nil {
		return d.InstallErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.installed[apkPath] = true
	return nil
}

func (d *Device) Uninstall(ctx context.Context, pkg string) error {
	return nil
}

func (d *Device) PushChangedFiles(ctx context.Context, files []device.FilePair) error {
	for _, fp := range files {
		b, err := os.ReadFile(fp.Host)
		if err != nil {
			return err
		}
		d.SetFile(fp.Device, b)
	}
	return nil
}

func (d *Device) PullFile(ctx context.Context, devicePath, hostPath string) error {
	b, err := d.ReadFile(ctx, devicePath)
	if err != nil {
		return err
	}
	return os.WriteFile(hostPath, b, 0644)
}

func (d *Device) ReadFile(ctx context.Context, devicePath string) ([]byte, error) {
	b, ok := d.File(devicePath)
	if !ok {
		return nil, &device.CommandFailedError{Serial: d.SerialValue, Command: "read " + devicePath, ExitCode: 1, Output: "No such file or directory"}
	}
	return b, nil
}

func (d *Device) WriteFile(ctx context.Context, devicePath string, data []byte) error {
	d.SetFile(devicePath, append([]byte(nil), data...))
	return nil
}

func (d *Device) StartInstrumentation(ctx context.Context, target string, extras map[string]string, opts *device.InstrumentationOptions) ([]string, error) {
	if opts == nil {
		opts = &device.InstrumentationOptions{}
	}
	if d.Instrument == nil {
		return nil, &device.CommandFailedError{Serial: d.SerialValue, Command: "am instrument " + target, ExitCode: 1}
	}
	return d.Instrument(ctx, target, extras, opts)
}

func (d *Device) Logcat(ctx context.Context, args []string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(d.LogcatOutput)), nil
}

func (d *Device) BugReport(ctx context.Context, hostPath string) error {
	if d.BugReportErr != nil {
		return d.BugReportErr
	}
	d.mu.Lock()
	d.bugs = append(d.bugs, hostPath)
	d.mu.Unlock()
	return os.WriteFile(hostPath, []byte("bugreport"), 0644)
}
