// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package device

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/electricbubble/gadb"
	"github.com/kballard/go-shellquote"

	"go.chromium.org/devicetest/errors"
	"go.chromium.org/devicetest/internal/logging"
)

const (
	installTimeout   = 4 * time.Minute
	bugreportTimeout = 5 * time.Minute
)

// Bridge discovers and connects to devices through the local ADB server.
type Bridge struct {
	adbPath string
	client  gadb.Client
	runner  *hostRunner
}

// NewBridge connects to the local ADB server. adbPath is the adb executable
// used for commands the ADB server protocol does not cover well, such as
// shell commands that need exit codes and timeouts.
func NewBridge(adbPath string) (*Bridge, error) {
	client, err := gadb.NewClient()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to ADB server")
	}
	return &Bridge{adbPath: adbPath, client: client, runner: newHostRunner()}, nil
}

// Connect asks the ADB server to connect to a network device at addr
// ("host:port"), e.g. an emulator running in a container.
func (b *Bridge) Connect(ctx context.Context, addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return errors.Wrapf(err, "failed to parse adb address %q", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return errors.Wrapf(err, "failed to parse adb port %q", portStr)
	}
	logging.Debugf(ctx, "Connecting ADB to %s", addr)
	if err := b.client.Connect(host, port); err != nil {
		return errors.Wrapf(err, "failed to connect to %s", addr)
	}
	return nil
}

// Devices returns every online device known to the ADB server, sorted by
// serial.
func (b *Bridge) Devices(ctx context.Context) ([]Device, error) {
	devs, err := b.client.DeviceList()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get ADB devices")
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].Serial() < devs[j].Serial() })

	var out []Device
	for _, d := range devs {
		state, err := d.State()
		if err != nil || state != gadb.StateOnline {
			logging.Infof(ctx, "Ignoring device %s in state %q", d.Serial(), state)
			continue
		}
		out = append(out, b.newDevice(d))
	}
	return out, nil
}

// Device returns the online device with the given serial.
func (b *Bridge) Device(ctx context.Context, serial string) (Device, error) {
	devs, err := b.Devices(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range devs {
		if d.Serial() == serial {
			return d, nil
		}
	}
	return nil, &DeviceUnreachableError{Serial: serial, Reason: "not attached or not online"}
}

func (b *Bridge) newDevice(d gadb.Device) *adbDevice {
	return &adbDevice{dev: d, serial: d.Serial(), adbPath: b.adbPath, runner: b.runner}
}

// adbDevice is a Device backed by the ADB server protocol for file transfer
// and by the adb executable for everything else.
type adbDevice struct {
	dev     gadb.Device
	serial  string
	adbPath string
	runner  *hostRunner
}

var _ Device = (*adbDevice)(nil)

func (d *adbDevice) Serial() string { return d.serial }

// adb runs the adb executable against this device and classifies host-level
// failures.
func (d *adbDevice) adb(ctx context.Context, timeout time.Duration, args ...string) (*hostResult, error) {
	full := append([]string{d.adbPath, "-s", d.serial}, args...)
	cmdline := strings.Join(args, " ")
	res, err := d.runner.run(ctx, timeout, full)
	if err != nil {
		return res, errors.Wrapf(err, "%s: adb %s", d.serial, cmdline)
	}
	if res.TimedOut {
		return res, &CommandTimeoutError{Serial: d.serial, Command: cmdline, Timeout: timeout}
	}
	if res.ExitCode != 0 {
		if reason := unreachableReason(d.serial, string(res.Output)); reason != "" {
			return res, &DeviceUnreachableError{Serial: d.serial, Reason: reason}
		}
	}
	return res, nil
}

// shellCommandLine builds the device shell command line for cmd.
func shellCommandLine(cmd []string, opts *ShellOptions) string {
	line := shellquote.Join(cmd...)
	if opts.RunAs != "" {
		line = shellquote.Join("run-as", opts.RunAs, "sh", "-c", line)
	}
	if opts.AsRoot {
		line = shellquote.Join("su", "0", "sh", "-c", line)
	}
	return line
}

func (d *adbDevice) RunShellCommand(ctx context.Context, cmd []string, opts *ShellOptions) ([]string, error) {
	if opts == nil {
		opts = &ShellOptions{}
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultShellTimeout
	}
	line := shellCommandLine(cmd, opts)
	res, err := d.adb(ctx, timeout, "shell", line)
	var lines []string
	if res != nil {
		lines = splitLines(res.Output)
	}
	if err != nil {
		return lines, err
	}
	if opts.CheckReturn && res.ExitCode != 0 {
		return lines, &CommandFailedError{Serial: d.serial, Command: line, ExitCode: res.ExitCode, Output: string(res.Output)}
	}
	return lines, nil
}

func (d *adbDevice) Install(ctx context.Context, apkPath string) error {
	args := []string{"install", "-r"}
	if ok, err := AtLeastSDK(ctx, d, 23); err == nil && ok {
		// Grant runtime permissions at install time.
		args = append(args, "-g")
	}
	args = append(args, apkPath)
	res, err := d.adb(ctx, installTimeout, args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 || !bytes.Contains(res.Output, []byte("Success")) {
		return &CommandFailedError{Serial: d.serial, Command: strings.Join(args, " "), ExitCode: res.ExitCode, Output: string(res.Output)}
	}
	return nil
}

func (d *adbDevice) Uninstall(ctx context.Context, pkg string) error {
	res, err := d.adb(ctx, installTimeout, "uninstall", pkg)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &CommandFailedError{Serial: d.serial, Command: "uninstall " + pkg, ExitCode: res.ExitCode, Output: string(res.Output)}
	}
	return nil
}

func (d *adbDevice) PushChangedFiles(ctx context.Context, files []FilePair) error {
	var all []FilePair
	for _, fp := range files {
		expanded, err := expandHostTree(fp)
		if err != nil {
			return err
		}
		all = append(all, expanded...)
	}
	if len(all) == 0 {
		return nil
	}

	sums, err := d.deviceMD5(ctx, all)
	if err != nil {
		logging.Debugf(ctx, "Failed to compute device checksums; pushing everything: %v", err)
		sums = nil
	}

	var pushed uint64
	dirs := make(map[string]bool)
	for _, fp := range all {
		hostSum, size, err := hostMD5(fp.Host)
		if err != nil {
			return err
		}
		if sums[fp.Device] == hostSum {
			continue
		}
		if dir := path.Dir(fp.Device); !dirs[dir] {
			if _, err := d.RunShellCommand(ctx, []string{"mkdir", "-p", dir}, &ShellOptions{CheckReturn: true}); err != nil {
				return err
			}
			dirs[dir] = true
		}
		if err := d.pushFile(ctx, fp); err != nil {
			return err
		}
		pushed += size
	}
	logging.Debugf(ctx, "Pushed %s to %s", humanize.Bytes(pushed), d.serial)
	return nil
}

func (d *adbDevice) pushFile(ctx context.Context, fp FilePair) error {
	f, err := os.Open(fp.Host)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := d.dev.PushFile(f, fp.Device); err != nil {
		return d.transferError(err, "push "+fp.Device)
	}
	return nil
}

// deviceMD5 returns the md5 checksums of the device paths in files that
// exist on the device.
func (d *adbDevice) deviceMD5(ctx context.Context, files []FilePair) (map[string]string, error) {
	cmd := []string{"md5sum"}
	for _, fp := range files {
		cmd = append(cmd, fp.Device)
	}
	// md5sum exits non-zero if any file is missing, which is expected.
	lines, err := d.RunShellCommand(ctx, cmd, &ShellOptions{Timeout: 2 * time.Minute})
	if err != nil {
		return nil, err
	}
	sums := make(map[string]string)
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 2 && len(fields[0]) == 32 {
			sums[fields[1]] = fields[0]
		}
	}
	return sums, nil
}

func (d *adbDevice) PullFile(ctx context.Context, devicePath, hostPath string) error {
	if err := os.MkdirAll(filepath.Dir(hostPath), 0755); err != nil {
		return err
	}
	f, err := os.Create(hostPath)
	if err != nil {
		return err
	}
	if err := d.dev.Pull(devicePath, f); err != nil {
		f.Close()
		os.Remove(hostPath)
		return d.transferError(err, "pull "+devicePath)
	}
	return f.Close()
}

func (d *adbDevice) ReadFile(ctx context.Context, devicePath string) ([]byte, error) {
	var buf bytes.Buffer
	if err := d.dev.Pull(devicePath, &buf); err != nil {
		return nil, d.transferError(err, "read "+devicePath)
	}
	return buf.Bytes(), nil
}

func (d *adbDevice) WriteFile(ctx context.Context, devicePath string, data []byte) error {
	if err := d.dev.Push(bytes.NewReader(data), devicePath, time.Now()); err != nil {
		return d.transferError(err, "write "+devicePath)
	}
	return nil
}

// transferError converts a sync protocol error, distinguishing a device that
// went away from an ordinary failure.
func (d *adbDevice) transferError(err error, op string) error {
	if state, serr := d.dev.State(); serr != nil || state != gadb.StateOnline {
		return &DeviceUnreachableError{Serial: d.serial, Reason: op + ": " + err.Error()}
	}
	return &CommandFailedError{Serial: d.serial, Command: op, ExitCode: -1, Output: err.Error()}
}

// instrumentCommand builds the "am instrument" command line.
func instrumentCommand(target string, extras map[string]string, raw bool) []string {
	cmd := []string{"am", "instrument", "-w"}
	if raw {
		cmd = append(cmd, "-r")
	}
	keys := make([]string, 0, len(extras))
	for k := range extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd = append(cmd, "-e", k, extras[k])
	}
	return append(cmd, target)
}

func (d *adbDevice) StartInstrumentation(ctx context.Context, target string, extras map[string]string, opts *InstrumentationOptions) ([]string, error) {
	if opts == nil {
		opts = &InstrumentationOptions{}
	}
	cmd := instrumentCommand(target, extras, opts.Raw)
	var lines []string
	var err error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			logging.Infof(ctx, "Retrying instrumentation on %s (attempt %d): %v", d.serial, attempt+1, err)
		}
		var res *hostResult
		res, err = d.adb(ctx, opts.Timeout, "shell", shellquote.Join(cmd...))
		if res != nil {
			lines = splitLines(res.Output)
		}
		if err == nil || !IsCommandFailed(err) {
			break
		}
	}
	return lines, err
}

func (d *adbDevice) Logcat(ctx context.Context, args []string) (io.ReadCloser, error) {
	s, err := d.runner.stream(ctx, append([]string{d.adbPath, "-s", d.serial, "logcat"}, args...))
	if err != nil {
		return nil, errors.Wrapf(err, "%s: failed to start logcat", d.serial)
	}
	return s, nil
}

func (d *adbDevice) BugReport(ctx context.Context, hostPath string) error {
	res, err := d.adb(ctx, bugreportTimeout, "bugreport", hostPath)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &CommandFailedError{Serial: d.serial, Command: "bugreport", ExitCode: res.ExitCode, Output: string(res.Output)}
	}
	return nil
}

// splitLines splits command output into lines without trailing CRs.
func splitLines(b []byte) []string {
	s := strings.TrimRight(string(b), "\r\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// expandHostTree expands a host directory into the files under it.
func expandHostTree(fp FilePair) ([]FilePair, error) {
	fi, err := os.Stat(fp.Host)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return []FilePair{fp}, nil
	}
	var out []FilePair
	err = filepath.Walk(fp.Host, func(p string, info os.FileInfo, err error) error {
		if err != nil || !info.Mode().IsRegular() {
			return err
		}
		rel, err := filepath.Rel(fp.Host, p)
		if err != nil {
			return err
		}
		out = append(out, FilePair{Host: p, Device: path.Join(fp.Device, filepath.ToSlash(rel))})
		return nil
	})
	return out, err
}

func hostMD5(p string) (sum string, size uint64, err error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := md5.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), uint64(n), nil
}
