// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package device

import (
	"fmt"
	"strings"
	"time"

	"go.chromium.org/devicetest/errors"
)

// CommandFailedError is returned when a command exits abnormally.
type CommandFailedError struct {
	Serial   string
	Command  string
	ExitCode int
	// Output is the combined output of the command, possibly truncated.
	Output string
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("%s: command %q failed with exit code %d: %s", e.Serial, e.Command, e.ExitCode, truncate(e.Output, 512))
}

// CommandTimeoutError is returned when a command does not finish in time.
type CommandTimeoutError struct {
	Serial  string
	Command string
	Timeout time.Duration
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("%s: command %q timed out after %v", e.Serial, e.Command, e.Timeout)
}

// DeviceUnreachableError is returned when the device is gone or offline.
type DeviceUnreachableError struct {
	Serial string
	Reason string
}

func (e *DeviceUnreachableError) Error() string {
	return fmt.Sprintf("%s: device unreachable: %s", e.Serial, e.Reason)
}

// IsCommandFailed reports whether err contains a *CommandFailedError.
func IsCommandFailed(err error) bool {
	var e *CommandFailedError
	return errors.As(err, &e)
}

// IsTimeout reports whether err contains a *CommandTimeoutError.
func IsTimeout(err error) bool {
	var e *CommandTimeoutError
	return errors.As(err, &e)
}

// IsUnreachable reports whether err contains a *DeviceUnreachableError.
func IsUnreachable(err error) bool {
	var e *DeviceUnreachableError
	return errors.As(err, &e)
}

// IsTransportError reports whether err is one of the host-level error types
// of this package. Callers salvage partial output on such errors.
func IsTransportError(err error) bool {
	return IsCommandFailed(err) || IsTimeout(err) || IsUnreachable(err)
}

// unreachableMarkers are fragments of adb output that mean the device is no
// longer usable.
var unreachableMarkers = []string{
	"error: device offline",
	"error: no devices/emulators found",
	"error: closed",
	"error: device unauthorized",
	"not found",
}

// unreachableReason returns the adb output line explaining why the device is
// unreachable, or an empty string.
func unreachableReason(serial, output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "error:") && !strings.HasPrefix(line, "adb: error:") {
			continue
		}
		for _, m := range unreachableMarkers {
			if strings.Contains(line, m) && (m != "not found" || strings.Contains(line, serial)) {
				return line
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
