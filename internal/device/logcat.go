// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package device

import (
	"context"
	"io"

	"go.chromium.org/devicetest/errors"
	"go.chromium.org/devicetest/internal/logging"
)

// LogcatMonitor copies the device log to a writer in the background.
type LogcatMonitor struct {
	serial string
	stream io.ReadCloser
	done   chan error
}

// StartLogcatMonitor clears the device log buffer and starts copying new log
// entries matching filters to w. Filters are logcat filterspecs such as
// "ActivityManager:I". An empty list selects everything.
func StartLogcatMonitor(ctx context.Context, dev Device, w io.Writer, filters []string) (*LogcatMonitor, error) {
	if _, err := dev.RunShellCommand(ctx, []string{"logcat", "-c"}, nil); err != nil {
		return nil, errors.Wrap(err, "failed to clear logcat")
	}
	args := []string{"-v", "threadtime"}
	if len(filters) > 0 {
		args = append(args, filters...)
		args = append(args, "*:S")
	}
	stream, err := dev.Logcat(ctx, args)
	if err != nil {
		return nil, err
	}
	m := &LogcatMonitor{serial: dev.Serial(), stream: stream, done: make(chan error, 1)}
	go func() {
		_, err := io.Copy(w, stream)
		m.done <- err
	}()
	logging.Debugf(ctx, "Started logcat monitor on %s", m.serial)
	return m, nil
}

// Close stops the monitor and waits until everything read has been written.
func (m *LogcatMonitor) Close(ctx context.Context) error {
	cerr := m.stream.Close()
	err := <-m.done
	logging.Debugf(ctx, "Stopped logcat monitor on %s", m.serial)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
		// A read error after the stream was closed is expected.
		logging.Debugf(ctx, "Logcat copy on %s ended with: %v", m.serial, err)
	}
	return cerr
}
