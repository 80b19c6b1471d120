// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package device

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"
	"golang.org/x/sys/unix"

	"go.chromium.org/devicetest/errors"
	"go.chromium.org/devicetest/internal/logging"
)

// hostRunner runs host subprocesses such as adb in their own process group,
// so that a timeout can signal the whole process tree.
type hostRunner struct {
	clk   clock.Clock
	grace time.Duration
}

func newHostRunner() *hostRunner {
	return &hostRunner{clk: clock.NewClock(), grace: KillGracePeriod}
}

// hostResult is the outcome of a host subprocess.
type hostResult struct {
	Output   []byte // combined stdout and stderr
	ExitCode int
	TimedOut bool
}

// run runs args until it exits, ctx is canceled, or timeout passes. A
// non-positive timeout means no timeout.
//
// On timeout or cancellation the process group gets SIGTERM, then SIGKILL if
// it is still running after the grace period. The output produced until then
// is returned in every case. The returned error is non-nil only if the
// process could not be started or ctx was canceled.
func (r *hostRunner) run(ctx context.Context, timeout time.Duration, args []string) (*hostResult, error) {
	var out bytes.Buffer
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	// Set a process group ID so we can signal the process and its children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	logging.Debugf(ctx, "Running %q", args)
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", args[0])
	}
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var timerC <-chan time.Time
	if timeout > 0 {
		tm := r.clk.NewTimer(timeout)
		defer tm.Stop()
		timerC = tm.C()
	}

	res := &hostResult{}
	var waitErr, ctxErr error
	select {
	case waitErr = <-done:
	case <-timerC:
		res.TimedOut = true
		waitErr = r.terminate(ctx, cmd, done)
	case <-ctx.Done():
		ctxErr = ctx.Err()
		waitErr = r.terminate(ctx, cmd, done)
	}

	res.Output = out.Bytes()
	var ee *exec.ExitError
	if errors.As(waitErr, &ee) {
		res.ExitCode = ee.ExitCode()
	} else if waitErr != nil {
		res.ExitCode = -1
	}
	return res, ctxErr
}

// terminate stops the process group of cmd and waits for cmd to exit.
func (r *hostRunner) terminate(ctx context.Context, cmd *exec.Cmd, done <-chan error) error {
	pgid := -cmd.Process.Pid
	logging.Debugf(ctx, "Sending SIGTERM to process group %d", -pgid)
	unix.Kill(pgid, unix.SIGTERM)

	tm := r.clk.NewTimer(r.grace)
	defer tm.Stop()
	select {
	case err := <-done:
		return err
	case <-tm.C():
	}
	logging.Debugf(ctx, "Process group %d still running after %v; sending SIGKILL", -pgid, r.grace)
	unix.Kill(pgid, unix.SIGKILL)
	return <-done
}

// hostStream is the combined output of a long-running host subprocess, such
// as logcat. Closing it stops the process.
type hostStream struct {
	out   io.ReadCloser
	cmd   *exec.Cmd
	clk   clock.Clock
	grace time.Duration

	eof     chan struct{} // closed when a read reached the end of output
	eofOnce sync.Once
}

// stream starts args in its own process group. The process runs until the
// returned stream is closed.
func (r *hostRunner) stream(ctx context.Context, args []string) (*hostStream, error) {
	cmd := exec.Command(args[0], args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout

	logging.Debugf(ctx, "Running %q", args)
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", args[0])
	}
	return &hostStream{out: out, cmd: cmd, clk: r.clk, grace: r.grace, eof: make(chan struct{})}, nil
}

func (s *hostStream) Read(p []byte) (int, error) {
	n, err := s.out.Read(p)
	if err != nil {
		s.eofOnce.Do(func() { close(s.eof) })
	}
	return n, err
}

// Close sends SIGTERM to the process group and waits until the reader has
// consumed the output up to its end, so lines written while exiting are not
// lost. The process group gets SIGKILL if the output has not ended within the
// grace period. The process is reaped last since that closes the pipe.
func (s *hostStream) Close() error {
	pgid := -s.cmd.Process.Pid
	unix.Kill(pgid, unix.SIGTERM)

	tm := s.clk.NewTimer(s.grace)
	defer tm.Stop()
	select {
	case <-s.eof:
	case <-tm.C():
		unix.Kill(pgid, unix.SIGKILL)
	}
	// The exit status of a terminated stream is not interesting.
	s.cmd.Wait()
	return nil
}
