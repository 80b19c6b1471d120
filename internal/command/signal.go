// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package command

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/pprof"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

var selfName = filepath.Base(os.Args[0])

// InstallSignalHandler installs a handler for SIGINT and SIGTERM and returns a
// context that is canceled on the first signal.
//
// On the first signal, the terminal state is restored, and for SIGTERM the
// goroutines are dumped to out and every child process of this process is
// terminated. The process keeps running so that device teardown and log
// capture can complete. A second signal exits immediately with status 1.
//
// The returned stop function uninstalls the handler.
func InstallSignalHandler(ctx context.Context, out io.Writer) (sctx context.Context, stop func()) {
	var st *term.State
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		if s, err := term.GetState(fd); err == nil {
			st = s
		}
	}

	sctx, cancel := context.WithCancelCause(ctx)
	ch := make(chan os.Signal, 2)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			fmt.Fprintf(out, "\n%s: Caught %v signal; cleaning up\n", selfName, sig)
			if st != nil {
				term.Restore(fd, st)
			}
			if sig == unix.SIGTERM {
				handleSIGTERM(out)
			}
			cancel(fmt.Errorf("caught %v signal", sig))
		case <-done:
			return
		}
		select {
		case sig := <-ch:
			fmt.Fprintf(out, "\n%s: Caught %v signal again; exiting\n", selfName, sig)
			os.Exit(1)
		case <-done:
		}
	}()
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM)

	return sctx, func() {
		signal.Stop(ch)
		close(done)
		cancel(context.Canceled)
	}
}

func handleSIGTERM(out io.Writer) {
	// SIGTERM is often sent by the parent process on timeout. In this
	// case, print stack traces to help debugging.
	fmt.Fprintf(out, "\n%s: Dumping all goroutines...\n\n", selfName)
	if p := pprof.Lookup("goroutine"); p != nil {
		p.WriteTo(out, 2)
	}
	fmt.Fprintf(out, "\n%s: Finished dumping goroutines\n", selfName)

	if n, err := TerminateChildren(); err != nil {
		fmt.Fprintf(out, "Failed to terminate subprocesses: %v\n", err)
	} else {
		fmt.Fprintf(out, "%s: Sent SIGTERM to %d subprocess(es)\n", selfName, n)
	}
}

// TerminateChildren sends SIGTERM to every direct child process of this
// process, e.g. in-flight adb invocations. It returns the number of processes
// signaled.
func TerminateChildren() (int, error) {
	procs, err := process.Processes()
	if err != nil {
		return 0, err
	}
	selfPid := int32(os.Getpid())
	n := 0
	for _, proc := range procs {
		ppid, err := proc.Ppid()
		if err != nil || ppid != selfPid {
			continue
		}
		if err := proc.Terminate(); err == nil {
			n++
		}
	}
	return n, nil
}
