// Copyright 2018 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package errors

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"testing"

	"go.uber.org/multierr"
)

func check(t *testing.T, err error, msg string, traceRegexp *regexp.Regexp) {
	t.Helper()
	if s := err.Error(); s != msg {
		t.Errorf("Wrong error message %q; want %q", s, msg)
	}
	if s := fmt.Sprintf("%v", err); s != msg {
		t.Errorf("Wrong default value %q; want %q", s, msg)
	}
	if tr := fmt.Sprintf("%+v", err); !traceRegexp.MatchString(tr) {
		t.Errorf("Wrong trace %q; should match %q", tr, traceRegexp)
	}
}

func TestNew(t *testing.T) {
	const msg = "offline"
	traceRegexp := regexp.MustCompile(`^offline
	at go\.chromium\.org/devicetest/errors\.TestNew \(errors_test.go:\d+\)`)

	err := New(msg)

	check(t, err, msg, traceRegexp)
}

func TestErrorf(t *testing.T) {
	const msg = "device emulator-5554 offline"
	traceRegexp := regexp.MustCompile(`^device emulator-5554 offline
	at go\.chromium\.org/devicetest/errors\.TestErrorf \(errors_test.go:\d+\)`)

	err := Errorf("device %s offline", "emulator-5554")

	check(t, err, msg, traceRegexp)
}

func TestWrap(t *testing.T) {
	const msg = "install failed: offline"
	traceRegexp := regexp.MustCompile(`(?s)^install failed
	at go\.chromium\.org/devicetest/errors\.TestWrap \(errors_test.go:\d+\)
.*
offline
	at go\.chromium\.org/devicetest/errors\.TestWrap \(errors_test.go:\d+\)`)

	err := Wrap(New("offline"), "install failed")

	check(t, err, msg, traceRegexp)
}

func TestWrapForeignError(t *testing.T) {
	const msg = "install failed: offline"
	traceRegexp := regexp.MustCompile(`(?s)^install failed
	at go\.chromium\.org/devicetest/errors\.TestWrapForeignError \(errors_test.go:\d+\)
.*
offline
	at \?\?\?$`)

	// Use standard errors package to create an error without trace.
	err := Wrap(errors.New("offline"), "install failed")

	check(t, err, msg, traceRegexp)
}

func TestWrapNil(t *testing.T) {
	const msg = "install failed"
	traceRegexp := regexp.MustCompile(`^install failed
	at go\.chromium\.org/devicetest/errors\.TestWrapNil \(errors_test.go:\d+\)`)

	err := Wrap(nil, "install failed")

	check(t, err, msg, traceRegexp)
}

func TestWrapf(t *testing.T) {
	const msg = "pull /data/a.png failed: offline"
	traceRegexp := regexp.MustCompile(`(?s)^pull /data/a.png failed
	at go\.chromium\.org/devicetest/errors\.TestWrapf \(errors_test.go:\d+\)
.*
offline
	at go\.chromium\.org/devicetest/errors\.TestWrapf \(errors_test.go:\d+\)`)

	err := Wrapf(New("offline"), "pull %s failed", "/data/a.png")

	check(t, err, msg, traceRegexp)
}

type codeError struct{ code int }

func (e *codeError) Error() string { return fmt.Sprintf("code %d", e.code) }

func TestIsAs(t *testing.T) {
	err := Wrap(Wrapf(os.ErrNotExist, "open %s", "x"), "read suite")
	if !Is(err, os.ErrNotExist) {
		t.Errorf("Is(%v, os.ErrNotExist) = false; want true", err)
	}

	err = Wrap(&codeError{3}, "shell")
	var ce *codeError
	if !As(err, &ce) {
		t.Fatalf("As(%v) = false; want true", err)
	}
	if ce.code != 3 {
		t.Errorf("As(%v) gave code %d; want 3", err, ce.code)
	}
	if got := Unwrap(err); got != error(ce) {
		t.Errorf("Unwrap(%v) = %v; want %v", err, got, ce)
	}
}

func TestWrapCombined(t *testing.T) {
	combined := multierr.Combine(New("emu-1: offline"), Wrap(New("exit status 1"), "emu-2: rm failed"))
	err := Wrap(combined, "teardown failed")

	const msg = "teardown failed: emu-1: offline; emu-2: rm failed: exit status 1"
	traceRegexp := regexp.MustCompile(`(?s)^teardown failed
	at go\.chromium\.org/devicetest/errors\.TestWrapCombined \(errors_test.go:\d+\)
.*\[1\] emu-1: offline
	at go\.chromium\.org/devicetest/errors\.TestWrapCombined \(errors_test.go:\d+\)
.*\[2\] emu-2: rm failed
	at .*
exit status 1
	at `)
	check(t, err, msg, traceRegexp)
}
