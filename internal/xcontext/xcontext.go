// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package xcontext provides Context with custom errors.
//
// A context returned by WithTimeout reports the supplied error from Err once
// the deadline passes, so that a log line such as "shard run: device
// emulator-5554: instrumentation timed out after 2m0s" names what expired
// instead of a bare "context deadline exceeded".
package xcontext

import (
	"context"
	"time"

	"code.cloudfoundry.org/clock"
)

// clk is replaced in unit tests to use fake clocks.
var clk = clock.NewClock()

// causeContext is a context whose Err returns the cancellation cause.
type causeContext struct {
	context.Context
	deadline    time.Time
	hasDeadline bool
}

func (c *causeContext) Deadline() (time.Time, bool) {
	return c.deadline, c.hasDeadline
}

func (c *causeContext) Err() error {
	if c.Context.Err() == nil {
		return nil
	}
	return context.Cause(c.Context)
}

// WithDeadline returns a context that is canceled with err on reaching t. It
// panics if err is nil. If the parent's deadline is earlier, the parent's
// deadline is reported and governs.
func WithDeadline(parent context.Context, t time.Time, err error) (context.Context, context.CancelFunc) {
	if err == nil {
		panic("xcontext: WithDeadline called with nil err")
	}
	ctx, cancel := context.WithCancelCause(parent)
	cctx := &causeContext{Context: ctx, deadline: t, hasDeadline: true}
	if pd, ok := parent.Deadline(); ok && pd.Before(t) {
		cctx.deadline = pd
	}
	stop := func() { cancel(context.Canceled) }

	d := t.Sub(clk.Now())
	if d <= 0 {
		cancel(err)
		return cctx, stop
	}
	tm := clk.NewTimer(d)
	go func() {
		defer tm.Stop()
		select {
		case <-tm.C():
			cancel(err)
		case <-ctx.Done():
		}
	}()
	return cctx, stop
}

// WithTimeout returns a context that is canceled with err after d. It panics
// if err is nil. A non-positive d means no timeout; the returned context is
// then only canceled by its parent or the returned function.
func WithTimeout(parent context.Context, d time.Duration, err error) (context.Context, context.CancelFunc) {
	if err == nil {
		panic("xcontext: WithTimeout called with nil err")
	}
	if d <= 0 {
		ctx, cancel := context.WithCancelCause(parent)
		pd, ok := parent.Deadline()
		return &causeContext{Context: ctx, deadline: pd, hasDeadline: ok}, func() { cancel(context.Canceled) }
	}
	return WithDeadline(parent, clk.Now().Add(d), err)
}
