// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package result defines test results and merges them across attempts.
package result

import (
	"time"

	"golang.org/x/exp/maps"
)

// TestID names one test case. For gtest it is "Suite.Case"; for
// instrumentation it is "package.Class#method", optionally followed by a
// flags suffix for parameterized runs.
type TestID string

// Status is the outcome of running a test once.
type Status string

const (
	// StatusPass means the test passed.
	StatusPass Status = "PASS"
	// StatusFail means the test reported a failure.
	StatusFail Status = "FAIL"
	// StatusCrash means the test process died while the test was running.
	StatusCrash Status = "CRASH"
	// StatusSkip means the test was skipped, e.g. by an assumption failure.
	StatusSkip Status = "SKIP"
	// StatusUnknown means no terminal result was observed for the test.
	StatusUnknown Status = "UNKNOWN"
	// StatusTimeout means the test did not finish within its timeout.
	StatusTimeout Status = "TIMEOUT"
)

// AllStatuses lists every Status in reporting order.
var AllStatuses = []Status{StatusPass, StatusFail, StatusCrash, StatusSkip, StatusUnknown, StatusTimeout}

// Passed reports whether s counts as success for the whole run.
func (s Status) Passed() bool {
	return s == StatusPass || s == StatusSkip
}

// Well-known link names attached to RawResults.
const (
	LinkLogcat     = "logcat"
	LinkScreenshot = "screenshot"
	LinkTombstones = "tombstones"
	LinkCoverage   = "coverage"
)

// RawResult is one observed outcome of running one test once. Treat it as
// immutable: WithLink and WithStatus return modified copies.
type RawResult struct {
	Name     TestID
	Status   Status
	Duration time.Duration
	// Log holds the failure message or stack trace, if any.
	Log string
	// Links maps a link name such as LinkLogcat to a URL or path.
	Links map[string]string
}

// WithLink returns a copy of r with a named link added.
func (r RawResult) WithLink(name, url string) RawResult {
	links := maps.Clone(r.Links)
	if links == nil {
		links = make(map[string]string)
	}
	links[name] = url
	r.Links = links
	return r
}

// WithStatus returns a copy of r with a different status. log, if non-empty,
// is appended to the log.
func (r RawResult) WithStatus(s Status, log string) RawResult {
	r.Status = s
	if log != "" {
		if r.Log != "" {
			r.Log += "\n"
		}
		r.Log += log
	}
	r.Links = maps.Clone(r.Links)
	return r
}

// RunResultSet holds the results of running one shard once.
type RunResultSet struct {
	// Attempt is the zero-based attempt index within an iteration. Merge
	// orders by it, never by completion order.
	Attempt int
	// Device is the serial of the device that produced the results.
	Device string
	// Results is ordered like the shard that produced it.
	Results []RawResult
}

// Names returns the test names in s in order.
func (s *RunResultSet) Names() []TestID {
	names := make([]TestID, len(s.Results))
	for i, r := range s.Results {
		names[i] = r.Name
	}
	return names
}

// Get returns the result for name, if any.
func (s *RunResultSet) Get(name TestID) (RawResult, bool) {
	for _, r := range s.Results {
		if r.Name == name {
			return r, true
		}
	}
	return RawResult{}, false
}

// Verdict is the final status of a test after all attempts.
type Verdict struct {
	Name   TestID
	Status Status
	// Attempts counts the attempts that produced any result for the test.
	Attempts int
	// Result is the result that determined Status. It is the latest
	// UNKNOWN result if no attempt produced anything else.
	Result RawResult
}
