// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"go.chromium.org/devicetest/internal/logging"
	"go.chromium.org/devicetest/internal/result"
)

// statusOrder is the order statuses are listed in summaries.
var statusOrder = []result.Status{
	result.StatusPass,
	result.StatusSkip,
	result.StatusFail,
	result.StatusCrash,
	result.StatusTimeout,
	result.StatusUnknown,
}

// formatCounts formats per-status counts as "PASS 3, FAIL 1".
func formatCounts(counts map[result.Status]int) string {
	var parts []string
	for _, s := range statusOrder {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%v %s", s, humanize.Comma(int64(n))))
		}
	}
	if len(parts) == 0 {
		return "no results"
	}
	return strings.Join(parts, ", ")
}

// logSummary logs the outcome of every iteration of rep and reports whether
// all of them passed. Tests that did not pass are listed at CRITICAL level.
func logSummary(ctx context.Context, rep *runReport) bool {
	serials := make([]string, 0, len(rep.Excluded))
	for s := range rep.Excluded {
		serials = append(serials, s)
	}
	sort.Strings(serials)
	for _, s := range serials {
		logging.Warningf(ctx, "Device %s was excluded: %v", s, rep.Excluded[s])
	}

	passed := len(rep.Iterations) > 0
	for _, it := range rep.Iterations {
		prefix := ""
		if len(rep.Iterations) > 1 {
			prefix = fmt.Sprintf("Iteration %d: ", it.Index+1)
		}
		logging.Infof(ctx, "%s%s", prefix, formatCounts(result.Counts(it.Verdicts)))
		if it.Passed() {
			continue
		}
		passed = false
		for _, v := range result.SortedVerdicts(it.Verdicts) {
			if v.Status.Passed() {
				continue
			}
			msg := fmt.Sprintf("%s%-8v %s", prefix, v.Status, v.Name)
			if v.Attempts > 1 {
				msg += fmt.Sprintf(" (%d attempts)", v.Attempts)
			}
			logging.Critical(ctx, msg)
		}
	}
	logging.Infof(ctx, "Ran %s test(s) in %v", humanize.Comma(int64(len(rep.Tests))), rep.Elapsed.Round(time.Millisecond))
	return passed
}
