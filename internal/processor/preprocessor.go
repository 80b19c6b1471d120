// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package processor

import (
	"context"

	"go.chromium.org/devicetest/internal/logging"
	"go.chromium.org/devicetest/internal/result"
)

// preprocess returns one result per test of bi.Tests in order.
//
// Tests without a parsed result get a synthesized UNKNOWN result. A test that
// started but was still running when the invocation timed out becomes
// TIMEOUT. When the invocation ended abnormally, every UNKNOWN result
// becomes CRASH. Results for tests outside the batch are dropped.
func preprocess(ctx context.Context, bi *BatchInfo, parsed []result.RawResult) []result.RawResult {
	byName := make(map[result.TestID]result.RawResult, len(parsed))
	for _, r := range parsed {
		byName[r.Name] = r
	}
	inBatch := make(map[result.TestID]bool, len(bi.Tests))
	for _, name := range bi.Tests {
		inBatch[name] = true
	}
	for _, r := range parsed {
		if !inBatch[r.Name] {
			logging.Warningf(ctx, "Ignoring result for unexpected test %s", r.Name)
		}
	}

	results := make([]result.RawResult, 0, len(bi.Tests))
	for _, name := range bi.Tests {
		r, ok := byName[name]
		if !ok {
			r = result.RawResult{Name: name, Status: result.StatusUnknown}
		} else if r.Status == result.StatusUnknown && bi.TimedOut {
			r = r.WithStatus(result.StatusTimeout, "Test did not finish before the invocation timed out")
			r.Duration = bi.Elapsed
		}
		if r.Status == result.StatusUnknown && bi.Abnormal {
			r = r.WithStatus(result.StatusCrash, bi.AbnormalReason)
		}
		results = append(results, r)
	}
	if len(bi.Tests) == 1 && results[0].Duration == 0 {
		results[0].Duration = bi.Elapsed
	}
	return results
}
