// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package result

import (
	"sort"
)

// Merge computes a Verdict per test from attempts, and the tests that should
// be retried.
//
// For each test, the latest attempt (by Attempt index) with a non-UNKNOWN
// result decides the verdict. A test that was UNKNOWN in every attempt is
// UNKNOWN. The retry set lists tests whose verdict satisfies ShouldRetry, in
// the order the tests were first seen.
//
// Merge does not modify attempts, and its output depends only on their
// contents.
func Merge(attempts []*RunResultSet) (map[TestID]Verdict, []TestID) {
	sorted := append([]*RunResultSet(nil), attempts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Attempt < sorted[j].Attempt })

	var order []TestID
	verdicts := make(map[TestID]Verdict)
	for _, set := range sorted {
		for _, r := range set.Results {
			v, seen := verdicts[r.Name]
			if !seen {
				order = append(order, r.Name)
				v = Verdict{Name: r.Name, Status: StatusUnknown, Result: r}
			}
			v.Attempts++
			if r.Status != StatusUnknown {
				v.Status = r.Status
				v.Result = r
			} else if v.Status == StatusUnknown {
				v.Result = r
			}
			verdicts[r.Name] = v
		}
	}

	var retry []TestID
	for _, name := range order {
		if ShouldRetry(verdicts[name].Result) {
			retry = append(retry, name)
		}
	}
	return verdicts, retry
}

// ShouldRetry reports whether a test with result r is eligible for another
// attempt. Every result other than PASS and SKIP is retried.
func ShouldRetry(r RawResult) bool {
	return !r.Status.Passed()
}

// DidRunPass reports whether no verdict is FAIL, CRASH, TIMEOUT or UNKNOWN.
func DidRunPass(verdicts map[TestID]Verdict) bool {
	for _, v := range verdicts {
		if !v.Status.Passed() {
			return false
		}
	}
	return true
}

// Counts returns the number of verdicts per status.
func Counts(verdicts map[TestID]Verdict) map[Status]int {
	counts := make(map[Status]int)
	for _, v := range verdicts {
		counts[v.Status]++
	}
	return counts
}

// SortedVerdicts returns verdicts sorted by test name.
func SortedVerdicts(verdicts map[TestID]Verdict) []Verdict {
	vs := make([]Verdict, 0, len(verdicts))
	for _, v := range verdicts {
		vs = append(vs, v)
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i].Name < vs[j].Name })
	return vs
}
