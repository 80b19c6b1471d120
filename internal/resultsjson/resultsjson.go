// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package resultsjson writes test results as a GTest-style JSON file.
package resultsjson

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/exp/maps"

	"go.chromium.org/devicetest/errors"
	"go.chromium.org/devicetest/internal/result"
)

// TagUnreliableResults is set when some test has no reliable verdict.
const TagUnreliableResults = "UNRELIABLE_RESULTS"

// Run is one result of one test.
type Run struct {
	Status        result.Status     `json:"status"`
	ElapsedTimeMs int64             `json:"elapsed_time_ms"`
	OutputSnippet string            `json:"output_snippet,omitempty"`
	Links         map[string]string `json:"links,omitempty"`
	Device        string            `json:"device"`
	Attempt       int               `json:"attempt"`
}

// Summary summarizes a test over all iterations.
type Summary struct {
	// Counts maps a status to the number of results with it.
	Counts map[result.Status]int `json:"counts"`
	// Verdict is the verdict of the last iteration.
	Verdict result.Status `json:"verdict"`
}

// File is the content of a results file.
type File struct {
	GlobalTags []string `json:"global_tags"`
	AllTests   []string `json:"all_tests"`
	// PerIterationData holds, per iteration, the results of each test in
	// attempt order.
	PerIterationData []map[string][]Run `json:"per_iteration_data"`
	Tests            map[string]Summary `json:"tests"`
}

// New builds a results file for tests from the result sets of each
// iteration.
func New(tests []result.TestID, iterations [][]*result.RunResultSet) *File {
	f := &File{
		GlobalTags:       []string{},
		PerIterationData: []map[string][]Run{},
		Tests:            make(map[string]Summary),
	}
	for _, t := range tests {
		f.AllTests = append(f.AllTests, string(t))
		f.Tests[string(t)] = Summary{Counts: make(map[result.Status]int), Verdict: result.StatusUnknown}
	}

	unreliable := false
	for _, sets := range iterations {
		sorted := append([]*result.RunResultSet(nil), sets...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Attempt < sorted[j].Attempt })

		data := make(map[string][]Run)
		for _, s := range sorted {
			for _, r := range s.Results {
				name := string(r.Name)
				data[name] = append(data[name], Run{
					Status:        r.Status,
					ElapsedTimeMs: r.Duration.Milliseconds(),
					OutputSnippet: r.Log,
					Links:         r.Links,
					Device:        s.Device,
					Attempt:       s.Attempt,
				})
				sum, ok := f.Tests[name]
				if !ok {
					sum = Summary{Counts: make(map[result.Status]int)}
				}
				sum.Counts[r.Status]++
				f.Tests[name] = sum
			}
		}
		f.PerIterationData = append(f.PerIterationData, data)

		verdicts, _ := result.Merge(sets)
		for name, v := range verdicts {
			sum := f.Tests[string(name)]
			sum.Verdict = v.Status
			f.Tests[string(name)] = sum
		}
	}
	for _, sum := range f.Tests {
		if sum.Verdict == result.StatusUnknown {
			unreliable = true
		}
	}
	if unreliable {
		f.GlobalTags = append(f.GlobalTags, TagUnreliableResults)
	}
	if f.AllTests == nil {
		f.AllTests = []string{}
	}
	return f
}

// Names returns the test names in f in sorted order.
func (f *File) Names() []string {
	names := maps.Keys(f.Tests)
	sort.Strings(names)
	return names
}

// Write writes f to path as indented JSON.
func Write(path string, f *File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f); err != nil {
		out.Close()
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return out.Close()
}
