// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package resultsjson_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/devicetest/internal/result"
	"go.chromium.org/devicetest/internal/resultsjson"
	"go.chromium.org/devicetest/testutil"
)

func TestNew(t *testing.T) {
	tests := []result.TestID{"T.A", "T.B", "T.C"}
	iterations := [][]*result.RunResultSet{
		{
			{Attempt: 1, Device: "d1", Results: []result.RawResult{{Name: "T.A", Status: result.StatusPass, Duration: 5 * time.Millisecond}}},
			{Attempt: 0, Device: "d1", Results: []result.RawResult{
				{Name: "T.A", Status: result.StatusFail, Log: "boom"},
				{Name: "T.B", Status: result.StatusPass},
			}},
		},
		{
			{Attempt: 0, Device: "d2", Results: []result.RawResult{
				{Name: "T.A", Status: result.StatusPass},
				{Name: "T.B", Status: result.StatusSkip},
			}},
		},
	}

	f := resultsjson.New(tests, iterations)

	wantTests := map[string]resultsjson.Summary{
		"T.A": {Counts: map[result.Status]int{result.StatusFail: 1, result.StatusPass: 2}, Verdict: result.StatusPass},
		"T.B": {Counts: map[result.Status]int{result.StatusPass: 1, result.StatusSkip: 1}, Verdict: result.StatusSkip},
		"T.C": {Counts: map[result.Status]int{}, Verdict: result.StatusUnknown},
	}
	if diff := cmp.Diff(f.Tests, wantTests); diff != "" {
		t.Errorf("Tests mismatch (-got +want):\n%s", diff)
	}
	wantFirst := []resultsjson.Run{
		{Status: result.StatusFail, OutputSnippet: "boom", Device: "d1", Attempt: 0},
		{Status: result.StatusPass, ElapsedTimeMs: 5, Device: "d1", Attempt: 1},
	}
	if diff := cmp.Diff(f.PerIterationData[0]["T.A"], wantFirst); diff != "" {
		t.Errorf("First iteration of T.A mismatch (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(f.GlobalTags, []string{resultsjson.TagUnreliableResults}); diff != "" {
		t.Errorf("GlobalTags mismatch (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(f.Names(), []string{"T.A", "T.B", "T.C"}); diff != "" {
		t.Errorf("Names mismatch (-got +want):\n%s", diff)
	}
}

func TestWrite(t *testing.T) {
	td := testutil.TempDir(t)
	path := filepath.Join(td, "out/results.json")
	f := resultsjson.New([]result.TestID{"T.A"}, [][]*result.RunResultSet{
		{{Device: "d1", Results: []result.RawResult{{Name: "T.A", Status: result.StatusPass}}}},
	})
	if err := resultsjson.Write(path, f); err != nil {
		t.Fatal("Write failed: ", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal("Written file is not JSON: ", err)
	}
	if tags := got["global_tags"].([]interface{}); len(tags) != 0 {
		t.Errorf("global_tags = %v; want empty", tags)
	}
	verdict := got["tests"].(map[string]interface{})["T.A"].(map[string]interface{})["verdict"]
	if verdict != "PASS" {
		t.Errorf("verdict = %v; want PASS", verdict)
	}
}
