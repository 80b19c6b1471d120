// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package gtest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/devicetest/internal/archive"
	"go.chromium.org/devicetest/internal/device"
	"go.chromium.org/devicetest/internal/device/devicetest"
	"go.chromium.org/devicetest/internal/processor"
	"go.chromium.org/devicetest/internal/result"
	"go.chromium.org/devicetest/internal/runner"
	"go.chromium.org/devicetest/internal/sharding"
	"go.chromium.org/devicetest/internal/testspec"
	"go.chromium.org/devicetest/testutil"
)

const passingOutput = `Note: Google Test filter = Foo.A:Foo.B:Foo.C
[==========] Running 3 tests from 1 test suite.
[----------] 3 tests from Foo
[ RUN      ] Foo.A
[       OK ] Foo.A (12 ms)
[ RUN      ] Foo.B
foo_test.cc:10: Failure
Expected equality of these values:
[  FAILED  ] Foo.B (3 ms)
[ RUN      ] Foo.C
[  SKIPPED ] Foo.C (0 ms)
[----------] 3 tests from Foo (15 ms total)
[==========] 3 tests from 1 test suite ran. (15 ms total)
[  PASSED  ] 1 test.
[  FAILED  ] 1 test, listed below:
[  FAILED  ] Foo.B
`

func TestParseOutput(t *testing.T) {
	got, complete := ParseOutput(strings.Split(passingOutput, "\n"))
	want := []result.RawResult{
		{Name: "Foo.A", Status: result.StatusPass, Duration: 12 * time.Millisecond},
		{Name: "Foo.B", Status: result.StatusFail, Duration: 3 * time.Millisecond,
			Log: "foo_test.cc:10: Failure\nExpected equality of these values:"},
		{Name: "Foo.C", Status: result.StatusSkip},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("ParseOutput mismatch (-got +want):\n%s", diff)
	}
	if !complete {
		t.Error("ParseOutput did not find the summary")
	}
}

func TestParseOutputCrash(t *testing.T) {
	out := []string{
		"[ RUN      ] Foo.A",
		"[       OK ] Foo.A (1 ms)",
		"[ RUN      ] Foo.B",
		"Segmentation fault",
	}
	got, complete := ParseOutput(out)
	want := []result.RawResult{
		{Name: "Foo.A", Status: result.StatusPass, Duration: time.Millisecond},
		{Name: "Foo.B", Status: result.StatusUnknown, Log: "Segmentation fault"},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("ParseOutput mismatch (-got +want):\n%s", diff)
	}
	if complete {
		t.Error("ParseOutput found a summary in truncated output")
	}
}

func TestParseOutputParameterized(t *testing.T) {
	got, _ := ParseOutput([]string{
		"[ RUN      ] Inst/Foo.Bar/0",
		"[  FAILED  ] Inst/Foo.Bar/0, where GetParam() = 4 (2 ms)",
	})
	want := []result.RawResult{{Name: "Inst/Foo.Bar/0", Status: result.StatusFail, Duration: 2 * time.Millisecond}}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("ParseOutput mismatch (-got +want):\n%s", diff)
	}
}

const testXMLReport = `<?xml version="1.0" encoding="UTF-8"?>
<testsuites tests="4" failures="1" disabled="1" errors="0" time="0.015" name="AllTests">
  <testsuite name="Foo" tests="4" failures="1" disabled="1" errors="0" time="0.015">
    <testcase name="A" status="run" result="completed" time="0.012" classname="Foo" />
    <testcase name="B" status="run" result="completed" time="0.003" classname="Foo">
      <failure message="foo_test.cc:10&#x0A;Expected equality" type=""><![CDATA[foo_test.cc:10
Expected equality]]></failure>
    </testcase>
    <testcase name="C" status="run" result="skipped" time="0" classname="Foo">
      <skipped message="" />
    </testcase>
    <testcase name="DISABLED_D" status="notrun" result="suppressed" time="0" classname="Foo" />
  </testsuite>
</testsuites>
`

func TestParseXML(t *testing.T) {
	got, err := ParseXML([]byte(testXMLReport))
	if err != nil {
		t.Fatal("ParseXML failed: ", err)
	}
	want := []result.RawResult{
		{Name: "Foo.A", Status: result.StatusPass, Duration: 12 * time.Millisecond},
		{Name: "Foo.B", Status: result.StatusFail, Duration: 3 * time.Millisecond, Log: "foo_test.cc:10\nExpected equality"},
		{Name: "Foo.C", Status: result.StatusSkip},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("ParseXML mismatch (-got +want):\n%s", diff)
	}
}

func TestParseXMLInvalid(t *testing.T) {
	if _, err := ParseXML([]byte("<testsuites><testsuite")); err == nil {
		t.Error("ParseXML succeeded for a truncated report")
	}
}

func newSpec(t *testing.T) *testspec.Spec {
	t.Helper()
	suite, err := testspec.ParseSuite([]byte(`
kind: gtest
package: foo_unittests
gtest:
  binary: /data/local/tmp/foo_unittests
  extra_args: [--single-process-tests]
  test_timeout_secs: 10
tests:
- name: Foo.A
- name: Foo.B
- name: Foo.C
`))
	if err != nil {
		t.Fatal("ParseSuite failed: ", err)
	}
	return &testspec.Spec{Suite: suite, TimeoutScale: 2}
}

func TestVariant(t *testing.T) {
	ctx := context.Background()
	spec := newSpec(t)
	v := NewVariant(spec)

	batches := v.Batches(spec.Suite.Tests)
	if len(batches) != 1 || len(batches[0]) != 3 {
		t.Fatalf("Batches returned %d batch(es); want one with 3 tests", len(batches))
	}
	if got, want := v.Timeout(batches[0]), time.Minute; got != want {
		t.Errorf("Timeout = %v; want %v", got, want)
	}

	dev := devicetest.New("serial")
	var gotCmd []string
	dev.Shell["/data/local/tmp/foo_unittests"] = func(ctx context.Context, cmd []string, opts *device.ShellOptions) ([]string, error) {
		gotCmd = cmd
		if opts.Timeout != time.Minute {
			t.Errorf("Shell timeout = %v; want %v", opts.Timeout, time.Minute)
		}
		dev.SetFile("/data/local/tmp/report.xml", []byte(testXMLReport))
		return strings.Split(passingOutput, "\n"), nil
	}
	inv := v.Invoke(ctx, dev, batches[0], &device.TempFile{Path: "/data/local/tmp/report.xml"}, time.Minute)
	wantCmd := []string{
		"/data/local/tmp/foo_unittests",
		"--gtest_filter=Foo.A:Foo.B:Foo.C",
		"--gtest_output=xml:/data/local/tmp/report.xml",
		"--single-process-tests",
	}
	if diff := cmp.Diff(gotCmd, wantCmd); diff != "" {
		t.Errorf("Command mismatch (-got +want):\n%s", diff)
	}

	p := v.Parse(ctx, batches[0], inv)
	if p.Abnormal {
		t.Error("Parse reported an abnormal end for complete output")
	}
	if len(p.Results) != 3 || p.Results[1].Log != "foo_test.cc:10\nExpected equality" {
		t.Errorf("Parse did not use the XML report: %+v", p.Results)
	}
}

func TestVariantAbnormal(t *testing.T) {
	spec := newSpec(t)
	v := NewVariant(spec)
	p := v.Parse(context.Background(), spec.Suite.Tests, &runner.Invocation{Output: []string{"[ RUN      ] Foo.A"}})
	if !p.Abnormal {
		t.Error("Parse did not report an abnormal end for truncated output")
	}
	want := []result.RawResult{{Name: "Foo.A", Status: result.StatusUnknown}}
	if diff := cmp.Diff(p.Results, want); diff != "" {
		t.Errorf("Results mismatch (-got +want):\n%s", diff)
	}
}

func TestVariantEmptyOutput(t *testing.T) {
	spec := newSpec(t)
	v := NewVariant(spec)
	for _, out := range [][]string{nil, {"Note: Google Test filter = Foo.A", "[==========] Running 1 test from 1 test suite."}} {
		p := v.Parse(context.Background(), spec.Suite.Tests, &runner.Invocation{Output: out})
		if p.Abnormal {
			t.Errorf("Parse(%q) reported an abnormal end though no test started", out)
		}
		if len(p.Results) != 0 {
			t.Errorf("Parse(%q) returned results %+v; want none", out, p.Results)
		}
	}
}

func TestRunShardEmptyOutput(t *testing.T) {
	ctx := context.Background()
	spec := newSpec(t)
	arch, err := archive.NewLocalArchiver(testutil.TempDir(t))
	if err != nil {
		t.Fatal(err)
	}
	r := runner.New(spec, NewVariant(spec), processor.New(nil), arch)

	dev := devicetest.New("serial")
	dev.Shell["/data/local/tmp/foo_unittests"] = func(ctx context.Context, cmd []string, opts *device.ShellOptions) ([]string, error) {
		return nil, nil
	}
	set, notRun, err := r.RunShard(ctx, dev, &sharding.Shard{Tests: []result.TestID{"Foo.A", "Foo.B"}})
	if err != nil {
		t.Fatal("RunShard failed: ", err)
	}
	want := []result.RawResult{
		{Name: "Foo.A", Status: result.StatusUnknown},
		{Name: "Foo.B", Status: result.StatusUnknown},
	}
	if diff := cmp.Diff(set.Results, want); diff != "" {
		t.Errorf("Results mismatch (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(notRun, []result.TestID{"Foo.A", "Foo.B"}); diff != "" {
		t.Errorf("notRun mismatch (-got +want):\n%s", diff)
	}
}

func TestRunShardInterrupted(t *testing.T) {
	ctx := context.Background()
	spec := newSpec(t)
	arch, err := archive.NewLocalArchiver(testutil.TempDir(t))
	if err != nil {
		t.Fatal(err)
	}
	r := runner.New(spec, NewVariant(spec), processor.New(nil), arch)

	dev := devicetest.New("serial")
	dev.Shell["/data/local/tmp/foo_unittests"] = func(ctx context.Context, cmd []string, opts *device.ShellOptions) ([]string, error) {
		return []string{
			"[ RUN      ] Foo.A",
			"[       OK ] Foo.A (1 ms)",
			"[ RUN      ] Foo.B",
			"Segmentation fault",
		}, nil
	}
	set, _, err := r.RunShard(ctx, dev, &sharding.Shard{Tests: []result.TestID{"Foo.A", "Foo.B", "Foo.C"}})
	if err != nil {
		t.Fatal("RunShard failed: ", err)
	}
	got := make(map[result.TestID]result.Status)
	for _, res := range set.Results {
		got[res.Name] = res.Status
	}
	want := map[result.TestID]result.Status{
		"Foo.A": result.StatusPass,
		"Foo.B": result.StatusCrash,
		"Foo.C": result.StatusCrash,
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Statuses mismatch (-got +want):\n%s", diff)
	}
}

func TestVariantDebuggerDisablesTimeout(t *testing.T) {
	spec := newSpec(t)
	spec.WaitForJavaDebugger = true
	if got := NewVariant(spec).Timeout(spec.Suite.Tests); got != 0 {
		t.Errorf("Timeout = %v; want 0", got)
	}
}
