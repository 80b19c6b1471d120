// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package runner_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

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

// fakeVariant runs each test in its own batch and returns scripted results.
type fakeVariant struct {
	results  map[result.TestID]result.RawResult
	errs     map[result.TestID]error
	abnormal bool
	restored int
	invoked  []result.TestID
}

func (v *fakeVariant) Batches(tests []*testspec.TestCase) [][]*testspec.TestCase {
	var bs [][]*testspec.TestCase
	for _, tc := range tests {
		bs = append(bs, []*testspec.TestCase{tc})
	}
	return bs
}

func (v *fakeVariant) Timeout(batch []*testspec.TestCase) time.Duration { return time.Minute }

func (v *fakeVariant) PrepareDevice(ctx context.Context, dev device.Device, batch []*testspec.TestCase) (func(context.Context) error, error) {
	return func(context.Context) error {
		v.restored++
		return nil
	}, nil
}

func (v *fakeVariant) Invoke(ctx context.Context, dev device.Device, batch []*testspec.TestCase, tmp *device.TempFile, timeout time.Duration) *runner.Invocation {
	id := batch[0].ID()
	v.invoked = append(v.invoked, id)
	return &runner.Invocation{Err: v.errs[id]}
}

func (v *fakeVariant) Parse(ctx context.Context, batch []*testspec.TestCase, inv *runner.Invocation) *runner.Parsed {
	p := &runner.Parsed{Abnormal: v.abnormal, AbnormalReason: "crashed"}
	for _, tc := range batch {
		if r, ok := v.results[tc.ID()]; ok {
			p.Results = append(p.Results, r)
		}
	}
	return p
}

func newRunner(t *testing.T, v runner.Variant) *runner.Runner {
	t.Helper()
	suite, err := testspec.ParseSuite([]byte(`
kind: gtest
package: base_unittests
gtest:
  binary: /data/local/tmp/base_unittests
tests:
- name: Foo.X
- name: Foo.Y
`))
	if err != nil {
		t.Fatal("ParseSuite failed: ", err)
	}
	arch, err := archive.NewLocalArchiver(testutil.TempDir(t))
	if err != nil {
		t.Fatal(err)
	}
	return runner.New(&testspec.Spec{Suite: suite, TimeoutScale: 1}, v, processor.New(nil), arch)
}

func statuses(set *result.RunResultSet) map[result.TestID]result.Status {
	m := make(map[result.TestID]result.Status)
	for _, r := range set.Results {
		m[r.Name] = r.Status
	}
	return m
}

func TestRunShardMissingResult(t *testing.T) {
	v := &fakeVariant{results: map[result.TestID]result.RawResult{
		"Foo.X": {Name: "Foo.X", Status: result.StatusPass},
	}}
	r := newRunner(t, v)
	dev := devicetest.New("serial")

	set, notRun, err := r.RunShard(context.Background(), dev, &sharding.Shard{Tests: []result.TestID{"Foo.X", "Foo.Y"}})
	if err != nil {
		t.Fatal("RunShard failed: ", err)
	}
	want := []result.RawResult{
		{Name: "Foo.X", Status: result.StatusPass},
		{Name: "Foo.Y", Status: result.StatusUnknown},
	}
	opts := []cmp.Option{cmpopts.IgnoreFields(result.RawResult{}, "Duration", "Links")}
	if diff := cmp.Diff(set.Results, want, opts...); diff != "" {
		t.Errorf("Results mismatch (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(notRun, []result.TestID{"Foo.Y"}); diff != "" {
		t.Errorf("notRun mismatch (-got +want):\n%s", diff)
	}
	if set.Device != "serial" {
		t.Errorf("Device = %q; want %q", set.Device, "serial")
	}
	if v.restored != 2 {
		t.Errorf("Device state restored %d times; want 2", v.restored)
	}
	for _, cmd := range dev.Commands() {
		if cmd[0] == "rm" {
			return
		}
	}
	t.Error("Temporary file was not removed")
}

func TestRunShardUnreachable(t *testing.T) {
	v := &fakeVariant{
		errs: map[result.TestID]error{
			"Foo.X": &device.DeviceUnreachableError{Serial: "serial", Reason: "error: device offline"},
		},
		abnormal: true,
	}
	r := newRunner(t, v)

	set, notRun, err := r.RunShard(context.Background(), devicetest.New("serial"), &sharding.Shard{Tests: []result.TestID{"Foo.X", "Foo.Y"}})
	if !device.IsUnreachable(err) {
		t.Fatalf("RunShard returned %v; want an unreachable device error", err)
	}
	if set == nil {
		t.Fatal("RunShard returned no result set")
	}
	want := map[result.TestID]result.Status{"Foo.X": result.StatusUnknown, "Foo.Y": result.StatusUnknown}
	if diff := cmp.Diff(statuses(set), want); diff != "" {
		t.Errorf("Statuses mismatch (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(notRun, []result.TestID{"Foo.X", "Foo.Y"}); diff != "" {
		t.Errorf("notRun mismatch (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(v.invoked, []result.TestID{"Foo.X"}); diff != "" {
		t.Errorf("Invoked tests mismatch (-got +want):\n%s", diff)
	}
}

func TestRunShardCrash(t *testing.T) {
	v := &fakeVariant{
		results: map[result.TestID]result.RawResult{
			"Foo.X": {Name: "Foo.X", Status: result.StatusUnknown},
		},
		abnormal: true,
	}
	r := newRunner(t, v)

	set, _, err := r.RunShard(context.Background(), devicetest.New("serial"), &sharding.Shard{Tests: []result.TestID{"Foo.X"}, Isolated: true})
	if err != nil {
		t.Fatal("RunShard failed: ", err)
	}
	if diff := cmp.Diff(statuses(set), map[result.TestID]result.Status{"Foo.X": result.StatusCrash}); diff != "" {
		t.Errorf("Statuses mismatch (-got +want):\n%s", diff)
	}
}

func TestRunShardTransportErrorIsNotFatal(t *testing.T) {
	v := &fakeVariant{
		results: map[result.TestID]result.RawResult{
			"Foo.Y": {Name: "Foo.Y", Status: result.StatusPass},
		},
		errs: map[result.TestID]error{
			"Foo.X": &device.CommandTimeoutError{Serial: "serial", Command: "gtest", Timeout: time.Minute},
		},
		abnormal: true,
	}
	r := newRunner(t, v)

	set, _, err := r.RunShard(context.Background(), devicetest.New("serial"), &sharding.Shard{Tests: []result.TestID{"Foo.X", "Foo.Y"}})
	if err != nil {
		t.Fatal("RunShard failed: ", err)
	}
	want := map[result.TestID]result.Status{"Foo.X": result.StatusUnknown, "Foo.Y": result.StatusPass}
	if diff := cmp.Diff(statuses(set), want); diff != "" {
		t.Errorf("Statuses mismatch (-got +want):\n%s", diff)
	}
}

func TestRunShardUnknownTest(t *testing.T) {
	r := newRunner(t, &fakeVariant{})
	if _, _, err := r.RunShard(context.Background(), devicetest.New("serial"), &sharding.Shard{Tests: []result.TestID{"Foo.Z"}}); err == nil {
		t.Error("RunShard succeeded for an unknown test")
	}
}
