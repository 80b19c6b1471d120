// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package processor_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"go.chromium.org/devicetest/internal/archive"
	"go.chromium.org/devicetest/internal/device"
	"go.chromium.org/devicetest/internal/device/devicetest"
	"go.chromium.org/devicetest/internal/processor"
	"go.chromium.org/devicetest/internal/result"
	"go.chromium.org/devicetest/testutil"
)

func TestPreprocessTotality(t *testing.T) {
	p := processor.New(nil)
	bi := &processor.BatchInfo{Name: "b", Tests: []result.TestID{"A.a", "A.b", "A.c"}}
	got := p.BatchEnd(context.Background(), bi, []result.RawResult{
		{Name: "A.c", Status: result.StatusFail, Log: "boom"},
		{Name: "Z.z", Status: result.StatusPass},
		{Name: "A.a", Status: result.StatusPass},
	})
	want := []result.RawResult{
		{Name: "A.a", Status: result.StatusPass},
		{Name: "A.b", Status: result.StatusUnknown},
		{Name: "A.c", Status: result.StatusFail, Log: "boom"},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("BatchEnd mismatch (-got +want):\n%s", diff)
	}
}

func TestPreprocessCrashPromotion(t *testing.T) {
	p := processor.New(nil)
	bi := &processor.BatchInfo{
		Name:           "b",
		Tests:          []result.TestID{"A.a", "A.b", "A.c"},
		Abnormal:       true,
		AbnormalReason: "Process crashed.",
	}
	got := p.BatchEnd(context.Background(), bi, []result.RawResult{
		{Name: "A.a", Status: result.StatusPass},
		{Name: "A.b", Status: result.StatusUnknown},
	})
	want := []result.RawResult{
		{Name: "A.a", Status: result.StatusPass},
		{Name: "A.b", Status: result.StatusCrash, Log: "Process crashed."},
		{Name: "A.c", Status: result.StatusCrash, Log: "Process crashed."},
	}
	if diff := cmp.Diff(got, want, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("BatchEnd mismatch (-got +want):\n%s", diff)
	}
}

func TestPreprocessTimeout(t *testing.T) {
	p := processor.New(nil)
	bi := &processor.BatchInfo{
		Name:     "b",
		Tests:    []result.TestID{"A.a", "A.b", "A.c"},
		TimedOut: true,
		Elapsed:  time.Minute,
	}
	got := p.BatchEnd(context.Background(), bi, []result.RawResult{
		{Name: "A.a", Status: result.StatusPass, Duration: time.Second},
		{Name: "A.b", Status: result.StatusUnknown},
	})
	statuses := []result.Status{got[0].Status, got[1].Status, got[2].Status}
	want := []result.Status{result.StatusPass, result.StatusTimeout, result.StatusUnknown}
	if diff := cmp.Diff(statuses, want); diff != "" {
		t.Errorf("Statuses mismatch (-got +want):\n%s", diff)
	}
}

func TestArtifactHandlers(t *testing.T) {
	ctx := context.Background()
	td := testutil.TempDir(t)
	arch, err := archive.NewLocalArchiver(td)
	if err != nil {
		t.Fatal(err)
	}

	dev := devicetest.New("serial")
	dev.Shell["screencap"] = func(ctx context.Context, cmd []string, opts *device.ShellOptions) ([]string, error) {
		dev.SetFile(cmd[2], []byte("PNG"))
		return nil, nil
	}
	dev.Shell["ls"] = func(ctx context.Context, cmd []string, opts *device.ShellOptions) ([]string, error) {
		switch cmd[1] {
		case "/data/tombstones":
			return []string{"tombstone_00", "tombstone_00.pb"}, nil
		case "/sdcard/coverage":
			return []string{"a.ec"}, nil
		}
		return nil, nil
	}
	dev.SetFile("/data/tombstones/tombstone_00", []byte("backtrace"))
	dev.SetFile("/sdcard/coverage/a.ec", []byte("coverage"))

	p := processor.New([]processor.Handler{
		processor.NewLoggingHandler(),
		processor.NewLogcatHandler(),
		processor.NewScreenshotHandler(arch),
		processor.NewTombstoneHandler(arch),
		processor.NewCoverageHandler(arch, "/sdcard/coverage"),
	})
	bi := &processor.BatchInfo{
		Name:       "serial_0_0",
		Device:     dev,
		Tests:      []result.TestID{"A.a", "A.b", "A.c"},
		LogcatLink: "file:///logcat.txt",
	}
	p.BatchStart(ctx, bi)
	got := p.BatchEnd(ctx, bi, []result.RawResult{
		{Name: "A.a", Status: result.StatusPass},
		{Name: "A.b", Status: result.StatusFail},
		{Name: "A.c", Status: result.StatusCrash},
	})

	link := func(p string) string { return "file://" + filepath.Join(td, p) }
	want := []result.RawResult{
		{Name: "A.a", Status: result.StatusPass, Links: map[string]string{
			result.LinkLogcat:   "file:///logcat.txt",
			result.LinkCoverage: link("coverage/serial_0_0_0_a.ec"),
		}},
		{Name: "A.b", Status: result.StatusFail, Links: map[string]string{
			result.LinkLogcat:     "file:///logcat.txt",
			result.LinkScreenshot: link("screenshots/serial_0_0_screenshot.png"),
			result.LinkCoverage:   link("coverage/serial_0_0_0_a.ec"),
		}},
		{Name: "A.c", Status: result.StatusCrash, Links: map[string]string{
			result.LinkLogcat:     "file:///logcat.txt",
			result.LinkScreenshot: link("screenshots/serial_0_0_screenshot.png"),
			result.LinkTombstones: link("tombstones/serial_0_0_tombstones.txt"),
			result.LinkCoverage:   link("coverage/serial_0_0_0_a.ec"),
		}},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("BatchEnd mismatch (-got +want):\n%s", diff)
	}

	files, err := testutil.ReadFiles(td)
	if err != nil {
		t.Fatal(err)
	}
	wantFiles := map[string]string{
		"screenshots/serial_0_0_screenshot.png": "PNG",
		"tombstones/serial_0_0_tombstones.txt":  "backtrace",
		"coverage/serial_0_0_0_a.ec":            "coverage",
	}
	if diff := cmp.Diff(files, wantFiles); diff != "" {
		t.Errorf("Archived files mismatch (-got +want):\n%s", diff)
	}
	if _, ok := dev.File("/sdcard/coverage/a.ec"); ok {
		t.Error("Coverage file was not removed from the device")
	}
}
