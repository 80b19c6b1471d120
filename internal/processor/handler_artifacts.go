// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package processor

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/multierr"

	"go.chromium.org/devicetest/errors"
	"go.chromium.org/devicetest/internal/archive"
	"go.chromium.org/devicetest/internal/device"
	"go.chromium.org/devicetest/internal/result"
)

// tombstoneDir is where the device keeps native crash tombstones.
const tombstoneDir = "/data/tombstones"

// logcatHandler links the invocation logcat to every result.
type logcatHandler struct {
	baseHandler
}

// NewLogcatHandler creates a handler which attaches the logcat link.
func NewLogcatHandler() Handler {
	return &logcatHandler{}
}

func (h *logcatHandler) Name() string { return "logcat" }

func (h *logcatHandler) BatchEnd(ctx context.Context, bi *BatchInfo, results []result.RawResult) ([]result.RawResult, error) {
	if bi.LogcatLink == "" {
		return nil, nil
	}
	out := make([]result.RawResult, len(results))
	for i, r := range results {
		out[i] = r.WithLink(result.LinkLogcat, bi.LogcatLink)
	}
	return out, nil
}

// screenshotHandler captures the screen after an invocation with
// non-passing tests and links it to them.
type screenshotHandler struct {
	baseHandler
	arch archive.Archiver
}

// NewScreenshotHandler creates a handler which captures screenshots for
// non-passing tests.
func NewScreenshotHandler(arch archive.Archiver) Handler {
	return &screenshotHandler{arch: arch}
}

func (h *screenshotHandler) Name() string { return "screenshot" }

func (h *screenshotHandler) BatchEnd(ctx context.Context, bi *BatchInfo, results []result.RawResult) ([]result.RawResult, error) {
	if !anyStatus(results, func(s result.Status) bool { return !s.Passed() }) {
		return nil, nil
	}
	tmp, err := device.NewTempFile(ctx, bi.Device, "screenshot_", ".png")
	if err != nil {
		return nil, err
	}
	defer tmp.Close(ctx)
	if _, err := bi.Device.RunShellCommand(ctx, []string{"screencap", "-p", tmp.Path}, &device.ShellOptions{CheckReturn: true}); err != nil {
		return nil, errors.Wrap(err, "failed to capture screen")
	}
	link, err := archiveDeviceFiles(ctx, h.arch, bi.Device, []string{tmp.Path}, bi.Name+"_screenshot.png", "screenshots", "image/png")
	if err != nil {
		return nil, err
	}
	return withLinkIf(results, result.LinkScreenshot, link, func(s result.Status) bool { return !s.Passed() }), nil
}

// tombstoneHandler clears tombstones before an invocation and archives the
// tombstones written during it for crashed tests.
type tombstoneHandler struct {
	baseHandler
	arch archive.Archiver
}

// NewTombstoneHandler creates a handler which captures tombstones for
// crashed tests.
func NewTombstoneHandler(arch archive.Archiver) Handler {
	return &tombstoneHandler{arch: arch}
}

func (h *tombstoneHandler) Name() string { return "tombstones" }

func (h *tombstoneHandler) BatchStart(ctx context.Context, bi *BatchInfo) error {
	_, err := bi.Device.RunShellCommand(ctx, []string{"sh", "-c", "rm -f " + tombstoneDir + "/*"}, &device.ShellOptions{AsRoot: true})
	return err
}

func (h *tombstoneHandler) BatchEnd(ctx context.Context, bi *BatchInfo, results []result.RawResult) ([]result.RawResult, error) {
	isCrash := func(s result.Status) bool { return s == result.StatusCrash }
	if !anyStatus(results, isCrash) {
		return nil, nil
	}
	lines, err := bi.Device.RunShellCommand(ctx, []string{"ls", tombstoneDir}, &device.ShellOptions{AsRoot: true})
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, l := range lines {
		if strings.HasPrefix(l, "tombstone_") && !strings.HasSuffix(l, ".pb") {
			paths = append(paths, path.Join(tombstoneDir, l))
		}
	}
	if len(paths) == 0 {
		return nil, nil
	}
	link, err := archiveDeviceFiles(ctx, h.arch, bi.Device, paths, bi.Name+"_tombstones.txt", "tombstones", "text/plain")
	if err != nil {
		return nil, err
	}
	return withLinkIf(results, result.LinkTombstones, link, isCrash), nil
}

// coverageHandler moves coverage files written on the device during an
// invocation to the archive.
type coverageHandler struct {
	baseHandler
	arch archive.Archiver
	dir  string
}

// NewCoverageHandler creates a handler which archives coverage files found
// in the device directory dir.
func NewCoverageHandler(arch archive.Archiver, dir string) Handler {
	return &coverageHandler{arch: arch, dir: dir}
}

func (h *coverageHandler) Name() string { return "coverage" }

func (h *coverageHandler) BatchEnd(ctx context.Context, bi *BatchInfo, results []result.RawResult) ([]result.RawResult, error) {
	lines, err := bi.Device.RunShellCommand(ctx, []string{"ls", h.dir}, nil)
	if err != nil {
		return nil, err
	}
	var out []result.RawResult
	var errs error
	for i, name := range lines {
		if name == "" || strings.Contains(name, "No such file") {
			continue
		}
		src := path.Join(h.dir, name)
		link, err := archiveDeviceFiles(ctx, h.arch, bi.Device, []string{src}, fmt.Sprintf("%s_%d_%s", bi.Name, i, name), "coverage", "application/octet-stream")
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if _, err := bi.Device.RunShellCommand(ctx, []string{"rm", "-f", src}, nil); err != nil {
			errs = multierr.Append(errs, err)
		}
		if out == nil {
			out = withLinkIf(results, result.LinkCoverage, link, func(result.Status) bool { return true })
		}
	}
	return out, errs
}

// archiveDeviceFiles concatenates device files into one archived file and
// returns its link.
func archiveDeviceFiles(ctx context.Context, arch archive.Archiver, dev device.Device, paths []string, name, category, datatype string) (string, error) {
	f, err := arch.ArchivedTempfile(ctx, name, category, datatype)
	if err != nil {
		return "", err
	}
	var werr error
	for _, p := range paths {
		b, err := dev.ReadFile(ctx, p)
		if err != nil {
			werr = multierr.Append(werr, err)
			continue
		}
		if len(paths) > 1 {
			fmt.Fprintf(f, "*** %s ***\n", p)
		}
		if _, err := f.Write(b); err != nil {
			werr = multierr.Append(werr, err)
		}
	}
	if err := f.Close(ctx); err != nil {
		return "", multierr.Append(werr, err)
	}
	return f.Link(), werr
}

func anyStatus(results []result.RawResult, pred func(result.Status) bool) bool {
	for _, r := range results {
		if pred(r.Status) {
			return true
		}
	}
	return false
}

func withLinkIf(results []result.RawResult, name, link string, pred func(result.Status) bool) []result.RawResult {
	out := make([]result.RawResult, len(results))
	for i, r := range results {
		if pred(r.Status) {
			r = r.WithLink(name, link)
		}
		out[i] = r
	}
	return out
}
