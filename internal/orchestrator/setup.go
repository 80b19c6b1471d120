// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package orchestrator

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.chromium.org/devicetest/errors"
	"go.chromium.org/devicetest/internal/device"
	"go.chromium.org/devicetest/internal/logging"
)

// SetUp prepares every device in parallel: it installs APKs, pushes data
// dependencies and starts on-device helpers. A device that fails is
// excluded from the run. SetUp fails if no device survives.
func (o *Orchestrator) SetUp(ctx context.Context) error {
	if s := o.State(); s != StateCreated {
		return errors.Errorf("SetUp called in state %v", s)
	}
	o.setState(StateSetUp)

	g, gctx := errgroup.WithContext(ctx)
	for _, dev := range o.devices {
		dev := dev
		g.Go(func() error {
			dctx := deviceContext(gctx, dev)
			if err := o.setUpDevice(dctx, dev); err != nil {
				o.exclude(dctx, dev, errors.Wrap(err, "setup failed"))
				o.captureBugReport(dctx, dev)
			}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		o.setState(StateAborted)
		return err
	}
	if len(o.liveDevices()) == 0 {
		o.setState(StateAborted)
		return errors.New("setup failed on every device")
	}
	return nil
}

func (o *Orchestrator) setUpDevice(ctx context.Context, dev device.Device) error {
	for _, apk := range o.spec.Suite.APKs {
		logging.Infof(ctx, "Installing %s", apk)
		if err := dev.Install(ctx, apk); err != nil {
			return err
		}
	}
	if deps := o.spec.Suite.DataDeps; len(deps) > 0 {
		var pairs []device.FilePair
		for _, d := range deps {
			pairs = append(pairs, device.FilePair{Host: d.Host, Device: d.Device})
		}
		logging.Infof(ctx, "Pushing %d data dependencies", len(pairs))
		if err := dev.PushChangedFiles(ctx, pairs); err != nil {
			return err
		}
	}
	if o.spec.WaitForJavaDebugger {
		if _, err := dev.RunShellCommand(ctx, []string{"am", "set-debug-app", "-w", "--persistent", o.spec.Suite.Package}, &device.ShellOptions{CheckReturn: true}); err != nil {
			return err
		}
	}
	return nil
}

// captureBugReport archives a bugreport of dev when artifacts are archived
// remotely. Failures are logged.
func (o *Orchestrator) captureBugReport(ctx context.Context, dev device.Device) {
	if o.arch == nil || !o.arch.Remote() {
		return
	}
	f, err := o.arch.ArchivedTempfile(ctx, dev.Serial()+"_bugreport.zip", "bugreports", "application/zip")
	if err != nil {
		logging.Warningf(ctx, "Failed to create bugreport file: %v", err)
		return
	}
	if err := dev.BugReport(ctx, f.Name()); err != nil {
		logging.Warningf(ctx, "Failed to capture bugreport: %v", err)
	}
	if err := f.Close(ctx); err != nil {
		logging.Warningf(ctx, "Failed to archive bugreport: %v", err)
		return
	}
	logging.Infof(ctx, "Bugreport: %s", f.Link())
}

// TearDown restores every device that is still reachable in parallel. It
// runs whatever the outcome of the run was, and returns the combined errors.
func (o *Orchestrator) TearDown(ctx context.Context) error {
	aborted := o.State() == StateAborted
	o.setState(StateTearDown)

	var mu sync.Mutex
	var errs error
	var g errgroup.Group
	for _, dev := range o.devices {
		dev := dev
		if err, ok := o.Excluded()[dev.Serial()]; ok && device.IsUnreachable(err) {
			continue
		}
		g.Go(func() error {
			if err := o.tearDownDevice(deviceContext(ctx, dev), dev); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, errors.Wrapf(err, "%s: teardown failed", dev.Serial()))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	if aborted {
		o.setState(StateAborted)
	} else {
		o.setState(StateDone)
	}
	return errs
}

func (o *Orchestrator) tearDownDevice(ctx context.Context, dev device.Device) error {
	var errs error
	if o.spec.WaitForJavaDebugger {
		_, err := dev.RunShellCommand(ctx, []string{"am", "clear-debug-app"}, &device.ShellOptions{CheckReturn: true})
		errs = multierr.Append(errs, err)
	}
	_, err := dev.RunShellCommand(ctx, []string{"sh", "-c", "rm -f " + device.TempDir + "/devicetest_*"}, nil)
	errs = multierr.Append(errs, err)
	return errs
}
