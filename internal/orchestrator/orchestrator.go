// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package orchestrator drives a test run across devices: setup, sharded
// dispatch with retries, result collection and teardown.
package orchestrator

import (
	"context"
	"sync"

	"golang.org/x/exp/maps"

	"go.chromium.org/devicetest/errors"
	"go.chromium.org/devicetest/internal/archive"
	"go.chromium.org/devicetest/internal/device"
	"go.chromium.org/devicetest/internal/logging"
	"go.chromium.org/devicetest/internal/result"
	"go.chromium.org/devicetest/internal/sharding"
	"go.chromium.org/devicetest/internal/testspec"
)

// ErrNoResults is returned when no device produced any result.
var ErrNoResults = errors.New("no device produced results")

// State is the lifecycle state of an Orchestrator.
type State int

const (
	StateCreated State = iota
	StateSetUp
	StateDispatch
	StateCollect
	StateTearDown
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateSetUp:
		return "SETUP"
	case StateDispatch:
		return "DISPATCH"
	case StateCollect:
		return "COLLECT"
	case StateTearDown:
		return "TEARDOWN"
	case StateDone:
		return "DONE"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// ShardRunner runs one shard on one device. *runner.Runner implements it.
type ShardRunner interface {
	RunShard(ctx context.Context, dev device.Device, shard *sharding.Shard) (*result.RunResultSet, []result.TestID, error)
}

// Options controls an Orchestrator.
type Options struct {
	// NumRetries is the number of extra attempts for tests that did not
	// pass.
	NumRetries int
	// Repeat is the number of full iterations run by Run.
	Repeat int
	// BreakOnFailure makes Run stop after the first iteration that did not
	// pass.
	BreakOnFailure bool
	// MaxShardSize bounds the number of tests in a shard.
	MaxShardSize int
	// OnExclude, if set, is called when a device is excluded from the run.
	OnExclude func(serial string, err error)
}

// Orchestrator runs a test suite on a set of devices.
type Orchestrator struct {
	spec    *testspec.Spec
	tests   []result.TestID
	runner  ShardRunner
	arch    archive.Archiver
	opts    Options
	crashes *result.CrashRegistry

	mu       sync.Mutex
	state    State
	devices  []device.Device // in the order given to New
	excluded map[string]error
}

// New creates an Orchestrator running tests on devices.
func New(spec *testspec.Spec, tests []result.TestID, devices []device.Device, runner ShardRunner, arch archive.Archiver, opts Options) (*Orchestrator, error) {
	if len(devices) == 0 {
		return nil, errors.New("no devices")
	}
	if opts.NumRetries < 0 {
		return nil, errors.Errorf("invalid number of retries %d", opts.NumRetries)
	}
	if opts.Repeat < 1 {
		opts.Repeat = 1
	}
	if opts.MaxShardSize < 1 {
		opts.MaxShardSize = sharding.DefaultMaxShardSize
	}
	return &Orchestrator{
		spec:     spec,
		tests:    tests,
		runner:   runner,
		arch:     arch,
		opts:     opts,
		crashes:  result.NewCrashRegistry(),
		state:    StateCreated,
		devices:  devices,
		excluded: make(map[string]error),
	}, nil
}

// TestPackage returns the suite name for reporting.
func (o *Orchestrator) TestPackage() string {
	return o.spec.Suite.TestPackage()
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
}

// Crashes returns the tests that crashed at least once, in the order they
// were first seen.
func (o *Orchestrator) Crashes() []result.TestID {
	return o.crashes.Snapshot()
}

// Excluded returns the excluded devices with the reasons.
func (o *Orchestrator) Excluded() map[string]error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return maps.Clone(o.excluded)
}

// exclude removes dev from the rest of the run.
func (o *Orchestrator) exclude(ctx context.Context, dev device.Device, err error) {
	o.mu.Lock()
	if _, ok := o.excluded[dev.Serial()]; ok {
		o.mu.Unlock()
		return
	}
	o.excluded[dev.Serial()] = err
	o.mu.Unlock()

	logging.Warningf(ctx, "Excluding device %s: %v", dev.Serial(), err)
	if o.opts.OnExclude != nil {
		o.opts.OnExclude(dev.Serial(), err)
	}
}

// liveDevices returns devices that were not excluded.
func (o *Orchestrator) liveDevices() []device.Device {
	o.mu.Lock()
	defer o.mu.Unlock()
	var devs []device.Device
	for _, d := range o.devices {
		if _, ok := o.excluded[d.Serial()]; !ok {
			devs = append(devs, d)
		}
	}
	return devs
}

// deviceContext returns ctx with log messages prefixed by the serial of dev.
func deviceContext(ctx context.Context, dev device.Device) context.Context {
	return logging.SetLogPrefix(ctx, "["+dev.Serial()+"] ")
}
