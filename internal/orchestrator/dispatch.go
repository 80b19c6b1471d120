// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package orchestrator

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/exp/maps"

	"go.chromium.org/devicetest/errors"
	"go.chromium.org/devicetest/internal/device"
	"go.chromium.org/devicetest/internal/failfast"
	"go.chromium.org/devicetest/internal/logging"
	"go.chromium.org/devicetest/internal/result"
	"go.chromium.org/devicetest/internal/sharding"
)

// Iteration is the outcome of one full pass over the test list.
type Iteration struct {
	Index    int
	Sets     []*result.RunResultSet
	Verdicts map[result.TestID]result.Verdict
}

// Passed reports whether every test of the iteration passed or was skipped.
func (it *Iteration) Passed() bool {
	return result.DidRunPass(it.Verdicts)
}

// Run runs the full test list Repeat times. With BreakOnFailure it stops
// after the first iteration that did not pass. The iterations run so far are
// returned even on error.
func (o *Orchestrator) Run(ctx context.Context) ([]*Iteration, error) {
	threshold := 0
	if o.opts.BreakOnFailure {
		threshold = 1
	}
	counter := failfast.NewCounter(threshold)

	var its []*Iteration
	for i := 0; i < o.opts.Repeat; i++ {
		if err := counter.Check(); err != nil {
			logging.Infof(ctx, "Skipping remaining iterations: %v", err)
			break
		}
		if o.opts.Repeat > 1 {
			logging.Infof(ctx, "Starting iteration %d/%d", i+1, o.opts.Repeat)
		}
		sets, err := o.RunTests(ctx)
		if err != nil {
			return its, err
		}
		verdicts, _ := result.Merge(sets)
		it := &Iteration{Index: i, Sets: sets, Verdicts: verdicts}
		its = append(its, it)
		if !it.Passed() {
			counter.Increment()
		}
	}
	return its, nil
}

// RunTests runs every test once, then retries tests that did not pass up to
// NumRetries times. Each attempt shards the pending tests over the live
// devices, isolating tests that crashed before, and the crash registry is
// updated only after all shards of the attempt finished.
func (o *Orchestrator) RunTests(ctx context.Context) ([]*result.RunResultSet, error) {
	switch s := o.State(); s {
	case StateSetUp, StateCollect:
	default:
		return nil, errors.Errorf("RunTests called in state %v", s)
	}

	pending := o.tests
	var all []*result.RunResultSet
	for attempt := 0; attempt <= o.opts.NumRetries && len(pending) > 0; attempt++ {
		if ctx.Err() != nil {
			break
		}
		devs := o.liveDevices()
		if len(devs) == 0 {
			logging.Warning(ctx, "No devices left")
			break
		}
		if attempt > 0 {
			logging.Infof(ctx, "Retrying %d test(s) (attempt %d/%d)", len(pending), attempt+1, o.opts.NumRetries+1)
		}
		shards, err := sharding.CreateShards(pending, o.crashes.Snapshot(), len(devs), o.opts.MaxShardSize)
		if err != nil {
			return nil, err
		}

		o.setState(StateDispatch)
		sets := o.dispatch(ctx, shards, attempt)
		o.setState(StateCollect)

		for _, s := range sets {
			if n := o.crashes.Observe(s); n > 0 {
				logging.Infof(ctx, "%d new crash-prone test(s) will run isolated", n)
			}
		}
		all = append(all, sets...)
		pending = o.pendingTests(all)
	}

	if err := o.checkResults(all); err != nil {
		return nil, err
	}
	return all, nil
}

// checkResults returns an error wrapping ErrNoResults if sets is empty, or if
// every device was excluded and sets hold nothing but UNKNOWN results.
func (o *Orchestrator) checkResults(sets []*result.RunResultSet) error {
	if len(sets) == 0 {
		return ErrNoResults
	}
	if len(o.liveDevices()) > 0 {
		return nil
	}
	for _, s := range sets {
		for _, r := range s.Results {
			if r.Status != result.StatusUnknown {
				return nil
			}
		}
	}
	excluded := o.Excluded()
	serials := maps.Keys(excluded)
	sort.Strings(serials)
	var errs error
	for _, s := range serials {
		errs = multierr.Append(errs, errors.Wrap(excluded[s], s))
	}
	return errors.Wrapf(ErrNoResults, "all %d device(s) excluded: %v", len(serials), errs)
}

// pendingTests returns the tests to run in the next attempt: tests whose
// verdict should be retried followed by tests without any result.
func (o *Orchestrator) pendingTests(sets []*result.RunResultSet) []result.TestID {
	verdicts, retry := result.Merge(sets)
	for _, t := range o.tests {
		if _, ok := verdicts[t]; !ok {
			retry = append(retry, t)
		}
	}
	return retry
}

// shardQueue is a queue of shards shared by device workers.
type shardQueue struct {
	mu     sync.Mutex
	shards []*sharding.Shard
}

func (q *shardQueue) pop() (*sharding.Shard, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.shards) == 0 {
		return nil, false
	}
	s := q.shards[0]
	q.shards = q.shards[1:]
	return s, true
}

func (q *shardQueue) push(s *sharding.Shard) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shards = append(q.shards, s)
}

func (q *shardQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.shards)
}

// dispatch runs shards on the live devices, one worker per device, and
// returns the result sets tagged with attempt. Tests that never started on a
// device that became unreachable are queued again for the remaining
// devices.
func (o *Orchestrator) dispatch(ctx context.Context, shards []*sharding.Shard, attempt int) []*result.RunResultSet {
	q := &shardQueue{shards: shards}
	var mu sync.Mutex
	var sets []*result.RunResultSet

	for q.len() > 0 && ctx.Err() == nil {
		devs := o.liveDevices()
		if len(devs) == 0 {
			logging.Warningf(ctx, "No devices left to run %d shard(s)", q.len())
			break
		}
		var wg sync.WaitGroup
		for _, dev := range devs {
			dev := dev
			wg.Add(1)
			go func() {
				defer wg.Done()
				dctx := deviceContext(ctx, dev)
				for ctx.Err() == nil {
					sh, ok := q.pop()
					if !ok {
						return
					}
					set, err := o.runShard(dctx, dev, sh, attempt)
					if set != nil {
						set.Attempt = attempt
						mu.Lock()
						sets = append(sets, set)
						mu.Unlock()
					}
					if device.IsUnreachable(err) {
						o.exclude(dctx, dev, err)
						if retry := unstarted(sh, set); len(retry) > 0 {
							q.push(&sharding.Shard{Tests: retry, Isolated: sh.Isolated})
						}
						return
					}
				}
			}()
		}
		wg.Wait()
	}

	// Completion order is not deterministic.
	sort.SliceStable(sets, func(i, j int) bool { return sets[i].Device < sets[j].Device })
	return sets
}

func (o *Orchestrator) runShard(ctx context.Context, dev device.Device, sh *sharding.Shard, attempt int) (*result.RunResultSet, error) {
	logging.Debugf(ctx, "Running shard of %d test(s) (attempt %d)", len(sh.Tests), attempt+1)
	set, _, err := o.runner.RunShard(ctx, dev, sh)
	if err != nil && !device.IsUnreachable(err) {
		logging.Errorf(ctx, "Shard failed: %v", err)
	}
	return set, err
}

// unstarted returns the tests of sh that have no result or an UNKNOWN
// result in set.
func unstarted(sh *sharding.Shard, set *result.RunResultSet) []result.TestID {
	var out []result.TestID
	for _, t := range sh.Tests {
		if set == nil {
			out = append(out, t)
			continue
		}
		if r, ok := set.Get(t); !ok || r.Status == result.StatusUnknown {
			out = append(out, t)
		}
	}
	return out
}
