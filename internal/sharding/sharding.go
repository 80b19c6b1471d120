// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package sharding implements the test sharding algorithms.
package sharding

import (
	"golang.org/x/exp/slices"

	"go.chromium.org/devicetest/errors"
	"go.chromium.org/devicetest/internal/result"
)

// DefaultMaxShardSize is the default upper bound of tests in one shard.
const DefaultMaxShardSize = 256

// Shard is an ordered list of tests run on one device in one attempt.
type Shard struct {
	Tests []result.TestID
	// Isolated is true for a singleton shard holding a test that crashed
	// before.
	Isolated bool
}

// CreateShards splits tests into shards for deviceCount devices.
//
// Tests in crashes are put into singleton shards first, in the order they
// appear in crashes. The remaining tests are distributed round-robin into
// deviceCount buckets, and each bucket is split into consecutive chunks of at
// most maxShardSize tests. Every test in tests appears in exactly one shard.
func CreateShards(tests, crashes []result.TestID, deviceCount, maxShardSize int) ([]*Shard, error) {
	if deviceCount < 1 {
		return nil, errors.Errorf("invalid device count %d", deviceCount)
	}
	if maxShardSize < 1 {
		return nil, errors.Errorf("invalid max shard size %d", maxShardSize)
	}

	var shards []*Shard
	isolated := make(map[result.TestID]bool)
	for _, t := range crashes {
		if isolated[t] || !slices.Contains(tests, t) {
			continue
		}
		isolated[t] = true
		shards = append(shards, &Shard{Tests: []result.TestID{t}, Isolated: true})
	}

	var rest []result.TestID
	for _, t := range tests {
		if !isolated[t] {
			rest = append(rest, t)
		}
	}

	for i := 0; i < deviceCount; i++ {
		var bucket []result.TestID
		for j := i; j < len(rest); j += deviceCount {
			bucket = append(bucket, rest[j])
		}
		for len(bucket) > 0 {
			n := maxShardSize
			if n > len(bucket) {
				n = len(bucket)
			}
			shards = append(shards, &Shard{Tests: bucket[:n:n]})
			bucket = bucket[n:]
		}
	}
	return shards, nil
}

// Compute returns the tests belonging to the shardIndex-th of totalShards
// contiguous ranges of tests. It is used to split one suite across several
// independent devicetest invocations before per-device sharding happens.
func Compute(tests []result.TestID, shardIndex, totalShards int) ([]result.TestID, error) {
	if totalShards < 1 {
		return nil, errors.Errorf("invalid total shards %d", totalShards)
	}
	if shardIndex < 0 || shardIndex >= totalShards {
		return nil, errors.Errorf("shard index %d out of range [0, %d)", shardIndex, totalShards)
	}
	start, end := shardIndices(len(tests), shardIndex, totalShards)
	return append([]result.TestID(nil), tests[start:end]...), nil
}

func shardIndices(numTests, shardIndex, totalShards int) (startIndex, endIndex int) {
	numTestsPerShard := numTests / totalShards
	extraTests := numTests % totalShards

	// The number of tests would be different for different shard index.
	if shardIndex < extraTests {
		// First few shards will have one extra test.
		numTestsPerShard++
		startIndex = shardIndex * numTestsPerShard
	} else {
		startIndex = shardIndex*numTestsPerShard + extraTests
	}

	endIndex = startIndex + numTestsPerShard
	return startIndex, endIndex
}
