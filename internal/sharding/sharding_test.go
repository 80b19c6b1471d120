// Copyright 2021 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sharding_test

import (
	"fmt"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/devicetest/internal/result"
	"go.chromium.org/devicetest/internal/sharding"
)

// ids creates a list of TestIDs from pattern, one per character.
func ids(pattern string) []result.TestID {
	var tests []result.TestID
	for _, ch := range pattern {
		tests = append(tests, result.TestID(ch))
	}
	return tests
}

func shardTests(shards []*sharding.Shard) [][]result.TestID {
	var got [][]result.TestID
	for _, s := range shards {
		got = append(got, s.Tests)
	}
	return got
}

func TestCreateShards(t *testing.T) {
	for _, tc := range []struct {
		name         string
		tests        string
		crashes      string
		devices      int
		maxShardSize int
		want         [][]result.TestID
	}{
		{
			name:         "round robin then chunk",
			tests:        "ABCDE",
			devices:      2,
			maxShardSize: 2,
			want:         [][]result.TestID{ids("AC"), ids("E"), ids("BD")},
		},
		{
			name:         "crash isolation first",
			tests:        "ABC",
			crashes:      "B",
			devices:      1,
			maxShardSize: 10,
			want:         [][]result.TestID{ids("B"), ids("AC")},
		},
		{
			name:         "crash order follows registry",
			tests:        "ABCD",
			crashes:      "DZB",
			devices:      1,
			maxShardSize: 10,
			want:         [][]result.TestID{ids("D"), ids("B"), ids("AC")},
		},
		{
			name:         "empty",
			tests:        "",
			devices:      3,
			maxShardSize: 1,
			want:         nil,
		},
		{
			name:         "more devices than tests",
			tests:        "AB",
			devices:      4,
			maxShardSize: 256,
			want:         [][]result.TestID{ids("A"), ids("B")},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			shards, err := sharding.CreateShards(ids(tc.tests), ids(tc.crashes), tc.devices, tc.maxShardSize)
			if err != nil {
				t.Fatal("CreateShards failed: ", err)
			}
			if diff := cmp.Diff(shardTests(shards), tc.want); diff != "" {
				t.Errorf("Shards mismatch (-got +want):\n%s", diff)
			}
		})
	}
}

func TestCreateShardsInvalid(t *testing.T) {
	if _, err := sharding.CreateShards(ids("A"), nil, 0, 1); err == nil {
		t.Error("CreateShards succeeded with zero devices")
	}
	if _, err := sharding.CreateShards(ids("A"), nil, 1, 0); err == nil {
		t.Error("CreateShards succeeded with zero max shard size")
	}
}

func TestCreateShardsProperties(t *testing.T) {
	const pattern = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghij"
	for devices := 1; devices <= 5; devices++ {
		for size := 1; size <= 7; size++ {
			for _, crashes := range []string{"", "Q", "aZA", "xyz"} {
				t.Run(fmt.Sprintf("devices=%d/size=%d/crashes=%q", devices, size, crashes), func(t *testing.T) {
					shards, err := sharding.CreateShards(ids(pattern), ids(crashes), devices, size)
					if err != nil {
						t.Fatal("CreateShards failed: ", err)
					}

					var all []result.TestID
					crashSet := make(map[result.TestID]bool)
					for _, c := range ids(crashes) {
						crashSet[c] = true
					}
					for _, s := range shards {
						all = append(all, s.Tests...)
						if len(s.Tests) > 1 && len(s.Tests) > size {
							t.Errorf("Shard %v exceeds max size %d", s.Tests, size)
						}
						for _, id := range s.Tests {
							if crashSet[id] && len(s.Tests) != 1 {
								t.Errorf("Crashed test %s shares shard %v", id, s.Tests)
							}
						}
					}

					want := ids(pattern)
					sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
					sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
					if diff := cmp.Diff(all, want); diff != "" {
						t.Errorf("Union of shards mismatch (-got +want):\n%s", diff)
					}
				})
			}
		}
	}
}

func TestCompute(t *testing.T) {
	for _, tc := range []struct {
		tests      string
		index      int
		total      int
		wantShards string
	}{
		{"ABCDEFGHI", 0, 3, "ABC"},
		{"ABCDEFGHI", 2, 3, "GHI"},
		{"ABCDEFGH", 0, 3, "ABC"},
		{"ABCDEFGH", 1, 3, "DEF"},
		{"ABCDEFGH", 2, 3, "GH"},
		{"AB", 3, 4, ""},
	} {
		got, err := sharding.Compute(ids(tc.tests), tc.index, tc.total)
		if err != nil {
			t.Fatalf("Compute(%q, %d, %d) failed: %v", tc.tests, tc.index, tc.total, err)
		}
		if diff := cmp.Diff(got, ids(tc.wantShards)); diff != "" {
			t.Errorf("Compute(%q, %d, %d) mismatch (-got +want):\n%s", tc.tests, tc.index, tc.total, diff)
		}
	}
}

func TestComputeInvalid(t *testing.T) {
	if _, err := sharding.Compute(ids("AB"), 2, 2); err == nil {
		t.Error("Compute succeeded with an out-of-range index")
	}
	if _, err := sharding.Compute(ids("AB"), 0, 0); err == nil {
		t.Error("Compute succeeded with zero shards")
	}
}
