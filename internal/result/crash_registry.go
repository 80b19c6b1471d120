// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package result

import "sync"

// CrashRegistry is the set of tests observed to crash at least once during a
// run. It only grows. It is safe for concurrent use, though the orchestrator
// only updates it between dispatch rounds.
type CrashRegistry struct {
	mu    sync.Mutex
	seen  map[TestID]struct{}
	order []TestID
}

// NewCrashRegistry returns an empty CrashRegistry.
func NewCrashRegistry() *CrashRegistry {
	return &CrashRegistry{seen: make(map[TestID]struct{})}
}

// Add records names as crash-prone. It returns the number of names that were
// not already present.
func (r *CrashRegistry) Add(names ...TestID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, name := range names {
		if _, ok := r.seen[name]; ok {
			continue
		}
		r.seen[name] = struct{}{}
		r.order = append(r.order, name)
		n++
	}
	return n
}

// Observe records every CRASH result in set.
func (r *CrashRegistry) Observe(set *RunResultSet) int {
	var crashed []TestID
	for _, res := range set.Results {
		if res.Status == StatusCrash {
			crashed = append(crashed, res.Name)
		}
	}
	return r.Add(crashed...)
}

// Contains reports whether name is registered.
func (r *CrashRegistry) Contains(name TestID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[name]
	return ok
}

// Snapshot returns the registered names in the order they were first added.
func (r *CrashRegistry) Snapshot() []TestID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TestID(nil), r.order...)
}

// Len returns the number of registered names.
func (r *CrashRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
