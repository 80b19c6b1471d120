// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config defines the configuration of a devicetest invocation.
package config

import (
	"flag"
	"fmt"
	"path/filepath"
	"time"

	"go.chromium.org/devicetest/errors"
	"go.chromium.org/devicetest/internal/command"
	"go.chromium.org/devicetest/internal/instrumentation"
	"go.chromium.org/devicetest/internal/sharding"
	"go.chromium.org/devicetest/internal/testspec"
)

// ArchiveMode describes where artifacts are archived.
type ArchiveMode int

const (
	// ArchiveLocal writes artifacts under the results directory.
	ArchiveLocal ArchiveMode = iota
	// ArchiveGS uploads artifacts to a Google Cloud Storage bucket.
	ArchiveGS
)

const (
	defaultNumRetries = 2
	jsonResultsFile   = "results.json"
	archiveDir        = "artifacts"
)

// MutableConfig is similar to Config, but its fields are mutable.
// Call Freeze to obtain a Config from MutableConfig.
type MutableConfig struct {
	// See Config for descriptions of these fields.

	Devices   []string
	Emulators string
	ADB       string
	Suite     string
	FlagsFile string

	NumRetries     int
	Repeat         int
	BreakOnFailure bool
	MaxShardSize   int
	Timeout        time.Duration

	TotalShards int
	ShardIndex  int

	ResDir          string
	JSONResultsFile string

	Screenshots         bool
	Tombstones          bool
	CoverageDir         string
	WaitForJavaDebugger bool
	TimeoutScale        float64
	LogcatFilters       []string

	TestFilter         string
	Annotations        []string
	ExcludeAnnotations []string

	Archive  ArchiveMode
	GSBucket string
	GSPrefix string
}

// Config contains the configuration for listing or running tests.
// All Config values are frozen and cannot be altered after construction.
type Config struct {
	m *MutableConfig
}

// Devices lists serials or host:port addresses of devices to run on. Empty
// means every attached online device.
func (c *Config) Devices() []string { return append([]string(nil), c.m.Devices...) }

// Emulators is a docker label selecting emulator containers to connect to.
func (c *Config) Emulators() string { return c.m.Emulators }

// ADB is the path to the adb executable.
func (c *Config) ADB() string { return c.m.ADB }

// Suite is the path to the YAML suite file.
func (c *Config) Suite() string { return c.m.Suite }

// FlagsFile is the on-device command-line flags file for instrumentation.
func (c *Config) FlagsFile() string { return c.m.FlagsFile }

// NumRetries is the number of retry attempts for failed tests.
func (c *Config) NumRetries() int { return c.m.NumRetries }

// Repeat is the number of times the whole test list is run.
func (c *Config) Repeat() int { return c.m.Repeat }

// BreakOnFailure stops repeating after the first failing iteration.
func (c *Config) BreakOnFailure() bool { return c.m.BreakOnFailure }

// MaxShardSize bounds the number of tests in one shard.
func (c *Config) MaxShardSize() int { return c.m.MaxShardSize }

// Timeout bounds the whole run. Zero means no limit.
func (c *Config) Timeout() time.Duration { return c.m.Timeout }

// TotalShards is the number of bots the test list is split across.
func (c *Config) TotalShards() int { return c.m.TotalShards }

// ShardIndex is the index of this bot's part of the test list.
func (c *Config) ShardIndex() int { return c.m.ShardIndex }

// ResDir is the directory where logs and artifacts are written.
func (c *Config) ResDir() string { return c.m.ResDir }

// JSONResultsFile is the path of the GTest-style JSON results file.
func (c *Config) JSONResultsFile() string { return c.m.JSONResultsFile }

// ArchiveDir is the local directory artifacts are archived to.
func (c *Config) ArchiveDir() string { return filepath.Join(c.m.ResDir, archiveDir) }

// Archive is where artifacts are archived.
func (c *Config) Archive() ArchiveMode { return c.m.Archive }

// GSBucket is the bucket used with ArchiveGS.
func (c *Config) GSBucket() string { return c.m.GSBucket }

// GSPrefix is the object name prefix used with ArchiveGS.
func (c *Config) GSPrefix() string { return c.m.GSPrefix }

// Filter returns the test filter built from the filter flags.
func (c *Config) Filter() (*testspec.Filter, error) {
	return testspec.NewFilter(c.m.TestFilter, c.m.Annotations, c.m.ExcludeAnnotations)
}

// TestSpec returns the run description for suite.
func (c *Config) TestSpec(suite *testspec.Suite) *testspec.Spec {
	return &testspec.Spec{
		Suite:               suite,
		TimeoutScale:        c.m.TimeoutScale,
		WaitForJavaDebugger: c.m.WaitForJavaDebugger,
		Screenshots:         c.m.Screenshots,
		Tombstones:          c.m.Tombstones,
		CoverageDir:         c.m.CoverageDir,
		LogcatFilters:       append([]string(nil), c.m.LogcatFilters...),
	}
}

// NewMutableConfig returns a new configuration. Results are written under
// baseDir unless -resultsdir is given.
func NewMutableConfig(baseDir string) *MutableConfig {
	return &MutableConfig{ResDir: baseDir}
}

// SetFlags adds common run-related flags to f that store values in c.
func (c *MutableConfig) SetFlags(f *flag.FlagSet) {
	f.Var(command.NewListFlag(",", func(v []string) { c.Devices = v }, nil), "devices", "comma-separated list of device serials or host:port addresses (default all attached)")
	f.StringVar(&c.Emulators, "emulators", "", "docker label selecting emulator containers to connect to")
	f.StringVar(&c.ADB, "adb", "adb", "path to adb executable")
	f.StringVar(&c.Suite, "suite", "", "path to YAML suite file")
	f.StringVar(&c.FlagsFile, "flags_file", instrumentation.DefaultFlagsFile, "on-device command-line flags file")

	f.IntVar(&c.NumRetries, "num_retries", defaultNumRetries, "number of retries for failed tests")
	f.IntVar(&c.Repeat, "repeat", 1, "number of times to run the test list")
	f.BoolVar(&c.BreakOnFailure, "break_on_failure", false, "stop repeating after the first failing iteration")
	f.IntVar(&c.MaxShardSize, "max_shard_size", sharding.DefaultMaxShardSize, "maximum number of tests in a shard")
	f.Var(command.NewDurationFlag(time.Second, &c.Timeout, 0), "timeout", "timeout for the whole run in seconds (0 for none)")

	f.IntVar(&c.TotalShards, "total_shards", 1, "total number of bots the test list is split across")
	f.IntVar(&c.ShardIndex, "shard_index", 0, "index of this bot's part of the test list")

	f.StringVar(&c.ResDir, "resultsdir", c.ResDir, "directory for logs and artifacts (default timestamped)")
	f.StringVar(&c.JSONResultsFile, "json_results_file", "", "path of JSON results file (default under -resultsdir)")

	f.BoolVar(&c.Screenshots, "screenshots", false, "take screenshots of failing tests")
	f.BoolVar(&c.Tombstones, "tombstones", false, "archive tombstones of crashed tests")
	f.StringVar(&c.CoverageDir, "coverage_dir", "", "on-device directory where coverage files are written")
	f.BoolVar(&c.WaitForJavaDebugger, "wait_for_java_debugger", false, "wait for a Java debugger and disable timeouts")
	f.Float64Var(&c.TimeoutScale, "timeout_scale", 1, "factor applied to every test timeout")
	f.Var(command.NewListFlag(",", func(v []string) { c.LogcatFilters = v }, nil), "logcat_filters", "comma-separated logcat filterspecs")

	f.StringVar(&c.TestFilter, "test_filter", "", `gtest-style filter, e.g. "A.*:B.c-A.flaky"`)
	ann := command.RepeatedFlag(func(v string) error {
		c.Annotations = append(c.Annotations, v)
		return nil
	})
	f.Var(&ann, "annotation", `run only tests carrying this annotation ("Name" or "Name=value"; may be repeated)`)
	exc := command.RepeatedFlag(func(v string) error {
		c.ExcludeAnnotations = append(c.ExcludeAnnotations, v)
		return nil
	})
	f.Var(&exc, "exclude_annotation", "skip tests carrying this annotation (may be repeated)")

	vals := map[string]int{
		"local": int(ArchiveLocal),
		"gs":    int(ArchiveGS),
	}
	af := command.NewEnumFlag(vals, func(v int) { c.Archive = ArchiveMode(v) }, "local")
	f.Var(af, "archive", fmt.Sprintf("where to archive artifacts (%s; default %q)", af.QuotedValues(), af.Default()))
	f.StringVar(&c.GSBucket, "gs_bucket", "", "Google Cloud Storage bucket for -archive=gs")
	f.StringVar(&c.GSPrefix, "gs_prefix", "devicetest", "object name prefix for -archive=gs")
}

// DeriveDefaults sets default config values that can only be determined
// after flags have been parsed.
func (c *MutableConfig) DeriveDefaults() error {
	if c.ResDir == "" {
		c.ResDir = filepath.Join("results", time.Now().Format("20060102-150405"))
	}
	if c.JSONResultsFile == "" {
		c.JSONResultsFile = filepath.Join(c.ResDir, jsonResultsFile)
	}
	return nil
}

// Validate reports an error for conflicting or out-of-range values.
func (c *MutableConfig) Validate() error {
	if c.Suite == "" {
		return errors.New("-suite is required")
	}
	if c.Repeat < 1 {
		return errors.Errorf("-repeat must be positive; got %d", c.Repeat)
	}
	if c.NumRetries < 0 {
		return errors.Errorf("-num_retries must not be negative; got %d", c.NumRetries)
	}
	if c.MaxShardSize < 1 {
		return errors.Errorf("-max_shard_size must be positive; got %d", c.MaxShardSize)
	}
	if c.TimeoutScale <= 0 {
		return errors.Errorf("-timeout_scale must be positive; got %v", c.TimeoutScale)
	}
	if c.TotalShards < 1 {
		return errors.Errorf("-total_shards must be positive; got %d", c.TotalShards)
	}
	if c.ShardIndex < 0 || c.ShardIndex >= c.TotalShards {
		return errors.Errorf("-shard_index must be in [0, %d); got %d", c.TotalShards, c.ShardIndex)
	}
	if c.WaitForJavaDebugger && len(c.Devices) != 1 {
		return errors.New("-wait_for_java_debugger requires exactly one device in -devices")
	}
	if c.Archive == ArchiveGS && c.GSBucket == "" {
		return errors.New("-archive=gs requires -gs_bucket")
	}
	return nil
}

// Freeze returns a frozen configuration object.
func (c *MutableConfig) Freeze() *Config {
	return &Config{m: c}
}
