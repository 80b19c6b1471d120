// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package testspec describes what a test run executes and how.
package testspec

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"go.chromium.org/devicetest/errors"
	"go.chromium.org/devicetest/internal/result"
)

// Kind is the kind of tests in a suite.
type Kind int

const (
	// KindGtest is a native gtest binary.
	KindGtest Kind = iota
	// KindInstrumentation is an Android instrumentation test APK.
	KindInstrumentation
)

func (k Kind) String() string {
	switch k {
	case KindGtest:
		return "gtest"
	case KindInstrumentation:
		return "instrumentation"
	default:
		return "unknown"
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (k *Kind) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	switch s {
	case "gtest":
		*k = KindGtest
	case "instrumentation":
		*k = KindInstrumentation
	default:
		return errors.Errorf("unknown suite kind %q", s)
	}
	return nil
}

// DataDep is a host file or directory pushed to the device before tests run.
type DataDep struct {
	Host   string `yaml:"host"`
	Device string `yaml:"device"`
}

// GtestSettings holds settings specific to gtest suites.
type GtestSettings struct {
	// Binary is the on-device path of the gtest executable.
	Binary string
	// ExtraArgs are passed to every invocation of Binary.
	ExtraArgs []string
	// TestTimeout is the unscaled timeout of one test.
	TestTimeout time.Duration
}

// Suite is a parsed suite file.
type Suite struct {
	Kind Kind
	// Package is the name of the suite reported in results, e.g. the test
	// APK package or the gtest binary name.
	Package string
	// Runner is the instrumentation runner class.
	Runner string
	// APKs are installed on every device during setup.
	APKs []string
	// DataDeps are pushed to every device during setup.
	DataDeps []DataDep
	Gtest    GtestSettings
	Tests    []*TestCase
}

// TestPackage returns the suite name for reporting.
func (s *Suite) TestPackage() string { return s.Package }

// IDs returns the identifiers of tests in order.
func (s *Suite) IDs() []result.TestID {
	ids := make([]result.TestID, len(s.Tests))
	for i, tc := range s.Tests {
		ids[i] = tc.ID()
	}
	return ids
}

// Lookup returns the test with the given identifier.
func (s *Suite) Lookup(id result.TestID) (*TestCase, bool) {
	for _, tc := range s.Tests {
		if tc.ID() == id {
			return tc, true
		}
	}
	return nil, false
}

// suiteFile is the YAML form of a suite file.
type suiteFile struct {
	Kind     Kind      `yaml:"kind"`
	Package  string    `yaml:"package"`
	Runner   string    `yaml:"runner"`
	APKs     []string  `yaml:"apks"`
	DataDeps []DataDep `yaml:"data_deps"`
	Gtest    struct {
		Binary          string   `yaml:"binary"`
		ExtraArgs       []string `yaml:"extra_args"`
		TestTimeoutSecs float64  `yaml:"test_timeout_secs"`
	} `yaml:"gtest"`
	Tests []struct {
		Name        string                 `yaml:"name"`
		Class       string                 `yaml:"class"`
		Method      string                 `yaml:"method"`
		JUnit4      bool                   `yaml:"junit4"`
		Annotations map[string]interface{} `yaml:"annotations"`
		Flags       []string               `yaml:"flags"`
	} `yaml:"tests"`
}

// LoadSuite reads and parses a suite file.
func LoadSuite(path string) (*Suite, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := ParseSuite(b)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return s, nil
}

// ParseSuite parses the content of a suite file.
func ParseSuite(b []byte) (*Suite, error) {
	var f suiteFile
	if err := yaml.UnmarshalStrict(b, &f); err != nil {
		return nil, err
	}
	if f.Package == "" {
		return nil, errors.New("package is not set")
	}

	s := &Suite{
		Kind:     f.Kind,
		Package:  f.Package,
		Runner:   f.Runner,
		APKs:     f.APKs,
		DataDeps: f.DataDeps,
		Gtest: GtestSettings{
			Binary:      f.Gtest.Binary,
			ExtraArgs:   f.Gtest.ExtraArgs,
			TestTimeout: time.Duration(f.Gtest.TestTimeoutSecs * float64(time.Second)),
		},
	}
	switch s.Kind {
	case KindGtest:
		if s.Gtest.Binary == "" {
			return nil, errors.New("gtest.binary is not set")
		}
		if s.Gtest.TestTimeout == 0 {
			s.Gtest.TestTimeout = DefaultTestTimeout
		}
	case KindInstrumentation:
		if s.Runner == "" {
			return nil, errors.New("runner is not set")
		}
	}

	seen := make(map[result.TestID]bool)
	for i, t := range f.Tests {
		tc := &TestCase{
			Class:    t.Class,
			Method:   t.Method,
			IsJUnit4: t.JUnit4,
			Flags:    t.Flags,
			kind:     s.Kind,
		}
		if t.Name != "" {
			sep := "."
			if s.Kind == KindInstrumentation {
				sep = "#"
			}
			parts := strings.SplitN(t.Name, sep, 2)
			if len(parts) != 2 {
				return nil, errors.Errorf("tests[%d]: malformed name %q", i, t.Name)
			}
			tc.Class, tc.Method = parts[0], parts[1]
		}
		if tc.Class == "" || tc.Method == "" {
			return nil, errors.Errorf("tests[%d]: class and method must be set", i)
		}
		if len(t.Annotations) > 0 {
			tc.Annotations = make(map[string]AnnotationValue, len(t.Annotations))
			for name, v := range t.Annotations {
				av, err := annotationFromYAML(v)
				if err != nil {
					return nil, errors.Wrapf(err, "tests[%d]: annotation %s", i, name)
				}
				tc.Annotations[name] = av
			}
		}
		if seen[tc.ID()] {
			return nil, errors.Errorf("tests[%d]: duplicate test %s", i, tc.ID())
		}
		seen[tc.ID()] = true
		s.Tests = append(s.Tests, tc)
	}
	if len(s.Tests) == 0 {
		return nil, errors.New("no tests listed")
	}
	return s, nil
}

// Spec is the immutable description of a test run: the suite plus the
// settings that change how each test is run.
type Spec struct {
	Suite *Suite
	// TimeoutScale multiplies every per-test timeout.
	TimeoutScale float64
	// WaitForJavaDebugger disables timeouts and makes the instrumentation
	// wait for a debugger to attach.
	WaitForJavaDebugger bool
	// Screenshots enables screenshots for non-passing tests.
	Screenshots bool
	// Tombstones enables tombstone capture for crashed tests.
	Tombstones bool
	// CoverageDir is the on-device directory of coverage files, or empty.
	CoverageDir string
	// LogcatFilters are logcat filterspecs applied by the logcat monitor.
	LogcatFilters []string
}

// ScaledTimeout returns d multiplied by TimeoutScale.
func (s *Spec) ScaledTimeout(d time.Duration) time.Duration {
	if s.TimeoutScale <= 0 {
		return d
	}
	return time.Duration(float64(d) * s.TimeoutScale)
}
