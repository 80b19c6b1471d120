// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package testspec

import (
	"strconv"
	"strings"
	"time"

	"go.chromium.org/devicetest/errors"
	"go.chromium.org/devicetest/internal/result"
)

// TestCase describes one test case of a suite.
type TestCase struct {
	// Class is the gtest suite name or the fully qualified Java class.
	Class string
	// Method is the gtest case name or the Java method.
	Method string
	// Annotations holds the Java annotations of the test by simple name.
	Annotations map[string]AnnotationValue
	// IsJUnit4 is true for JUnit4 instrumentation tests.
	IsJUnit4 bool
	// Flags are command-line flags written to the flags file for this test.
	// A test with flags gets a suffixed ID so that parameterized runs of the
	// same method are distinct tests.
	Flags []string

	kind Kind
}

// ID returns the identifier of the test used in results.
func (tc *TestCase) ID() result.TestID {
	if tc.kind == KindGtest {
		return result.TestID(tc.Class + "." + tc.Method)
	}
	id := tc.Class + "#" + tc.Method
	if len(tc.Flags) > 0 {
		var parts []string
		for _, f := range tc.Flags {
			parts = append(parts, strings.TrimLeft(f, "-"))
		}
		id += "_with_" + strings.Join(parts, "_")
	}
	return result.TestID(id)
}

// DottedName returns the test name in "Class.Method" form, which gtest-style
// filters match against.
func (tc *TestCase) DottedName() string {
	return tc.Class + "." + tc.Method
}

// Annotation returns the value of the named annotation.
func (tc *TestCase) Annotation(name string) (AnnotationValue, bool) {
	v, ok := tc.Annotations[name]
	return v, ok
}

// ErrMissingSizeAnnotation is returned by Timeout for an instrumentation test
// without a size annotation. The returned timeout is still usable.
var ErrMissingSizeAnnotation = errors.New("missing size annotation")

// DefaultTestTimeout is the timeout of a test without a size annotation.
const DefaultTestTimeout = 60 * time.Second

// sizeTimeouts lists size annotations with their timeouts, largest first. The
// first annotation present on a test decides its timeout.
var sizeTimeouts = []struct {
	annotation string
	timeout    time.Duration
}{
	{"Manual", 10 * time.Hour},
	{"IntegrationTest", 10 * time.Minute},
	{"External", 10 * time.Minute},
	{"EnormousTest", 5 * time.Minute},
	{"LargeTest", 2 * time.Minute},
	{"MediumTest", 30 * time.Second},
	{"SmallTest", 10 * time.Second},
}

// Timeout returns the unscaled timeout of an instrumentation test, derived
// from its size annotation and multiplied by its TimeoutScale annotation.
// When no size annotation is present, DefaultTestTimeout is returned together
// with ErrMissingSizeAnnotation.
func (tc *TestCase) Timeout() (time.Duration, error) {
	timeout := time.Duration(0)
	for _, st := range sizeTimeouts {
		if _, ok := tc.Annotations[st.annotation]; ok {
			timeout = st.timeout
			break
		}
	}
	var err error
	if timeout == 0 {
		timeout = DefaultTestTimeout
		err = errors.Wrapf(ErrMissingSizeAnnotation, "%s", tc.ID())
	}
	if v, ok := tc.Annotations["TimeoutScale"]; ok {
		scale, perr := strconv.ParseFloat(v.String(), 64)
		if perr != nil || scale <= 0 {
			return timeout, errors.Errorf("%s: invalid TimeoutScale %q", tc.ID(), v.String())
		}
		timeout = time.Duration(float64(timeout) * scale)
	}
	return timeout, err
}
