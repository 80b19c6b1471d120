// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package testspec

import (
	"fmt"
	"regexp"
	"strings"

	"go.chromium.org/devicetest/errors"
)

// Filter selects tests by name patterns and annotations.
type Filter struct {
	positive []*regexp.Regexp
	negative []*regexp.Regexp
	// Annotations lists annotations a test must carry at least one of. An
	// entry is "Name" or "Name=value".
	annotations []string
	// ExcludeAnnotations lists annotations a test must carry none of.
	excludeAnnotations []string
}

// NewFilter returns a Filter for a gtest-style filter string and annotation
// lists. The filter string is "POS1:POS2-NEG1:NEG2" where each pattern may use
// the wildcards '*' and '?'. An empty positive part matches every test.
func NewFilter(gtestFilter string, annotations, excludeAnnotations []string) (*Filter, error) {
	f := &Filter{annotations: annotations, excludeAnnotations: excludeAnnotations}
	pos, neg := gtestFilter, ""
	if i := strings.Index(gtestFilter, "-"); i >= 0 {
		pos, neg = gtestFilter[:i], gtestFilter[i+1:]
	}
	var err error
	if f.positive, err = compilePatterns(pos); err != nil {
		return nil, err
	}
	if f.negative, err = compilePatterns(neg); err != nil {
		return nil, err
	}
	for _, a := range append(append([]string(nil), annotations...), excludeAnnotations...) {
		if a == "" || strings.HasPrefix(a, "=") {
			return nil, errors.Errorf("malformed annotation filter %q", a)
		}
	}
	return f, nil
}

// compilePatterns converts ':'-separated wildcard patterns to anchored
// regular expressions.
func compilePatterns(s string) ([]*regexp.Regexp, error) {
	var res []*regexp.Regexp
	for _, p := range strings.Split(s, ":") {
		if p == "" {
			continue
		}
		expr := regexp.QuoteMeta(p)
		expr = strings.ReplaceAll(expr, `\*`, `.*`)
		expr = strings.ReplaceAll(expr, `\?`, `.`)
		re, err := regexp.Compile("^" + expr + "$")
		if err != nil {
			return nil, errors.Wrapf(err, "bad test filter pattern %q", p)
		}
		res = append(res, re)
	}
	return res, nil
}

// RejectedError describes why a Filter did not select a test.
type RejectedError struct {
	Test   string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Test, e.Reason)
}

// Check returns nil if tc is selected, or a *RejectedError otherwise.
func (f *Filter) Check(tc *TestCase) error {
	names := []string{string(tc.ID()), tc.DottedName()}
	reject := func(reason string, args ...interface{}) error {
		return &RejectedError{Test: string(tc.ID()), Reason: fmt.Sprintf(reason, args...)}
	}

	if len(f.positive) > 0 && !matchAny(f.positive, names) {
		return reject("not matched by test filter")
	}
	if matchAny(f.negative, names) {
		return reject("excluded by test filter")
	}
	if len(f.annotations) > 0 {
		found := false
		for _, a := range f.annotations {
			if hasAnnotation(tc, a) {
				found = true
				break
			}
		}
		if !found {
			return reject("missing any of annotations %v", f.annotations)
		}
	}
	for _, a := range f.excludeAnnotations {
		if hasAnnotation(tc, a) {
			return reject("has excluded annotation %s", a)
		}
	}
	return nil
}

// Apply returns the tests in tests selected by f in order, and the rejection
// of every other test.
func (f *Filter) Apply(tests []*TestCase) (selected []*TestCase, rejected []*RejectedError) {
	for _, tc := range tests {
		err := f.Check(tc)
		if err == nil {
			selected = append(selected, tc)
			continue
		}
		var re *RejectedError
		if errors.As(err, &re) {
			rejected = append(rejected, re)
		}
	}
	return selected, rejected
}

func matchAny(res []*regexp.Regexp, names []string) bool {
	for _, re := range res {
		for _, n := range names {
			if re.MatchString(n) {
				return true
			}
		}
	}
	return false
}

// hasAnnotation reports whether tc carries the annotation described by spec,
// which is "Name" or "Name=value".
func hasAnnotation(tc *TestCase, spec string) bool {
	name, value, hasValue := strings.Cut(spec, "=")
	v, ok := tc.Annotations[name]
	if !ok {
		return false
	}
	return !hasValue || Has(v, value)
}
