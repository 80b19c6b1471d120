// Copyright 2018 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package command

import (
	"flag"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestEnumFlag(t *testing.T) {
	type archiveMode int
	const (
		modeLocal archiveMode = iota
		modeGS
	)

	for _, tc := range []struct {
		args   []string    // args to parse
		def    string      // default value for flag
		exp    archiveMode // expected value
		expErr bool        // if true, error is expected
	}{
		{[]string{}, "local", modeLocal, false},
		{[]string{"-flag=local"}, "local", modeLocal, false},
		{[]string{"-flag=gs"}, "local", modeGS, false},
		{[]string{"-flag=bogus"}, "local", modeLocal, true},
		{[]string{"-flag"}, "local", modeLocal, true},
	} {
		valid := map[string]int{"local": int(modeLocal), "gs": int(modeGS)}
		val := archiveMode(-1)
		f := func(v int) { val = archiveMode(v) }
		fs := flag.NewFlagSet("", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		fs.Var(NewEnumFlag(valid, f, tc.def), "flag", "usage")

		if err := fs.Parse(tc.args); err != nil && !tc.expErr {
			t.Errorf("%v produced error: %v", tc.args, err)
		} else if err == nil && tc.expErr {
			t.Errorf("%v didn't produce expected error", tc.args)
		} else if val != tc.exp {
			t.Errorf("%v resulted in %v; want %v", tc.args, val, tc.exp)
		}
	}
}

func TestListFlag(t *testing.T) {
	for _, tc := range []struct {
		sep  string   // separator to use
		args []string // args to parse
		def  []string // default value for flag
		exp  []string // expected values
	}{
		{",", []string{}, nil, nil},
		{",", []string{}, []string{"emulator-5554", "emulator-5556"}, []string{"emulator-5554", "emulator-5556"}},
		{",", []string{"-flag=emulator-5554"}, nil, []string{"emulator-5554"}},
		{",", []string{"-flag=a,,b"}, []string{"default"}, []string{"a", "b"}},
		{":", []string{"-flag=Foo.*:Bar.Baz"}, nil, []string{"Foo.*", "Bar.Baz"}},
	} {
		var vals []string
		f := func(v []string) { vals = v }
		fs := flag.NewFlagSet("", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		fs.Var(NewListFlag(tc.sep, f, tc.def), "flag", "usage")

		if err := fs.Parse(tc.args); err != nil {
			t.Errorf("%v produced error: %v", tc.args, err)
		} else if diff := cmp.Diff(vals, tc.exp); diff != "" {
			t.Errorf("%v resulted in unexpected values (-got +want):\n%s", tc.args, diff)
		}
	}
}

func TestDurationFlag(t *testing.T) {
	for _, tc := range []struct {
		args   []string
		exp    time.Duration
		expErr bool
	}{
		{[]string{}, time.Minute, false},
		{[]string{"-flag=30"}, 30 * time.Second, false},
		{[]string{"-flag=1.5"}, 1500 * time.Millisecond, false},
		{[]string{"-flag=-1"}, time.Minute, true},
		{[]string{"-flag=abc"}, time.Minute, true},
	} {
		var d time.Duration
		fs := flag.NewFlagSet("", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		fs.Var(NewDurationFlag(time.Second, &d, time.Minute), "flag", "usage")

		err := fs.Parse(tc.args)
		if err != nil && !tc.expErr {
			t.Errorf("%v produced error: %v", tc.args, err)
		} else if err == nil && tc.expErr {
			t.Errorf("%v didn't produce expected error", tc.args)
		} else if d != tc.exp {
			t.Errorf("%v resulted in %v; want %v", tc.args, d, tc.exp)
		}
	}
}

func TestRepeatedFlag(t *testing.T) {
	var got []string
	rf := RepeatedFlag(func(v string) error {
		got = append(got, v)
		return nil
	})
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Var(&rf, "flag", "usage")
	if err := fs.Parse([]string{"-flag=a", "-flag=b"}); err != nil {
		t.Fatal("Parse failed: ", err)
	}
	if diff := cmp.Diff(got, []string{"a", "b"}); diff != "" {
		t.Errorf("Values mismatch (-got +want):\n%s", diff)
	}
}
