// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package instrumentation

import (
	"strconv"
	"strings"
)

// Status codes reported by "am instrument -r".
const (
	StatusCodeStart             = 1
	StatusCodeOK                = 0
	StatusCodeError             = -1
	StatusCodeFailure           = -2
	StatusCodeSkip              = -3
	StatusCodeAssumptionFailure = -4
	// StatusCodeTestDuration is reported by Chromium test runners with the
	// duration of the current test in the "duration_ms" key.
	StatusCodeTestDuration = 1337
)

// Activity result codes reported in INSTRUMENTATION_CODE.
const (
	ResultCodeCanceled = 0
	ResultCodeOK       = -1
)

const (
	statusPrefix     = "INSTRUMENTATION_STATUS: "
	statusCodePrefix = "INSTRUMENTATION_STATUS_CODE: "
	resultPrefix     = "INSTRUMENTATION_RESULT: "
	codePrefix       = "INSTRUMENTATION_CODE: "
)

// Bundle holds the key-value pairs of one status or of the final result.
type Bundle map[string]string

// Status is one status block of the output.
type Status struct {
	Code   int
	Bundle Bundle
}

// Output is parsed "am instrument -r" output.
type Output struct {
	Statuses []Status
	// Result is the final result bundle.
	Result Bundle
	// Code is the final activity result code. HasCode is false if the
	// output ended before it was printed.
	Code    int
	HasCode bool
}

// ParseOutput parses raw "am instrument -r" output. Values may span lines;
// a line without a known prefix continues the previous value.
func ParseOutput(lines []string) *Output {
	out := &Output{Result: Bundle{}}
	cur := Bundle{}
	var lastBundle Bundle
	var lastKey string

	setKV := func(b Bundle, kv string) {
		k, v := kv, ""
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k, v = kv[:i], kv[i+1:]
		}
		b[k] = v
		lastBundle, lastKey = b, k
	}

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, statusPrefix):
			setKV(cur, line[len(statusPrefix):])
		case strings.HasPrefix(line, statusCodePrefix):
			code, err := strconv.Atoi(strings.TrimSpace(line[len(statusCodePrefix):]))
			if err != nil {
				code = StatusCodeError
			}
			out.Statuses = append(out.Statuses, Status{Code: code, Bundle: cur})
			cur = Bundle{}
			lastBundle = nil
		case strings.HasPrefix(line, resultPrefix):
			setKV(out.Result, line[len(resultPrefix):])
		case strings.HasPrefix(line, codePrefix):
			if code, err := strconv.Atoi(strings.TrimSpace(line[len(codePrefix):])); err == nil {
				out.Code = code
				out.HasCode = true
			}
			lastBundle = nil
		default:
			if lastBundle != nil {
				lastBundle[lastKey] += "\n" + line
			}
		}
	}
	return out
}

// crashPatterns appear in the result bundle when the test process died.
var crashPatterns = []string{"Process crashed", "Native crash"}

// Crashed reports whether the instrumentation ended because the test
// process crashed, with the reason.
func (o *Output) Crashed() (bool, string) {
	if !o.HasCode || o.Code != ResultCodeCanceled {
		return false, ""
	}
	for _, v := range []string{o.Result["shortMsg"], o.Result["longMsg"], o.Result["stream"]} {
		for _, p := range crashPatterns {
			if strings.Contains(v, p) {
				return true, strings.TrimSpace(v)
			}
		}
	}
	return false, ""
}
