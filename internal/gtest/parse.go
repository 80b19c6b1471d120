// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package gtest

import (
	"encoding/xml"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.chromium.org/devicetest/errors"
	"go.chromium.org/devicetest/internal/result"
)

var (
	// caseStartPattern matches "[ RUN      ] Suite.Case".
	caseStartPattern = regexp.MustCompile(`^\[ RUN      \] (\S+?)\.(\S+)\s*$`)
	// caseEndPattern matches "[       OK ] Suite.Case (12 ms)" and the
	// FAILED and SKIPPED forms.
	caseEndPattern = regexp.MustCompile(`^\[\s*(OK|FAILED|SKIPPED)\s*\] (\S+?)\.(\S+?)(?:, where .*)? \((\d+) ms\)\s*$`)
	// summaryPattern matches the line printed when the binary finished.
	summaryPattern = regexp.MustCompile(`^\[==========\] \d+ tests? from \d+ test (?:suites?|cases?) ran\.`)
)

// ParseOutput extracts results from gtest stdout. A test that started but
// never finished gets an UNKNOWN result. complete reports whether the binary
// printed its final summary.
func ParseOutput(lines []string) (results []result.RawResult, complete bool) {
	var cur *result.RawResult
	var log []string
	flush := func() {
		if cur == nil {
			return
		}
		cur.Log = strings.Join(log, "\n")
		results = append(results, *cur)
		cur = nil
		log = nil
	}

	for _, line := range lines {
		if m := caseStartPattern.FindStringSubmatch(line); m != nil {
			flush()
			cur = &result.RawResult{Name: result.TestID(m[1] + "." + m[2]), Status: result.StatusUnknown}
			continue
		}
		if m := caseEndPattern.FindStringSubmatch(line); m != nil {
			name := result.TestID(m[2] + "." + m[3])
			if cur == nil || cur.Name != name {
				flush()
				cur = &result.RawResult{Name: name}
			}
			switch m[1] {
			case "OK":
				cur.Status = result.StatusPass
			case "FAILED":
				cur.Status = result.StatusFail
			case "SKIPPED":
				cur.Status = result.StatusSkip
			}
			ms, _ := strconv.Atoi(m[4])
			cur.Duration = time.Duration(ms) * time.Millisecond
			if cur.Status == result.StatusPass {
				log = nil
			}
			flush()
			continue
		}
		if summaryPattern.MatchString(line) {
			flush()
			complete = true
			continue
		}
		if cur != nil {
			log = append(log, line)
		}
	}
	flush()
	return results, complete
}

// xmlReport is the document written by --gtest_output=xml.
type xmlReport struct {
	XMLName xml.Name `xml:"testsuites"`
	Suites  []struct {
		Name  string `xml:"name,attr"`
		Cases []struct {
			Name      string `xml:"name,attr"`
			ClassName string `xml:"classname,attr"`
			Status    string `xml:"status,attr"`
			Result    string `xml:"result,attr"`
			Time      string `xml:"time,attr"`
			Failures  []struct {
				Message string `xml:"message,attr"`
				Text    string `xml:",chardata"`
			} `xml:"failure"`
			Skipped *struct{} `xml:"skipped"`
		} `xml:"testcase"`
	} `xml:"testsuite"`
}

// ParseXML extracts results from a gtest XML report. Tests that were not run
// are omitted.
func ParseXML(b []byte) ([]result.RawResult, error) {
	var rep xmlReport
	if err := xml.Unmarshal(b, &rep); err != nil {
		return nil, errors.Wrap(err, "failed to parse gtest XML report")
	}
	var results []result.RawResult
	for _, s := range rep.Suites {
		for _, c := range s.Cases {
			suite := c.ClassName
			if suite == "" {
				suite = s.Name
			}
			r := result.RawResult{Name: result.TestID(suite + "." + c.Name)}
			switch {
			case c.Status == "notrun" || c.Result == "suppressed":
				continue
			case c.Skipped != nil || c.Result == "skipped":
				r.Status = result.StatusSkip
			case len(c.Failures) > 0:
				r.Status = result.StatusFail
				var msgs []string
				for _, f := range c.Failures {
					msg := strings.TrimSpace(f.Text)
					if msg == "" {
						msg = f.Message
					}
					msgs = append(msgs, msg)
				}
				r.Log = strings.Join(msgs, "\n")
			default:
				r.Status = result.StatusPass
			}
			if secs, err := strconv.ParseFloat(c.Time, 64); err == nil {
				r.Duration = time.Duration(math.Round(secs*1e6)) * time.Microsecond
			}
			results = append(results, r)
		}
	}
	return results, nil
}
