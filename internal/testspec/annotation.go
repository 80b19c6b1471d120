// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package testspec

import (
	"fmt"
	"sort"
	"strings"

	"go.chromium.org/devicetest/errors"
)

// AnnotationValue is the value of a Java annotation on a test. It is one of
// NoValue, ScalarValue, ListValue or MapValue.
type AnnotationValue interface {
	// String returns a canonical text form used for matching and logging.
	String() string
	annotationValue()
}

// NoValue is the value of a marker annotation such as @SmallTest.
type NoValue struct{}

// ScalarValue is the value of an annotation with a single element, such as
// @Batch("UnitTests").
type ScalarValue string

// ListValue is the value of an annotation with an array element, such as
// @Feature({"Sync", "Payments"}).
type ListValue []string

// MapValue is the value of an annotation with named elements.
type MapValue map[string]string

func (NoValue) annotationValue()     {}
func (ScalarValue) annotationValue() {}
func (ListValue) annotationValue()   {}
func (MapValue) annotationValue()    {}

func (NoValue) String() string       { return "" }
func (v ScalarValue) String() string { return string(v) }
func (v ListValue) String() string   { return strings.Join(v, ",") }
func (v MapValue) String() string {
	var kvs []string
	for k, val := range v {
		kvs = append(kvs, k+"="+val)
	}
	sort.Strings(kvs)
	return strings.Join(kvs, ",")
}

// Has reports whether v is or contains s. A NoValue has nothing.
func Has(v AnnotationValue, s string) bool {
	switch v := v.(type) {
	case ScalarValue:
		return string(v) == s
	case ListValue:
		for _, e := range v {
			if e == s {
				return true
			}
		}
	case MapValue:
		for _, e := range v {
			if e == s {
				return true
			}
		}
	}
	return false
}

// annotationFromYAML converts a value decoded by yaml.v2 to an
// AnnotationValue.
func annotationFromYAML(v interface{}) (AnnotationValue, error) {
	switch v := v.(type) {
	case nil:
		return NoValue{}, nil
	case string, int, int64, float64, bool:
		return ScalarValue(fmt.Sprint(v)), nil
	case []interface{}:
		lv := make(ListValue, 0, len(v))
		for _, e := range v {
			lv = append(lv, fmt.Sprint(e))
		}
		return lv, nil
	case map[interface{}]interface{}:
		mv := make(MapValue, len(v))
		for k, e := range v {
			mv[fmt.Sprint(k)] = fmt.Sprint(e)
		}
		return mv, nil
	default:
		return nil, errors.Errorf("unsupported annotation value %v (%T)", v, v)
	}
}
