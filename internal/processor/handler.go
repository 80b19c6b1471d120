// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package processor

import (
	"context"

	"go.chromium.org/devicetest/internal/result"
)

// Handler handles processor events.
type Handler interface {
	// Name names the handler in log messages.
	Name() string
	// BatchStart is called before an invocation starts.
	BatchStart(ctx context.Context, bi *BatchInfo) error
	// BatchEnd is called after an invocation with the preprocessed results.
	// It returns the results with any changes applied, or nil if it made no
	// changes. It must not add or remove results.
	BatchEnd(ctx context.Context, bi *BatchInfo, results []result.RawResult) ([]result.RawResult, error)
}

// baseHandler is an implementation of Handler that does nothing in all
// methods. It can be embedded to handler implementations to provide default
// method implementations.
type baseHandler struct{}

func (baseHandler) BatchStart(ctx context.Context, bi *BatchInfo) error {
	return nil
}

func (baseHandler) BatchEnd(ctx context.Context, bi *BatchInfo, results []result.RawResult) ([]result.RawResult, error) {
	return nil, nil
}
