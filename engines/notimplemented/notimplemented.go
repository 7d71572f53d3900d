// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package notimplemented implements an engines.Engine that returns a "not
// implemented" error for every operation.
//
// This can help bootstrap any engine implementation: embed Engine and override
// what you support. It is also convenient as a base for mock engines in tests.
package notimplemented

import (
	"context"

	"github.com/gomlx/sharded/engines"
	"github.com/gomlx/sharded/nest"
	"github.com/pkg/errors"
)

// NotImplementedError is returned by every operation.
//
// It doesn't contain a stack, attach one with errors.Wrapf(NotImplementedError, "...") when using it.
var NotImplementedError = engines.ErrNotImplemented

// Engine is a dummy engine that can be embedded to create mock engines.
type Engine struct {
	// ErrFn is called to generate the error returned, if not nil. Otherwise
	// NotImplementedError is returned wrapped with the op name.
	ErrFn func(op engines.OpType) error
}

var _ engines.Engine = Engine{}

// Name returns the short name of the engine.
func (e Engine) Name() string {
	return "notimplemented"
}

// String returns the same as Name.
func (e Engine) String() string {
	return e.Name()
}

// Description is a longer description of the Engine.
func (e Engine) Description() string {
	return "Not Implemented Engine (mock engine for testing)"
}

// NumDevices returns 1 as the number of devices available.
func (e Engine) NumDevices() int {
	return 1
}

// Apply returns NotImplementedError (or the result of ErrFn) for every operation.
func (e Engine) Apply(_ context.Context, op engines.OpType, _, _ *nest.Nest[any]) (*nest.Nest[any], error) {
	if e.ErrFn != nil {
		return nil, e.ErrFn(op)
	}
	return nil, errors.Wrapf(NotImplementedError, "in Apply(%s)", op)
}

// Finalize does nothing for this dummy engine.
func (e Engine) Finalize() {}
