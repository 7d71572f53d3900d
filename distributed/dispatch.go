// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"context"
	"sync/atomic"

	"github.com/gomlx/sharded/engines"
	"github.com/gomlx/sharded/nest"
	"github.com/gomlx/sharded/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Dispatcher funnels operations whose operands may be ShardedTensor handles to
// an engine.
//
// For each call it unwraps ShardedTensor leaves to their global tensors,
// forwards the unwrapped trees to the engine, and rewraps plain tensor results
// back into ShardedTensor handles. Interception is suspended on the context
// passed to the engine, so an engine that re-enters Dispatch (e.g. to decompose
// a composite operation) goes straight through without re-triggering the
// unwrap/rewrap cycle.
//
// A Dispatcher is safe for concurrent use: the suspension state travels in the
// context, never in the Dispatcher.
type Dispatcher struct {
	engine engines.Engine

	// interceptions counts the calls that went through the full
	// unwrap/apply/rewrap cycle, excluding suspended (re-entrant) calls.
	interceptions atomic.Int64
}

// NewDispatcher creates a Dispatcher forwarding to the given engine.
func NewDispatcher(engine engines.Engine) *Dispatcher {
	return &Dispatcher{engine: engine}
}

// Engine returns the engine the dispatcher forwards to.
func (d *Dispatcher) Engine() engines.Engine {
	return d.engine
}

// Interceptions returns the number of calls that went through the full
// interception cycle. Suspended (re-entrant) calls are not counted.
func (d *Dispatcher) Interceptions() int64 {
	return d.interceptions.Load()
}

// suspendKeyType is the context key marking dispatch as suspended.
type suspendKeyType struct{}

var suspendKey suspendKeyType

// SuspendDispatch returns a context under which Dispatch forwards calls
// directly to the engine, without unwrapping or rewrapping.
//
// Suspension ends when the returned context goes out of scope: it cannot leak
// past the call it was created for, on any exit path, including panics.
func SuspendDispatch(ctx context.Context) context.Context {
	return context.WithValue(ctx, suspendKey, true)
}

// DispatchSuspended reports whether dispatch interception is suspended on ctx.
func DispatchSuspended(ctx context.Context) bool {
	suspended, _ := ctx.Value(suspendKey).(bool)
	return suspended
}

// Dispatch executes one operation.
//
// The leaves of args and kwargs may be *ShardedTensor handles, plain
// *tensors.Tensor values or arbitrary attributes; trees of any shape (values,
// lists, string maps, nested) are accepted and the result tree mirrors whatever
// the engine returns, with plain tensor results rewrapped as *ShardedTensor.
//
// Rewrap metadata comes from the engine when it implements
// engines.ShardingAnnotator; otherwise results inherit the mesh of the first
// sharded operand with a fully replicated spec. If there is no sharded operand
// and no annotation, results pass through as plain tensors.
func (d *Dispatcher) Dispatch(ctx context.Context, op engines.OpType, args, kwargs *nest.Nest[any]) (*nest.Nest[any], error) {
	if DispatchSuspended(ctx) {
		return d.engine.Apply(ctx, op, args, kwargs)
	}
	d.interceptions.Add(1)

	annotator, _ := d.engine.(engines.ShardingAnnotator)
	var firstSharded *ShardedTensor
	checkLeaf := func(leaf any) error {
		st, ok := leaf.(*ShardedTensor)
		if !ok {
			return nil
		}
		if st.mesh.NumDevices() != d.engine.NumDevices() {
			return errors.Errorf("dispatching %s: operand %s uses %d devices but engine %q has %d",
				op, st.mesh, st.mesh.NumDevices(), d.engine.Name(), d.engine.NumDevices())
		}
		if firstSharded == nil {
			firstSharded = st
		}
		if annotator != nil {
			annotator.RecordSharding(st.global, st.mesh.ToEngineMesh(), st.spec.ToEngineSpec(st.mesh))
		}
		return nil
	}
	if err := args.Enumerate(checkLeaf); err != nil {
		return nil, err
	}
	if err := kwargs.Enumerate(checkLeaf); err != nil {
		return nil, err
	}

	unwrapLeaf := func(leaf any) any {
		if st, ok := leaf.(*ShardedTensor); ok {
			return st.global
		}
		return leaf
	}
	unwrappedArgs := nest.MapLeaves(args, unwrapLeaf)
	unwrappedKwargs := nest.MapLeaves(kwargs, unwrapLeaf)

	klog.V(1).Infof("dispatch: %s (%d leaves, sharded=%v)", op, args.NumLeaves(), firstSharded != nil)
	result, err := d.engine.Apply(SuspendDispatch(ctx), op, unwrappedArgs, unwrappedKwargs)
	if err != nil {
		return nil, errors.WithMessagef(err, "dispatching %s", op)
	}

	var rewrapErr error
	wrapped := nest.MapLeaves(result, func(leaf any) any {
		t, ok := leaf.(*tensors.Tensor)
		if !ok {
			return leaf
		}
		st, err := d.rewrap(t, firstSharded, annotator)
		if err != nil {
			rewrapErr = err
			return leaf
		}
		if st == nil {
			return leaf
		}
		return st
	})
	if rewrapErr != nil {
		return nil, errors.WithMessagef(rewrapErr, "rewrapping results of %s", op)
	}
	return wrapped, nil
}

// rewrap builds the ShardedTensor handle for one result tensor, or returns nil
// if the result should pass through as a plain tensor.
func (d *Dispatcher) rewrap(t *tensors.Tensor, firstSharded *ShardedTensor, annotator engines.ShardingAnnotator) (*ShardedTensor, error) {
	if annotator != nil {
		if engineMesh, engineSpec, found := annotator.ShardingOf(t); found {
			mesh, err := MeshFromEngine(engineMesh)
			if err != nil {
				return nil, err
			}
			return Wrap(t, mesh, SpecFromEngine(engineSpec))
		}
	}
	if firstSharded == nil {
		return nil, nil
	}
	return Wrap(t, firstSharded.mesh, ReplicatedSpec(t.Rank()))
}
