// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package goeval implements a small pure Go engines.Engine that evaluates
// operations eagerly on host tensors.
//
// It is the reference engine of the project: it makes the dispatch cycle
// (unwrap / apply / rewrap) executable without an accelerator, and it records
// sharding annotations for its results, playing the role a sharding-aware
// compiler backend would. It is not a partitioner nor a collective runtime.
//
// To use it, simply include the import:
//
//	import _ "github.com/gomlx/sharded/engines/goeval"
//
// And create it with engines.NewWithConfig("goeval") -- or with
// engines.NewWithConfig("goeval:devices=8") to pretend there are 8 devices.
package goeval

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gomlx/sharded/engines"
	"github.com/gomlx/sharded/nest"
	"github.com/gomlx/sharded/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Name of the engine in the registry.
const Name = "goeval"

func init() {
	engines.Register(Name, func(config string) (engines.Engine, error) {
		return New(config)
	})
}

// Engine evaluates operations eagerly on host tensors.
type Engine struct {
	numDevices int

	mu sync.Mutex
	// annotations records the sharding annotation of result tensors, keyed by
	// tensor identity. This is where a real compiler backend would annotate its IR.
	annotations map[*tensors.Tensor]annotation

	finalized bool
}

type annotation struct {
	mesh engines.Mesh
	spec engines.ShardingSpec
}

var (
	_ engines.Engine            = (*Engine)(nil)
	_ engines.ShardingAnnotator = (*Engine)(nil)
)

// New creates a new goeval engine.
//
// The config accepts a comma-separated list of "key=value" options. The only
// option supported is "devices=<n>", the number of devices the engine pretends
// to have -- execution still happens on the host, but meshes are validated
// against this count. It defaults to 1.
func New(config string) (*Engine, error) {
	e := &Engine{
		numDevices:  1,
		annotations: make(map[*tensors.Tensor]annotation),
	}
	if config != "" {
		for _, option := range strings.Split(config, ",") {
			key, value, found := strings.Cut(option, "=")
			if !found || key != "devices" {
				return nil, errors.Errorf("goeval: unknown configuration option %q (only \"devices=<n>\" is supported)", option)
			}
			numDevices, err := strconv.Atoi(value)
			if err != nil || numDevices < 1 {
				return nil, errors.Errorf("goeval: invalid number of devices %q", value)
			}
			e.numDevices = numDevices
		}
	}
	return e, nil
}

// Name returns the short name of the engine.
func (e *Engine) Name() string { return Name }

// Description is a longer description of the Engine.
func (e *Engine) Description() string {
	return fmt.Sprintf("Pure Go eager evaluator (%d device(s))", e.numDevices)
}

// NumDevices returns the number of devices the engine was configured with.
func (e *Engine) NumDevices() int { return e.numDevices }

// Finalize releases the recorded annotations and makes the engine invalid.
func (e *Engine) Finalize() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.annotations = nil
	e.finalized = true
}

// RecordSharding implements engines.ShardingAnnotator.
func (e *Engine) RecordSharding(t *tensors.Tensor, mesh engines.Mesh, spec engines.ShardingSpec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized {
		return
	}
	e.annotations[t] = annotation{mesh: mesh, spec: spec}
}

// ShardingOf implements engines.ShardingAnnotator.
func (e *Engine) ShardingOf(t *tensors.Tensor) (engines.Mesh, engines.ShardingSpec, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, found := e.annotations[t]
	return a.mesh, a.spec, found
}

// Apply executes the operation eagerly and returns its result as a value tree.
//
// All leaves of args must be *tensors.Tensor. Operation attributes (e.g. the
// target dimensions of a Reshape) are taken from kwargs.
func (e *Engine) Apply(_ context.Context, op engines.OpType, args, kwargs *nest.Nest[any]) (*nest.Nest[any], error) {
	if e.finalized {
		return nil, errors.New("goeval: engine already finalized")
	}
	var inputs []*tensors.Tensor
	err := args.Enumerate(func(leaf any) error {
		t, ok := leaf.(*tensors.Tensor)
		if !ok {
			return errors.Errorf("goeval: operand leaves must be *tensors.Tensor, got %T", leaf)
		}
		inputs = append(inputs, t)
		return nil
	})
	if err != nil {
		return nil, err
	}

	result, err := e.exec(op, inputs, kwargs)
	if err != nil {
		return nil, errors.WithMessagef(err, "goeval.Apply(%s)", op)
	}
	e.propagateAnnotation(op, inputs, result)
	klog.V(2).Infof("goeval: %s(%d operand(s)) -> %s", op, len(inputs), result.Shape())
	return nest.Value[any](result), nil
}

// propagateAnnotation carries the sharding annotation of the first annotated
// input onto the result: unchanged for shape-preserving element-wise ops,
// demoted to fully replicated otherwise.
func (e *Engine) propagateAnnotation(op engines.OpType, inputs []*tensors.Tensor, result *tensors.Tensor) {
	for _, input := range inputs {
		mesh, spec, found := e.ShardingOf(input)
		if !found {
			continue
		}
		elementWise := op == engines.OpIdentity || op == engines.OpNeg || op == engines.OpAbs ||
			op == engines.OpExp || op == engines.OpAdd || op == engines.OpSub ||
			op == engines.OpMul || op == engines.OpDiv
		if !elementWise || len(spec.Axes) != result.Rank() {
			replicated := make([]int, result.Rank())
			for ii := range replicated {
				replicated[ii] = engines.ReplicatedAxis
			}
			spec = engines.ShardingSpec{Mesh: mesh.Name, Axes: replicated}
		}
		e.RecordSharding(result, mesh, spec)
		return
	}
}
