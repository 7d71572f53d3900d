// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package goeval

import (
	"context"
	"testing"

	"github.com/gomlx/sharded/engines"
	"github.com/gomlx/sharded/nest"
	"github.com/gomlx/sharded/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applyOne(t *testing.T, e *Engine, op engines.OpType, kwargs *nest.Nest[any], inputs ...*tensors.Tensor) *tensors.Tensor {
	args := make([]*nest.Nest[any], len(inputs))
	for ii, input := range inputs {
		args[ii] = nest.Value[any](input)
	}
	result, err := e.Apply(context.Background(), op, nest.Slice(args...), kwargs)
	require.NoError(t, err)
	require.True(t, result.IsValue())
	return result.Value().(*tensors.Tensor)
}

func TestConfig(t *testing.T) {
	e, err := New("")
	require.NoError(t, err)
	assert.Equal(t, 1, e.NumDevices())

	e, err = New("devices=8")
	require.NoError(t, err)
	assert.Equal(t, 8, e.NumDevices())

	_, err = New("devices=0")
	assert.Error(t, err)
	_, err = New("turbo=on")
	assert.Error(t, err)
}

func TestRegistered(t *testing.T) {
	e := engines.NewWithConfig("goeval:devices=2")
	assert.Equal(t, "goeval", e.Name())
	assert.Equal(t, 2, e.NumDevices())
	e.Finalize()
}

func TestUnaryOps(t *testing.T) {
	e, _ := New("")
	x := tensors.FromValue([]float32{-1, 2, -3})

	neg := applyOne(t, e, engines.OpNeg, nil, x)
	assert.Equal(t, []float32{1, -2, 3}, neg.Value())

	abs := applyOne(t, e, engines.OpAbs, nil, x)
	assert.Equal(t, []float32{1, 2, 3}, abs.Value())

	identity := applyOne(t, e, engines.OpIdentity, nil, x)
	assert.Equal(t, []float32{-1, 2, -3}, identity.Value())
	assert.NotSame(t, x, identity)

	// Exp on integers is rejected.
	_, err := e.Apply(context.Background(), engines.OpExp, nest.Slice(nest.Value[any](tensors.FromValue([]int32{1}))), nil)
	assert.Error(t, err)
}

func TestBinaryOps(t *testing.T) {
	e, _ := New("")
	x := tensors.FromValue([][]float64{{1, 2}, {3, 4}})
	y := tensors.FromValue([][]float64{{10, 20}, {30, 40}})

	sum := applyOne(t, e, engines.OpAdd, nil, x, y)
	assert.Equal(t, [][]float64{{11, 22}, {33, 44}}, sum.Value())

	diff := applyOne(t, e, engines.OpSub, nil, y, x)
	assert.Equal(t, [][]float64{{9, 18}, {27, 36}}, diff.Value())

	prod := applyOne(t, e, engines.OpMul, nil, x, y)
	assert.Equal(t, [][]float64{{10, 40}, {90, 160}}, prod.Value())

	// Shape mismatch: no broadcasting.
	_, err := e.Apply(context.Background(), engines.OpAdd,
		nest.Slice(nest.Value[any](x), nest.Value[any](tensors.FromValue([]float64{1, 2}))), nil)
	assert.Error(t, err)
}

func TestMatMul(t *testing.T) {
	e, _ := New("")
	x := tensors.FromValue([][]float32{{1, 2, 3}, {4, 5, 6}})   // 2x3
	y := tensors.FromValue([][]float32{{1, 0}, {0, 1}, {1, 1}}) // 3x2

	result := applyOne(t, e, engines.OpMatMul, nil, x, y)
	assert.Equal(t, [][]float32{{4, 5}, {10, 11}}, result.Value())

	_, err := e.Apply(context.Background(), engines.OpMatMul,
		nest.Slice(nest.Value[any](x), nest.Value[any](x)), nil)
	assert.Error(t, err) // Contracting dimensions don't match.
}

func TestReshapeTransposeReduce(t *testing.T) {
	e, _ := New("")
	x := tensors.FromValue([][]int32{{1, 2, 3}, {4, 5, 6}})

	kwargs := nest.Map(map[string]*nest.Nest[any]{"dimensions": nest.Value[any]([]int{3, 2})})
	reshaped := applyOne(t, e, engines.OpReshape, kwargs, x)
	assert.Equal(t, [][]int32{{1, 2}, {3, 4}, {5, 6}}, reshaped.Value())

	transposed := applyOne(t, e, engines.OpTranspose, nil, x)
	assert.Equal(t, [][]int32{{1, 4}, {2, 5}, {3, 6}}, transposed.Value())

	total := applyOne(t, e, engines.OpReduceSum, nil, x)
	assert.Equal(t, int32(21), total.Value())

	// Reshape that changes the total size is rejected.
	badKwargs := nest.Map(map[string]*nest.Nest[any]{"dimensions": nest.Value[any]([]int{5})})
	_, err := e.Apply(context.Background(), engines.OpReshape, nest.Slice(nest.Value[any](x)), badKwargs)
	assert.Error(t, err)
}

func TestAnnotationPropagation(t *testing.T) {
	e, _ := New("devices=4")
	mesh := engines.Mesh{Name: "mesh", AxesSizes: []int{4}, AxesNames: []string{"replica"}}
	spec := engines.ShardingSpec{Mesh: "mesh", Axes: []int{0, engines.ReplicatedAxis}}

	x := tensors.FromValue([][]float32{{1, 2}, {3, 4}, {5, 6}, {7, 8}})
	y := tensors.FromValue([][]float32{{1, 1}, {1, 1}, {1, 1}, {1, 1}})
	e.RecordSharding(x, mesh, spec)

	// Element-wise op: the annotation is carried over unchanged.
	sum := applyOne(t, e, engines.OpAdd, nil, x, y)
	gotMesh, gotSpec, found := e.ShardingOf(sum)
	require.True(t, found)
	assert.Equal(t, mesh, gotMesh)
	assert.Equal(t, spec, gotSpec)

	// Rank-changing op: the annotation is demoted to fully replicated.
	total := applyOne(t, e, engines.OpReduceSum, nil, x)
	_, gotSpec, found = e.ShardingOf(total)
	require.True(t, found)
	assert.Empty(t, gotSpec.Axes) // Scalar result: rank 0.

	// Unannotated inputs produce unannotated results.
	plain := applyOne(t, e, engines.OpNeg, nil, y)
	_, _, found = e.ShardingOf(plain)
	assert.False(t, found)
}

func TestNonTensorLeafRejected(t *testing.T) {
	e, _ := New("")
	_, err := e.Apply(context.Background(), engines.OpNeg, nest.Value[any]("not a tensor"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "*tensors.Tensor")
}
