// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/sharded/types/shapes"
	"github.com/gomlx/sharded/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromFlatAndDimensions(t *testing.T) {
	tensor := tensors.FromFlatAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, shapes.Make(dtypes.Float32, 2, 3), tensor.Shape())
	assert.Equal(t, dtypes.Float32, tensor.DType())
	assert.Equal(t, 6, tensor.Size())
	tensors.ConstFlatData(tensor, func(flat []float32) {
		assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, flat)
	})

	// Wrong number of values must panic.
	assert.Panics(t, func() { tensors.FromFlatAndDimensions([]float32{1, 2, 3}, 2, 3) })
}

func TestFromValue(t *testing.T) {
	tensor := tensors.FromValue([][]int32{{1, 2, 3, 4}, {5, 6, 7, 8}})
	assert.Equal(t, shapes.Make(dtypes.Int32, 2, 4), tensor.Shape())
	assert.Equal(t, [][]int32{{1, 2, 3, 4}, {5, 6, 7, 8}}, tensor.Value())

	scalar := tensors.FromScalar(float64(3.14))
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, 3.14, scalar.Value())

	// Irregular nesting must panic.
	assert.Panics(t, func() { tensors.FromValue([][]int32{{1, 2}, {3}}) })
}

func TestCloneAndEqual(t *testing.T) {
	tensor := tensors.FromFlatAndDimensions([]float64{1, 2, 3, 4}, 2, 2)
	clone := tensor.Clone()
	require.True(t, tensor.Equal(clone))

	tensors.MutableFlatData(clone, func(flat []float64) { flat[0] = 100 })
	assert.False(t, tensor.Equal(clone))
	tensors.ConstFlatData(tensor, func(flat []float64) {
		assert.Equal(t, float64(1), flat[0])
	})

	other := tensors.FromFlatAndDimensions([]float64{1, 2, 3, 4}, 4)
	assert.False(t, tensor.Equal(other)) // Different shapes.
}

func TestSlice(t *testing.T) {
	tensor := tensors.FromValue([][]int32{{1, 2, 3, 4}, {5, 6, 7, 8}, {9, 10, 11, 12}})

	row, err := tensor.Slice([]int{1, 0}, []int{2, 4})
	require.NoError(t, err)
	assert.Equal(t, [][]int32{{5, 6, 7, 8}}, row.Value())

	block, err := tensor.Slice([]int{0, 2}, []int{2, 4})
	require.NoError(t, err)
	assert.Equal(t, [][]int32{{3, 4}, {7, 8}}, block.Value())

	_, err = tensor.Slice([]int{0}, []int{2})
	assert.Error(t, err) // Wrong rank.
	_, err = tensor.Slice([]int{0, 0}, []int{4, 4})
	assert.Error(t, err) // Out-of-bounds.
}

func TestSummary(t *testing.T) {
	tensor := tensors.FromValue([][]float32{{1, 2}, {3, 4}})
	assert.Equal(t, "[2][2]float32{{1, 2}, {3, 4}}", tensor.Summary(4))

	scalar := tensors.FromScalar(int64(7))
	assert.Equal(t, "int64(7)", scalar.Summary(4))

	large := tensors.FromFlatAndDimensions([]int32{1, 2, 3, 4, 5, 6, 7, 8}, 8)
	assert.Equal(t, "[8]int32{1, 2, 3, ..., 6, 7, 8}", large.Summary(4))
}

func TestFloat16(t *testing.T) {
	values := make([]float16.Float16, 4)
	for ii, v := range []float32{1.5, 2.5, 3.5, 4.5} {
		values[ii] = float16.Fromfloat32(v)
	}
	tensor := tensors.FromFlatAndDimensions(values, 2, 2)
	assert.Equal(t, dtypes.Float16, tensor.DType())
	assert.Equal(t, "[2][2]float16.Float16{{1.5, 2.5}, {3.5, 4.5}}", tensor.Summary(4))
}
