// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"reflect"

	"github.com/gomlx/sharded/types/shapes"
	"github.com/pkg/errors"
)

// Slice returns a new tensor with a copy of the block of t delimited per axis by
// [starts[axis], limits[axis]). Both starts and limits must have one value per
// axis of t.
//
// It is used to extract the per-device shards of a tensor being partitioned, but
// it is generic block slicing.
func (t *Tensor) Slice(starts, limits []int) (*Tensor, error) {
	t.assertValid()
	rank := t.Rank()
	if len(starts) != rank || len(limits) != rank {
		return nil, errors.Errorf("Tensor.Slice: starts and limits must have %d values (the tensor rank), got %d and %d",
			rank, len(starts), len(limits))
	}
	dims := make([]int, rank)
	for axis := range starts {
		if starts[axis] < 0 || limits[axis] > t.shape.Dimensions[axis] || starts[axis] >= limits[axis] {
			return nil, errors.Errorf("Tensor.Slice: invalid range [%d, %d) for axis %d with dimension %d",
				starts[axis], limits[axis], axis, t.shape.Dimensions[axis])
		}
		dims[axis] = limits[axis] - starts[axis]
	}
	if rank == 0 {
		return t.Clone(), nil
	}

	result := FromShape(shapes.Make(t.shape.DType, dims...))
	srcV := reflect.ValueOf(t.flat)
	dstV := reflect.ValueOf(result.flat)
	srcStrides := t.shape.Strides()

	// Copy one contiguous row (last axis) at a time.
	rowLen := dims[rank-1]
	indices := make([]int, rank) // Indices into the result block, last axis always 0.
	dstPos := 0
	for {
		srcPos := 0
		for axis, idx := range indices {
			srcPos += (starts[axis] + idx) * srcStrides[axis]
		}
		reflect.Copy(dstV.Slice(dstPos, dstPos+rowLen), srcV.Slice(srcPos, srcPos+rowLen))
		dstPos += rowLen

		// Increment indices, skipping the last axis.
		axis := rank - 2
		for axis >= 0 {
			indices[axis]++
			if indices[axis] < dims[axis] {
				break
			}
			indices[axis] = 0
			axis--
		}
		if axis < 0 {
			break
		}
	}
	return result, nil
}
