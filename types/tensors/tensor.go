// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements Tensor, a host (local memory) representation of a
// multidimensional array.
//
// Tensors are multidimensional arrays (from scalars with 0 dimensions to
// arbitrarily large ones), defined by their shape (a data type and the axes'
// dimensions) and their content, stored as a flat slice of the Go type
// corresponding to the DType.
//
// It also defines TensorLike, the capability interface implemented both by
// *Tensor and by the sharded handle in the distributed package -- code that only
// needs shape/dtype introspection should accept a TensorLike.
package tensors

import (
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/sharded/types/shapes"
	"github.com/pkg/errors"
)

// Tensor is a host-resident multidimensional array.
//
// Create it with FromShape, FromFlatAndDimensions, FromScalar or FromValue.
// The zero value of Tensor is not valid, always use one of the constructors.
type Tensor struct {
	shape shapes.Shape

	// flat holds the actual data: a slice of the Go type for shape.DType, of
	// length shape.Size(). Even scalars have a flat representation of 1 element.
	flat any
}

// TensorLike is implemented by any value that behaves like a tensor: it reports
// a shape and a dtype. Both *Tensor and *distributed.ShardedTensor implement it.
type TensorLike interface {
	shapes.HasShape

	// DType of the tensor's elements.
	DType() dtypes.DType
}

var _ TensorLike = (*Tensor)(nil)

// newTensor creates a tensor shell for the given shape, without data.
func newTensor(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		panic(errors.New("tensors.newTensor: invalid shape"))
	}
	return &Tensor{shape: shape}
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's elements. Shortcut to t.Shape().DType.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor. Shortcut to t.Shape().Rank().
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar returns whether the tensor is a scalar. Shortcut to t.Shape().IsScalar().
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size returns the number of elements in the tensor. Shortcut to t.Shape().Size().
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor data.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Ok returns whether the tensor holds valid data.
func (t *Tensor) Ok() bool {
	return t != nil && t.shape.Ok() && t.flat != nil
}

// Clone returns a deep copy of the tensor: shape and data.
func (t *Tensor) Clone() *Tensor {
	t.assertValid()
	clone := newTensor(t.shape.Clone())
	flatV := reflect.ValueOf(t.flat)
	cloneFlatV := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
	reflect.Copy(cloneFlatV, flatV)
	clone.flat = cloneFlatV.Interface()
	return clone
}

// Equal compares whether two tensors have the same shape and content.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == other {
		return true
	}
	if t == nil || other == nil {
		return false
	}
	if !t.shape.Equal(other.shape) {
		return false
	}
	flatV, otherFlatV := reflect.ValueOf(t.flat), reflect.ValueOf(other.flat)
	for ii := 0; ii < flatV.Len(); ii++ {
		if !flatV.Index(ii).Equal(otherFlatV.Index(ii)) {
			return false
		}
	}
	return true
}
