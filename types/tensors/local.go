// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/sharded/types/shapes"
	"github.com/pkg/errors"
)

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
func FromShape(shape shapes.Shape) (t *Tensor) {
	if !shape.Ok() {
		panic(errors.New("tensors.FromShape: invalid shape"))
	}
	t = newTensor(shape)
	flatV := reflect.MakeSlice(reflect.SliceOf(t.shape.DType.GoType()), t.Size(), t.Size())
	t.flat = flatV.Interface()
	return
}

// FromScalar returns a scalar (rank 0) Tensor with the given value.
func FromScalar[T dtypes.Supported](value T) (t *Tensor) {
	t = newTensor(shapes.Make(dtypes.FromGenericsType[T]()))
	t.flat = []T{value}
	return
}

// FromFlatAndDimensions creates a tensor with the given dimensions, whose flattened
// values (in row-major order) are given by flat. The dtype is inferred from the type T.
//
// It panics if the product of the dimensions doesn't match the length of flat.
func FromFlatAndDimensions[T dtypes.Supported](flat []T, dimensions ...int) (t *Tensor) {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(flat) != shape.Size() {
		panic(errors.Errorf("tensors.FromFlatAndDimensions(%s): flat data has %d values, but shape requires %d",
			shape, len(flat), shape.Size()))
	}
	t = newTensor(shape)
	flatCopy := make([]T, len(flat))
	copy(flatCopy, flat)
	t.flat = flatCopy
	return
}

// FromValue returns a Tensor with the shape and value of the given Go value: a
// scalar of a supported dtype, or a (nested) slice of them. Nested slices must
// be regular: all sub-slices of an axis must have the same length.
//
// It panics for unsupported types or irregular nesting.
func FromValue(value any) *Tensor {
	valueV := reflect.ValueOf(value)
	var dims []int
	baseT := valueV.Type()
	for baseT.Kind() == reflect.Slice {
		baseT = baseT.Elem()
	}
	dtype := dtypes.FromGoType(baseT)
	if dtype == dtypes.InvalidDType {
		panic(errors.Errorf("tensors.FromValue: unsupported element type %s", baseT))
	}
	for subV := valueV; subV.Kind() == reflect.Slice; subV = subV.Index(0) {
		if subV.Len() == 0 {
			panic(errors.Errorf("tensors.FromValue: empty slices not supported (axis %d)", len(dims)))
		}
		dims = append(dims, subV.Len())
	}
	t := FromShape(shapes.Make(dtype, dims...))
	flatV := reflect.ValueOf(t.flat)
	pos := 0
	var copyRecursive func(v reflect.Value, axis int)
	copyRecursive = func(v reflect.Value, axis int) {
		if axis == len(dims) {
			flatV.Index(pos).Set(v)
			pos++
			return
		}
		if v.Len() != dims[axis] {
			panic(errors.Errorf("tensors.FromValue: irregular nested slice, axis %d expected dimension %d, got %d",
				axis, dims[axis], v.Len()))
		}
		for ii := 0; ii < v.Len(); ii++ {
			copyRecursive(v.Index(ii), axis+1)
		}
	}
	copyRecursive(valueV, 0)
	return t
}

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type
// corresponding to the DType. Even scalar values have a flattened representation
// of one element.
//
// The slice is the actual tensor data (not a copy), owned by the Tensor: it must
// not be modified -- see MutableFlatData for that.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	t.assertValid()
	accessFn(t.flat)
}

// ConstFlatData is the generics version of Tensor.ConstFlatData. It panics if T
// doesn't match the tensor's dtype.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	t.assertValid()
	flat, ok := t.flat.([]T)
	if !ok {
		panic(errors.Errorf("tensors.ConstFlatData[%s]: tensor has dtype %s",
			dtypes.FromGenericsType[T](), t.DType()))
	}
	accessFn(flat)
}

// MutableFlatData calls accessFn with the flattened data as a slice of the Go
// type corresponding to the DType. The data can be modified in place.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	t.assertValid()
	accessFn(t.flat)
}

// MutableFlatData is the generics version of Tensor.MutableFlatData. It panics
// if T doesn't match the tensor's dtype.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	t.assertValid()
	flat, ok := t.flat.([]T)
	if !ok {
		panic(errors.Errorf("tensors.MutableFlatData[%s]: tensor has dtype %s",
			dtypes.FromGenericsType[T](), t.DType()))
	}
	accessFn(flat)
}

// Value returns a multidimensional Go value (nested slices, or a scalar for rank
// 0) with a copy of the tensor's content.
func (t *Tensor) Value() any {
	t.assertValid()
	flatV := reflect.ValueOf(t.flat)
	if t.IsScalar() {
		return flatV.Index(0).Interface()
	}
	pos := 0
	var build func(axis int) reflect.Value
	build = func(axis int) reflect.Value {
		dim := t.shape.Dimensions[axis]
		if axis == t.Rank()-1 {
			row := reflect.MakeSlice(flatV.Type(), dim, dim)
			reflect.Copy(row, flatV.Slice(pos, pos+dim))
			pos += dim
			return row
		}
		first := build(axis + 1)
		rows := reflect.MakeSlice(reflect.SliceOf(first.Type()), dim, dim)
		rows.Index(0).Set(first)
		for ii := 1; ii < dim; ii++ {
			rows.Index(ii).Set(build(axis + 1))
		}
		return rows
	}
	return build(0).Interface()
}

func (t *Tensor) assertValid() {
	if !t.Ok() {
		panic(errors.New("tensors.Tensor is invalid: was it created with one of the constructors?"))
	}
}
