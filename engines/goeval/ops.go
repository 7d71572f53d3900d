// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package goeval

import (
	"math"
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/sharded/engines"
	"github.com/gomlx/sharded/nest"
	"github.com/gomlx/sharded/types/shapes"
	"github.com/gomlx/sharded/types/tensors"
	"github.com/pkg/errors"
)

// number are the dtypes goeval evaluates. Other dtypes return ErrNotImplemented.
type number interface {
	int32 | int64 | float32 | float64
}

func (e *Engine) exec(op engines.OpType, inputs []*tensors.Tensor, kwargs *nest.Nest[any]) (*tensors.Tensor, error) {
	if op.IsUnary() && len(inputs) != 1 {
		return nil, errors.Errorf("%s takes 1 operand, got %d", op, len(inputs))
	}
	if op.IsBinary() && len(inputs) != 2 {
		return nil, errors.Errorf("%s takes 2 operands, got %d", op, len(inputs))
	}

	switch op {
	case engines.OpIdentity:
		return inputs[0].Clone(), nil
	case engines.OpNeg, engines.OpAbs, engines.OpExp:
		return execUnary(op, inputs[0])
	case engines.OpAdd, engines.OpSub, engines.OpMul, engines.OpDiv:
		return execBinary(op, inputs[0], inputs[1])
	case engines.OpMatMul:
		return execMatMul(inputs[0], inputs[1])
	case engines.OpReshape:
		return execReshape(inputs[0], kwargs)
	case engines.OpTranspose:
		return execTranspose(inputs[0])
	case engines.OpReduceSum:
		return execReduceSum(inputs[0])
	}
	return nil, errors.Wrapf(engines.ErrNotImplemented, "op %s", op)
}

func execUnary(op engines.OpType, t *tensors.Tensor) (*tensors.Tensor, error) {
	switch t.DType() {
	case dtypes.Int32:
		return unaryT[int32](op, t)
	case dtypes.Int64:
		return unaryT[int64](op, t)
	case dtypes.Float32:
		return unaryT[float32](op, t)
	case dtypes.Float64:
		return unaryT[float64](op, t)
	}
	return nil, errors.Wrapf(engines.ErrNotImplemented, "dtype %s", t.DType())
}

func unaryT[T number](op engines.OpType, t *tensors.Tensor) (*tensors.Tensor, error) {
	if op == engines.OpExp && !t.DType().IsFloat() {
		return nil, errors.Errorf("%s requires a float operand, got %s", op, t.DType())
	}
	result := t.Clone()
	var err error
	tensors.MutableFlatData(result, func(flat []T) {
		for ii, v := range flat {
			switch op {
			case engines.OpNeg:
				flat[ii] = -v
			case engines.OpAbs:
				if v < 0 {
					flat[ii] = -v
				}
			case engines.OpExp:
				flat[ii] = T(math.Exp(float64(v)))
			default:
				err = errors.Wrapf(engines.ErrNotImplemented, "unary op %s", op)
				return
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func execBinary(op engines.OpType, lhs, rhs *tensors.Tensor) (*tensors.Tensor, error) {
	if !lhs.Shape().Equal(rhs.Shape()) {
		return nil, errors.Errorf("%s requires operands with the same shape, got %s and %s -- broadcasting is not supported",
			op, lhs.Shape(), rhs.Shape())
	}
	switch lhs.DType() {
	case dtypes.Int32:
		return binaryT[int32](op, lhs, rhs)
	case dtypes.Int64:
		return binaryT[int64](op, lhs, rhs)
	case dtypes.Float32:
		return binaryT[float32](op, lhs, rhs)
	case dtypes.Float64:
		return binaryT[float64](op, lhs, rhs)
	}
	return nil, errors.Wrapf(engines.ErrNotImplemented, "dtype %s", lhs.DType())
}

func binaryT[T number](op engines.OpType, lhs, rhs *tensors.Tensor) (*tensors.Tensor, error) {
	result := lhs.Clone()
	var err error
	tensors.ConstFlatData(rhs, func(rhsFlat []T) {
		tensors.MutableFlatData(result, func(flat []T) {
			for ii := range flat {
				switch op {
				case engines.OpAdd:
					flat[ii] += rhsFlat[ii]
				case engines.OpSub:
					flat[ii] -= rhsFlat[ii]
				case engines.OpMul:
					flat[ii] *= rhsFlat[ii]
				case engines.OpDiv:
					flat[ii] /= rhsFlat[ii]
				default:
					err = errors.Wrapf(engines.ErrNotImplemented, "binary op %s", op)
					return
				}
			}
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func execMatMul(lhs, rhs *tensors.Tensor) (*tensors.Tensor, error) {
	if lhs.Rank() != 2 || rhs.Rank() != 2 {
		return nil, errors.Errorf("MatMul requires rank-2 operands, got ranks %d and %d", lhs.Rank(), rhs.Rank())
	}
	if lhs.DType() != rhs.DType() {
		return nil, errors.Errorf("MatMul requires operands with the same dtype, got %s and %s", lhs.DType(), rhs.DType())
	}
	if lhs.Shape().Dim(1) != rhs.Shape().Dim(0) {
		return nil, errors.Errorf("MatMul contracting dimensions don't match: %s x %s", lhs.Shape(), rhs.Shape())
	}
	switch lhs.DType() {
	case dtypes.Float32:
		return matMulT[float32](lhs, rhs), nil
	case dtypes.Float64:
		return matMulT[float64](lhs, rhs), nil
	}
	return nil, errors.Wrapf(engines.ErrNotImplemented, "MatMul for dtype %s", lhs.DType())
}

func matMulT[T float32 | float64](lhs, rhs *tensors.Tensor) *tensors.Tensor {
	m, k, n := lhs.Shape().Dim(0), lhs.Shape().Dim(1), rhs.Shape().Dim(1)
	result := tensors.FromShape(shapes.Make(lhs.DType(), m, n))
	tensors.ConstFlatData(lhs, func(lhsFlat []T) {
		tensors.ConstFlatData(rhs, func(rhsFlat []T) {
			tensors.MutableFlatData(result, func(flat []T) {
				for i := 0; i < m; i++ {
					for j := 0; j < n; j++ {
						var sum T
						for kk := 0; kk < k; kk++ {
							sum += lhsFlat[i*k+kk] * rhsFlat[kk*n+j]
						}
						flat[i*n+j] = sum
					}
				}
			})
		})
	})
	return result
}

func execReshape(t *tensors.Tensor, kwargs *nest.Nest[any]) (*tensors.Tensor, error) {
	var dims []int
	if kwargs.IsMap() {
		if dimsNest, found := kwargs.Map()["dimensions"]; found && dimsNest.IsValue() {
			dims, _ = dimsNest.Value().([]int)
		}
	}
	if dims == nil {
		return nil, errors.New(`Reshape requires a "dimensions" ([]int) kwarg`)
	}
	newShape := shapes.Make(t.DType(), dims...)
	if newShape.Size() != t.Size() {
		return nil, errors.Errorf("Reshape from %s to %s changes the total size", t.Shape(), newShape)
	}
	result := tensors.FromShape(newShape)
	t.ConstFlatData(func(srcFlat any) {
		result.MutableFlatData(func(dstFlat any) {
			copyFlat(dstFlat, srcFlat)
		})
	})
	return result, nil
}

func execTranspose(t *tensors.Tensor) (*tensors.Tensor, error) {
	if t.Rank() != 2 {
		return nil, errors.Errorf("Transpose requires a rank-2 operand, got rank %d", t.Rank())
	}
	rows, cols := t.Shape().Dim(0), t.Shape().Dim(1)
	switch t.DType() {
	case dtypes.Int32:
		return transposeT[int32](t, rows, cols), nil
	case dtypes.Int64:
		return transposeT[int64](t, rows, cols), nil
	case dtypes.Float32:
		return transposeT[float32](t, rows, cols), nil
	case dtypes.Float64:
		return transposeT[float64](t, rows, cols), nil
	}
	return nil, errors.Wrapf(engines.ErrNotImplemented, "Transpose for dtype %s", t.DType())
}

func transposeT[T number](t *tensors.Tensor, rows, cols int) *tensors.Tensor {
	result := tensors.FromShape(shapes.Make(t.DType(), cols, rows))
	tensors.ConstFlatData(t, func(srcFlat []T) {
		tensors.MutableFlatData(result, func(dstFlat []T) {
			for i := 0; i < rows; i++ {
				for j := 0; j < cols; j++ {
					dstFlat[j*rows+i] = srcFlat[i*cols+j]
				}
			}
		})
	})
	return result
}

func execReduceSum(t *tensors.Tensor) (*tensors.Tensor, error) {
	switch t.DType() {
	case dtypes.Int32:
		return reduceSumT[int32](t), nil
	case dtypes.Int64:
		return reduceSumT[int64](t), nil
	case dtypes.Float32:
		return reduceSumT[float32](t), nil
	case dtypes.Float64:
		return reduceSumT[float64](t), nil
	}
	return nil, errors.Wrapf(engines.ErrNotImplemented, "ReduceSum for dtype %s", t.DType())
}

func reduceSumT[T number](t *tensors.Tensor) *tensors.Tensor {
	var sum T
	tensors.ConstFlatData(t, func(flat []T) {
		for _, v := range flat {
			sum += v
		}
	})
	return tensors.FromScalar(sum)
}

// copyFlat copies srcFlat into dstFlat; both are slices of the same element type.
func copyFlat(dstFlat, srcFlat any) {
	reflect.Copy(reflect.ValueOf(dstFlat), reflect.ValueOf(srcFlat))
}
