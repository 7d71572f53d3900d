// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package engines

import "fmt"

// OpType identifies an operation dispatched to an Engine.
//
// The set is deliberately small: it covers the operations exercised by the
// sharded-tensor dispatch layer and its tests. Engines are free to support only
// a subset, returning ErrNotImplemented for the rest.
type OpType int

const (
	OpInvalid OpType = iota

	// Unary operations: one tensor operand.
	OpIdentity
	OpNeg
	OpAbs
	OpExp

	// Binary element-wise operations: two tensor operands with the same shape.
	OpAdd
	OpSub
	OpMul
	OpDiv

	// OpMatMul multiplies two rank-2 tensors.
	OpMatMul

	// OpReshape reinterprets the operand with the dimensions given by the
	// "dimensions" kwarg ([]int); the total size must be preserved.
	OpReshape

	// OpTranspose swaps the two axes of a rank-2 operand.
	OpTranspose

	// OpReduceSum sums over all axes of the operand, returning a scalar.
	OpReduceSum

	opLast
)

var opTypeNames = [...]string{
	OpInvalid:   "Invalid",
	OpIdentity:  "Identity",
	OpNeg:       "Neg",
	OpAbs:       "Abs",
	OpExp:       "Exp",
	OpAdd:       "Add",
	OpSub:       "Sub",
	OpMul:       "Mul",
	OpDiv:       "Div",
	OpMatMul:    "MatMul",
	OpReshape:   "Reshape",
	OpTranspose: "Transpose",
	OpReduceSum: "ReduceSum",
}

// String implements fmt.Stringer.
func (op OpType) String() string {
	if op <= OpInvalid || op >= opLast {
		return fmt.Sprintf("OpType(%d)", int(op))
	}
	return opTypeNames[op]
}

// IsUnary returns whether the operation takes exactly one tensor operand.
func (op OpType) IsUnary() bool {
	switch op {
	case OpIdentity, OpNeg, OpAbs, OpExp, OpReshape, OpTranspose, OpReduceSum:
		return true
	}
	return false
}

// IsBinary returns whether the operation takes exactly two tensor operands.
func (op OpType) IsBinary() bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMatMul:
		return true
	}
	return false
}
