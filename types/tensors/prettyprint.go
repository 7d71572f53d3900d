// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

var (
	typeFloat16  = reflect.TypeOf(float16.Float16(0))
	typeBFloat16 = reflect.TypeOf(bfloat16.BFloat16(0))
)

// String returns a compact single-line representation of the tensor, with
// ellipsis for large rows. Inspired by numpy output.
func (t *Tensor) String() string {
	return t.Summary(4)
}

// Summary returns a representation of the Tensor's content with the given
// float precision, eliding rows with more than 6 values.
func (t *Tensor) Summary(precision int) string {
	if !t.Ok() {
		return "tensors.Tensor(invalid)"
	}

	var buf bytes.Buffer
	w := func(format string, args ...any) { _, _ = fmt.Fprintf(&buf, format, args...) }

	// Print value with appropriate formatting: float16 and bfloat16 are not
	// directly printable, they are converted to float32 first.
	wValue := func(v reflect.Value) {
		if v.Type() == typeFloat16 {
			w("%.*g", precision, v.Interface().(float16.Float16).Float32())
			return
		} else if v.Type() == typeBFloat16 {
			w("%.*g", precision, v.Interface().(bfloat16.BFloat16).Float32())
			return
		}
		switch v.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			w("%d", v.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			w("%d", v.Uint())
		case reflect.Complex64, reflect.Complex128:
			c := v.Complex()
			w("(%.*g+%.*gi)", precision, real(c), precision, imag(c))
		case reflect.Bool:
			w("%v", v.Bool())
		default:
			w("%.*g", precision, v.Interface())
		}
	}

	dims := t.Shape().Dimensions
	values := reflect.ValueOf(t.flat)

	// Print the Go type equivalent first: e.g. [2][3]float32.
	for _, dim := range dims {
		w("[%d]", dim)
	}
	w("%s", values.Type().Elem())
	if len(dims) == 0 {
		w("(")
		wValue(values.Index(0))
		w(")")
		return buf.String()
	}

	var printBlock func(index int, currentShape []int) int
	printBlock = func(index int, currentShape []int) int {
		w("{")
		if len(currentShape) == 1 {
			dim := currentShape[0]
			if dim > 6 {
				for i := 0; i < 3; i++ {
					if i > 0 {
						w(", ")
					}
					wValue(values.Index(index + i))
				}
				w(", ..., ")
				for i := dim - 3; i < dim; i++ {
					if i > dim-3 {
						w(", ")
					}
					wValue(values.Index(index + i))
				}
			} else {
				for i := 0; i < dim; i++ {
					if i > 0 {
						w(", ")
					}
					wValue(values.Index(index + i))
				}
			}
			w("}")
			return index + dim
		}
		for i := 0; i < currentShape[0]; i++ {
			if i > 0 {
				w(", ")
			}
			index = printBlock(index, currentShape[1:])
		}
		w("}")
		return index
	}
	printBlock(0, dims)
	return buf.String()
}
