// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package nest implements the Nest generic container, used for generic operand
// and result trees on the compute-engine boundary.
//
// Nest is a "sum type" (a union) of a leaf value T, an ordered sequence of
// sub-Nests or a map of string to sub-Nests -- so it can represent arbitrarily
// nested combinations of sequences, mappings and leaves (lists of lists, maps of
// lists, etc.). Operations that transform a Nest (MapLeaves, Unflatten) always
// preserve the nesting structure exactly.
package nest

import (
	"fmt"
	"log"

	"github.com/gomlx/sharded/types/xslices"
	"github.com/pkg/errors"
)

// Nest is a generic container for a tree of values of type T. It is only one of
// leaf value, slice or map, and accessing the wrong instance will panic.
//
// A nil *Nest is valid and represents an empty tree.
type Nest[T any] struct {
	nestType  Type
	value     T
	slice     []*Nest[T]
	stringMap map[string]*Nest[T]
}

// Type of Nest.
type Type uint8

const (
	InvalidNest Type = iota
	ValueNest
	SliceNest
	MapNest
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case InvalidNest:
		return "InvalidNest"
	case ValueNest:
		return "ValueNest"
	case SliceNest:
		return "SliceNest"
	case MapNest:
		return "MapNest"
	}
	return fmt.Sprintf("Type(%d)", t)
}

// Value creates a new Nest leaf that contains the given value.
func Value[T any](value T) *Nest[T] {
	return &Nest[T]{
		nestType: ValueNest,
		value:    value,
	}
}

// Value returns the value stored in the Nest. It panics if the Nest is not a ValueNest.
func (n *Nest[T]) Value() T {
	if n == nil || n.nestType != ValueNest {
		log.Panicf("Nest[T=%T].Value() called, but the Nest is a container of type %s", n.value, n.Type())
	}
	return n.value
}

// IsValue returns whether the Nest holds a single leaf value.
func (n *Nest[T]) IsValue() bool {
	return n != nil && n.nestType == ValueNest
}

// Slice creates a new Nest that is an ordered sequence of the given sub-Nests --
// the exact same slice, it is not copied. Sub-Nests can themselves be slices or
// maps, nesting arbitrarily.
func Slice[T any](elements ...*Nest[T]) *Nest[T] {
	return &Nest[T]{
		nestType: SliceNest,
		slice:    elements,
	}
}

// IsSlice returns whether the Nest is storing a sequence of sub-Nests.
func (n *Nest[T]) IsSlice() bool {
	return n != nil && n.nestType == SliceNest
}

// Slice returns the sequence of sub-Nests. It panics if the Nest is not of SliceNest type.
func (n *Nest[T]) Slice() []*Nest[T] {
	if n == nil || n.nestType != SliceNest {
		log.Panicf("Nest[T=%T].Slice() called, but the Nest is a container of type %s", n.value, n.Type())
	}
	return n.slice
}

// Map creates a new Nest with the given map of sub-Nests -- it is not copied,
// it's the same underlying map.
func Map[T any](stringMap map[string]*Nest[T]) *Nest[T] {
	return &Nest[T]{
		nestType:  MapNest,
		stringMap: stringMap,
	}
}

// IsMap returns whether the Nest is storing a map of sub-Nests.
func (n *Nest[T]) IsMap() bool {
	return n != nil && n.nestType == MapNest
}

// Map returns a reference to the underlying map. It panics if the Nest is not of MapNest type.
func (n *Nest[T]) Map() map[string]*Nest[T] {
	if n == nil || n.nestType != MapNest {
		log.Panicf("Nest[T=%T].Map() called, but the Nest is a container of type %s", n.value, n.Type())
	}
	return n.stringMap
}

// Type returns the type of container this Nest is. A nil Nest is InvalidNest.
func (n *Nest[T]) Type() Type {
	if n == nil {
		return InvalidNest
	}
	return n.nestType
}

// IsEmpty returns whether the Nest has no leaf values: it is nil/invalid, or all
// its containers (recursively) are empty.
func (n *Nest[T]) IsEmpty() bool {
	return n.NumLeaves() == 0
}

// NumLeaves returns the number of leaf values stored in the Nest, recursively.
func (n *Nest[T]) NumLeaves() int {
	if n == nil {
		return 0
	}
	switch n.nestType {
	case ValueNest:
		return 1
	case SliceNest:
		count := 0
		for _, sub := range n.slice {
			count += sub.NumLeaves()
		}
		return count
	case MapNest:
		count := 0
		for _, sub := range n.stringMap {
			count += sub.NumLeaves()
		}
		return count
	}
	return 0
}

// Enumerate all leaf values stored in a Nest, in a deterministic order (maps are
// visited in sorted key order), and call fn for each. If fn returns an error,
// Enumerate exits immediately and returns it.
func (n *Nest[T]) Enumerate(fn func(value T) error) error {
	if n == nil {
		return nil
	}
	switch n.nestType {
	case InvalidNest:
		return errors.Errorf("Nest[%T].Enumerate() of InvalidNest", n.value)
	case ValueNest:
		return fn(n.value)
	case SliceNest:
		for _, sub := range n.slice {
			if err := sub.Enumerate(fn); err != nil {
				return err
			}
		}
		return nil
	case MapNest:
		// Range on sorted keys, to make it deterministic.
		for _, key := range xslices.SortedKeys(n.stringMap) {
			if err := n.stringMap[key].Enumerate(fn); err != nil {
				return err
			}
		}
		return nil
	}
	return errors.Errorf("Nest[%T].Enumerate() of unknown type %s (%d)", n.value, n.nestType, n.nestType)
}

// Flatten converts the Nest to a flat slice of its leaf values, in the same
// deterministic order used by Enumerate. A nil or invalid Nest returns nil.
func (n *Nest[T]) Flatten() []T {
	if n == nil {
		return nil
	}
	flat := make([]T, 0, n.NumLeaves())
	_ = n.Enumerate(func(value T) error {
		flat = append(flat, value)
		return nil
	})
	return flat
}

// MapLeaves creates a new Nest with the exact same nesting structure of n, with
// every leaf value transformed by fn. A nil Nest maps to nil.
func MapLeaves[T1, T2 any](n *Nest[T1], fn func(T1) T2) *Nest[T2] {
	if n == nil {
		return nil
	}
	switch n.nestType {
	case ValueNest:
		return Value(fn(n.value))
	case SliceNest:
		elements := make([]*Nest[T2], len(n.slice))
		for ii, sub := range n.slice {
			elements[ii] = MapLeaves(sub, fn)
		}
		return Slice(elements...)
	case MapNest:
		stringMap := make(map[string]*Nest[T2], len(n.stringMap))
		// Range on sorted keys so leaves are visited in the same order as Enumerate.
		for _, key := range xslices.SortedKeys(n.stringMap) {
			stringMap[key] = MapLeaves(n.stringMap[key], fn)
		}
		return Map(stringMap)
	}
	return &Nest[T2]{}
}

// Unflatten creates a Nest[T2] with the structure of nestShape and the leaf
// values taken in order from flatValues. It panics if flatValues doesn't have
// exactly nestShape.NumLeaves() values.
func Unflatten[T1, T2 any](nestShape *Nest[T1], flatValues []T2) *Nest[T2] {
	if numLeaves := nestShape.NumLeaves(); numLeaves != len(flatValues) {
		log.Panicf("nest.Unflatten: structure has %d leaves, but %d values given", numLeaves, len(flatValues))
	}
	pos := 0
	return MapLeaves(nestShape, func(_ T1) T2 {
		value := flatValues[pos]
		pos++
		return value
	})
}

// SameStructure returns whether the two Nests have exactly the same nesting
// structure (container types, lengths and keys), ignoring the leaf values.
func SameStructure[T1, T2 any](n1 *Nest[T1], n2 *Nest[T2]) bool {
	if n1.Type() != n2.Type() {
		return false
	}
	switch n1.Type() {
	case SliceNest:
		if len(n1.slice) != len(n2.slice) {
			return false
		}
		for ii := range n1.slice {
			if !SameStructure(n1.slice[ii], n2.slice[ii]) {
				return false
			}
		}
	case MapNest:
		if len(n1.stringMap) != len(n2.stringMap) {
			return false
		}
		for key, sub1 := range n1.stringMap {
			sub2, found := n2.stringMap[key]
			if !found || !SameStructure(sub1, sub2) {
				return false
			}
		}
	}
	return true
}
