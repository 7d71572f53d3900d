// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap(t *testing.T) {
	assert.Equal(t, []int{2, 4, 6}, Map([]int{1, 2, 3}, func(e int) int { return 2 * e }))
	assert.Equal(t, []string{"a!", "b!"}, Map([]string{"a", "b"}, func(e string) string { return e + "!" }))
}

func TestSortedKeys(t *testing.T) {
	m := map[string]int{"c": 1, "a": 2, "b": 3}
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(m))
}

func TestFillAndProduct(t *testing.T) {
	assert.Equal(t, []int{7, 7, 7}, Fill(3, 7))
	assert.Equal(t, 24, Product([]int{2, 3, 4}))
	assert.Equal(t, 1, Product[int](nil))
}
