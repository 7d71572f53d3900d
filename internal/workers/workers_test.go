// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workers

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	p := New()
	p.SetMaxParallelism(4)

	const numTasks = 100
	var done [numTasks]atomic.Bool
	var running, maxRunning atomic.Int32
	var mu sync.Mutex
	p.Run(numTasks, func(i int) {
		current := running.Add(1)
		mu.Lock()
		if current > maxRunning.Load() {
			maxRunning.Store(current)
		}
		mu.Unlock()
		done[i].Store(true)
		running.Add(-1)
	})

	for i := range done {
		assert.True(t, done[i].Load(), "task %d never ran", i)
	}
	assert.LessOrEqual(t, maxRunning.Load(), int32(4))
}

func TestRunInline(t *testing.T) {
	p := New()
	p.SetMaxParallelism(0)
	require.Equal(t, 0, p.MaxParallelism())

	// With parallelism disabled tasks run inline, in order.
	var order []int
	p.Run(10, func(i int) { order = append(order, i) })
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestRunUnlimited(t *testing.T) {
	p := New()
	p.SetMaxParallelism(-1)
	var count atomic.Int32
	p.Run(50, func(int) { count.Add(1) })
	assert.EqualValues(t, 50, count.Load())
}
