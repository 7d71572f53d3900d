// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workers implements a small pool bounding the parallelism of
// CPU-bound loops, used when extracting the per-device shards of a tensor.
package workers

import (
	"runtime"
	"sync"
)

// Pool bounds how many tasks run concurrently.
type Pool struct {
	// maxParallelism is a soft target on the limit of parallel work to do.
	// 0 disables parallelism (tasks run inline), < 0 makes it unlimited.
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // Signaled whenever numRunning is decreased.
	numRunning int
}

// New returns a new Pool with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	p := &Pool{maxParallelism: runtime.NumCPU()}
	p.cond = sync.Cond{L: &p.mu}
	return p
}

// MaxParallelism returns the current soft-target for parallelism.
func (p *Pool) MaxParallelism() int {
	return p.maxParallelism
}

// SetMaxParallelism sets the soft-target for parallelism. 0 disables
// parallelism, -1 makes it unlimited.
//
// Only change it while no tasks are running, the behavior is undefined otherwise.
func (p *Pool) SetMaxParallelism(maxParallelism int) {
	p.maxParallelism = maxParallelism
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with p.mu acquired.
func (p *Pool) lockedIsFull() bool {
	if p.maxParallelism == 0 {
		return true
	} else if p.maxParallelism < 0 {
		return false
	}
	return p.numRunning >= p.maxParallelism
}

// Run executes task(0) to task(numTasks-1) on the pool and returns when all
// have finished. Tasks run concurrently up to the pool's parallelism; with
// parallelism disabled they run inline, in order.
func (p *Pool) Run(numTasks int, task func(i int)) {
	if p.maxParallelism == 0 {
		for i := 0; i < numTasks; i++ {
			task(i)
		}
		return
	}

	var wg sync.WaitGroup
	wg.Add(numTasks)
	for i := 0; i < numTasks; i++ {
		p.waitToStart(func(i int) func() {
			return func() {
				defer wg.Done()
				task(i)
			}
		}(i))
	}
	wg.Wait()
}

// waitToStart blocks until a worker is available, then runs the task on a new
// goroutine, keeping tabs on numRunning.
func (p *Pool) waitToStart(task func()) {
	if p.maxParallelism < 0 {
		go task()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.lockedIsFull() {
		p.cond.Wait()
	}
	p.numRunning++
	go func() {
		task()
		p.mu.Lock()
		p.numRunning--
		p.cond.Signal()
		p.mu.Unlock()
	}()
}
