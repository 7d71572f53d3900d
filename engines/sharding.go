// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package engines

import (
	"github.com/gomlx/sharded/types/tensors"
)

// Mesh describes a logical device topology on the engine boundary.
//
// It is the plain-struct counterpart of distributed.DeviceMesh: the distributed
// package converts to this representation when talking to an engine, so the
// engines package doesn't depend on it.
type Mesh struct {
	// Name of the mesh.
	Name string

	// AxesSizes defines the number of devices along each mesh axis.
	AxesSizes []int

	// AxesNames are the names of the mesh axes, one per axis.
	AxesNames []string

	// LogicalDeviceAssignment optionally maps mesh positions to logical device
	// numbers. If nil, the assignment is sequential starting from 0.
	LogicalDeviceAssignment []int
}

// NumDevices returns the total number of devices in the mesh: the product of
// the axes sizes.
func (m Mesh) NumDevices() int {
	n := 1
	for _, size := range m.AxesSizes {
		n *= size
	}
	return n
}

// ReplicatedAxis marks a tensor axis as replicated (not sharded) in a ShardingSpec.
const ReplicatedAxis = -1

// ShardingSpec describes, on the engine boundary, how each axis of a tensor is
// sharded: entry i is the mesh-axis index the tensor axis i is split across, or
// ReplicatedAxis if the tensor axis is replicated.
//
// It is the plain-struct counterpart of distributed.PartitionSpec.
type ShardingSpec struct {
	// Mesh is the name of the mesh the spec refers to.
	Mesh string

	// Axes has one entry per tensor axis: a mesh-axis index or ReplicatedAxis.
	Axes []int
}

// ShardingAnnotator is an optional capability of an Engine: engines that record
// sharding annotations on their computation graph implement it, so the dispatch
// layer can propagate mesh/partition metadata onto rewrapped results.
type ShardingAnnotator interface {
	// RecordSharding annotates the given result tensor with its sharding.
	RecordSharding(t *tensors.Tensor, mesh Mesh, spec ShardingSpec)

	// ShardingOf returns the recorded sharding annotation for the tensor, and
	// whether one was recorded.
	ShardingOf(t *tensors.Tensor) (Mesh, ShardingSpec, bool)
}
