// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"fmt"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/sharded/internal/workers"
	"github.com/gomlx/sharded/types/shapes"
	"github.com/gomlx/sharded/types/tensors"
	"github.com/pkg/errors"
)

// shardingPool bounds the parallelism of per-device shard extraction.
var shardingPool = workers.New()

// Shard pairs the data of one device-local piece of a sharded tensor with the
// rank (logical device number) of the device holding it.
//
// A Shard is immutable after creation: both fields are only readable.
type Shard struct {
	data *tensors.Tensor
	rank int
}

// NewShard creates a Shard holding data on the device with the given rank.
func NewShard(data *tensors.Tensor, rank int) (Shard, error) {
	if data == nil || !data.Ok() {
		return Shard{}, errors.New("shard data cannot be nil or invalid")
	}
	if rank < 0 {
		return Shard{}, errors.Errorf("shard rank must be non-negative, got %d", rank)
	}
	return Shard{data: data, rank: rank}, nil
}

// Data returns the device-local tensor of the shard.
func (s Shard) Data() *tensors.Tensor {
	return s.data
}

// Rank returns the logical device number holding the shard.
func (s Shard) Rank() int {
	return s.rank
}

// Shape returns the shape of the shard data.
func (s Shard) Shape() shapes.Shape {
	if s.data == nil {
		return shapes.Invalid()
	}
	return s.data.Shape()
}

// String implements the fmt.Stringer interface.
func (s Shard) String() string {
	return fmt.Sprintf("Shard(rank=%d, %s)", s.rank, s.Shape())
}

// ShardedTensor is a handle to a logical (global) tensor annotated with the
// mesh and partition spec that describe how it is laid out across devices.
//
// It implements tensors.TensorLike, reporting the shape and dtype of the
// logical tensor, so code written against TensorLike handles sharded and plain
// tensors alike. Operations on ShardedTensor operands go through a Dispatcher,
// which unwraps them to their global tensors, forwards to the engine and
// rewraps the results. See Dispatcher.
type ShardedTensor struct {
	global *tensors.Tensor

	mesh *DeviceMesh
	spec PartitionSpec

	// shardShape is the per-device shard shape, computed at Wrap time.
	shardShape shapes.Shape

	// localShards, if attached, hold the device-local pieces, one per mesh device.
	localShards []Shard

	requiresGrad bool
}

var _ tensors.TensorLike = (*ShardedTensor)(nil)

// WrapOption configures Wrap.
type WrapOption func(*ShardedTensor)

// WithGradientTracking marks the wrapper as participating in gradient
// computation. The handle then stores a detached copy of the wrapped tensor,
// so the caller's tensor is not tracked twice.
func WithGradientTracking() WrapOption {
	return func(st *ShardedTensor) {
		st.requiresGrad = true
		st.global = st.global.Clone()
	}
}

// Wrap creates a ShardedTensor handle around a logical tensor.
//
//   - global: the full logical tensor. It is referenced, not copied -- except
//     under WithGradientTracking, which stores a detached copy.
//   - mesh: the device topology the tensor is laid out on.
//   - spec: one AxisSpec per tensor axis; use ReplicatedSpec(rank) for a fully
//     replicated layout.
//
// The spec must have exactly one entry per tensor axis, every sharded axis must
// refer to a distinct valid mesh axis, and sharded dimensions must divide
// evenly by their mesh axis size.
func Wrap(global *tensors.Tensor, mesh *DeviceMesh, spec PartitionSpec, options ...WrapOption) (*ShardedTensor, error) {
	if global == nil || !global.Ok() {
		return nil, errors.New("cannot wrap a nil or invalid tensor")
	}
	if mesh == nil {
		return nil, errors.New("cannot wrap with a nil mesh")
	}
	shardShape, err := spec.ShardShape(mesh, global.Shape())
	if err != nil {
		return nil, errors.WithMessagef(err, "wrapping tensor shaped %s on %s", global.Shape(), mesh)
	}
	st := &ShardedTensor{
		global:     global,
		mesh:       mesh,
		spec:       slices.Clone(spec),
		shardShape: shardShape,
	}
	for _, option := range options {
		option(st)
	}
	return st, nil
}

// Shape returns the shape of the logical (global) tensor, not of the
// per-device shards.
func (st *ShardedTensor) Shape() shapes.Shape {
	return st.global.Shape()
}

// DType returns the dtype of the logical tensor.
func (st *ShardedTensor) DType() dtypes.DType {
	return st.global.DType()
}

// Rank returns the rank of the logical tensor.
func (st *ShardedTensor) Rank() int {
	return st.global.Rank()
}

// GlobalTensor returns the underlying logical tensor.
func (st *ShardedTensor) GlobalTensor() *tensors.Tensor {
	return st.global
}

// Mesh returns the device mesh the tensor is laid out on.
func (st *ShardedTensor) Mesh() *DeviceMesh {
	return st.mesh
}

// PartitionSpec returns a copy of the tensor's partition spec.
func (st *ShardedTensor) PartitionSpec() PartitionSpec {
	return slices.Clone(st.spec)
}

// ShardShape returns the shape of each per-device shard.
func (st *ShardedTensor) ShardShape() shapes.Shape {
	return st.shardShape
}

// RequiresGrad reports whether the wrapper was created with gradient tracking.
func (st *ShardedTensor) RequiresGrad() bool {
	return st.requiresGrad
}

// LocalShards returns the attached device-local shards, or nil if none were
// attached. The returned slice is a copy, ordered by mesh position.
func (st *ShardedTensor) LocalShards() []Shard {
	if st.localShards == nil {
		return nil
	}
	return slices.Clone(st.localShards)
}

// AttachLocalShards attaches the device-local pieces of the tensor, one Shard
// per mesh device.
//
// It validates that there is exactly one shard per device, that every shard's
// data matches the per-device shard shape, and that shard ranks are distinct
// valid device numbers. Shards can be given in any order; they are stored
// ordered by rank.
func (st *ShardedTensor) AttachLocalShards(localShards ...Shard) error {
	if len(localShards) != st.mesh.NumDevices() {
		return errors.Errorf("got %d shards for %s with %d devices: exactly one shard per device is required",
			len(localShards), st.mesh, st.mesh.NumDevices())
	}
	seen := make(map[int]bool, len(localShards))
	for _, shard := range localShards {
		if shard.data == nil || !shard.data.Ok() {
			return errors.Errorf("shard for rank %d has nil or invalid data", shard.rank)
		}
		if !shard.Shape().Equal(st.shardShape) {
			return errors.Errorf("shard for rank %d is shaped %s, want the per-device shard shape %s",
				shard.rank, shard.Shape(), st.shardShape)
		}
		if shard.rank < 0 || shard.rank >= st.mesh.NumDevices() {
			return errors.Errorf("shard rank %d out-of-range for %s with %d devices",
				shard.rank, st.mesh, st.mesh.NumDevices())
		}
		if seen[shard.rank] {
			return errors.Errorf("duplicate shard for rank %d", shard.rank)
		}
		seen[shard.rank] = true
	}
	sorted := slices.Clone(localShards)
	slices.SortFunc(sorted, func(a, b Shard) int { return a.rank - b.rank })
	st.localShards = sorted
	return nil
}

// String implements the fmt.Stringer interface. It displays the underlying
// global tensor plus the sharding metadata.
func (st *ShardedTensor) String() string {
	return fmt.Sprintf("ShardedTensor(%s, mesh=%s, spec=%s)", st.global, st.mesh, st.spec)
}

// ShardTensor splits a logical tensor into its per-device shards under the
// given mesh and partition spec, returning one Shard per mesh device, ordered
// by mesh position and tagged with the device's logical rank.
//
// Devices along replicated mesh axes receive copies of the same block.
func ShardTensor(global *tensors.Tensor, mesh *DeviceMesh, spec PartitionSpec) ([]Shard, error) {
	if global == nil || !global.Ok() {
		return nil, errors.New("cannot shard a nil or invalid tensor")
	}
	shardShape, err := spec.ShardShape(mesh, global.Shape())
	if err != nil {
		return nil, err
	}

	meshSizes := mesh.AxesSizes()
	localShards := make([]Shard, mesh.NumDevices())
	shardErrs := make([]error, mesh.NumDevices())
	shardingPool.Run(mesh.NumDevices(), func(position int) {
		// Mesh coordinates of this device, row-major.
		coords := make([]int, len(meshSizes))
		remaining := position
		for i := len(meshSizes) - 1; i >= 0; i-- {
			coords[i] = remaining % meshSizes[i]
			remaining /= meshSizes[i]
		}

		starts := make([]int, global.Rank())
		limits := make([]int, global.Rank())
		for axis := 0; axis < global.Rank(); axis++ {
			dim := shardShape.Dim(axis)
			if spec[axis] == Replicated {
				starts[axis] = 0
			} else {
				starts[axis] = coords[spec[axis]] * dim
			}
			limits[axis] = starts[axis] + dim
		}
		block, err := global.Slice(starts, limits)
		if err != nil {
			shardErrs[position] = errors.WithMessagef(err, "slicing shard for mesh position %d", position)
			return
		}
		localShards[position], shardErrs[position] = NewShard(block, mesh.DeviceAt(position))
	})
	for _, err := range shardErrs {
		if err != nil {
			return nil, err
		}
	}
	return localShards, nil
}
