// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"strconv"
	"strings"

	"github.com/gomlx/sharded/engines"
	"github.com/gomlx/sharded/types/shapes"
	"github.com/pkg/errors"
)

// AxisSpec describes how one tensor axis is distributed: either the index of
// the mesh axis it is sharded across, or Replicated.
type AxisSpec int

// Replicated marks a tensor axis that is not sharded: every device holds the
// full extent of that axis.
const Replicated AxisSpec = AxisSpec(engines.ReplicatedAxis)

// PartitionSpec defines how a logical tensor is laid out on a DeviceMesh, one
// AxisSpec per tensor axis.
//
// A mesh axis can be used by at most one tensor axis.
type PartitionSpec []AxisSpec

// NewPartitionSpec creates a PartitionSpec from one AxisSpec per tensor axis.
//
// Example: a rank-2 tensor with its leading axis sharded across mesh axis 0 and
// its trailing axis replicated:
//
//	spec := NewPartitionSpec(0, Replicated)
func NewPartitionSpec(axes ...AxisSpec) PartitionSpec {
	return PartitionSpec(axes)
}

// ReplicatedSpec creates a PartitionSpec for a tensor of the given rank that is
// fully replicated: every device holds a copy of the whole tensor.
func ReplicatedSpec(rank int) PartitionSpec {
	spec := make(PartitionSpec, rank)
	for i := range spec {
		spec[i] = Replicated
	}
	return spec
}

// Rank returns the tensor rank the spec applies to.
func (spec PartitionSpec) Rank() int {
	return len(spec)
}

// IsReplicated returns whether no axis of the spec is sharded.
func (spec PartitionSpec) IsReplicated() bool {
	for _, axis := range spec {
		if axis != Replicated {
			return false
		}
	}
	return true
}

// Validate checks the spec against a mesh: every sharded entry must refer to a
// valid mesh axis, and no mesh axis can be used by more than one tensor axis.
//
// The spec length is checked against the tensor rank separately, by Wrap and
// ShardTensor, since the spec alone doesn't know the tensor.
func (spec PartitionSpec) Validate(mesh *DeviceMesh) error {
	used := make(map[AxisSpec]int, len(spec))
	for tensorAxis, meshAxis := range spec {
		if meshAxis == Replicated {
			continue
		}
		if meshAxis < 0 || int(meshAxis) >= mesh.Rank() {
			return errors.Errorf("partition spec %s: tensor axis %d refers to mesh axis %d, out-of-range for %s",
				spec, tensorAxis, meshAxis, mesh)
		}
		if prev, found := used[meshAxis]; found {
			return errors.Errorf("partition spec %s: mesh axis %d used by both tensor axes %d and %d -- "+
				"each mesh axis can shard at most one tensor axis", spec, meshAxis, prev, tensorAxis)
		}
		used[meshAxis] = tensorAxis
	}
	return nil
}

// NumShards returns the number of shards the given tensor axis is split into on
// the mesh: the size of its mesh axis, or 1 if the tensor axis is replicated.
func (spec PartitionSpec) NumShards(mesh *DeviceMesh, tensorAxis int) (int, error) {
	if tensorAxis < 0 || tensorAxis >= len(spec) {
		return 0, errors.Errorf("tensor axis %d out-of-range for partition spec %s", tensorAxis, spec)
	}
	if spec[tensorAxis] == Replicated {
		return 1, nil
	}
	return mesh.AxisSize(int(spec[tensorAxis]))
}

// ShardShape returns the shape of the per-device shard of a logical tensor with
// the given shape, under this spec on the given mesh.
//
// Every sharded axis must be evenly divisible by the size of its mesh axis.
func (spec PartitionSpec) ShardShape(mesh *DeviceMesh, global shapes.Shape) (shapes.Shape, error) {
	if len(spec) != global.Rank() {
		return shapes.Invalid(), errors.Errorf(
			"partition spec %s has %d entries but tensor shape %s has rank %d: one entry per tensor axis is required",
			spec, len(spec), global, global.Rank())
	}
	if err := spec.Validate(mesh); err != nil {
		return shapes.Invalid(), err
	}
	dims := make([]int, global.Rank())
	for axis := range dims {
		numShards, err := spec.NumShards(mesh, axis)
		if err != nil {
			return shapes.Invalid(), err
		}
		dim := global.Dim(axis)
		if dim%numShards != 0 {
			return shapes.Invalid(), errors.Errorf(
				"tensor axis %d of shape %s (size %d) is not evenly divisible by the %d shards of mesh axis %d",
				axis, global, dim, numShards, spec[axis])
		}
		dims[axis] = dim / numShards
	}
	return shapes.Make(global.DType, dims...), nil
}

// LogicalShapeForShard is the inverse of ShardShape: given the shape of a
// per-device shard, it returns the shape of the full logical tensor across all
// devices under this spec on the given mesh.
func (spec PartitionSpec) LogicalShapeForShard(mesh *DeviceMesh, shard shapes.Shape) (shapes.Shape, error) {
	if len(spec) != shard.Rank() {
		return shapes.Invalid(), errors.Errorf(
			"partition spec %s has %d entries but shard shape %s has rank %d: one entry per tensor axis is required",
			spec, len(spec), shard, shard.Rank())
	}
	if err := spec.Validate(mesh); err != nil {
		return shapes.Invalid(), err
	}
	logical := shard.Clone()
	for axis := range spec {
		numShards, err := spec.NumShards(mesh, axis)
		if err != nil {
			return shapes.Invalid(), err
		}
		logical.Dimensions[axis] *= numShards
	}
	return logical, nil
}

// String implements the fmt.Stringer interface. Replicated axes print as "R",
// sharded axes as their mesh axis index, e.g. "(0, R)".
func (spec PartitionSpec) String() string {
	var sb strings.Builder
	sb.WriteString("(")
	for i, axis := range spec {
		if i > 0 {
			sb.WriteString(", ")
		}
		if axis == Replicated {
			sb.WriteString("R")
		} else {
			sb.WriteString(strconv.Itoa(int(axis)))
		}
	}
	sb.WriteString(")")
	return sb.String()
}

// ParsePartitionSpec parses a comma-separated spec, with "R" (or "r") for
// replicated axes and mesh axis indices for sharded ones: "0,R" is the spec of
// a rank-2 tensor sharded on mesh axis 0 along its leading axis.
func ParsePartitionSpec(text string) (PartitionSpec, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty partition spec")
	}
	parts := strings.Split(text, ",")
	spec := make(PartitionSpec, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if strings.EqualFold(part, "R") {
			spec[i] = Replicated
			continue
		}
		meshAxis, err := strconv.Atoi(part)
		if err != nil || meshAxis < 0 {
			return nil, errors.Errorf("invalid partition spec entry %q: want a mesh axis index or \"R\"", part)
		}
		spec[i] = AxisSpec(meshAxis)
	}
	return spec, nil
}

// SpecBuilder is a more ergonomic way of building a PartitionSpec, validating
// against a mesh as it goes.
type SpecBuilder struct {
	mesh *DeviceMesh
	spec PartitionSpec
	err  error
}

// BuildSpec starts building a PartitionSpec for the given mesh.
//
// Example, sharding the leading tensor axis on the mesh axis named "batch" and
// replicating the trailing one:
//
//	spec, err := distributed.BuildSpec(mesh).S("batch").R().Done()
func BuildSpec(mesh *DeviceMesh) *SpecBuilder {
	return &SpecBuilder{mesh: mesh}
}

// R adds a replicated tensor axis to the spec being built.
func (b *SpecBuilder) R() *SpecBuilder {
	b.spec = append(b.spec, Replicated)
	return b
}

// S adds a tensor axis sharded across the mesh axis with the given name.
func (b *SpecBuilder) S(meshAxisName string) *SpecBuilder {
	axis, err := b.mesh.AxisIndex(meshAxisName)
	if err != nil && b.err == nil {
		b.err = err
	}
	b.spec = append(b.spec, AxisSpec(axis))
	return b
}

// Done builds the PartitionSpec, validating it against the mesh.
func (b *SpecBuilder) Done() (PartitionSpec, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.spec.Validate(b.mesh); err != nil {
		return nil, err
	}
	return b.spec, nil
}

// ToEngineSpec converts the spec to the plain engines.ShardingSpec used on the
// engine boundary.
func (spec PartitionSpec) ToEngineSpec(mesh *DeviceMesh) engines.ShardingSpec {
	axes := make([]int, len(spec))
	for i, axis := range spec {
		axes[i] = int(axis)
	}
	return engines.ShardingSpec{Mesh: mesh.Name(), Axes: axes}
}

// SpecFromEngine converts a plain engines.ShardingSpec back to a PartitionSpec.
func SpecFromEngine(engineSpec engines.ShardingSpec) PartitionSpec {
	spec := make(PartitionSpec, len(engineSpec.Axes))
	for i, axis := range engineSpec.Axes {
		spec[i] = AxisSpec(axis)
	}
	return spec
}
