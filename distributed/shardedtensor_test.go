// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/sharded/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// iotaTensor returns a float32 tensor with the given dimensions filled with 0, 1, 2, ...
func iotaTensor(dims ...int) *tensors.Tensor {
	size := 1
	for _, dim := range dims {
		size *= dim
	}
	flat := make([]float32, size)
	for i := range flat {
		flat[i] = float32(i)
	}
	return tensors.FromFlatAndDimensions(flat, dims...)
}

func TestWrap(t *testing.T) {
	mesh, err := NewMeshFromShape(4, 2)
	require.NoError(t, err)
	global := iotaTensor(8, 10)

	st, err := Wrap(global, mesh, NewPartitionSpec(0, Replicated))
	require.NoError(t, err)

	// The handle mirrors the logical tensor, not the shards.
	assert.Equal(t, []int{8, 10}, st.Shape().Dimensions)
	assert.Equal(t, dtypes.Float32, st.DType())
	assert.Equal(t, 2, st.Rank())
	assert.Same(t, global, st.GlobalTensor())
	assert.Same(t, mesh, st.Mesh())
	assert.Equal(t, NewPartitionSpec(0, Replicated), st.PartitionSpec())
	assert.Equal(t, []int{2, 10}, st.ShardShape().Dimensions)
	assert.False(t, st.RequiresGrad())
	assert.Nil(t, st.LocalShards())
	assert.Contains(t, st.String(), "mesh=DeviceMesh(axis0: 4, axis1: 2)")
	assert.Contains(t, st.String(), "spec=(0, R)")

	// Invalid wraps.
	_, err = Wrap(nil, mesh, NewPartitionSpec(0, Replicated))
	assert.Error(t, err)
	_, err = Wrap(global, nil, NewPartitionSpec(0, Replicated))
	assert.Error(t, err)
	_, err = Wrap(global, mesh, NewPartitionSpec(0)) // Spec length != rank.
	assert.Error(t, err)
	_, err = Wrap(global, mesh, NewPartitionSpec(0, 0)) // Mesh axis used twice.
	assert.Error(t, err)
	_, err = Wrap(global, mesh, NewPartitionSpec(Replicated, 0)) // 10 % 4 != 0.
	assert.Error(t, err)
}

func TestWrapWithGradientTracking(t *testing.T) {
	mesh, err := NewMeshFromShape(2)
	require.NoError(t, err)
	global := iotaTensor(4)

	st, err := Wrap(global, mesh, NewPartitionSpec(0), WithGradientTracking())
	require.NoError(t, err)
	assert.True(t, st.RequiresGrad())

	// The handle stores a detached copy, not the caller's tensor.
	assert.NotSame(t, global, st.GlobalTensor())
	assert.True(t, global.Equal(st.GlobalTensor()))
	tensors.MutableFlatData(global, func(flat []float32) { flat[0] = 100 })
	assert.False(t, global.Equal(st.GlobalTensor()))

	// Without the option the tensor is referenced directly.
	plain, err := Wrap(global, mesh, NewPartitionSpec(0))
	require.NoError(t, err)
	assert.False(t, plain.RequiresGrad())
	assert.Same(t, global, plain.GlobalTensor())
}

func TestShardTensor(t *testing.T) {
	mesh, err := NewMeshFromShape(4, 2)
	require.NoError(t, err)
	global := iotaTensor(8, 10)

	localShards, err := ShardTensor(global, mesh, NewPartitionSpec(0, Replicated))
	require.NoError(t, err)
	require.Len(t, localShards, 8)

	for position, shard := range localShards {
		assert.Equal(t, position, shard.Rank())
		assert.Equal(t, []int{2, 10}, shard.Shape().Dimensions)
		// Mesh position (i, j) holds rows [2i, 2i+2) of the global tensor,
		// independent of j: axis 1 of the mesh replicates.
		i := position / 2
		tensors.ConstFlatData(shard.Data(), func(flat []float32) {
			for k, v := range flat {
				assert.Equal(t, float32(i*20+k), v)
			}
		})
	}
	// Devices along the replicated mesh axis hold identical copies.
	assert.True(t, localShards[0].Data().Equal(localShards[1].Data()))
	assert.False(t, localShards[0].Data().Equal(localShards[2].Data()))

	// Both axes sharded: mesh position (i, j) holds the (i, j) block.
	localShards, err = ShardTensor(global, mesh, NewPartitionSpec(0, 1))
	require.NoError(t, err)
	require.Len(t, localShards, 8)
	assert.Equal(t, []int{2, 5}, localShards[0].Shape().Dimensions)
	tensors.ConstFlatData(localShards[3].Data(), func(flat []float32) {
		// Position 3 = coords (1, 1): rows 2..4, columns 5..10.
		assert.Equal(t, []float32{25, 26, 27, 28, 29, 35, 36, 37, 38, 39}, flat)
	})

	// A logical device assignment re-tags the shard ranks.
	require.NoError(t, mesh.SetLogicalDeviceAssignment(7, 6, 5, 4, 3, 2, 1, 0))
	localShards, err = ShardTensor(global, mesh, NewPartitionSpec(0, Replicated))
	require.NoError(t, err)
	assert.Equal(t, 7, localShards[0].Rank())
	assert.Equal(t, 0, localShards[7].Rank())

	// Indivisible dimensions are rejected.
	_, err = ShardTensor(global, mesh, NewPartitionSpec(Replicated, 0))
	assert.Error(t, err)
}

func TestAttachLocalShards(t *testing.T) {
	mesh, err := NewMeshFromShape(4, 2)
	require.NoError(t, err)
	global := iotaTensor(8, 10)
	spec := NewPartitionSpec(0, Replicated)

	st, err := Wrap(global, mesh, spec)
	require.NoError(t, err)
	localShards, err := ShardTensor(global, mesh, spec)
	require.NoError(t, err)

	require.NoError(t, st.AttachLocalShards(localShards...))
	attached := st.LocalShards()
	require.Len(t, attached, 8)
	for i, shard := range attached {
		assert.Equal(t, i, shard.Rank())
	}

	// Shards given out of order are stored sorted by rank.
	reversed := make([]Shard, len(localShards))
	for i, shard := range localShards {
		reversed[len(localShards)-1-i] = shard
	}
	require.NoError(t, st.AttachLocalShards(reversed...))
	assert.Equal(t, 0, st.LocalShards()[0].Rank())

	// Wrong shard count.
	assert.Error(t, st.AttachLocalShards(localShards[:4]...))

	// Wrong shard shape.
	bad := make([]Shard, len(localShards))
	copy(bad, localShards)
	badShard, err := NewShard(iotaTensor(3, 10), 0)
	require.NoError(t, err)
	bad[0] = badShard
	assert.Error(t, st.AttachLocalShards(bad...))

	// Duplicated rank.
	copy(bad, localShards)
	bad[1] = bad[0]
	assert.Error(t, st.AttachLocalShards(bad...))

	// Out-of-range rank.
	copy(bad, localShards)
	outOfRange, err := NewShard(localShards[0].Data(), 8)
	require.NoError(t, err)
	bad[0] = outOfRange
	assert.Error(t, st.AttachLocalShards(bad...))
}

func TestNewShard(t *testing.T) {
	data := iotaTensor(2, 10)
	shard, err := NewShard(data, 3)
	require.NoError(t, err)
	assert.Same(t, data, shard.Data())
	assert.Equal(t, 3, shard.Rank())
	assert.Equal(t, "Shard(rank=3, (Float32)[2 10])", shard.String())

	_, err = NewShard(nil, 0)
	assert.Error(t, err)
	_, err = NewShard(data, -1)
	assert.Error(t, err)
}
