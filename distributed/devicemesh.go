// Package distributed defines the objects used to describe and handle tensors
// partitioned across multiple devices:
//
//   - DeviceMesh: expresses the topology of a set of devices, in terms of axes and their sizes.
//   - PartitionSpec: defines per tensor axis how a logical tensor is sharded across a DeviceMesh.
//   - Shard: pairs a per-device data buffer with the rank of the device holding it.
//   - ShardedTensor: a handle to a logical tensor annotated with sharding metadata.
//   - Dispatcher: intercepts operations on ShardedTensor operands, unwraps them,
//     forwards to the compute engine and rewraps the results.
package distributed

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/sharded/engines"
	"github.com/pkg/errors"
)

// DeviceMesh defines the logical topology of a set of devices on an engine.
type DeviceMesh struct {
	name string

	// axesNames are the names of the mesh axes.
	axesNames []string

	// axesSizes defines the number of devices along each mesh axis.
	axesSizes []int

	// nameToAxis maps axis names to their index.
	nameToAxis map[string]int

	// numDevices is the total number of devices in the mesh.
	numDevices int

	// logicalDeviceAssignment is the list of "logical" device numbers in the
	// mesh, in the order they appear in the mesh. If nil, the assignment is
	// sequential starting from 0.
	logicalDeviceAssignment []int
}

// DefaultMeshName is used when no name is set: usually there is only one mesh.
const DefaultMeshName = "mesh"

// IsNameValid checks whether a name is a valid identifier for a mesh name or axis name.
func IsNameValid(name string) bool {
	if name == "" {
		return false
	}
	if name[0] >= '0' && name[0] <= '9' {
		return false
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			continue
		}
		return false
	}
	return true
}

// NewDeviceMesh creates a new logical topology of a set of devices.
//
//   - axesSizes: defines the number of devices along each mesh axis, one value per axis.
//   - axesNames: the names of the mesh axes, one value per axis.
//
// The product of axesSizes must equal the total device count the engine was
// initialized with -- this is checked at dispatch (execution) time, not here.
//
// A DeviceMesh can also be assigned a name, but because there is usually only
// one mesh, it defaults to DefaultMeshName.
func NewDeviceMesh(axesSizes []int, axesNames []string) (*DeviceMesh, error) {
	if len(axesSizes) != len(axesNames) {
		return nil, errors.Errorf("axesSizes and axesNames must have the same length, got %d and %d",
			len(axesSizes), len(axesNames))
	}
	if len(axesSizes) == 0 {
		return nil, errors.New("DeviceMesh axesSizes cannot be empty")
	}

	axesNames = slices.Clone(axesNames)
	numDevices := 1
	nameToAxis := make(map[string]int, len(axesSizes))
	for i, name := range axesNames {
		if !IsNameValid(name) {
			return nil, errors.Errorf(
				"DeviceMesh axis name %q at index %d is not a valid identifier, it must start with an ASCII letter "+
					"and be followed only by letters, numbers or underscore", name, i)
		}
		if _, found := nameToAxis[name]; found {
			return nil, errors.Errorf("DeviceMesh axis name %q is duplicated", name)
		}
		if axesSizes[i] < 1 {
			return nil, errors.Errorf("DeviceMesh axis %q must have size >= 1, got %d", name, axesSizes[i])
		}
		nameToAxis[name] = i
		numDevices *= axesSizes[i]
	}

	m := &DeviceMesh{
		name:       DefaultMeshName,
		axesNames:  axesNames,
		axesSizes:  slices.Clone(axesSizes),
		nameToAxis: nameToAxis,
		numDevices: numDevices,
	}
	return m, nil
}

// NewMeshFromShape creates a DeviceMesh from the sizes of its axes only, with
// axes automatically named "axis0", "axis1", etc.
//
// It's the convenience constructor for callers that think of the mesh purely as
// a shape, e.g. NewMeshFromShape(4, 2) for 8 devices organized 4x2.
func NewMeshFromShape(axesSizes ...int) (*DeviceMesh, error) {
	axesNames := make([]string, len(axesSizes))
	for i := range axesNames {
		axesNames[i] = fmt.Sprintf("axis%d", i)
	}
	return NewDeviceMesh(axesSizes, axesNames)
}

// SetName of the mesh.
func (m *DeviceMesh) SetName(name string) {
	m.name = name
}

// Name returns the mesh name.
func (m *DeviceMesh) Name() string {
	return m.name
}

// NumDevices returns the total number of devices in the mesh.
func (m *DeviceMesh) NumDevices() int {
	return m.numDevices
}

// Rank returns the number of axes in the mesh.
func (m *DeviceMesh) Rank() int {
	return len(m.axesSizes)
}

// AxesNames returns a copy of the mesh's axis names.
func (m *DeviceMesh) AxesNames() []string {
	return slices.Clone(m.axesNames)
}

// AxesSizes returns a copy of the mesh's axes sizes.
func (m *DeviceMesh) AxesSizes() []int {
	return slices.Clone(m.axesSizes)
}

// AxisSize returns the number of devices along the given mesh axis.
func (m *DeviceMesh) AxisSize(axis int) (int, error) {
	if axis < 0 || axis >= len(m.axesSizes) {
		return 0, errors.Errorf("mesh axis %d out-of-range for mesh rank %d", axis, m.Rank())
	}
	return m.axesSizes[axis], nil
}

// AxisIndex returns the index of the mesh axis with the given name.
func (m *DeviceMesh) AxisIndex(axisName string) (int, error) {
	idx, found := m.nameToAxis[axisName]
	if !found {
		return 0, errors.Errorf("mesh axis %q not found", axisName)
	}
	return idx, nil
}

// String implements the fmt.Stringer interface.
func (m *DeviceMesh) String() string {
	var sb strings.Builder
	sb.WriteString("DeviceMesh(")
	for i, name := range m.axesNames {
		if i > 0 {
			sb.WriteString(", ")
		}
		_, _ = fmt.Fprintf(&sb, "%s: %d", name, m.axesSizes[i])
	}
	sb.WriteString(")")
	return sb.String()
}

// SetLogicalDeviceAssignment sets the assignment of logical devices to the mesh.
//
// The length of devices must be equal to NumDevices(), and it must be a
// permutation of 0 to NumDevices()-1. Passing no devices resets to the default
// sequential assignment.
func (m *DeviceMesh) SetLogicalDeviceAssignment(devices ...int) error {
	if len(devices) == 0 {
		m.logicalDeviceAssignment = nil
		return nil
	}
	if len(devices) != m.numDevices {
		return errors.Errorf("devices must have %d elements, got %d", m.numDevices, len(devices))
	}
	seen := make(map[int]bool, m.numDevices)
	for _, device := range devices {
		if seen[device] {
			return errors.Errorf("physical device #%d is duplicated in mapping", device)
		}
		seen[device] = true
		if device < 0 || device >= m.numDevices {
			return errors.Errorf("devices must be between 0 and %d (NumDevices()-1), got device %d",
				m.numDevices-1, device)
		}
	}
	m.logicalDeviceAssignment = slices.Clone(devices)
	return nil
}

// LogicalDeviceAssignment returns the list of devices in the mesh, in the order
// they appear in the mesh.
//
// It can return nil if no assignment was set with SetLogicalDeviceAssignment()
// -- in which case it defaults to a sequential assignment starting from 0.
func (m *DeviceMesh) LogicalDeviceAssignment() []int {
	if m.logicalDeviceAssignment == nil {
		return nil
	}
	return slices.Clone(m.logicalDeviceAssignment)
}

// DeviceAt returns the logical device number at the given flat mesh position.
func (m *DeviceMesh) DeviceAt(position int) int {
	if m.logicalDeviceAssignment == nil {
		return position
	}
	return m.logicalDeviceAssignment[position]
}

// ComputeReplicaGroups returns the replica groups participating in some
// collective (distributed) operation given the mesh axes along which the
// operation is performed.
//
// Each replica group (a []int) includes the device indices for the axes
// specified. The other axes are split into different replica groups.
//
// Example:
//
//	m, _ := NewDeviceMesh([]int{2, 2}, []string{"batch", "data"})
//	batchGroups, _ := m.ComputeReplicaGroups([]string{"batch"})            // -> [][]int{{0, 2}, {1, 3}}
//	dataGroups, _ := m.ComputeReplicaGroups([]string{"data"})              // -> [][]int{{0, 1}, {2, 3}}
//	globalGroups, _ := m.ComputeReplicaGroups([]string{"batch", "data"})   // -> [][]int{{0, 1, 2, 3}}
func (m *DeviceMesh) ComputeReplicaGroups(axes []string) ([][]int, error) {
	axisIndices := make([]int, 0, len(axes))
	axisSet := make(map[int]bool, len(axes))
	for _, axis := range axes {
		idx, found := m.nameToAxis[axis]
		if !found {
			return nil, errors.Errorf("axis %q not found in mesh", axis)
		}
		if axisSet[idx] {
			return nil, errors.Errorf("axis %q is duplicated: each axis can only appear once", axis)
		}
		axisIndices = append(axisIndices, idx)
		axisSet[idx] = true
	}

	nonAxisIndices := make([]int, 0, len(m.axesSizes)-len(axisIndices))
	for i := range m.axesSizes {
		if !axisSet[i] {
			nonAxisIndices = append(nonAxisIndices, i)
		}
	}

	groupSize := 1
	for _, idx := range axisIndices {
		groupSize *= m.axesSizes[idx]
	}
	numGroups := m.numDevices / groupSize

	groups := make([][]int, numGroups)
	for i := range groups {
		groups[i] = make([]int, groupSize)
	}

	for flatIdx := 0; flatIdx < m.numDevices; flatIdx++ {
		// Convert flat index to per-axis indices.
		indices := make([]int, len(m.axesSizes))
		remaining := flatIdx
		for i := len(m.axesSizes) - 1; i >= 0; i-- {
			indices[i] = remaining % m.axesSizes[i]
			remaining /= m.axesSizes[i]
		}

		// Group index comes from the non-participating axes.
		groupIdx := 0
		multiplier := 1
		for i := len(nonAxisIndices) - 1; i >= 0; i-- {
			axisIdx := nonAxisIndices[i]
			groupIdx += indices[axisIdx] * multiplier
			multiplier *= m.axesSizes[axisIdx]
		}

		// Position within the group comes from the participating axes.
		posInGroup := 0
		multiplier = 1
		for i := len(axisIndices) - 1; i >= 0; i-- {
			axisIdx := axisIndices[i]
			posInGroup += indices[axisIdx] * multiplier
			multiplier *= m.axesSizes[axisIdx]
		}

		groups[groupIdx][posInGroup] = flatIdx
	}

	return groups, nil
}

// ToEngineMesh converts the mesh to the plain engines.Mesh representation used
// on the engine boundary.
func (m *DeviceMesh) ToEngineMesh() engines.Mesh {
	return engines.Mesh{
		Name:                    m.Name(),
		AxesSizes:               m.AxesSizes(),
		AxesNames:               m.AxesNames(),
		LogicalDeviceAssignment: m.LogicalDeviceAssignment(),
	}
}

// MeshFromEngine converts a plain engines.Mesh back to a DeviceMesh. It is used
// by the dispatch layer when rebuilding metadata from engine annotations.
func MeshFromEngine(engineMesh engines.Mesh) (*DeviceMesh, error) {
	m, err := NewDeviceMesh(engineMesh.AxesSizes, engineMesh.AxesNames)
	if err != nil {
		return nil, err
	}
	if engineMesh.Name != "" {
		m.SetName(engineMesh.Name)
	}
	if err := m.SetLogicalDeviceAssignment(engineMesh.LogicalDeviceAssignment...); err != nil {
		return nil, err
	}
	return m, nil
}
