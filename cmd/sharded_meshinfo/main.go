// sharded_meshinfo reports how a logical tensor is laid out on a device mesh:
// the mesh topology, the per-device shard shape and memory, the block of the
// global tensor each device holds, and optionally the replica groups of a
// collective operation.
//
// Example:
//
//	sharded_meshinfo -mesh=4,2 -names=batch,model -tensor=8,10 -spec=0,R -shards
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/sharded/distributed"
	"github.com/gomlx/sharded/types/shapes"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagMesh = flag.String("mesh", "1", "Comma-separated sizes of the mesh axes, e.g. \"4,2\" for 8 devices organized 4x2.")
	flagNames = flag.String("names", "", "Comma-separated names of the mesh axes. "+
		"Defaults to \"axis0\", \"axis1\", etc. when empty.")
	flagTensor = flag.String("tensor", "", "Comma-separated dimensions of the logical tensor to lay out, e.g. \"8,10\".")
	flagDType  = flag.String("dtype", "float32", "DType of the logical tensor: float32, float64, int32 or int64.")
	flagSpec   = flag.String("spec", "", "Partition spec of the tensor, one entry per tensor axis: "+
		"a mesh axis index or \"R\" for replicated, e.g. \"0,R\". Defaults to fully replicated.")
	flagShards = flag.Bool("shards", false, "Also print the block of the global tensor held by each device.")
	flagGroups = flag.String("groups", "", "Comma-separated mesh axis names: prints the replica groups of a "+
		"collective operation performed along those axes.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if len(flag.Args()) > 0 {
		klog.Errorf("Unexpected arguments %q. See 'sharded_meshinfo -help'.", flag.Args())
		os.Exit(1)
	}

	mesh := must.M1(parseMesh(*flagMesh, *flagNames))
	reportMesh(mesh)
	if *flagGroups != "" {
		reportReplicaGroups(mesh, strings.Split(*flagGroups, ","))
	}
	if *flagTensor != "" {
		reportSharding(mesh)
	}
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				s = headerRowStyle
				return
			}
			switch {
			case row%2 == 0:
				// Even row style.
				s = oddRowStyle
			default:
				// Odd row style
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func parseInts(text string) ([]int, error) {
	parts := strings.Split(text, ",")
	values := make([]int, len(parts))
	for i, part := range parts {
		value, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid number %q in %q", part, text)
		}
		values[i] = value
	}
	return values, nil
}

func parseMesh(sizesText, namesText string) (*distributed.DeviceMesh, error) {
	sizes, err := parseInts(sizesText)
	if err != nil {
		return nil, err
	}
	if namesText == "" {
		return distributed.NewMeshFromShape(sizes...)
	}
	names := strings.Split(namesText, ",")
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}
	return distributed.NewDeviceMesh(sizes, names)
}

func parseDType(text string) (dtypes.DType, error) {
	switch strings.ToLower(text) {
	case "float32", "f32":
		return dtypes.Float32, nil
	case "float64", "f64":
		return dtypes.Float64, nil
	case "int32", "i32":
		return dtypes.Int32, nil
	case "int64", "i64":
		return dtypes.Int64, nil
	}
	return dtypes.InvalidDType, fmt.Errorf("unknown dtype %q: want float32, float64, int32 or int64", text)
}

func reportMesh(mesh *distributed.DeviceMesh) {
	fmt.Println(titleStyle.Render("Device Mesh"))
	table := newPlainTable(true)
	table.Row("Axis", "Name", "Devices")
	names := mesh.AxesNames()
	for axis, size := range mesh.AxesSizes() {
		table.Row(strconv.Itoa(axis), names[axis], humanize.Comma(int64(size)))
	}
	fmt.Println(table.Render())
	fmt.Printf("Total: %s device(s)\n", humanize.Comma(int64(mesh.NumDevices())))
}

func reportReplicaGroups(mesh *distributed.DeviceMesh, axes []string) {
	for i := range axes {
		axes[i] = strings.TrimSpace(axes[i])
	}
	groups := must.M1(mesh.ComputeReplicaGroups(axes))
	fmt.Println(titleStyle.Render(fmt.Sprintf("Replica Groups along (%s)", strings.Join(axes, ", "))))
	table := newPlainTable(true)
	table.Row("Group", "Devices")
	for i, group := range groups {
		devices := make([]string, len(group))
		for j, device := range group {
			devices[j] = strconv.Itoa(device)
		}
		table.Row(strconv.Itoa(i), strings.Join(devices, ", "))
	}
	fmt.Println(table.Render())
}

func reportSharding(mesh *distributed.DeviceMesh) {
	dims := must.M1(parseInts(*flagTensor))
	dtype := must.M1(parseDType(*flagDType))
	global := shapes.Make(dtype, dims...)

	spec := distributed.ReplicatedSpec(global.Rank())
	if *flagSpec != "" {
		spec = must.M1(distributed.ParsePartitionSpec(*flagSpec))
	}
	shardShape := must.M1(spec.ShardShape(mesh, global))

	fmt.Println(titleStyle.Render("Sharding"))
	table := newPlainTable(false)
	table.Row("global shape", global.String())
	table.Row("partition spec", spec.String())
	table.Row("shard shape", shardShape.String())
	table.Row("elements / device", humanize.Comma(int64(shardShape.Size())))
	table.Row("bytes / device", humanize.Bytes(uint64(shardShape.Memory())))
	table.Row("total bytes", humanize.Bytes(uint64(shardShape.Memory())*uint64(mesh.NumDevices())))
	fmt.Println(table.Render())

	if *flagShards {
		reportShards(mesh, global, spec, shardShape)
	}
}

// reportShards prints the block of the global tensor each device holds, as
// per-axis [start, limit) ranges.
func reportShards(mesh *distributed.DeviceMesh, global shapes.Shape, spec distributed.PartitionSpec, shardShape shapes.Shape) {
	fmt.Println(titleStyle.Render("Per-Device Shards"))
	table := newPlainTable(true)
	table.Row("Position", "Coordinates", "Rank", "Block")

	meshSizes := mesh.AxesSizes()
	for position := 0; position < mesh.NumDevices(); position++ {
		coords := make([]int, len(meshSizes))
		remaining := position
		for i := len(meshSizes) - 1; i >= 0; i-- {
			coords[i] = remaining % meshSizes[i]
			remaining /= meshSizes[i]
		}

		blocks := make([]string, global.Rank())
		for axis := 0; axis < global.Rank(); axis++ {
			dim := shardShape.Dim(axis)
			start := 0
			if spec[axis] != distributed.Replicated {
				start = coords[spec[axis]] * dim
			}
			blocks[axis] = fmt.Sprintf("[%d:%d)", start, start+dim)
		}
		coordsText := make([]string, len(coords))
		for i, coord := range coords {
			coordsText[i] = strconv.Itoa(coord)
		}
		table.Row(
			strconv.Itoa(position),
			"("+strings.Join(coordsText, ", ")+")",
			strconv.Itoa(mesh.DeviceAt(position)),
			strings.Join(blocks, " "))
	}
	fmt.Println(table.Render())
}
