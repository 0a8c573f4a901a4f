package volume

import (
	"fmt"
	"math"
)

// Index is a voxel coordinate.
type Index struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// String renders the index as "(x,y,z)".
func (i Index) String() string {
	return fmt.Sprintf("(%d,%d,%d)", i.X, i.Y, i.Z)
}

// Geometry describes a voxel grid: its size in voxels, the physical distance
// between voxel centres and the physical position of voxel (0,0,0).
type Geometry struct {
	// Size is the number of voxels along X, Y and Z.
	Size [3]int `json:"size"`

	// Spacing is the voxel pitch in millimetres along X, Y and Z.
	Spacing [3]float64 `json:"spacing"`

	// Origin is the physical position of the first voxel in millimetres.
	Origin [3]float64 `json:"origin"`
}

// NewGeometry returns a grid of the given size with unit spacing and zero origin.
func NewGeometry(sx, sy, sz int) Geometry {
	return Geometry{
		Size:    [3]int{sx, sy, sz},
		Spacing: [3]float64{1, 1, 1},
	}
}

// Len returns the total number of voxels.
func (g Geometry) Len() int {
	return g.Size[0] * g.Size[1] * g.Size[2]
}

// Offset returns the linear index of (x, y, z). No bounds checking is performed.
func (g Geometry) Offset(x, y, z int) int {
	return (z*g.Size[1]+y)*g.Size[0] + x
}

// Coord returns the voxel coordinate of a linear index.
func (g Geometry) Coord(offset int) Index {
	plane := g.Size[0] * g.Size[1]
	z := offset / plane
	rem := offset - z*plane
	y := rem / g.Size[0]
	return Index{X: rem - y*g.Size[0], Y: y, Z: z}
}

// Contains reports whether (x, y, z) lies inside the grid.
func (g Geometry) Contains(x, y, z int) bool {
	return x >= 0 && x < g.Size[0] && y >= 0 && y < g.Size[1] && z >= 0 && z < g.Size[2]
}

// VoxelVolume returns the physical volume of one voxel in mm³.
func (g Geometry) VoxelVolume() float64 {
	return g.Spacing[0] * g.Spacing[1] * g.Spacing[2]
}

// SameGrid reports whether two geometries have the same size. Spacing and
// origin are compared with a small tolerance since they come from decimal
// strings in DICOM headers.
func (g Geometry) SameGrid(o Geometry) bool {
	if g.Size != o.Size {
		return false
	}
	for i := 0; i < 3; i++ {
		if math.Abs(g.Spacing[i]-o.Spacing[i]) > 1e-4 || math.Abs(g.Origin[i]-o.Origin[i]) > 1e-3 {
			return false
		}
	}
	return true
}

// Validate checks that every dimension is positive and the spacing is usable.
func (g Geometry) Validate() error {
	for i := 0; i < 3; i++ {
		if g.Size[i] <= 0 {
			return fmt.Errorf("invalid volume size %v", g.Size)
		}
		if !(g.Spacing[i] > 0) {
			return fmt.Errorf("invalid voxel spacing %v", g.Spacing)
		}
	}
	return nil
}

// Volume is a scalar 3-D image.
type Volume struct {
	Geometry
	Data []float32
}

// NewVolume allocates a zero-filled volume with the given geometry.
func NewVolume(g Geometry) *Volume {
	return &Volume{Geometry: g, Data: make([]float32, g.Len())}
}

// At returns the value at (x, y, z). No bounds checking is performed.
func (v *Volume) At(x, y, z int) float32 {
	return v.Data[v.Offset(x, y, z)]
}

// Set stores value at (x, y, z). No bounds checking is performed.
func (v *Volume) Set(x, y, z int, value float32) {
	v.Data[v.Offset(x, y, z)] = value
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	out := &Volume{Geometry: v.Geometry, Data: make([]float32, len(v.Data))}
	copy(out.Data, v.Data)
	return out
}

// Range returns the minimum and maximum intensity. An empty volume returns (0, 0).
func (v *Volume) Range() (float32, float32) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	lo, hi := v.Data[0], v.Data[0]
	for _, val := range v.Data[1:] {
		if val < lo {
			lo = val
		}
		if val > hi {
			hi = val
		}
	}
	return lo, hi
}

// LabelMap is an integer 3-D image used for masks and segmentation labels.
// A mask is a LabelMap whose non-zero voxels are foreground.
type LabelMap struct {
	Geometry
	Data []uint32
}

// NewLabelMap allocates an all-background label map with the given geometry.
func NewLabelMap(g Geometry) *LabelMap {
	return &LabelMap{Geometry: g, Data: make([]uint32, g.Len())}
}

// At returns the label at (x, y, z). No bounds checking is performed.
func (m *LabelMap) At(x, y, z int) uint32 {
	return m.Data[m.Offset(x, y, z)]
}

// Set stores a label at (x, y, z). No bounds checking is performed.
func (m *LabelMap) Set(x, y, z int, label uint32) {
	m.Data[m.Offset(x, y, z)] = label
}

// Clone returns a deep copy of the label map.
func (m *LabelMap) Clone() *LabelMap {
	out := &LabelMap{Geometry: m.Geometry, Data: make([]uint32, len(m.Data))}
	copy(out.Data, m.Data)
	return out
}

// Count returns the number of voxels carrying label.
func (m *LabelMap) Count(label uint32) int {
	n := 0
	for _, l := range m.Data {
		if l == label {
			n++
		}
	}
	return n
}

// Foreground returns the number of non-zero voxels.
func (m *LabelMap) Foreground() int {
	n := 0
	for _, l := range m.Data {
		if l != 0 {
			n++
		}
	}
	return n
}

// CopyInformation replaces the geometry of m with ref's. The grids must have
// the same size: pixel arrays carry no spacing of their own, so masks read
// from plain arrays borrow the CT scan's.
func (m *LabelMap) CopyInformation(ref Geometry) error {
	if m.Size != ref.Size {
		return fmt.Errorf("label map size %v does not match reference size %v", m.Size, ref.Size)
	}
	m.Geometry = ref
	return nil
}
