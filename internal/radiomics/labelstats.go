package radiomics

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// ErrLabelNotFound is returned when a label has no voxels.
var ErrLabelNotFound = errors.New("label not found")

// LabelStat holds the first-order statistics of one label.
type LabelStat struct {
	Label    uint32  `json:"label"`
	Count    int     `json:"count"`
	Sum      float64 `json:"sum"`
	Mean     float64 `json:"mean"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Variance float64 `json:"variance"`

	// BBox is [xmin, xmax, ymin, ymax, zmin, zmax], inclusive.
	BBox [6]int `json:"bbox"`

	sumSquares float64
}

// Sigma returns the standard deviation.
func (s *LabelStat) Sigma() float64 {
	return math.Sqrt(s.Variance)
}

// Extent returns the number of voxels spanned by the bounding box along axis.
func (s *LabelStat) Extent(axis int) int {
	return s.BBox[2*axis+1] - s.BBox[2*axis] + 1
}

// LabelStats maps labels to their statistics.
type LabelStats map[uint32]*LabelStat

// LabelStatistics scans intensity under every label of labels, label 0
// included.
//
// Variance uses the N-1 denominator and is 0 for single-voxel labels.
//
// # Errors
//
//   - Returns error if intensity and labels have different sizes
func LabelStatistics(intensity *volume.Volume, labels *volume.LabelMap) (LabelStats, error) {
	if intensity.Size != labels.Size {
		return nil, fmt.Errorf("label map size %v does not match volume size %v", labels.Size, intensity.Size)
	}

	stats := make(LabelStats)
	g := labels.Geometry
	for z := 0; z < g.Size[2]; z++ {
		for y := 0; y < g.Size[1]; y++ {
			row := g.Offset(0, y, z)
			for x := 0; x < g.Size[0]; x++ {
				l := labels.Data[row+x]
				val := float64(intensity.Data[row+x])
				s, ok := stats[l]
				if !ok {
					s = &LabelStat{
						Label: l,
						Min:   val,
						Max:   val,
						BBox:  [6]int{x, x, y, y, z, z},
					}
					stats[l] = s
				}
				s.add(val, x, y, z)
			}
		}
	}

	for _, s := range stats {
		s.finish()
	}
	return stats, nil
}

func (s *LabelStat) add(val float64, x, y, z int) {
	s.Count++
	s.Sum += val
	s.sumSquares += val * val
	if val < s.Min {
		s.Min = val
	}
	if val > s.Max {
		s.Max = val
	}
	for axis, c := range [3]int{x, y, z} {
		if c < s.BBox[2*axis] {
			s.BBox[2*axis] = c
		}
		if c > s.BBox[2*axis+1] {
			s.BBox[2*axis+1] = c
		}
	}
}

func (s *LabelStat) finish() {
	n := float64(s.Count)
	s.Mean = s.Sum / n
	if s.Count > 1 {
		s.Variance = (s.sumSquares - s.Sum*s.Sum/n) / (n - 1)
		if s.Variance < 0 {
			s.Variance = 0
		}
	}
}

// Labels returns the labels present, ascending.
func (ls LabelStats) Labels() []uint32 {
	out := make([]uint32, 0, len(ls))
	for l := range ls {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Get returns the statistics of label.
//
// # Errors
//
//   - Returns ErrLabelNotFound if label has no voxels
func (ls LabelStats) Get(label uint32) (*LabelStat, error) {
	s, ok := ls[label]
	if !ok {
		return nil, fmt.Errorf("label %d: %w", label, ErrLabelNotFound)
	}
	return s, nil
}

// Dimensionality returns how many axes the bounding box of label spans with
// more than one voxel. Absent labels have dimensionality 0.
func (ls LabelStats) Dimensionality(label uint32) int {
	s, ok := ls[label]
	if !ok {
		return 0
	}
	dims := 0
	for axis := 0; axis < 3; axis++ {
		if s.Extent(axis) > 1 {
			dims++
		}
	}
	return dims
}
