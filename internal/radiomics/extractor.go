package radiomics

import (
	"fmt"

	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// Features is the descriptor set of one region.
type Features struct {
	Label          uint32  `json:"label"`
	VoxelCount     int     `json:"voxel_count"`
	Dimensionality int     `json:"dimensionality"`
	Mean           float64 `json:"mean"`
	Minimum        float64 `json:"minimum"`
	Maximum        float64 `json:"maximum"`

	Shape
	Texture
}

// Extractor computes Features for labelled regions.
type Extractor struct {
	// BinWidth is the gray level bin width used for texture.
	BinWidth float64
}

// NewExtractor returns an extractor with the given bin width. A non-positive
// width selects DefaultBinWidth.
func NewExtractor(binWidth float64) *Extractor {
	if binWidth <= 0 {
		binWidth = DefaultBinWidth
	}
	return &Extractor{BinWidth: binWidth}
}

// Execute computes the features of label over image.
//
// Parameters:
//   - image: Intensities used for first-order and texture features.
//   - labels: Region labels on the same grid as image.
//   - label: Region to describe.
//
// # Errors
//
//   - Returns error if image and labels have different sizes
//   - Returns ErrLabelNotFound if label has no voxels
func (e *Extractor) Execute(image *volume.Volume, labels *volume.LabelMap, label uint32) (*Features, error) {
	stats, err := LabelStatistics(image, labels)
	if err != nil {
		return nil, err
	}
	return e.ExecuteWithStats(image, labels, stats, label)
}

// ExecuteWithStats is Execute with statistics already computed by
// LabelStatistics over the same image and labels. Sweeps that describe many
// regions of one partition scan the volume once this way.
func (e *Extractor) ExecuteWithStats(image *volume.Volume, labels *volume.LabelMap, stats LabelStats, label uint32) (*Features, error) {
	if image.Size != labels.Size {
		return nil, fmt.Errorf("label map size %v does not match volume size %v", labels.Size, image.Size)
	}
	st, err := stats.Get(label)
	if err != nil {
		return nil, err
	}

	shape, err := ComputeShape(labels, label, st.BBox, st.Count)
	if err != nil {
		return nil, fmt.Errorf("failed to compute shape of label %d: %w", label, err)
	}
	texture := ComputeTexture(image, labels, label, st, e.BinWidth)

	return &Features{
		Label:          label,
		VoxelCount:     st.Count,
		Dimensionality: stats.Dimensionality(label),
		Mean:           st.Mean,
		Minimum:        st.Min,
		Maximum:        st.Max,
		Shape:          *shape,
		Texture:        *texture,
	}, nil
}

// RegionMesh returns the boundary mesh of label, for export.
//
// # Errors
//
//   - Returns ErrLabelNotFound if label has no voxels
func RegionMesh(labels *volume.LabelMap, label uint32) (*Mesh, error) {
	bbox, ok := boundingBox(labels, label)
	if !ok {
		return nil, fmt.Errorf("label %d: %w", label, ErrLabelNotFound)
	}
	return BuildMesh(labels, label, bbox), nil
}

func boundingBox(labels *volume.LabelMap, label uint32) ([6]int, bool) {
	g := labels.Geometry
	bbox := [6]int{g.Size[0], -1, g.Size[1], -1, g.Size[2], -1}
	found := false
	for off, l := range labels.Data {
		if l != label {
			continue
		}
		found = true
		c := g.Coord(off)
		for axis, v := range [3]int{c.X, c.Y, c.Z} {
			if v < bbox[2*axis] {
				bbox[2*axis] = v
			}
			if v > bbox[2*axis+1] {
				bbox[2*axis+1] = v
			}
		}
	}
	return bbox, found
}
