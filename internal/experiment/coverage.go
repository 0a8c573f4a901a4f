package experiment

import (
	"context"
	"fmt"
	"sort"

	"github.com/ironsheep/nodule-watershed/internal/filter"
	"github.com/ironsheep/nodule-watershed/internal/logging"
	"github.com/ironsheep/nodule-watershed/internal/segment"
	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// LevelDiagnostic describes how well the best region of one watershed
// level matches the nodule.
type LevelDiagnostic struct {
	Level float64 `json:"level"`

	// Label is the matching region when Found, otherwise the region with
	// the highest coverage (0 when no region touches the nodule).
	Label uint32 `json:"label"`

	// Coverage is the fraction of nodule voxels inside Label.
	Coverage float64 `json:"coverage"`

	// Extension is the size of Label relative to the nodule size.
	Extension float64 `json:"extension"`

	Found bool `json:"found"`
}

// CoverageResult is the outcome of CoverageSearch for one patient.
type CoverageResult struct {
	// Levels are the working levels in exploration order.
	Levels      []float64         `json:"levels"`
	Diagnostics []LevelDiagnostic `json:"diagnostics"`
}

// NoduleRegion finds the watershed region that captures the nodule.
//
// The labels of ws are restricted to the nodule voxels. Regions are visited
// in ascending label order; the first one covering more than th.Coverage of
// the nodule whose total size is at most th.Extension times the nodule size
// is returned with Found set. Watershed lines (label 0) never match.
//
// # Errors
//
//   - Returns ErrEmptyNodule if nodule has no voxel
//   - Returns error if ws and nodule have different sizes
func NoduleRegion(ws, nodule *volume.LabelMap, th Thresholds) (LevelDiagnostic, error) {
	var diag LevelDiagnostic
	restricted, err := filter.Multiply(ws, nodule)
	if err != nil {
		return diag, err
	}
	noduleVoxels := nodule.Foreground()
	if noduleVoxels == 0 {
		return diag, ErrEmptyNodule
	}

	inside := make(map[uint32]int)
	for i, n := range nodule.Data {
		if n != 0 && restricted.Data[i] != 0 {
			inside[restricted.Data[i]]++
		}
	}
	labels := make([]uint32, 0, len(inside))
	for l := range inside {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	sizes := make(map[uint32]int, len(labels))
	for _, l := range ws.Data {
		if _, ok := inside[l]; ok {
			sizes[l]++
		}
	}

	total := float64(noduleVoxels)
	for _, l := range labels {
		coverage := float64(inside[l]) / total
		extension := float64(sizes[l]) / total
		if coverage > th.Coverage && extension <= th.Extension {
			return LevelDiagnostic{Label: l, Coverage: coverage, Extension: extension, Found: true}, nil
		}
		if coverage > diag.Coverage {
			diag = LevelDiagnostic{Label: l, Coverage: coverage, Extension: extension}
		}
	}
	return diag, nil
}

// CoverageSearch explores every level and keeps those whose watershed
// isolates the nodule.
//
// The watershed (with lines) is computed on the gradient magnitude of
// lungs. A level works when NoduleRegion finds a matching region.
//
// # Errors
//
//   - Returns the errors of NoduleRegion
//   - Returns ctx.Err() if ctx is cancelled between levels
func CoverageSearch(ctx context.Context, lungs *volume.Volume, nodule *volume.LabelMap, levels []float64, th Thresholds) (*CoverageResult, error) {
	return coverageSearch(ctx, lungs, nodule, levels, th, func(gradient *volume.Volume, level float64) (*volume.LabelMap, error) {
		return segment.MorphologicalWatershed(gradient, level, true), nil
	})
}

// SeededCoverageSearch is CoverageSearch with the nodule marker of opts
// flooded as its own basin at every level (see segment.SeededWatershed).
// A nodule too small to survive the erosion gives an empty marker and the
// plain search.
func SeededCoverageSearch(ctx context.Context, lungs *volume.Volume, nodule *volume.LabelMap, levels []float64, th Thresholds, opts MarkerOptions) (*CoverageResult, error) {
	marker := segment.NoduleMarker(nodule, opts.Erode, opts.Dilate)
	if marker.Foreground() == 0 {
		logging.Warn(logging.Fields{"erode": opts.Erode, "dilate": opts.Dilate}, "[experiment.SeededCoverageSearch] nodule marker is empty")
	}
	return coverageSearch(ctx, lungs, nodule, levels, th, func(gradient *volume.Volume, level float64) (*volume.LabelMap, error) {
		ws, _, err := segment.SeededWatershed(gradient, marker, level, true)
		return ws, err
	})
}

func coverageSearch(ctx context.Context, lungs *volume.Volume, nodule *volume.LabelMap, levels []float64, th Thresholds,
	flood func(gradient *volume.Volume, level float64) (*volume.LabelMap, error)) (*CoverageResult, error) {
	if lungs.Size != nodule.Size {
		return nil, fmt.Errorf("nodule size %v does not match volume size %v", nodule.Size, lungs.Size)
	}
	gradient := filter.GradientMagnitude(lungs)

	res := &CoverageResult{}
	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ws, err := flood(gradient, level)
		if err != nil {
			return nil, fmt.Errorf("failed to flood level %v: %w", level, err)
		}
		diag, err := NoduleRegion(ws, nodule, th)
		if err != nil {
			return nil, fmt.Errorf("failed to match nodule at level %v: %w", level, err)
		}
		diag.Level = level
		res.Diagnostics = append(res.Diagnostics, diag)

		fields := logging.Fields{
			"level":     level,
			"label":     diag.Label,
			"coverage":  diag.Coverage,
			"extension": diag.Extension,
		}
		if diag.Found {
			res.Levels = append(res.Levels, level)
			logging.Info(fields, "[experiment.CoverageSearch] level isolates the nodule")
		} else {
			logging.Debug(fields, "[experiment.CoverageSearch] level explored")
		}
	}
	return res, nil
}

// GlobalLevels returns the levels shared by every patient, ascending. No
// patients means no levels.
func GlobalLevels(perPatient [][]float64) []float64 {
	if len(perPatient) == 0 {
		return nil
	}

	common := make(map[float64]bool)
	for _, l := range perPatient[0] {
		common[l] = true
	}
	for _, levels := range perPatient[1:] {
		seen := make(map[float64]bool, len(levels))
		for _, l := range levels {
			seen[l] = true
		}
		for l := range common {
			if !seen[l] {
				delete(common, l)
			}
		}
	}

	out := make([]float64, 0, len(common))
	for l := range common {
		out = append(out, l)
	}
	sort.Float64s(out)
	return out
}
