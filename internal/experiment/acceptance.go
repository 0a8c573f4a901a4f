package experiment

import (
	"context"
	"errors"
	"fmt"

	"github.com/ironsheep/nodule-watershed/internal/logging"
	"github.com/ironsheep/nodule-watershed/internal/radiomics"
	"github.com/ironsheep/nodule-watershed/internal/segment"
	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// ErrEmptyNodule is returned when a nodule mask has no foreground voxel.
var ErrEmptyNodule = errors.New("nodule mask is empty")

// Candidate is a watershed region that passed the shape and texture limits.
type Candidate struct {
	Label    uint32              `json:"label"`
	Features *radiomics.Features `json:"features"`
}

// LevelTrial records how one level fared in the acceptance search.
type LevelTrial struct {
	Level      float64     `json:"level"`
	Regions    int         `json:"regions"`
	Candidates []Candidate `json:"candidates"`

	// Region is the candidate holding the nodule, 0 when none does.
	Region uint32 `json:"region"`

	// Containment is the fraction of nodule voxels inside Region.
	Containment float64 `json:"containment"`
	Accepted    bool    `json:"accepted"`
}

// AcceptanceResult is the outcome of AcceptanceSearch.
type AcceptanceResult struct {
	// Accepted tells whether any level was accepted; Level and Region are
	// then those of the first accepted trial.
	Accepted bool    `json:"accepted"`
	Level    float64 `json:"level"`
	Region   uint32  `json:"region"`

	Trials []LevelTrial `json:"trials"`
}

// AcceptanceSearch looks for the first level whose watershed of lungs
// yields a small set of nodule-like regions, one of which holds the nodule.
//
// At each level the watershed (with lines) is computed on the lungs volume.
// Regions are visited in descending label order; those whose bounding box
// spans fewer than three axes are skipped. A region is a candidate when its
// sphericity, elongation and joint energy all exceed the thresholds. The
// level is accepted when there is at least one and fewer than
// MaxCandidates candidates and one of them holds more than Containment of
// the nodule voxels. The search stops at the first accepted level.
//
// # Errors
//
//   - Returns ErrEmptyNodule if nodule has no voxel
//   - Returns error if lungs and nodule have different sizes
//   - Returns ctx.Err() if ctx is cancelled between levels
func AcceptanceSearch(ctx context.Context, lungs *volume.Volume, nodule *volume.LabelMap, levels []float64, th Thresholds, ext *radiomics.Extractor) (*AcceptanceResult, error) {
	if lungs.Size != nodule.Size {
		return nil, fmt.Errorf("nodule size %v does not match volume size %v", nodule.Size, lungs.Size)
	}
	if nodule.Foreground() == 0 {
		return nil, ErrEmptyNodule
	}

	res := &AcceptanceResult{}
	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ws := segment.MorphologicalWatershed(lungs, level, true)
		trial, err := evaluateLevel(lungs, ws, nodule, th, ext)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate level %v: %w", level, err)
		}
		trial.Level = level
		res.Trials = append(res.Trials, *trial)

		logging.Debug(logging.Fields{
			"level":      level,
			"regions":    trial.Regions,
			"candidates": len(trial.Candidates),
			"accepted":   trial.Accepted,
		}, "[experiment.AcceptanceSearch] level explored")

		if trial.Accepted {
			res.Accepted = true
			res.Level = level
			res.Region = trial.Region
			break
		}
	}
	return res, nil
}

// evaluateLevel scores the regions of one watershed partition.
func evaluateLevel(lungs *volume.Volume, ws, nodule *volume.LabelMap, th Thresholds, ext *radiomics.Extractor) (*LevelTrial, error) {
	stats, err := radiomics.LabelStatistics(lungs, ws)
	if err != nil {
		return nil, err
	}

	labels := stats.Labels()
	trial := &LevelTrial{}
	for i := len(labels) - 1; i >= 0; i-- {
		label := labels[i]
		if label == 0 {
			continue
		}
		trial.Regions++
		if stats.Dimensionality(label) < 3 {
			continue
		}

		f, err := ext.ExecuteWithStats(lungs, ws, stats, label)
		if err != nil {
			return nil, err
		}
		if f.Sphericity > th.Sphericity && f.Elongation > th.Elongation && f.JointEnergy > th.Energy {
			trial.Candidates = append(trial.Candidates, Candidate{Label: label, Features: f})
		}
	}

	if len(trial.Candidates) == 0 || len(trial.Candidates) >= th.MaxCandidates {
		return trial, nil
	}

	candidates := make([]uint32, len(trial.Candidates))
	for i, c := range trial.Candidates {
		candidates[i] = c.Label
	}
	trial.Region, trial.Containment = containingRegion(ws, nodule, candidates, th.Containment)
	trial.Accepted = trial.Region != 0
	return trial, nil
}

// containingRegion returns the first of candidates holding more than limit
// of the nodule voxels, with that fraction. It returns 0 and the best
// fraction seen when none qualifies.
func containingRegion(ws, nodule *volume.LabelMap, candidates []uint32, limit float64) (uint32, float64) {
	inside := noduleLabelCounts(ws, nodule)
	total := float64(nodule.Foreground())

	var best float64
	for _, label := range candidates {
		frac := float64(inside[label]) / total
		if frac > limit {
			return label, frac
		}
		if frac > best {
			best = frac
		}
	}
	return 0, best
}

// noduleLabelCounts counts, per label of ws, the voxels that fall inside
// the nodule mask.
func noduleLabelCounts(ws, nodule *volume.LabelMap) map[uint32]int {
	counts := make(map[uint32]int)
	for i, n := range nodule.Data {
		if n != 0 {
			counts[ws.Data[i]]++
		}
	}
	return counts
}
