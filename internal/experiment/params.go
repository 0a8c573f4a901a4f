package experiment

import (
	"errors"
	"fmt"

	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// Default acceptance thresholds.
const (
	DefaultSphericity    = 0.449939379
	DefaultElongation    = 0.456512305
	DefaultEnergy        = 0.0031626
	DefaultCoverage      = 0.6
	DefaultExtension     = 1.10
	DefaultContainment   = 0.8
	DefaultMaxCandidates = 7

	DefaultFirstLevel = 15
	DefaultLastLevel  = 49

	DefaultMarkerErode  = 6
	DefaultMarkerDilate = 2
)

// ErrNoSeedsForPatient is returned when no seed pair exists for a patient index.
var ErrNoSeedsForPatient = errors.New("no seeds for patient")

// Thresholds are the acceptance limits of both level searches.
type Thresholds struct {
	// Sphericity, Elongation and Energy must all be exceeded by a candidate
	// region in the acceptance search.
	Sphericity float64 `json:"sphericity" validate:"gte=0,lte=1"`
	Elongation float64 `json:"elongation" validate:"gte=0,lte=1"`
	Energy     float64 `json:"energy" validate:"gte=0,lte=1"`

	// Coverage is the fraction of nodule voxels a region must exceed in the
	// coverage search.
	Coverage float64 `json:"coverage" validate:"gt=0,lte=1"`

	// Extension bounds the size of that region relative to the nodule.
	Extension float64 `json:"extension" validate:"gt=0"`

	// Containment is the fraction of nodule voxels an accepted region must
	// exceed for the acceptance search to keep a level.
	Containment float64 `json:"containment" validate:"gt=0,lte=1"`

	// MaxCandidates is the exclusive upper bound on accepted regions; more
	// means the level oversegments.
	MaxCandidates int `json:"max_candidates" validate:"gte=2"`
}

// DefaultThresholds returns the limits tuned on the QIN lung collection.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Sphericity:    DefaultSphericity,
		Elongation:    DefaultElongation,
		Energy:        DefaultEnergy,
		Coverage:      DefaultCoverage,
		Extension:     DefaultExtension,
		Containment:   DefaultContainment,
		MaxCandidates: DefaultMaxCandidates,
	}
}

// MarkerOptions configure the seeded coverage search. The nodule mask is
// eroded by Erode voxels and dilated by Dilate voxels into the seed.
type MarkerOptions struct {
	Enabled bool `json:"enabled"`
	Erode   int  `json:"erode" validate:"gte=0"`
	Dilate  int  `json:"dilate" validate:"gte=0"`
}

// DefaultMarkerOptions returns a disabled marker with the QIN radii.
func DefaultMarkerOptions() MarkerOptions {
	return MarkerOptions{Erode: DefaultMarkerErode, Dilate: DefaultMarkerDilate}
}

// ResampleOptions configure the isotropic resampling applied before nodule
// features are computed. Spacing is in millimetres along X, Y and Z.
type ResampleOptions struct {
	Enabled bool       `json:"enabled"`
	Spacing [3]float64 `json:"spacing" validate:"dive,gt=0"`
}

// DefaultResampleOptions returns a disabled 1 mm isotropic resampling.
func DefaultResampleOptions() ResampleOptions {
	return ResampleOptions{Spacing: [3]float64{1, 1, 1}}
}

// LevelRange returns the integer levels first..last inclusive.
func LevelRange(first, last int) []float64 {
	if last < first {
		return nil
	}
	levels := make([]float64, 0, last-first+1)
	for l := first; l <= last; l++ {
		levels = append(levels, float64(l))
	}
	return levels
}

// DefaultLevels returns the swept levels 15..49.
func DefaultLevels() []float64 {
	return LevelRange(DefaultFirstLevel, DefaultLastLevel)
}

// DefaultSeeds holds one seed pair (left lung, right lung) per patient index
// of the QIN lung collection, as (column, row, slice).
func DefaultSeeds() [][]volume.Index {
	pairs := [][2][3]int{
		{{82, 285, 65}, {388, 308, 65}},
		{{93, 180, 75}, {423, 272, 75}},
		{{146, 260, 54}, {355, 269, 54}},
		{{175, 162, 56}, {380, 259, 56}},
		{{133, 182, 55}, {360, 230, 55}},
		{{130, 323, 63}, {335, 393, 63}},
		{{168, 167, 51}, {385, 188, 51}},
		{{128, 292, 52}, {384, 284, 52}},
		{{148, 209, 59}, {373, 324, 59}},
		{{125, 289, 56}, {413, 280, 56}},
	}
	seeds := make([][]volume.Index, len(pairs))
	for i, p := range pairs {
		seeds[i] = []volume.Index{
			{X: p[0][0], Y: p[0][1], Z: p[0][2]},
			{X: p[1][0], Y: p[1][1], Z: p[1][2]},
		}
	}
	return seeds
}

// SeedsFor returns the seeds of the patient at index.
func SeedsFor(seeds [][]volume.Index, index int) ([]volume.Index, error) {
	if index < 0 || index >= len(seeds) || len(seeds[index]) == 0 {
		return nil, fmt.Errorf("patient index %d: %w", index, ErrNoSeedsForPatient)
	}
	return seeds[index], nil
}
