package segment

import (
	"errors"
	"fmt"

	"github.com/ironsheep/nodule-watershed/internal/filter"
	"github.com/ironsheep/nodule-watershed/internal/logging"
	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// Default lung segmentation parameters.
const (
	DefaultVariance      = 10.0
	DefaultLower         = -1000.0
	DefaultUpper         = -200.0
	DefaultClosingRadius = 12
	DefaultBackground    = -1024.0
)

// ErrNoSeeds is returned when lung segmentation is called without seeds.
var ErrNoSeeds = errors.New("no lung seeds")

// LungOptions tunes LungSegmentation. The zero value is not useful; start
// from DefaultLungOptions.
type LungOptions struct {
	// Variance of the smoothing Gaussian in mm².
	Variance float64 `json:"variance" validate:"gte=0"`

	// Lower and Upper bound the HU range grown from the seeds.
	Lower float32 `json:"lower"`
	Upper float32 `json:"upper" validate:"gtefield=Lower"`

	// ClosingRadius is the ball radius, in voxels, of the binary closing.
	ClosingRadius int `json:"closing_radius" validate:"gte=0"`

	// Background is written outside the lungs.
	Background float32 `json:"background"`
}

// DefaultLungOptions returns the parameters used for the QIN lung series.
func DefaultLungOptions() LungOptions {
	return LungOptions{
		Variance:      DefaultVariance,
		Lower:         DefaultLower,
		Upper:         DefaultUpper,
		ClosingRadius: DefaultClosingRadius,
		Background:    DefaultBackground,
	}
}

// LungMask returns the closed binary lung mask of ct grown from seeds.
//
// # Errors
//
//   - Returns ErrNoSeeds if seeds is empty
//   - Returns error if a seed lies outside the volume or the HU range is inverted
func LungMask(ct *volume.Volume, seeds []volume.Index, opts LungOptions) (*volume.LabelMap, error) {
	if len(seeds) == 0 {
		return nil, ErrNoSeeds
	}

	smoothed := filter.DiscreteGaussian(ct, opts.Variance)
	grown, err := filter.ConnectedThreshold(smoothed, seeds, opts.Lower, opts.Upper)
	if err != nil {
		return nil, fmt.Errorf("failed to grow lungs: %w", err)
	}

	closed := filter.BinaryClosing(grown, opts.ClosingRadius)
	logging.Debug(logging.Fields{
		"seeds":  len(seeds),
		"grown":  grown.Count(1),
		"closed": closed.Count(1),
	}, "[segment.LungMask] lung mask ready")
	return closed, nil
}

// LungSegmentation returns a copy of ct that keeps the original HU inside
// the closed lung mask and opts.Background everywhere else.
//
// # Errors
//
//   - Returns the errors of LungMask
func LungSegmentation(ct *volume.Volume, seeds []volume.Index, opts LungOptions) (*volume.Volume, error) {
	mask, err := LungMask(ct, seeds, opts)
	if err != nil {
		return nil, err
	}
	return filter.MaskVolume(ct, mask, opts.Background)
}
