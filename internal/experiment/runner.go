package experiment

import (
	"context"
	"fmt"

	"github.com/ironsheep/nodule-watershed/internal/dataset"
	"github.com/ironsheep/nodule-watershed/internal/logging"
	"github.com/ironsheep/nodule-watershed/internal/radiomics"
	"github.com/ironsheep/nodule-watershed/internal/segment"
	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// Settings gathers the tunables of a run.
type Settings struct {
	Levels     []float64           `json:"levels" validate:"min=1"`
	Thresholds Thresholds          `json:"thresholds"`
	Lung       segment.LungOptions `json:"lung"`
	Seeds      [][]volume.Index    `json:"seeds" validate:"min=1"`
	BinWidth   float64             `json:"bin_width" validate:"gt=0"`

	// Marker switches the level search to the seeded watershed.
	Marker MarkerOptions `json:"marker"`

	// Resample applies to the nodule features only.
	Resample ResampleOptions `json:"resample"`

	// Nodule selects which precomputed mask drives the level searches.
	Nodule int `json:"nodule" validate:"gte=0"`
}

// DefaultSettings returns the settings of the QIN lung experiments.
func DefaultSettings() Settings {
	return Settings{
		Levels:     DefaultLevels(),
		Thresholds: DefaultThresholds(),
		Lung:       segment.DefaultLungOptions(),
		Seeds:      DefaultSeeds(),
		BinWidth:   radiomics.DefaultBinWidth,
		Marker:     DefaultMarkerOptions(),
		Resample:   DefaultResampleOptions(),
	}
}

// Recorder receives results as patients complete.
type Recorder interface {
	RecordLevels(ctx context.Context, p dataset.Patient, res *CoverageResult) error
	RecordAcceptance(ctx context.Context, p dataset.Patient, res *AcceptanceResult) error
	RecordFeatures(ctx context.Context, rows []FeatureRow) error
}

// Loader reads one patient.
type Loader func(p dataset.Patient) (*dataset.Case, error)

// Runner drives the experiments over a list of patients.
//
// Patients are processed one after the other in the order given; the first
// error aborts the run. Context cancellation is checked between patients and
// between levels. Each patient is read once per experiment and dropped
// before the next one, since a CT series is a few hundred megabytes.
type Runner struct {
	settings Settings
	load     Loader
	ext      *radiomics.Extractor
	recorder Recorder
}

// Option configures a Runner.
type Option func(*Runner)

// WithLoader replaces the dataset loader.
func WithLoader(l Loader) Option {
	return func(r *Runner) { r.load = l }
}

// WithRecorder sends results to rec.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// NewRunner returns a runner reading patients with dataset.Load.
func NewRunner(settings Settings, opts ...Option) *Runner {
	r := &Runner{
		settings: settings,
		load:     dataset.Load,
		ext:      radiomics.NewExtractor(settings.BinWidth),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PatientLevels pairs a patient with its coverage search.
type PatientLevels struct {
	Patient dataset.Patient `json:"patient"`
	Result  *CoverageResult `json:"result"`
}

// LevelsReport is the outcome of Runner.Levels.
type LevelsReport struct {
	Patients []PatientLevels `json:"patients"`

	// Global holds the levels that work for every patient.
	Global []float64 `json:"global"`
}

// PatientAcceptance pairs a patient with its acceptance search.
type PatientAcceptance struct {
	Patient dataset.Patient   `json:"patient"`
	Result  *AcceptanceResult `json:"result"`
}

// Prepared is a loaded patient with its lungs volume and driving nodule.
type Prepared struct {
	Case   *dataset.Case
	Lungs  *volume.Volume
	Nodule *volume.LabelMap
}

// Prepare loads p, segments its lungs and selects the driving nodule mask.
//
// # Errors
//
//   - Returns the loader error
//   - Returns ErrNoSeedsForPatient if no seeds exist for p.Index
//   - Returns dataset.ErrNoNodule if the selected mask does not exist
func (r *Runner) Prepare(p dataset.Patient) (*Prepared, error) {
	c, err := r.load(p)
	if err != nil {
		return nil, err
	}
	nodule, err := c.Nodule(r.settings.Nodule)
	if err != nil {
		return nil, err
	}
	seeds, err := SeedsFor(r.settings.Seeds, p.Index)
	if err != nil {
		return nil, err
	}

	lungs, err := segment.LungSegmentation(c.CT, seeds, r.settings.Lung)
	if err != nil {
		return nil, fmt.Errorf("failed to segment lungs of patient %s: %w", p.ID, err)
	}
	return &Prepared{Case: c, Lungs: lungs, Nodule: nodule}, nil
}

// StudyReport gathers the three experiments of Runner.Study.
type StudyReport struct {
	Levels     *LevelsReport       `json:"levels"`
	Acceptance []PatientAcceptance `json:"acceptance"`
	Features   []FeatureRow        `json:"features"`
}

// Levels runs the coverage search for every patient and intersects the
// working levels.
func (r *Runner) Levels(ctx context.Context, patients []dataset.Patient) (*LevelsReport, error) {
	report := &LevelsReport{}
	perPatient := make([][]float64, 0, len(patients))

	for _, p := range patients {
		prep, err := r.start(ctx, p)
		if err != nil {
			return nil, err
		}
		res, err := r.searchLevels(ctx, p, prep)
		if err != nil {
			return nil, err
		}
		report.Patients = append(report.Patients, PatientLevels{Patient: p, Result: res})
		perPatient = append(perPatient, res.Levels)
	}

	report.Global = GlobalLevels(perPatient)
	logging.Info(logging.Fields{"patients": len(patients), "global": report.Global}, "[experiment.Runner] global levels")
	return report, nil
}

// Accept runs the acceptance search for every patient.
func (r *Runner) Accept(ctx context.Context, patients []dataset.Patient) ([]PatientAcceptance, error) {
	out := make([]PatientAcceptance, 0, len(patients))
	for _, p := range patients {
		prep, err := r.start(ctx, p)
		if err != nil {
			return nil, err
		}
		res, err := r.searchAcceptance(ctx, p, prep)
		if err != nil {
			return nil, err
		}
		out = append(out, PatientAcceptance{Patient: p, Result: res})
	}
	return out, nil
}

// Features describes every nodule mask of every patient over its CT.
func (r *Runner) Features(ctx context.Context, patients []dataset.Patient) ([]FeatureRow, error) {
	var rows []FeatureRow
	for _, p := range patients {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := r.load(p)
		if err != nil {
			return nil, err
		}
		pr, err := r.describe(p, c, len(rows))
		if err != nil {
			return nil, err
		}
		rows = append(rows, pr...)
	}
	if err := r.recordFeatures(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Study runs the level search, the acceptance search and the nodule
// features patient by patient. Each patient is read and its lungs segmented
// once for the three experiments.
func (r *Runner) Study(ctx context.Context, patients []dataset.Patient) (*StudyReport, error) {
	rep := &StudyReport{Levels: &LevelsReport{}}
	perPatient := make([][]float64, 0, len(patients))

	for _, p := range patients {
		prep, err := r.start(ctx, p)
		if err != nil {
			return nil, err
		}
		lv, err := r.searchLevels(ctx, p, prep)
		if err != nil {
			return nil, err
		}
		rep.Levels.Patients = append(rep.Levels.Patients, PatientLevels{Patient: p, Result: lv})
		perPatient = append(perPatient, lv.Levels)

		acc, err := r.searchAcceptance(ctx, p, prep)
		if err != nil {
			return nil, err
		}
		rep.Acceptance = append(rep.Acceptance, PatientAcceptance{Patient: p, Result: acc})

		rows, err := r.describe(p, prep.Case, len(rep.Features))
		if err != nil {
			return nil, err
		}
		rep.Features = append(rep.Features, rows...)
	}

	rep.Levels.Global = GlobalLevels(perPatient)
	if err := r.recordFeatures(ctx, rep.Features); err != nil {
		return nil, err
	}
	logging.Info(logging.Fields{"patients": len(patients), "global": rep.Levels.Global, "masks": len(rep.Features)}, "[experiment.Runner] study done")
	return rep, nil
}

// start checks for cancellation, then prepares p.
func (r *Runner) start(ctx context.Context, p dataset.Patient) (*Prepared, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logging.Info(logging.Fields{"patient": p.ID, "index": p.Index}, "[experiment.Runner] reading patient")
	return r.Prepare(p)
}

func (r *Runner) searchLevels(ctx context.Context, p dataset.Patient, prep *Prepared) (*CoverageResult, error) {
	var (
		res *CoverageResult
		err error
	)
	if r.settings.Marker.Enabled {
		res, err = SeededCoverageSearch(ctx, prep.Lungs, prep.Nodule, r.settings.Levels, r.settings.Thresholds, r.settings.Marker)
	} else {
		res, err = CoverageSearch(ctx, prep.Lungs, prep.Nodule, r.settings.Levels, r.settings.Thresholds)
	}
	if err != nil {
		return nil, fmt.Errorf("patient %s: %w", p.ID, err)
	}
	if r.recorder != nil {
		if err := r.recorder.RecordLevels(ctx, p, res); err != nil {
			return nil, fmt.Errorf("failed to record levels of patient %s: %w", p.ID, err)
		}
	}
	logging.Info(logging.Fields{"patient": p.ID, "levels": res.Levels}, "[experiment.Runner] coverage search done")
	return res, nil
}

func (r *Runner) searchAcceptance(ctx context.Context, p dataset.Patient, prep *Prepared) (*AcceptanceResult, error) {
	res, err := AcceptanceSearch(ctx, prep.Lungs, prep.Nodule, r.settings.Levels, r.settings.Thresholds, r.ext)
	if err != nil {
		return nil, fmt.Errorf("patient %s: %w", p.ID, err)
	}
	if r.recorder != nil {
		if err := r.recorder.RecordAcceptance(ctx, p, res); err != nil {
			return nil, fmt.Errorf("failed to record acceptance of patient %s: %w", p.ID, err)
		}
	}

	fields := logging.Fields{"patient": p.ID, "accepted": res.Accepted}
	if res.Accepted {
		fields["level"] = res.Level
		fields["region"] = res.Region
	}
	logging.Info(fields, "[experiment.Runner] acceptance search done")
	return res, nil
}

// describe computes the feature rows of the masks of c, numbered from
// first, after resampling when enabled.
func (r *Runner) describe(p dataset.Patient, c *dataset.Case, first int) ([]FeatureRow, error) {
	ct, masks := c.CT, c.Nodules
	if r.settings.Resample.Enabled {
		var err error
		ct, masks, err = ResampleCase(ct, masks, r.settings.Resample.Spacing)
		if err != nil {
			return nil, fmt.Errorf("failed to resample patient %s: %w", p.ID, err)
		}
		logging.Debug(logging.Fields{"patient": p.ID, "size": ct.Size, "spacing": ct.Spacing}, "[experiment.Runner] case resampled")
	}
	rows, err := NoduleFeatures(ct, masks, p.Index, p.ID, first, r.ext)
	if err != nil {
		return nil, err
	}
	logging.Info(logging.Fields{"patient": p.ID, "masks": len(rows)}, "[experiment.Runner] nodule features computed")
	return rows, nil
}

func (r *Runner) recordFeatures(ctx context.Context, rows []FeatureRow) error {
	if r.recorder == nil {
		return nil
	}
	if err := r.recorder.RecordFeatures(ctx, rows); err != nil {
		return fmt.Errorf("failed to record features: %w", err)
	}
	return nil
}
