package experiment

import (
	"fmt"

	"github.com/ironsheep/nodule-watershed/internal/filter"
	"github.com/ironsheep/nodule-watershed/internal/radiomics"
	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// NoduleLabel is the foreground label of precomputed nodule masks.
const NoduleLabel = 1

// FeatureRow holds the descriptors of one precomputed nodule mask.
type FeatureRow struct {
	Index      int     `json:"index"`
	Patient    int     `json:"patient"`
	PatientID  string  `json:"patient_id"`
	Mask       int     `json:"mask"`
	Sphericity float64 `json:"sphericity"`
	Elongation float64 `json:"elongation"`
	Energy     float64 `json:"energy"`

	Features *radiomics.Features `json:"features,omitempty"`
}

// NoduleFeatures describes every nodule mask of one patient over the CT
// volume. Rows are numbered from first.
//
// # Errors
//
//   - Returns error if a mask has no nodule voxel or does not match ct
func NoduleFeatures(ct *volume.Volume, masks []*volume.LabelMap, patient int, patientID string, first int, ext *radiomics.Extractor) ([]FeatureRow, error) {
	rows := make([]FeatureRow, 0, len(masks))
	for i, mask := range masks {
		f, err := ext.Execute(ct, mask, NoduleLabel)
		if err != nil {
			return nil, fmt.Errorf("failed to describe mask %d of patient %s: %w", i, patientID, err)
		}
		rows = append(rows, FeatureRow{
			Index:      first + i,
			Patient:    patient,
			PatientID:  patientID,
			Mask:       i,
			Sphericity: f.Sphericity,
			Elongation: f.Elongation,
			Energy:     f.JointEnergy,
			Features:   f,
		})
	}
	return rows, nil
}

// ResampleCase resamples ct and its masks to spacing, the CT trilinearly
// and the masks by nearest voxel, on the grid given by
// filter.ResampledGeometry.
func ResampleCase(ct *volume.Volume, masks []*volume.LabelMap, spacing [3]float64) (*volume.Volume, []*volume.LabelMap, error) {
	rct, err := filter.Resample(ct, spacing)
	if err != nil {
		return nil, nil, err
	}
	rmasks := make([]*volume.LabelMap, len(masks))
	for i, m := range masks {
		if !m.SameGrid(ct.Geometry) {
			return nil, nil, fmt.Errorf("mask %d grid does not match the CT", i)
		}
		if rmasks[i], err = filter.ResampleLabels(m, spacing); err != nil {
			return nil, nil, err
		}
	}
	return rct, rmasks, nil
}
