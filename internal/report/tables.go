package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/ironsheep/nodule-watershed/internal/experiment"
)

// Sheet names used in the workbooks.
const (
	FeatureSheet    = "features"
	LevelSheet      = "levels"
	AcceptanceSheet = "acceptance"
)

var (
	featureHeader    = []interface{}{"index", "patient", "mask", "sphericity", "elongation", "energy"}
	levelHeader      = []interface{}{"patient", "level", "label", "coverage", "extension", "accepted"}
	acceptanceHeader = []interface{}{"patient", "accepted", "level", "region", "levels tried"}
)

// WriteFeatureTable writes one row per nodule mask.
func WriteFeatureTable(w io.Writer, rows []experiment.FeatureRow) error {
	values := make([][]interface{}, 0, len(rows))
	for _, r := range rows {
		values = append(values, []interface{}{r.Index, r.Patient, r.Mask, r.Sphericity, r.Elongation, r.Energy})
	}
	return writeWorkbook(w, FeatureSheet, featureHeader, values)
}

// WriteLevelTable writes one row per explored level of every patient. The
// accepted column tells whether the level isolated the nodule.
func WriteLevelTable(w io.Writer, patients []experiment.PatientLevels) error {
	var values [][]interface{}
	for _, p := range patients {
		if p.Result == nil {
			continue
		}
		for _, d := range p.Result.Diagnostics {
			values = append(values, []interface{}{p.Patient.ID, d.Level, d.Label, d.Coverage, d.Extension, d.Found})
		}
	}
	return writeWorkbook(w, LevelSheet, levelHeader, values)
}

// WriteAcceptanceTable writes one row per patient. Level and region are left
// empty for patients without an accepted level.
func WriteAcceptanceTable(w io.Writer, patients []experiment.PatientAcceptance) error {
	values := make([][]interface{}, 0, len(patients))
	for _, p := range patients {
		if p.Result == nil {
			continue
		}
		row := []interface{}{p.Patient.ID, p.Result.Accepted, nil, nil, len(p.Result.Trials)}
		if p.Result.Accepted {
			row[2] = p.Result.Level
			row[3] = p.Result.Region
		}
		values = append(values, row)
	}
	return writeWorkbook(w, AcceptanceSheet, acceptanceHeader, values)
}

// writeWorkbook writes a single-sheet workbook with a bold header row.
func writeWorkbook(w io.Writer, sheet string, header []interface{}, rows [][]interface{}) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
