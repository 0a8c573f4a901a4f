// Package store keeps a SQLite ledger of experiment runs so that sweeps with
// different settings can be compared after the fact.
//
// Every run gets a random UUID. Its per-level diagnostics, acceptance trials
// and feature rows are written as patients complete, through the
// experiment.Recorder implemented by Run. The schema is created on Open.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/ironsheep/nodule-watershed/internal/dataset"
	"github.com/ironsheep/nodule-watershed/internal/experiment"
	"github.com/ironsheep/nodule-watershed/internal/logging"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// ErrRunNotFound is returned when a run ID is not in the ledger.
var ErrRunNotFound = errors.New("run not found")

func init() {
	sqlx.BindDriver(DriverName, sqlx.QUESTION)
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	command     TEXT NOT NULL,
	settings    TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT
);

CREATE TABLE IF NOT EXISTS level_results (
	run_id        TEXT NOT NULL REFERENCES runs(id),
	patient_index INTEGER NOT NULL,
	patient_id    TEXT NOT NULL,
	level         REAL NOT NULL,
	label         INTEGER NOT NULL,
	coverage      REAL NOT NULL,
	extension     REAL NOT NULL,
	found         INTEGER NOT NULL,
	PRIMARY KEY (run_id, patient_id, level)
);

CREATE TABLE IF NOT EXISTS acceptance_trials (
	run_id        TEXT NOT NULL REFERENCES runs(id),
	patient_index INTEGER NOT NULL,
	patient_id    TEXT NOT NULL,
	level         REAL NOT NULL,
	regions       INTEGER NOT NULL,
	candidates    INTEGER NOT NULL,
	region        INTEGER NOT NULL,
	containment   REAL NOT NULL,
	accepted      INTEGER NOT NULL,
	PRIMARY KEY (run_id, patient_id, level)
);

CREATE TABLE IF NOT EXISTS features (
	run_id        TEXT NOT NULL REFERENCES runs(id),
	row_index     INTEGER NOT NULL,
	patient_index INTEGER NOT NULL,
	patient_id    TEXT NOT NULL,
	mask          INTEGER NOT NULL,
	voxel_count   INTEGER NOT NULL,
	mesh_volume   REAL NOT NULL,
	surface_area  REAL NOT NULL,
	sphericity    REAL NOT NULL,
	elongation    REAL NOT NULL,
	energy        REAL NOT NULL,
	PRIMARY KEY (run_id, row_index)
);
`

// Store is an open ledger.
type Store struct {
	db *sqlx.DB
}

// Open opens or creates the ledger at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	// A single connection serialises writers on the file.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure ledger: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunRow is a stored run.
type RunRow struct {
	ID         string         `db:"id" json:"id"`
	Command    string         `db:"command" json:"command"`
	Settings   string         `db:"settings" json:"settings"`
	StartedAt  string         `db:"started_at" json:"started_at"`
	FinishedAt sql.NullString `db:"finished_at" json:"finished_at"`
}

// LevelRow is one explored level of the coverage search.
type LevelRow struct {
	RunID        string  `db:"run_id"`
	PatientIndex int     `db:"patient_index"`
	PatientID    string  `db:"patient_id"`
	Level        float64 `db:"level"`
	Label        uint32  `db:"label"`
	Coverage     float64 `db:"coverage"`
	Extension    float64 `db:"extension"`
	Found        bool    `db:"found"`
}

// TrialRow is one explored level of the acceptance search.
type TrialRow struct {
	RunID        string  `db:"run_id"`
	PatientIndex int     `db:"patient_index"`
	PatientID    string  `db:"patient_id"`
	Level        float64 `db:"level"`
	Regions      int     `db:"regions"`
	Candidates   int     `db:"candidates"`
	Region       uint32  `db:"region"`
	Containment  float64 `db:"containment"`
	Accepted     bool    `db:"accepted"`
}

// FeatureRecord is one stored nodule mask description.
type FeatureRecord struct {
	RunID        string  `db:"run_id"`
	RowIndex     int     `db:"row_index"`
	PatientIndex int     `db:"patient_index"`
	PatientID    string  `db:"patient_id"`
	Mask         int     `db:"mask"`
	VoxelCount   int     `db:"voxel_count"`
	MeshVolume   float64 `db:"mesh_volume"`
	SurfaceArea  float64 `db:"surface_area"`
	Sphericity   float64 `db:"sphericity"`
	Elongation   float64 `db:"elongation"`
	Energy       float64 `db:"energy"`
}

// Run records the results of one invocation. It implements
// experiment.Recorder.
type Run struct {
	ID    string
	store *Store
}

var _ experiment.Recorder = (*Run)(nil)

// BeginRun registers a new run of command with its settings.
func (s *Store) BeginRun(ctx context.Context, command string, settings experiment.Settings) (*Run, error) {
	encoded, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}

	row := RunRow{
		ID:        uuid.NewString(),
		Command:   command,
		Settings:  string(encoded),
		StartedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	_, err = s.db.NamedExecContext(ctx,
		`INSERT INTO runs (id, command, settings, started_at) VALUES (:id, :command, :settings, :started_at)`, row)
	if err != nil {
		return nil, fmt.Errorf("failed to register run: %w", err)
	}

	logging.Debug(logging.Fields{"run": row.ID, "command": command}, "[store.BeginRun] run registered")
	return &Run{ID: row.ID, store: s}, nil
}

// Finish stamps the run's completion time.
func (r *Run) Finish(ctx context.Context) error {
	res, err := r.store.db.ExecContext(ctx, `UPDATE runs SET finished_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), r.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", r.ID, ErrRunNotFound)
	}
	return nil
}

// RecordLevels stores the per-level diagnostics of one patient.
func (r *Run) RecordLevels(ctx context.Context, p dataset.Patient, res *experiment.CoverageResult) error {
	rows := make([]LevelRow, 0, len(res.Diagnostics))
	for _, d := range res.Diagnostics {
		rows = append(rows, LevelRow{
			RunID:        r.ID,
			PatientIndex: p.Index,
			PatientID:    p.ID,
			Level:        d.Level,
			Label:        d.Label,
			Coverage:     d.Coverage,
			Extension:    d.Extension,
			Found:        d.Found,
		})
	}
	return r.insert(ctx, `INSERT INTO level_results
		(run_id, patient_index, patient_id, level, label, coverage, extension, found)
		VALUES (:run_id, :patient_index, :patient_id, :level, :label, :coverage, :extension, :found)`, len(rows),
		func(i int) interface{} { return rows[i] })
}

// RecordAcceptance stores the acceptance trials of one patient.
func (r *Run) RecordAcceptance(ctx context.Context, p dataset.Patient, res *experiment.AcceptanceResult) error {
	rows := make([]TrialRow, 0, len(res.Trials))
	for _, t := range res.Trials {
		rows = append(rows, TrialRow{
			RunID:        r.ID,
			PatientIndex: p.Index,
			PatientID:    p.ID,
			Level:        t.Level,
			Regions:      t.Regions,
			Candidates:   len(t.Candidates),
			Region:       t.Region,
			Containment:  t.Containment,
			Accepted:     t.Accepted,
		})
	}
	return r.insert(ctx, `INSERT INTO acceptance_trials
		(run_id, patient_index, patient_id, level, regions, candidates, region, containment, accepted)
		VALUES (:run_id, :patient_index, :patient_id, :level, :regions, :candidates, :region, :containment, :accepted)`, len(rows),
		func(i int) interface{} { return rows[i] })
}

// RecordFeatures stores nodule mask descriptions.
func (r *Run) RecordFeatures(ctx context.Context, features []experiment.FeatureRow) error {
	rows := make([]FeatureRecord, 0, len(features))
	for _, f := range features {
		rec := FeatureRecord{
			RunID:        r.ID,
			RowIndex:     f.Index,
			PatientIndex: f.Patient,
			PatientID:    f.PatientID,
			Mask:         f.Mask,
			Sphericity:   f.Sphericity,
			Elongation:   f.Elongation,
			Energy:       f.Energy,
		}
		if f.Features != nil {
			rec.VoxelCount = f.Features.VoxelCount
			rec.MeshVolume = f.Features.MeshVolume
			rec.SurfaceArea = f.Features.SurfaceArea
		}
		rows = append(rows, rec)
	}
	return r.insert(ctx, `INSERT INTO features
		(run_id, row_index, patient_index, patient_id, mask, voxel_count, mesh_volume, surface_area, sphericity, elongation, energy)
		VALUES (:run_id, :row_index, :patient_index, :patient_id, :mask, :voxel_count, :mesh_volume, :surface_area, :sphericity, :elongation, :energy)`, len(rows),
		func(i int) interface{} { return rows[i] })
}

// insert runs query once per row inside one transaction.
func (r *Run) insert(ctx context.Context, query string, n int, row func(int) interface{}) error {
	if n == 0 {
		return nil
	}
	tx, err := r.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for i := 0; i < n; i++ {
		if _, err := tx.NamedExecContext(ctx, query, row(i)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Runs lists the stored runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]RunRow, error) {
	var rows []RunRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM runs ORDER BY started_at, id`); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return rows, nil
}

// GetRun returns one run or ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (RunRow, error) {
	var row RunRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return row, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return row, fmt.Errorf("failed to read run %s: %w", id, err)
	}
	return row, nil
}

// Levels returns the coverage diagnostics of a run by patient, then level.
func (s *Store) Levels(ctx context.Context, runID string) ([]LevelRow, error) {
	var rows []LevelRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM level_results WHERE run_id = ? ORDER BY patient_index, level`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to read levels of run %s: %w", runID, err)
	}
	return rows, nil
}

// Trials returns the acceptance trials of a run by patient, then level.
func (s *Store) Trials(ctx context.Context, runID string) ([]TrialRow, error) {
	var rows []TrialRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM acceptance_trials WHERE run_id = ? ORDER BY patient_index, level`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to read trials of run %s: %w", runID, err)
	}
	return rows, nil
}

// Features returns the feature rows of a run in row order.
func (s *Store) Features(ctx context.Context, runID string) ([]FeatureRecord, error) {
	var rows []FeatureRecord
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM features WHERE run_id = ? ORDER BY row_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to read features of run %s: %w", runID, err)
	}
	return rows, nil
}
