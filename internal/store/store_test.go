package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/nodule-watershed/internal/dataset"
	"github.com/ironsheep/nodule-watershed/internal/experiment"
	"github.com/ironsheep/nodule-watershed/internal/radiomics"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestBeginRun(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	settings := experiment.DefaultSettings()
	run, err := s.BeginRun(ctx, "levels", settings)
	require.NoError(t, err)
	_, err = uuid.Parse(run.ID)
	require.NoError(t, err, "run ID is not a UUID")

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "levels", got.Command)
	assert.False(t, got.FinishedAt.Valid)

	var decoded experiment.Settings
	require.NoError(t, json.Unmarshal([]byte(got.Settings), &decoded))
	assert.Equal(t, settings.Levels, decoded.Levels)
	assert.Equal(t, settings.Thresholds, decoded.Thresholds)

	require.NoError(t, run.Finish(ctx))
	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, got.FinishedAt.Valid)

	t.Run("unknown run", func(t *testing.T) {
		_, err := s.GetRun(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrRunNotFound)

		ghost := &Run{ID: uuid.NewString(), store: s}
		assert.ErrorIs(t, ghost.Finish(ctx), ErrRunNotFound)
	})
}

func TestRecordLevels(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	run, err := s.BeginRun(ctx, "levels", experiment.DefaultSettings())
	require.NoError(t, err)

	p0 := dataset.Patient{Index: 0, ID: "QIN-LSC-0003"}
	p1 := dataset.Patient{Index: 1, ID: "QIN-LSC-0055"}
	require.NoError(t, run.RecordLevels(ctx, p1, &experiment.CoverageResult{
		Diagnostics: []experiment.LevelDiagnostic{{Level: 15, Label: 3, Coverage: 0.4, Extension: 2}},
	}))
	require.NoError(t, run.RecordLevels(ctx, p0, &experiment.CoverageResult{
		Levels: []float64{15},
		Diagnostics: []experiment.LevelDiagnostic{
			{Level: 30, Label: 1, Coverage: 0.5, Extension: 4},
			{Level: 15, Label: 2, Coverage: 0.75, Extension: 1, Found: true},
		},
	}))

	rows, err := s.Levels(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, LevelRow{
		RunID: run.ID, PatientIndex: 0, PatientID: "QIN-LSC-0003",
		Level: 15, Label: 2, Coverage: 0.75, Extension: 1, Found: true,
	}, rows[0])
	assert.Equal(t, 30.0, rows[1].Level)
	assert.False(t, rows[1].Found)
	assert.Equal(t, "QIN-LSC-0055", rows[2].PatientID)

	t.Run("duplicate level", func(t *testing.T) {
		err := run.RecordLevels(ctx, p1, &experiment.CoverageResult{
			Diagnostics: []experiment.LevelDiagnostic{{Level: 15}},
		})
		assert.Error(t, err)

		rows, err := s.Levels(ctx, run.ID)
		require.NoError(t, err)
		assert.Len(t, rows, 3)
	})

	t.Run("other run is empty", func(t *testing.T) {
		rows, err := s.Levels(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestRecordAcceptance(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	run, err := s.BeginRun(ctx, "accept", experiment.DefaultSettings())
	require.NoError(t, err)

	p := dataset.Patient{Index: 2, ID: "QIN-LSC-0101"}
	res := &experiment.AcceptanceResult{
		Accepted: true, Level: 21, Region: 4,
		Trials: []experiment.LevelTrial{
			{Level: 15, Regions: 40},
			{Level: 21, Regions: 12, Candidates: []experiment.Candidate{{Label: 4}, {Label: 9}}, Region: 4, Containment: 0.9, Accepted: true},
		},
	}
	require.NoError(t, run.RecordAcceptance(ctx, p, res))

	rows, err := s.Trials(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, TrialRow{RunID: run.ID, PatientIndex: 2, PatientID: "QIN-LSC-0101", Level: 15, Regions: 40}, rows[0])
	assert.Equal(t, TrialRow{
		RunID: run.ID, PatientIndex: 2, PatientID: "QIN-LSC-0101",
		Level: 21, Regions: 12, Candidates: 2, Region: 4, Containment: 0.9, Accepted: true,
	}, rows[1])
}

func TestRecordFeatures(t *testing.T) {
	ctx := context.Background()
	s, path := openTestStore(t)
	run, err := s.BeginRun(ctx, "features", experiment.DefaultSettings())
	require.NoError(t, err)

	f := &radiomics.Features{VoxelCount: 64}
	f.MeshVolume = 61.25
	f.SurfaceArea = 88.5
	features := []experiment.FeatureRow{
		{Index: 0, Patient: 0, PatientID: "A", Mask: 0, Sphericity: 0.8, Elongation: 0.9, Energy: 0.01, Features: f},
		{Index: 1, Patient: 0, PatientID: "A", Mask: 1, Sphericity: 0.5, Elongation: 0.25, Energy: 0.125},
	}
	require.NoError(t, run.RecordFeatures(ctx, features))
	require.NoError(t, run.RecordFeatures(ctx, nil))
	require.NoError(t, run.Finish(ctx))
	require.NoError(t, s.Close())

	// Reopening keeps what was written.
	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	rows, err := reopened.Features(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, FeatureRecord{
		RunID: run.ID, RowIndex: 0, PatientIndex: 0, PatientID: "A", Mask: 0,
		VoxelCount: 64, MeshVolume: 61.25, SurfaceArea: 88.5,
		Sphericity: 0.8, Elongation: 0.9, Energy: 0.01,
	}, rows[0])
	assert.Equal(t, 0, rows[1].VoxelCount)
	assert.Equal(t, 0.125, rows[1].Energy)

	runs, err := reopened.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestOpenBadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "ledger.db"))
	assert.Error(t, err)
}
