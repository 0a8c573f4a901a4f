package main

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/nodule-watershed/internal/config"
	"github.com/ironsheep/nodule-watershed/internal/dataset"
	"github.com/ironsheep/nodule-watershed/internal/experiment"
	"github.com/ironsheep/nodule-watershed/internal/store"
)

func TestSelectPatients(t *testing.T) {
	all := []dataset.Patient{
		{Index: 0, ID: "QIN-LSC-0003"},
		{Index: 1, ID: "QIN-LSC-0055"},
		{Index: 2, ID: "QIN-LSC-0101"},
	}

	tests := []struct {
		name  string
		ids   string
		limit int
		want  []int
	}{
		{"all", "", 0, []int{0, 1, 2}},
		{"limit", "", 2, []int{0, 1}},
		{"limit above count", "", 10, []int{0, 1, 2}},
		{"by id keeps index", "QIN-LSC-0101, QIN-LSC-0003", 0, []int{2, 0}},
		{"by id and limit", "QIN-LSC-0055,QIN-LSC-0101", 1, []int{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectPatients(all, tt.ids, tt.limit)
			require.NoError(t, err)
			indices := make([]int, len(got))
			for i, p := range got {
				indices[i] = p.Index
			}
			assert.Equal(t, tt.want, indices)
		})
	}

	_, err := selectPatients(all, "QIN-LSC-9999", 0)
	assert.Error(t, err)
}

func TestResampleTo(t *testing.T) {
	cfg := config.Default()
	resampleTo(0)(cfg)
	assert.False(t, cfg.Experiment.Resample.Enabled)

	resampleTo(1.5)(cfg)
	assert.Equal(t, experiment.ResampleOptions{Enabled: true, Spacing: [3]float64{1.5, 1.5, 1.5}}, cfg.Experiment.Resample)
}

func TestRunsOutput(t *testing.T) {
	ctx := context.Background()
	ledger, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer ledger.Close()

	record := func(levels ...float64) *store.RunSummary {
		run, err := ledger.BeginRun(ctx, "levels", experiment.DefaultSettings())
		require.NoError(t, err)
		res := &experiment.CoverageResult{Levels: levels}
		for _, l := range levels {
			res.Diagnostics = append(res.Diagnostics, experiment.LevelDiagnostic{Level: l, Label: 2, Coverage: 0.9, Found: true})
		}
		require.NoError(t, run.RecordLevels(ctx, dataset.Patient{Index: 0, ID: "QIN-LSC-0003"}, res))
		sum, err := ledger.Summarize(ctx, run.ID)
		require.NoError(t, err)
		return sum
	}
	a := record(15, 16)
	b := record(16, 17)

	var buf bytes.Buffer
	require.NoError(t, listRuns(&buf, []store.RunRow{
		{ID: "r1", Command: "levels", StartedAt: "t0"},
		{ID: "r2", Command: "study", StartedAt: "t1", FinishedAt: sql.NullString{String: "t2", Valid: true}},
	}))
	assert.Equal(t, "ID\tCOMMAND\tSTARTED\tFINISHED\nr1\tlevels\tt0\t-\nr2\tstudy\tt1\tt2\n", buf.String())

	buf.Reset()
	require.NoError(t, showRun(&buf, a))
	assert.Contains(t, buf.String(), "QIN-LSC-0003\t[15 16]\t-\n")

	buf.Reset()
	require.NoError(t, compareRuns(&buf, a, b))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "QIN-LSC-0003\t[16]\t[15]\t[17]", lines[3])
}
