package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/nodule-watershed/internal/experiment"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Equal(t, "1000-QIN", cfg.NodulePrefix)
	assert.Len(t, cfg.Experiment.Levels, 35)
	assert.Len(t, cfg.Experiment.Seeds, 10)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("partial file keeps defaults", func(t *testing.T) {
		path := writeFile(t, dir, "partial.json", `{
			"data_dir": "/data/qin",
			"experiment": {"thresholds": {"coverage": 0.7}, "levels": [20, 25]}
		}`)
		cfg := Default()
		require.NoError(t, cfg.LoadFile(path))

		assert.Equal(t, "/data/qin", cfg.DataDir)
		assert.Equal(t, "1000-QIN", cfg.NodulePrefix)
		assert.Equal(t, []float64{20, 25}, cfg.Experiment.Levels)
		assert.Equal(t, 0.7, cfg.Experiment.Thresholds.Coverage)
		assert.Equal(t, experiment.DefaultThresholds().Extension, cfg.Experiment.Thresholds.Extension)
		assert.Equal(t, experiment.DefaultSettings().Lung, cfg.Experiment.Lung)
	})

	t.Run("wrong extension", func(t *testing.T) {
		path := writeFile(t, dir, "config.yaml", "data_dir: x")
		err := Default().LoadFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), ".json")
	})

	t.Run("missing file", func(t *testing.T) {
		assert.Error(t, Default().LoadFile(filepath.Join(dir, "none.json")))
	})

	t.Run("malformed", func(t *testing.T) {
		path := writeFile(t, dir, "bad.json", `{"data_dir": `)
		assert.Error(t, Default().LoadFile(path))
	})

	t.Run("too large", func(t *testing.T) {
		path := writeFile(t, dir, "big.json", `{"data_dir": "`+strings.Repeat("x", maxFileSize)+`"}`)
		err := Default().LoadFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvDataDir, "/env/data")
	t.Setenv(EnvLedger, "/env/ledger.db")
	t.Setenv(EnvLevels, "20-22")
	t.Setenv(EnvNodule, "1")
	t.Setenv(EnvBinWidth, "10")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, "/env/data", cfg.DataDir)
	assert.Equal(t, "/env/ledger.db", cfg.Ledger)
	assert.Equal(t, []float64{20, 21, 22}, cfg.Experiment.Levels)
	assert.Equal(t, 1, cfg.Experiment.Nodule)
	assert.Equal(t, 10.0, cfg.Experiment.BinWidth)

	t.Run("bad values", func(t *testing.T) {
		for key, value := range map[string]string{
			EnvLevels:   "x-y",
			EnvNodule:   "first",
			EnvBinWidth: "wide",
		} {
			t.Setenv(key, value)
			assert.Error(t, Default().ApplyEnv(), key)
			t.Setenv(key, "1")
		}
	})
}

func TestParseLevels(t *testing.T) {
	tests := []struct {
		in      string
		want    []float64
		wantErr bool
	}{
		{"15-18", []float64{15, 16, 17, 18}, false},
		{" 15 - 15 ", []float64{15}, false},
		{"15,20.5,30", []float64{15, 20.5, 30}, false},
		{"7", []float64{7}, false},
		{"-5", []float64{-5}, false},
		{"30-15", nil, true},
		{"", nil, true},
		{"a,b", nil, true},
		{"1-x", nil, true},
		{"1e-3", []float64{0.001}, false},
		{"2.5e-1,3", []float64{0.25, 3}, false},
		{"1.5-2", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevels(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("levels mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no data dir", func(c *Config) { c.DataDir = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"no levels", func(c *Config) { c.Experiment.Levels = nil }},
		{"coverage above one", func(c *Config) { c.Experiment.Thresholds.Coverage = 1.5 }},
		{"inverted lung window", func(c *Config) { c.Experiment.Lung.Upper = c.Experiment.Lung.Lower - 1 }},
		{"no bin width", func(c *Config) { c.Experiment.BinWidth = 0 }},
		{"negative nodule", func(c *Config) { c.Experiment.Nodule = -1 }},
		{"zero resample spacing", func(c *Config) { c.Experiment.Resample.Spacing[2] = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "run.json", `{"output_dir": "/from/file", "nodule_prefix": "SEG"}`)
	envFile := writeFile(t, dir, "test.env", "NODULE_WS_OUTPUT_DIR=/from/dotenv\nNODULE_WS_LOG_FILE=/from/dotenv.log\n")

	// Variables already set win over the dotenv file.
	t.Setenv(EnvOutputDir, "/from/env")
	t.Setenv(EnvLogFile, "")
	os.Unsetenv(EnvLogFile)

	cfg, err := Load(path, envFile)
	require.NoError(t, err)
	assert.Equal(t, "SEG", cfg.NodulePrefix)
	assert.Equal(t, "/from/env", cfg.OutputDir)
	assert.Equal(t, "/from/dotenv.log", cfg.LogFile)

	t.Run("missing dotenv is ignored", func(t *testing.T) {
		_, err := Load("", filepath.Join(dir, "absent.env"))
		assert.NoError(t, err)
	})

	t.Run("invalid result", func(t *testing.T) {
		bad := writeFile(t, dir, "bad.json", `{"experiment": {"bin_width": -1}}`)
		_, err := Load(bad, "")
		assert.Error(t, err)
	})
}
