// Package config assembles the settings of a nodule-ws invocation.
//
// Values are layered: built-in defaults, then an optional JSON file, then
// NODULE_WS_* environment variables (a .env file is loaded first when
// present). The result is validated before use.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/ironsheep/nodule-watershed/internal/dataset"
	"github.com/ironsheep/nodule-watershed/internal/experiment"
	"github.com/ironsheep/nodule-watershed/internal/logging"
)

// Environment variables read by ApplyEnv.
const (
	EnvDataDir      = "NODULE_WS_DATA_DIR"
	EnvNodulePrefix = "NODULE_WS_NODULE_PREFIX"
	EnvOutputDir    = "NODULE_WS_OUTPUT_DIR"
	EnvLedger       = "NODULE_WS_LEDGER"
	EnvLogFile      = "NODULE_WS_LOG_FILE"
	EnvLevels       = "NODULE_WS_LEVELS"
	EnvNodule       = "NODULE_WS_NODULE"
	EnvBinWidth     = "NODULE_WS_BIN_WIDTH"
)

// DefaultDataDir is where the QIN lung dataset is expected.
const DefaultDataDir = "./QIN LUNG CT"

// DefaultEnvFile is the dotenv file loaded by Load.
const DefaultEnvFile = ".env"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the full configuration of a run.
type Config struct {
	DataDir      string `json:"data_dir" validate:"required"`
	NodulePrefix string `json:"nodule_prefix" validate:"required"`
	OutputDir    string `json:"output_dir" validate:"required"`

	// Ledger is the SQLite results file. Empty disables the ledger.
	Ledger string `json:"ledger"`

	LogLevel string `json:"log_level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	LogFile  string `json:"log_file"`

	Experiment experiment.Settings `json:"experiment"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:      DefaultDataDir,
		NodulePrefix: dataset.DefaultNodulePrefix,
		OutputDir:    ".",
		Experiment:   experiment.DefaultSettings(),
	}
}

// Load builds the configuration from defaults, the JSON file at path (if
// path is not empty), envFile (if it exists) and the environment.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile merges a JSON file into c. Fields the file omits keep their
// current value, so partial files are safe.
func (c *Config) LoadFile(path string) error {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config JSON: %w", err)
	}

	logging.Debug(logging.Fields{"path": cleanPath}, "[config.LoadFile] configuration file read")
	return nil
}

// LoadDotEnv loads a dotenv file into the process environment without
// overriding variables already set. A missing file is not an error.
func LoadDotEnv(envFile string) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return nil
}

// ApplyEnv overrides c with the NODULE_WS_* environment variables that are
// set.
func (c *Config) ApplyEnv() error {
	setString(&c.DataDir, EnvDataDir)
	setString(&c.NodulePrefix, EnvNodulePrefix)
	setString(&c.OutputDir, EnvOutputDir)
	setString(&c.Ledger, EnvLedger)
	setString(&c.LogLevel, logging.EnvLevel)
	setString(&c.LogFile, EnvLogFile)

	if v, ok := os.LookupEnv(EnvLevels); ok {
		levels, err := ParseLevels(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLevels, err)
		}
		c.Experiment.Levels = levels
	}
	if v, ok := os.LookupEnv(EnvNodule); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid nodule index %q", EnvNodule, v)
		}
		c.Experiment.Nodule = n
	}
	if v, ok := os.LookupEnv(EnvBinWidth); ok {
		w, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%s: invalid bin width %q", EnvBinWidth, v)
		}
		c.Experiment.BinWidth = w
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

// ParseLevels reads a level list. It accepts an inclusive integer range
// such as "15-49" or a comma separated list such as "15,20.5,3e1". Anything
// that is not a pair of integers around a dash is read as a list.
func ParseLevels(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty level list")
	}

	if first, last, ok := strings.Cut(s, "-"); ok && !strings.Contains(s, ",") {
		lo, err1 := strconv.Atoi(strings.TrimSpace(first))
		hi, err2 := strconv.Atoi(strings.TrimSpace(last))
		if err1 == nil && err2 == nil {
			levels := experiment.LevelRange(lo, hi)
			if len(levels) == 0 {
				return nil, fmt.Errorf("empty level range %q", s)
			}
			return levels, nil
		}
	}

	parts := strings.Split(s, ",")
	levels := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid level %q", p)
		}
		levels = append(levels, v)
	}
	return levels, nil
}

// Validate checks c with its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
