// Package config holds the directory layout and output settings shared by
// the merge and packaging stages. A Config is a plain value: load it once
// and pass it to the functions that need it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// MergedResultsFile is written into SargentResultsDir by the labeled merge.
	MergedResultsFile = "merged_results.csv"

	// DefaultCompressionLevel is the zstd level used for the packaged matrix.
	DefaultCompressionLevel = 3
)

// Paths are the four pipeline directories this module reads from or writes to.
type Paths struct {
	BinAssignDir             string `yaml:"bin_assign_dir"`
	CellIxLookupDir          string `yaml:"cell_ix_lookup_dir"`
	SargentResultsDir        string `yaml:"sargent_results_dir"`
	CellAnnotationResultsDir string `yaml:"cellannotation_results_dir"`
}

// Config models the YAML configuration file.
type Config struct {
	// CacheDir is the root used to derive any path left empty.
	CacheDir string `yaml:"cache_dir"`
	Paths    Paths  `yaml:"paths"`

	// CompressionLevel maps onto zstd.EncoderLevel (1 fastest .. 4 best).
	CompressionLevel int `yaml:"compression_level"`
}

// Load reads the YAML file at path, fills derived defaults and validates it.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw YAML, fills derived defaults and validates the result.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults derives empty paths from CacheDir and sets the compression level.
func (c *Config) ApplyDefaults() {
	if c.CacheDir != "" {
		chunks := filepath.Join(c.CacheDir, "chunks")
		setDefault(&c.Paths.BinAssignDir, filepath.Join(chunks, "bins_gene_expression"))
		setDefault(&c.Paths.CellIxLookupDir, filepath.Join(chunks, "idx_lookup"))
		setDefault(&c.Paths.SargentResultsDir, filepath.Join(chunks, "sargent_results"))
		setDefault(&c.Paths.CellAnnotationResultsDir, filepath.Join(c.CacheDir, "cellannotation_results"))
	}
	if c.CompressionLevel == 0 {
		c.CompressionLevel = DefaultCompressionLevel
	}
}

func setDefault(dst *string, v string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = v
	}
}

// Validate reports every missing path and an out-of-range compression level.
func (c Config) Validate() error {
	var errs []error
	required := []struct {
		key string
		val string
	}{
		{"bin_assign_dir", c.Paths.BinAssignDir},
		{"cell_ix_lookup_dir", c.Paths.CellIxLookupDir},
		{"sargent_results_dir", c.Paths.SargentResultsDir},
		{"cellannotation_results_dir", c.Paths.CellAnnotationResultsDir},
	}
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			errs = append(errs, fmt.Errorf("config: paths.%s is required", r.key))
		}
	}
	if c.CompressionLevel < 1 || c.CompressionLevel > 4 {
		errs = append(errs, fmt.Errorf("config: compression_level %d out of range 1..4", c.CompressionLevel))
	}
	return errors.Join(errs...)
}

// MergedResultsPath returns where the labeled merge persists its results table.
func (c Config) MergedResultsPath() string {
	return filepath.Join(c.Paths.SargentResultsDir, MergedResultsFile)
}
