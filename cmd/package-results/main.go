package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/freeeve/cellpack/internal/annmat"
	"github.com/freeeve/cellpack/internal/config"
	"github.com/freeeve/cellpack/internal/logx"
	"github.com/freeeve/cellpack/internal/merge"
	"github.com/freeeve/cellpack/internal/table"
)

func main() {
	defaultConfig := "config/configs.yaml"
	if envPath := os.Getenv("CELLPACK_CONFIG"); envPath != "" {
		defaultConfig = envPath
	}

	var (
		configPath = flag.String("config", defaultConfig, "Path to the pipeline YAML config")
		mode       = flag.String("mode", "labeled", "labeled: merge labels and package the matrix; counts: merge gene counts only")
		outputPath = flag.String("output", "", "Output CSV for -mode counts (.gz/.zst compress)")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	level, err := logx.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logx.New(os.Stdout, level)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	logger.Info().
		Str("config", *configPath).
		Str("mode", *mode).
		Str("bin_assign_dir", cfg.Paths.BinAssignDir).
		Str("cell_ix_lookup_dir", cfg.Paths.CellIxLookupDir).
		Str("sargent_results_dir", cfg.Paths.SargentResultsDir).
		Str("cellannotation_results_dir", cfg.Paths.CellAnnotationResultsDir).
		Msg("starting package")

	startTime := time.Now()

	switch *mode {
	case "counts":
		if *outputPath == "" {
			fmt.Fprintln(os.Stderr, "Usage: package-results -mode counts -output <file.csv[.gz|.zst]> [options]")
			flag.PrintDefaults()
			os.Exit(1)
		}
		counts, err := merge.Counts(cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("merge counts")
		}
		if err := table.WriteFile(*outputPath, counts); err != nil {
			logger.Fatal().Err(err).Msg("write counts")
		}
		logger.Info().Str("output", *outputPath).Int("cells", counts.Len()).Msg("wrote cell-by-gene counts")

	case "labeled":
		results, counts, err := merge.Labeled(cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("merge labeled results")
		}

		m, err := annmat.FromTables(results, counts)
		if err != nil {
			logger.Fatal().Err(err).Msg("package matrix")
		}
		if m.DuplicateIDs > 0 {
			logger.Warn().Int("duplicates", m.DuplicateIDs).Msg("duplicate cell ids in merged results, first occurrence kept")
		}
		m.Stamp(map[string]string{
			"bin_assign_dir":             cfg.Paths.BinAssignDir,
			"cell_ix_lookup_dir":         cfg.Paths.CellIxLookupDir,
			"sargent_results_dir":        cfg.Paths.SargentResultsDir,
			"cellannotation_results_dir": cfg.Paths.CellAnnotationResultsDir,
		})

		path, stats, err := annmat.Save(cfg.Paths.CellAnnotationResultsDir, m, cfg.CompressionLevel)
		if err != nil {
			logger.Fatal().Err(err).Msg("save matrix")
		}
		logger.Info().
			Str("path", path).
			Str("run_id", m.Uns["run_id"]).
			Int("cells", m.NObs()).
			Int("genes", m.NVars()).
			Int("nonzero", stats.NonZero).
			Int("compressed_bytes", stats.CompressedSize).
			Int("uncompressed_bytes", stats.UncompressedSize).
			Dur("compress_time", stats.CompressTime).
			Msg("wrote matrix")

	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q (want labeled or counts)\n", *mode)
		os.Exit(1)
	}

	logger.Info().Dur("elapsed", time.Since(startTime)).Msg("package complete")
}
