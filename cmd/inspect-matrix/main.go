package main

import (
	"flag"
	"fmt"
	"sort"

	"github.com/freeeve/cellpack/internal/annmat"
	"github.com/freeeve/cellpack/internal/logx"
	"github.com/freeeve/cellpack/internal/table"
)

func main() {
	var (
		inputPath  = flag.String("input", annmat.FileName, "Packaged matrix file")
		outputPath = flag.String("obs-output", "", "Export per-cell metadata to this CSV (.gz/.zst compress)")
	)
	flag.Parse()

	logger := logx.NewLogger()

	h, err := annmat.ReadHeader(*inputPath)
	if err != nil {
		logger.Fatal().Err(err).Str("input", *inputPath).Msg("read header")
	}
	logger.Info().
		Str("input", *inputPath).
		Uint32("cells", h.NObs).
		Uint32("genes", h.NVars).
		Uint64("body_bytes", h.BodySize).
		Msg("opening matrix")

	m, err := annmat.Open(*inputPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open matrix")
	}

	keys := make([]string, 0, len(m.Uns))
	for k := range m.Uns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("uns %-28s %s\n", k, m.Uns[k])
	}

	if counts, err := m.CategoryCounts(annmat.ObsCellType); err == nil {
		fmt.Printf("\n%-24s %10s\n", "cell_type", "cells")
		for _, c := range counts {
			name := c.Category
			if name == "" {
				name = "(missing)"
			}
			fmt.Printf("%-24s %10d\n", name, c.Count)
		}
	} else {
		logger.Warn().Err(err).Msg("no cell type attribute")
	}

	if *outputPath != "" {
		obs := m.ObsTable()
		if err := table.WriteFile(*outputPath, obs); err != nil {
			logger.Fatal().Err(err).Msg("export obs")
		}
		logger.Info().Str("output", *outputPath).Int("rows", obs.Len()).Msg("exported obs")
	}
}
