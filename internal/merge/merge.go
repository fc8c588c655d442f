// Package merge joins the per-chunk outputs of the upstream stages into
// whole-sample tables.
//
// Every chunk is identified by one file name shared across directories:
//   - cell index lookup: id, cell_x, cell_y, bin stats and chunk_name per cell
//   - bin assignment: one gene-count column per gene, plus a leading index column
//   - cell-typing results (labeled merge only): the predicted label in column x
//
// Both variants read every chunk fully before concatenating; a single bad
// chunk fails the whole merge.
package merge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/cellpack/internal/chunks"
	"github.com/freeeve/cellpack/internal/config"
	"github.com/freeeve/cellpack/internal/table"
)

const (
	// IDColumn is the global cell identifier in the lookup and label files.
	IDColumn = "id"
	// LabelColumn is the raw label column written by the cell-typing stage.
	LabelColumn = "x"
	// CellTypeColumn is LabelColumn after the merge renames it.
	CellTypeColumn = "cell_type"
)

// ErrNoChunks is returned when a chunk directory holds nothing to merge.
var ErrNoChunks = errors.New("no chunks to merge")

// Counts builds the cell-by-gene table from the bin-assignment and lookup
// directories. Chunks are enumerated from BinAssignDir; a chunk without a
// matching lookup file fails the merge.
func Counts(cfg config.Config, log zerolog.Logger) (*table.Table, error) {
	start := time.Now()
	names, err := chunks.List(cfg.Paths.BinAssignDir, chunks.DefaultIgnore)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%s: %w", cfg.Paths.BinAssignDir, ErrNoChunks)
	}

	blocks := make([]*table.Table, 0, len(names))
	for _, name := range names {
		lookup, err := table.ReadFile(filepath.Join(cfg.Paths.CellIxLookupDir, name))
		if err != nil {
			return nil, fmt.Errorf("chunk %s: lookup: %w", name, err)
		}
		block, err := geneBlock(cfg, name, lookup)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("chunk", name).Int("cells", block.Len()).Msg("merged chunk counts")
		blocks = append(blocks, block)
	}

	out := table.VConcat(blocks...)
	log.Info().
		Int("chunks", len(names)).
		Int("cells", out.Len()).
		Int("genes", len(out.Columns)-1).
		Dur("elapsed", time.Since(start)).
		Msg("merged cell-by-gene counts")
	return out, nil
}

// Labeled merges cell-type labels, lookup rows and gene counts for every
// chunk in SargentResultsDir, creating that directory if needed. The merged
// results table (lookup columns plus cell_type) is written to
// config.MergedResultsFile inside SargentResultsDir, replacing any previous
// file. It returns the results and the cell-by-gene table, built from the
// same chunk order.
func Labeled(cfg config.Config, log zerolog.Logger) (results, counts *table.Table, err error) {
	start := time.Now()
	dir := cfg.Paths.SargentResultsDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", dir, err)
	}

	names, err := chunks.List(dir, chunks.DefaultIgnore)
	if err != nil {
		return nil, nil, err
	}
	if len(names) == 0 {
		return nil, nil, fmt.Errorf("%s: %w", dir, ErrNoChunks)
	}

	resultBlocks := make([]*table.Table, 0, len(names))
	countBlocks := make([]*table.Table, 0, len(names))
	for _, name := range names {
		labels, err := table.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, nil, fmt.Errorf("chunk %s: labels: %w", name, err)
		}
		lookup, err := table.ReadFile(filepath.Join(cfg.Paths.CellIxLookupDir, name))
		if err != nil {
			return nil, nil, fmt.Errorf("chunk %s: lookup: %w", name, err)
		}
		genes, err := geneBlock(cfg, name, lookup)
		if err != nil {
			return nil, nil, err
		}
		result, keyed, err := resultBlock(lookup, labels)
		if err != nil {
			return nil, nil, fmt.Errorf("chunk %s: %w", name, err)
		}

		if !keyed && labels.Len() != lookup.Len() {
			log.Warn().
				Str("chunk", name).
				Int("labels", labels.Len()).
				Int("cells", lookup.Len()).
				Msg("label rows do not match lookup rows, aligning by position")
		}
		if keyed {
			if unlabeled, orphans := unmatched(lookup, labels); unlabeled > 0 || orphans > 0 {
				log.Warn().
					Str("chunk", name).
					Int("unlabeled_cells", unlabeled).
					Int("unmatched_labels", orphans).
					Msg("label ids do not match lookup ids")
			}
		}
		log.Debug().Str("chunk", name).Int("cells", result.Len()).Bool("keyed", keyed).Msg("merged chunk")

		resultBlocks = append(resultBlocks, result)
		countBlocks = append(countBlocks, genes)
	}

	results = table.VConcat(resultBlocks...).Rename(map[string]string{LabelColumn: CellTypeColumn})
	counts = table.VConcat(countBlocks...)

	path := cfg.MergedResultsPath()
	if err := table.WriteFile(path, results); err != nil {
		return nil, nil, fmt.Errorf("write merged results: %w", err)
	}

	log.Info().
		Int("chunks", len(names)).
		Int("cells", results.Len()).
		Int("genes", len(counts.Columns)-1).
		Str("path", path).
		Dur("elapsed", time.Since(start)).
		Msg("merged labeled results")
	return results, counts, nil
}

// geneBlock reads the chunk's bin-assignment file, drops its index column and
// prefixes the lookup ids.
func geneBlock(cfg config.Config, name string, lookup *table.Table) (*table.Table, error) {
	raw, err := table.ReadFile(filepath.Join(cfg.Paths.BinAssignDir, name))
	if err != nil {
		return nil, fmt.Errorf("chunk %s: transcript counts: %w", name, err)
	}
	counts, err := raw.Drop(table.IndexColumn)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: transcript counts: %w", name, err)
	}
	ids, err := lookup.Select(IDColumn)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: lookup: %w", name, err)
	}
	return table.HConcat(ids, counts), nil
}

// resultBlock attaches the label column to the lookup rows. Labels carrying an
// id column are joined on it; otherwise rows are matched by position. The
// lookup's index column is dropped from the result.
func resultBlock(lookup, labels *table.Table) (*table.Table, bool, error) {
	var (
		joined *table.Table
		keyed  = labels.Has(IDColumn)
	)
	if keyed {
		lab, err := labels.Select(IDColumn, LabelColumn)
		if err != nil {
			return nil, false, fmt.Errorf("labels: %w", err)
		}
		joined, err = table.JoinOn(lookup, lab, IDColumn)
		if err != nil {
			return nil, false, err
		}
	} else {
		lab, err := labels.Select(LabelColumn)
		if err != nil {
			return nil, false, fmt.Errorf("labels: %w", err)
		}
		joined = table.HConcat(lookup, lab)
	}

	out, err := joined.Drop(table.IndexColumn)
	if err != nil {
		return nil, false, fmt.Errorf("lookup: %w", err)
	}
	return out, keyed, nil
}

// unmatched counts lookup rows whose id has no label and label rows whose id
// has no lookup row. Both tables must carry IDColumn.
func unmatched(lookup, labels *table.Table) (unlabeled, orphans int) {
	cellIDs, _ := lookup.Column(IDColumn)
	labelIDs, _ := labels.Column(IDColumn)

	cells := make(map[string]struct{}, len(cellIDs))
	for _, id := range cellIDs {
		cells[id] = struct{}{}
	}
	labeled := make(map[string]struct{}, len(labelIDs))
	for _, id := range labelIDs {
		labeled[id] = struct{}{}
		if _, ok := cells[id]; !ok {
			orphans++
		}
	}
	for _, id := range cellIDs {
		if _, ok := labeled[id]; !ok {
			unlabeled++
		}
	}
	return unlabeled, orphans
}
