package merge_test

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/freeeve/cellpack/internal/annmat"
	"github.com/freeeve/cellpack/internal/merge"
)

func TestMergePackageSave(t *testing.T) {
	cfg := newLayout(t)
	labelsA := []string{"Tcell", "Bcell", "Tcell", "NK"}
	labelsB := []string{"Macrophage", "TCELL", "Bcell"}
	writeChunk(t, cfg, "A.csv", 1, len(labelsA), labelsA)
	writeChunk(t, cfg, "B.csv", 1000, len(labelsB), labelsB)

	results, counts, err := merge.Labeled(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Labeled: %v", err)
	}
	m, err := annmat.FromTables(results, counts)
	if err != nil {
		t.Fatalf("FromTables: %v", err)
	}
	m.Stamp(map[string]string{"sargent_results_dir": cfg.Paths.SargentResultsDir})

	path, _, err := annmat.Save(cfg.Paths.CellAnnotationResultsDir, m, cfg.CompressionLevel)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Dir(path) != cfg.Paths.CellAnnotationResultsDir {
		t.Fatalf("saved to %q", path)
	}

	got, err := annmat.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got.NObs() != len(labelsA)+len(labelsB) {
		t.Fatalf("rows = %d, want %d", got.NObs(), len(labelsA)+len(labelsB))
	}
	if got.NVars() != len(genes) {
		t.Fatalf("columns = %d, want %d", got.NVars(), len(genes))
	}

	types := got.ObsCategorical[annmat.ObsCellType]
	want := []string{"tcell", "bcell", "tcell", "nk", "macrophage", "tcell", "bcell"}
	for i, w := range want {
		if v := types.Value(i); v != w {
			t.Errorf("cell_type[%d] = %q, want %q", i, v, w)
		}
	}
	patches := got.ObsStrings[annmat.ObsPatchID]
	if patches[0] != "A" || patches[len(patches)-1] != "B" {
		t.Errorf("patch_id = %v", patches)
	}
	if got.Uns["run_id"] == "" {
		t.Error("run_id missing from uns")
	}
}
