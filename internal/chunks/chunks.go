// Package chunks enumerates the per-chunk result files written by the
// upstream bin-assignment and cell-typing stages.
package chunks

import (
	"fmt"
	"os"
	"sort"
)

// DefaultIgnore lists directory entries that share a chunk directory but are
// not chunks: merge outputs, cached matrices and notebook checkpoints.
var DefaultIgnore = []string{
	"merged_results.csv",
	"merged_results_old.csv",
	"cells_adata.h5",
	"cells_adata.zmat",
	".ipynb_checkpoints",
}

// List returns the names of the entries in dir that are not in ignore.
// Names are returned unmodified and are not checked for being well-formed
// chunk files. The result is sorted so the labeled and unlabeled merges see
// chunks in the same order on every platform.
func List(dir string, ignore []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list chunks in %s: %w", dir, err)
	}

	skip := make(map[string]struct{}, len(ignore))
	for _, name := range ignore {
		skip[name] = struct{}{}
	}

	var names []string
	for _, e := range entries {
		if _, ok := skip[e.Name()]; ok {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
