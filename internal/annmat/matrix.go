// Package annmat holds the annotated cell-by-gene matrix produced at the end
// of the pipeline: integer counts keyed by cell id, per-cell numeric blocks
// (spatial coordinates, bin stats), per-cell categorical and string
// attributes, and free-form run metadata.
package annmat

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/freeeve/cellpack/internal/table"
)

// Keys used for the blocks and attributes FromTables attaches.
const (
	ObsmSpatial = "spatial"
	ObsmStats   = "stats"
	ObsCellType = "cell_type"
	ObsPatchID  = "patch_id"
)

var (
	// ErrCoercion is returned when a value cannot be converted to an integer.
	ErrCoercion = errors.New("cannot coerce value to integer")
	// ErrUnaligned is returned when a count row has no matching results row.
	ErrUnaligned = errors.New("count row has no results row")
)

var (
	spatialColumns = []string{"cell_x", "cell_y"}
	statColumns    = []string{"num_shared_bins", "num_unique_bins", "num_transcripts"}

	// RequiredResultColumns must all be present in the results table.
	RequiredResultColumns = []string{"id", "cell_x", "cell_y", "num_shared_bins", "num_unique_bins", "num_transcripts", "cell_type", "chunk_name"}
)

// Block is a dense integer table aligned with the matrix rows.
type Block struct {
	Columns []string
	Values  [][]int64
}

// Categorical stores one code per row into a sorted list of categories.
// A code of -1 marks a missing value.
type Categorical struct {
	Categories []string
	Codes      []int32
}

// Value returns the category of row i, or "" when missing.
func (c Categorical) Value(i int) string {
	code := c.Codes[i]
	if code < 0 {
		return ""
	}
	return c.Categories[code]
}

// NewCategorical encodes values. Empty strings become missing.
func NewCategorical(values []string) Categorical {
	seen := make(map[string]struct{})
	for _, v := range values {
		if v != "" {
			seen[v] = struct{}{}
		}
	}
	cats := make([]string, 0, len(seen))
	for v := range seen {
		cats = append(cats, v)
	}
	sort.Strings(cats)

	code := make(map[string]int32, len(cats))
	for i, v := range cats {
		code[v] = int32(i)
	}
	codes := make([]int32, len(values))
	for i, v := range values {
		if v == "" {
			codes[i] = -1
			continue
		}
		codes[i] = code[v]
	}
	return Categorical{Categories: cats, Codes: codes}
}

// Matrix is an annotated cell-by-gene count matrix.
type Matrix struct {
	ObsNames []string
	VarNames []string
	X        [][]int64

	Obsm           map[string]Block
	ObsCategorical map[string]Categorical
	ObsStrings     map[string][]string
	Uns            map[string]string

	// DuplicateIDs counts result rows whose id repeats an earlier row. It is
	// informational and not persisted.
	DuplicateIDs int
}

// NObs returns the number of rows (cells).
func (m *Matrix) NObs() int { return len(m.ObsNames) }

// NVars returns the number of columns (genes).
func (m *Matrix) NVars() int { return len(m.VarNames) }

// Validate checks that every attached table has one entry per row.
func (m *Matrix) Validate() error {
	n := m.NObs()
	if len(m.X) != n {
		return fmt.Errorf("X has %d rows, want %d", len(m.X), n)
	}
	for i, row := range m.X {
		if len(row) != m.NVars() {
			return fmt.Errorf("X row %d has %d values, want %d", i, len(row), m.NVars())
		}
	}
	for key, b := range m.Obsm {
		if len(b.Values) != n {
			return fmt.Errorf("obsm %q has %d rows, want %d", key, len(b.Values), n)
		}
		for i, row := range b.Values {
			if len(row) != len(b.Columns) {
				return fmt.Errorf("obsm %q row %d has %d values, want %d", key, i, len(row), len(b.Columns))
			}
		}
	}
	for key, c := range m.ObsCategorical {
		if len(c.Codes) != n {
			return fmt.Errorf("obs %q has %d rows, want %d", key, len(c.Codes), n)
		}
		for i, code := range c.Codes {
			if code < -1 || int(code) >= len(c.Categories) {
				return fmt.Errorf("obs %q row %d: code %d out of range", key, i, code)
			}
		}
	}
	for key, v := range m.ObsStrings {
		if len(v) != n {
			return fmt.Errorf("obs %q has %d rows, want %d", key, len(v), n)
		}
	}
	return nil
}

// Stamp records a fresh run id, the creation time and the given source
// entries in Uns.
func (m *Matrix) Stamp(source map[string]string) {
	if m.Uns == nil {
		m.Uns = make(map[string]string)
	}
	m.Uns["run_id"] = uuid.NewString()
	m.Uns["created_at"] = time.Now().UTC().Format(time.RFC3339)
	for k, v := range source {
		m.Uns[k] = v
	}
}

// FromTables packages merged results and cell-by-gene counts. Matrix rows
// follow the counts table; result rows are matched to them by id. Missing
// num_transcripts values become 0 and cell types are lower-cased.
//
// Ids are not required to be unique: the first results row carrying an id is
// used and the number of repeats is reported in DuplicateIDs.
func FromTables(results, counts *table.Table) (*Matrix, error) {
	if err := results.Require(RequiredResultColumns...); err != nil {
		return nil, fmt.Errorf("results: %w", err)
	}
	if err := counts.Require("id"); err != nil {
		return nil, fmt.Errorf("counts: %w", err)
	}

	idCol := results.Index("id")
	byID := make(map[string]int, results.Len())
	dups := 0
	for i, row := range results.Rows {
		if _, ok := byID[row[idCol]]; ok {
			dups++
			continue
		}
		byID[row[idCol]] = i
	}

	countID := counts.Index("id")
	var geneIdx []int
	m := &Matrix{
		Obsm:           make(map[string]Block),
		ObsCategorical: make(map[string]Categorical),
		ObsStrings:     make(map[string][]string),
		Uns:            make(map[string]string),
		DuplicateIDs:   dups,
	}
	for i, c := range counts.Columns {
		if i == countID {
			continue
		}
		geneIdx = append(geneIdx, i)
		m.VarNames = append(m.VarNames, c)
	}

	n := counts.Len()
	m.ObsNames = make([]string, n)
	m.X = make([][]int64, n)
	order := make([]int, n)
	for r, row := range counts.Rows {
		id := row[countID]
		src, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: id %q", ErrUnaligned, id)
		}
		order[r] = src
		m.ObsNames[r] = id

		x := make([]int64, len(geneIdx))
		for j, c := range geneIdx {
			v, err := toInt(row[c])
			if err != nil {
				return nil, fmt.Errorf("counts id %q gene %q: %w", id, counts.Columns[c], err)
			}
			x[j] = v
		}
		m.X[r] = x
	}

	spatial, err := intBlock(results, order, spatialColumns, nil)
	if err != nil {
		return nil, err
	}
	stats, err := intBlock(results, order, statColumns, map[string]bool{"num_transcripts": true})
	if err != nil {
		return nil, err
	}
	m.Obsm[ObsmSpatial] = spatial
	m.Obsm[ObsmStats] = stats

	typeCol := results.Index("cell_type")
	chunkCol := results.Index("chunk_name")
	types := make([]string, n)
	patches := make([]string, n)
	for r, src := range order {
		if v := results.Rows[src][typeCol]; !table.IsNA(v) {
			types[r] = strings.ToLower(v)
		}
		patches[r] = results.Rows[src][chunkCol]
	}
	m.ObsCategorical[ObsCellType] = NewCategorical(types)
	m.ObsStrings[ObsPatchID] = patches

	return m, nil
}

// intBlock gathers integer columns for the rows in order. Columns in
// zeroFill treat a missing value (table.IsNA) as 0.
func intBlock(t *table.Table, order []int, columns []string, zeroFill map[string]bool) (Block, error) {
	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = t.Index(c)
	}
	idCol := t.Index("id")

	b := Block{Columns: append([]string(nil), columns...), Values: make([][]int64, len(order))}
	for r, src := range order {
		row := t.Rows[src]
		vals := make([]int64, len(columns))
		for i, c := range idx {
			cell := row[c]
			if table.IsNA(cell) && zeroFill[columns[i]] {
				continue
			}
			v, err := toInt(cell)
			if err != nil {
				return Block{}, fmt.Errorf("results id %q column %q: %w", row[idCol], columns[i], err)
			}
			vals[i] = v
		}
		b.Values[r] = vals
	}
	return b, nil
}

// toInt parses integers and truncates finite floats toward zero, so "12.0"
// and "12.7" both give 12.
func toInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%w: %q", ErrCoercion, s)
	}
	return int64(f), nil
}
