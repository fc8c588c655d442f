// Package table is a small string-typed data frame for the chunk files the
// pipeline exchanges. Values are kept as strings exactly as read; the empty
// string stands for a missing value.
package table

import (
	"errors"
	"fmt"
)

// ErrColumnNotFound is returned when a named column is absent.
var ErrColumnNotFound = errors.New("column not found")

// Table is a header plus rows. Every row has len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// New creates an empty table with the given header.
func New(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Index returns the position of the first column called name, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Has reports whether every named column is present.
func (t *Table) Has(names ...string) bool {
	for _, n := range names {
		if t.Index(n) < 0 {
			return false
		}
	}
	return true
}

// Require returns an error wrapping ErrColumnNotFound naming every absent column.
func (t *Table) Require(names ...string) error {
	var missing []string
	for _, n := range names {
		if t.Index(n) < 0 {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %q", ErrColumnNotFound, missing)
	}
	return nil
}

// Column returns a copy of the values of the named column.
func (t *Table) Column(name string) ([]string, error) {
	idx := t.Index(name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// Select returns a new table holding only the named columns, in that order.
func (t *Table) Select(names ...string) (*Table, error) {
	if err := t.Require(names...); err != nil {
		return nil, err
	}
	idx := make([]int, len(names))
	for i, n := range names {
		idx[i] = t.Index(n)
	}
	out := &Table{Columns: append([]string(nil), names...), Rows: make([][]string, len(t.Rows))}
	for r, row := range t.Rows {
		sel := make([]string, len(idx))
		for i, c := range idx {
			sel[i] = row[c]
		}
		out.Rows[r] = sel
	}
	return out, nil
}

// Drop returns a new table without the named columns. Every column carrying
// one of the names is removed; a name that matches nothing is an error.
func (t *Table) Drop(names ...string) (*Table, error) {
	if err := t.Require(names...); err != nil {
		return nil, err
	}
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var keep []int
	for i, c := range t.Columns {
		if !drop[c] {
			keep = append(keep, i)
		}
	}
	out := &Table{Columns: make([]string, len(keep)), Rows: make([][]string, len(t.Rows))}
	for i, c := range keep {
		out.Columns[i] = t.Columns[c]
	}
	for r, row := range t.Rows {
		nr := make([]string, len(keep))
		for i, c := range keep {
			nr[i] = row[c]
		}
		out.Rows[r] = nr
	}
	return out, nil
}

// Rename renames columns in place. Names not present are ignored.
func (t *Table) Rename(mapping map[string]string) *Table {
	for i, c := range t.Columns {
		if to, ok := mapping[c]; ok {
			t.Columns[i] = to
		}
	}
	return t
}

// HConcat places tables side by side, aligning rows by position. The result
// has as many rows as the longest input; shorter inputs are padded with
// missing values.
func HConcat(tables ...*Table) *Table {
	out := &Table{}
	n := 0
	for _, t := range tables {
		out.Columns = append(out.Columns, t.Columns...)
		n = max(n, len(t.Rows))
	}
	out.Rows = make([][]string, n)
	for r := range out.Rows {
		row := make([]string, 0, len(out.Columns))
		for _, t := range tables {
			if r < len(t.Rows) {
				row = append(row, t.Rows[r]...)
			} else {
				row = append(row, make([]string, len(t.Columns))...)
			}
		}
		out.Rows[r] = row
	}
	return out
}

// JoinOn appends the columns of right to left, matching rows on key. Every
// left row is kept in order; left rows without a match get missing values.
// The key column of right is not repeated. If right holds the same key more
// than once, the first occurrence wins.
func JoinOn(left, right *Table, key string) (*Table, error) {
	lk := left.Index(key)
	if lk < 0 {
		return nil, fmt.Errorf("join left: %w: %q", ErrColumnNotFound, key)
	}
	rk := right.Index(key)
	if rk < 0 {
		return nil, fmt.Errorf("join right: %w: %q", ErrColumnNotFound, key)
	}

	byKey := make(map[string]int, len(right.Rows))
	for i, row := range right.Rows {
		if _, seen := byKey[row[rk]]; !seen {
			byKey[row[rk]] = i
		}
	}

	out := &Table{Columns: append([]string(nil), left.Columns...)}
	for i, c := range right.Columns {
		if i != rk {
			out.Columns = append(out.Columns, c)
		}
	}
	out.Rows = make([][]string, len(left.Rows))
	for r, row := range left.Rows {
		nr := make([]string, 0, len(out.Columns))
		nr = append(nr, row...)
		match, ok := byKey[row[lk]]
		for i := range right.Columns {
			if i == rk {
				continue
			}
			if ok {
				nr = append(nr, right.Rows[match][i])
			} else {
				nr = append(nr, "")
			}
		}
		out.Rows[r] = nr
	}
	return out, nil
}

// VConcat stacks tables vertically. The header is the union of the input
// headers in order of first appearance; cells a table lacks are missing.
func VConcat(tables ...*Table) *Table {
	out := &Table{}
	pos := make(map[string]int)
	total := 0
	for _, t := range tables {
		for _, c := range t.Columns {
			if _, ok := pos[c]; !ok {
				pos[c] = len(out.Columns)
				out.Columns = append(out.Columns, c)
			}
		}
		total += len(t.Rows)
	}

	out.Rows = make([][]string, 0, total)
	for _, t := range tables {
		idx := make([]int, len(t.Columns))
		for i, c := range t.Columns {
			idx[i] = pos[c]
		}
		for _, row := range t.Rows {
			nr := make([]string, len(out.Columns))
			for i, v := range row {
				nr[idx[i]] = v
			}
			out.Rows = append(out.Rows, nr)
		}
	}
	return out
}
