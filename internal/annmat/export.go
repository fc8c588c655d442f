package annmat

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/freeeve/cellpack/internal/table"
)

// CategoryCount is the number of rows holding one category.
type CategoryCount struct {
	Category string
	Count    int
}

// CategoryCounts tallies an obs categorical, most frequent first. Missing
// values are reported under the empty category.
func (m *Matrix) CategoryCounts(key string) ([]CategoryCount, error) {
	c, ok := m.ObsCategorical[key]
	if !ok {
		return nil, fmt.Errorf("obs %q: %w", key, table.ErrColumnNotFound)
	}
	counts := make([]int, len(c.Categories)+1)
	for _, code := range c.Codes {
		counts[code+1]++
	}

	var out []CategoryCount
	if counts[0] > 0 {
		out = append(out, CategoryCount{Count: counts[0]})
	}
	for i, cat := range c.Categories {
		out = append(out, CategoryCount{Category: cat, Count: counts[i+1]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out, nil
}

// ObsTable flattens the per-row metadata into a table: the row key as id,
// then obsm columns, categoricals and string attributes, each group in key
// order.
func (m *Matrix) ObsTable() *table.Table {
	t := table.New("id")
	obsmKeys := sortedKeys(m.Obsm)
	catKeys := sortedKeys(m.ObsCategorical)
	strKeys := sortedKeys(m.ObsStrings)
	for _, k := range obsmKeys {
		t.Columns = append(t.Columns, m.Obsm[k].Columns...)
	}
	t.Columns = append(t.Columns, catKeys...)
	t.Columns = append(t.Columns, strKeys...)

	t.Rows = make([][]string, m.NObs())
	for i, id := range m.ObsNames {
		row := make([]string, 0, len(t.Columns))
		row = append(row, id)
		for _, k := range obsmKeys {
			for _, v := range m.Obsm[k].Values[i] {
				row = append(row, strconv.FormatInt(v, 10))
			}
		}
		for _, k := range catKeys {
			row = append(row, m.ObsCategorical[k].Value(i))
		}
		for _, k := range strKeys {
			row = append(row, m.ObsStrings[k][i])
		}
		t.Rows[i] = row
	}
	return t
}
