package table_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/freeeve/cellpack/internal/table"
)

func mustRead(t *testing.T, s string) *table.Table {
	t.Helper()
	tb, err := table.Read(strings.NewReader(s))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return tb
}

func TestReadNamesBlankHeaderCells(t *testing.T) {
	tb := mustRead(t, ",GeneA,,GeneB\n0,1,x,2\n1,3,y,4\n")

	want := []string{"Unnamed: 0", "GeneA", "Unnamed: 2", "GeneB"}
	if !reflect.DeepEqual(tb.Columns, want) {
		t.Fatalf("columns = %v, want %v", tb.Columns, want)
	}
	if tb.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", tb.Len())
	}
	if table.IndexColumn != "Unnamed: 0" {
		t.Fatalf("unexpected index column name %q", table.IndexColumn)
	}
}

func TestReadEmptyInput(t *testing.T) {
	if _, err := table.Read(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty csv")
	}
}

func TestDropRequiresColumn(t *testing.T) {
	tb := mustRead(t, "a,b\n1,2\n")

	_, err := tb.Drop("Unnamed: 0")
	if !errors.Is(err, table.ErrColumnNotFound) {
		t.Fatalf("expected ErrColumnNotFound, got %v", err)
	}

	dropped, err := tb.Drop("a")
	if err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if !reflect.DeepEqual(dropped.Columns, []string{"b"}) || dropped.Rows[0][0] != "2" {
		t.Fatalf("unexpected result %+v", dropped)
	}
	// original untouched
	if len(tb.Columns) != 2 {
		t.Fatalf("Drop modified its receiver: %v", tb.Columns)
	}
}

func TestDropRemovesEveryMatchingColumn(t *testing.T) {
	left := mustRead(t, ",id\n0,10\n")
	right := mustRead(t, ",x\n0,T\n")
	joined := table.HConcat(left, right)

	out, err := joined.Drop(table.IndexColumn)
	if err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if !reflect.DeepEqual(out.Columns, []string{"id", "x"}) {
		t.Fatalf("columns = %v", out.Columns)
	}
}

func TestSelectAndColumn(t *testing.T) {
	tb := mustRead(t, "id,cell_x,cell_y\n1,10,20\n2,30,40\n")

	sel, err := tb.Select("cell_y", "id")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if !reflect.DeepEqual(sel.Rows, [][]string{{"20", "1"}, {"40", "2"}}) {
		t.Fatalf("unexpected rows %v", sel.Rows)
	}

	ids, err := tb.Column("id")
	if err != nil {
		t.Fatalf("Column: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"1", "2"}) {
		t.Fatalf("ids = %v", ids)
	}

	if _, err := tb.Column("cell_type"); !errors.Is(err, table.ErrColumnNotFound) {
		t.Fatalf("expected ErrColumnNotFound, got %v", err)
	}
	if err := tb.Require("id", "nope", "also_nope"); err == nil || !strings.Contains(err.Error(), "also_nope") {
		t.Fatalf("Require did not name every missing column: %v", err)
	}
}

func TestHConcatPadsShorterInput(t *testing.T) {
	a := mustRead(t, "id\n1\n2\n3\n")
	b := mustRead(t, "x\nT\n")

	out := table.HConcat(a, b)
	want := [][]string{{"1", "T"}, {"2", ""}, {"3", ""}}
	if !reflect.DeepEqual(out.Rows, want) {
		t.Fatalf("rows = %v, want %v", out.Rows, want)
	}
}

func TestJoinOn(t *testing.T) {
	lookup := mustRead(t, "id,chunk_name\n7,A\n8,A\n9,A\n")
	labels := mustRead(t, "id,x\n9,B cell\n7,T cell\n7,ignored\n")

	out, err := table.JoinOn(lookup, labels, "id")
	if err != nil {
		t.Fatalf("JoinOn: %v", err)
	}
	if !reflect.DeepEqual(out.Columns, []string{"id", "chunk_name", "x"}) {
		t.Fatalf("columns = %v", out.Columns)
	}
	want := [][]string{{"7", "A", "T cell"}, {"8", "A", ""}, {"9", "A", "B cell"}}
	if !reflect.DeepEqual(out.Rows, want) {
		t.Fatalf("rows = %v, want %v", out.Rows, want)
	}

	if _, err := table.JoinOn(lookup, mustRead(t, "x\nT\n"), "id"); !errors.Is(err, table.ErrColumnNotFound) {
		t.Fatalf("expected ErrColumnNotFound, got %v", err)
	}
}

func TestVConcatUnionsColumns(t *testing.T) {
	a := mustRead(t, "id,GeneA\n1,5\n")
	b := mustRead(t, "id,GeneB,GeneA\n2,7,6\n3,8,9\n")

	out := table.VConcat(a, b)
	if !reflect.DeepEqual(out.Columns, []string{"id", "GeneA", "GeneB"}) {
		t.Fatalf("columns = %v", out.Columns)
	}
	want := [][]string{{"1", "5", ""}, {"2", "6", "7"}, {"3", "9", "8"}}
	if !reflect.DeepEqual(out.Rows, want) {
		t.Fatalf("rows = %v, want %v", out.Rows, want)
	}
	if out.Len() != a.Len()+b.Len() {
		t.Fatalf("row count %d != %d", out.Len(), a.Len()+b.Len())
	}
}

func TestRename(t *testing.T) {
	tb := mustRead(t, "id,x\n1,T\n")
	tb.Rename(map[string]string{"x": "cell_type", "missing": "whatever"})
	if !reflect.DeepEqual(tb.Columns, []string{"id", "cell_type"}) {
		t.Fatalf("columns = %v", tb.Columns)
	}
}

func TestFileRoundTripCompressed(t *testing.T) {
	dir := t.TempDir()
	src := mustRead(t, "id,cell_type\n1,\"T cell, CD8\"\n2,\n")

	for _, name := range []string{"plain.csv", "chunk.csv.gz", "chunk.csv.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := table.WriteFile(path, src); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			got, err := table.ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if !reflect.DeepEqual(got, src) {
				t.Fatalf("round trip mismatch: got %+v want %+v", got, src)
			}
		})
	}

	raw, err := os.ReadFile(filepath.Join(dir, "plain.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "id,cell_type\n1,\"T cell, CD8\"\n2,\n" {
		t.Fatalf("unexpected plain output %q", raw)
	}
}

func TestReadFileMissing(t *testing.T) {
	_, err := table.ReadFile(filepath.Join(t.TempDir(), "nope.csv"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestReadMissingValueTokens(t *testing.T) {
	tb := mustRead(t, ",id,x,num_transcripts\n0,1,NA,NaN\n1,2,Tcell,null\n2,3,N/A,12\n")

	types, _ := tb.Column("x")
	if !reflect.DeepEqual(types, []string{"", "Tcell", ""}) {
		t.Errorf("x = %q", types)
	}
	counts, _ := tb.Column("num_transcripts")
	if !reflect.DeepEqual(counts, []string{"", "", "12"}) {
		t.Errorf("num_transcripts = %q", counts)
	}
	if !table.IsNA("NA") || !table.IsNA("") || table.IsNA("na") || table.IsNA("Tcell") {
		t.Error("IsNA does not match the pandas token list")
	}
}

func TestReadPadsShortRows(t *testing.T) {
	tb := mustRead(t, "id,cell_x,cell_y\n1,10\n2,20,30\n")
	if !reflect.DeepEqual(tb.Rows, [][]string{{"1", "10", ""}, {"2", "20", "30"}}) {
		t.Fatalf("rows = %q", tb.Rows)
	}

	if _, err := table.Read(strings.NewReader("id,x\n1,T,extra\n")); err == nil {
		t.Fatal("expected error for row longer than header")
	}
}

func TestReadKeepsValuesAsText(t *testing.T) {
	tb := mustRead(t, "id,cell_x\n007,1.50\n1e3,-0\n")
	if !reflect.DeepEqual(tb.Rows, [][]string{{"007", "1.50"}, {"1e3", "-0"}}) {
		t.Fatalf("rows = %q", tb.Rows)
	}
}

func TestWriteMissingValuesAsEmpty(t *testing.T) {
	a := mustRead(t, "id,x\n1,NA\n")
	b := mustRead(t, "id,y\n2,T\n")

	var buf strings.Builder
	if err := table.VConcat(a, b).Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got, want := buf.String(), "id,x,y\n1,,\n2,,T\n"; got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}
