package frame

import (
	"testing"

	"modelgate/internal/tensor"
)

func TestParseRecordsKeepsColumnOrder(t *testing.T) {
	f, err := Parse([]byte(`[{"col1": 1, "col2": "a"}, {"col1": 2, "col2": "b"}]`), OrientRecords)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	names := f.Names()
	if len(names) != 2 || names[0] != "col1" || names[1] != "col2" {
		t.Fatalf("unexpected column order %v", names)
	}
	col, ok := f.Column("col1")
	if !ok || col.DType != tensor.Int64 {
		t.Fatalf("expected int64 col1, got %+v", col)
	}
	if col.Values[1] != int64(2) {
		t.Fatalf("unexpected value %v", col.Values[1])
	}
}

func TestParseColumnsOrientation(t *testing.T) {
	f, err := Parse([]byte(`{"x": [1.5, 2.5], "y": [true, false]}`), OrientColumns)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	x, _ := f.Column("x")
	if x.DType != tensor.Float64 {
		t.Fatalf("expected float64 x, got %s", x.DType)
	}
	y, _ := f.Column("y")
	if y.DType != tensor.Bool {
		t.Fatalf("expected bool y, got %s", y.DType)
	}
	if f.NumRows() != 2 {
		t.Fatalf("expected 2 rows, got %d", f.NumRows())
	}
}

func TestMixedIntFloatWidens(t *testing.T) {
	f, err := Parse([]byte(`[{"v": 1}, {"v": 2.5}]`), OrientRecords)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	col, _ := f.Column("v")
	if col.DType != tensor.Float64 {
		t.Fatalf("expected widened float64, got %s", col.DType)
	}
	if col.Values[0] != float64(1) {
		t.Fatalf("expected converted float, got %T %v", col.Values[0], col.Values[0])
	}
}

func TestRoundTripBothOrientations(t *testing.T) {
	for _, orient := range []Orient{OrientRecords, OrientColumns} {
		orig := New()
		if err := orig.AddColumn("col1", tensor.Int64, []any{int64(1), int64(2)}); err != nil {
			t.Fatalf("add column: %v", err)
		}
		if err := orig.AddColumn("col2", tensor.Str, []any{"a", "b"}); err != nil {
			t.Fatalf("add column: %v", err)
		}
		raw, err := orig.Marshal(orient)
		if err != nil {
			t.Fatalf("marshal %s failed: %v", orient, err)
		}
		back, err := Parse(raw, orient)
		if err != nil {
			t.Fatalf("parse %s failed: %v", orient, err)
		}
		if !orig.Equal(back) {
			t.Fatalf("%s round trip mismatch", orient)
		}
	}
}

func TestRecordMissingColumnFails(t *testing.T) {
	_, err := Parse([]byte(`[{"a": 1}, {"b": 2}]`), OrientRecords)
	if err == nil {
		t.Fatal("expected missing column to fail")
	}
}
