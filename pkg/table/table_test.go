package table

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestReadCSVInfersColumnTypes(t *testing.T) {
	data := "person_id,feature,value,feature_date\n" +
		"1,LDL,120,2023-01-01\n" +
		"1,LDL,pending,2023-02-01\n" +
		"2,A1c,,2023-03-01\n"

	tbl, err := ReadCSV("labs", strings.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tbl.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", tbl.Len())
	}
	if _, ok := tbl.Rows[0]["person_id"].(float64); !ok {
		t.Fatalf("expected numeric person_id, got %T", tbl.Rows[0]["person_id"])
	}
	if _, ok := tbl.Rows[0]["value"].(string); !ok {
		t.Fatalf("expected mixed value column to stay text, got %T", tbl.Rows[0]["value"])
	}
	if tbl.Rows[2]["value"] != nil {
		t.Fatalf("expected empty cell to be missing, got %v", tbl.Rows[2]["value"])
	}
	if strings.Join(tbl.Columns, ",") != "person_id,feature,value,feature_date" {
		t.Fatalf("column order not preserved: %v", tbl.Columns)
	}
}

func TestReadCSVRejectsMalformedSources(t *testing.T) {
	cases := map[string]string{
		"empty":     "",
		"ragged":    "a,b\n1,2,3\n",
		"duplicate": "a,a\n1,2\n",
		"blank":     "a,,c\n1,2,3\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ReadCSV("x", strings.NewReader(data)); err == nil {
				t.Fatal("expected parse failure")
			}
		})
	}
}

func TestCSVLoaderWrapsFailuresInLoadError(t *testing.T) {
	dir := t.TempDir()
	loader := NewCSVLoader(dir)

	_, err := loader.Load(context.Background(), "missing.csv")
	if !IsLoadError(err) {
		t.Fatalf("expected LoadError, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "rx_ae.csv"), []byte("person_id,rx_name\n1,flomax\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	tbl, err := loader.Load(context.Background(), "rx_ae.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tbl.Domain != "rx_ae" || tbl.Len() != 1 {
		t.Fatalf("unexpected table %s with %d rows", tbl.Domain, tbl.Len())
	}
}

func TestParseDateLayouts(t *testing.T) {
	want := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{"2023-06-01", "06/01/2023", "6/1/2023", "2023/06/01", "20230601", "Jun 1, 2023"} {
		got, ok := ParseDate(raw)
		if !ok {
			t.Fatalf("expected %q to parse", raw)
		}
		if !got.Equal(want) {
			t.Fatalf("%q parsed as %s", raw, got)
		}
	}
	for _, raw := range []string{"2023-6-1", "6/1/23", "2023/6/1", "6-1-2023", "1-Jun-23", "1 June 2023"} {
		got, ok := ParseDate(raw)
		if !ok || !got.Equal(want) {
			t.Fatalf("expected %q to parse as %s, got %s %v", raw, want, got, ok)
		}
	}
	withTime := time.Date(2023, 6, 1, 8, 30, 0, 0, time.UTC)
	for _, raw := range []string{"2023-06-01 08:30", "2023-6-1 8:30", "6/1/23 08:30"} {
		got, ok := ParseDate(raw)
		if !ok || !got.Equal(withTime) {
			t.Fatalf("expected %q to parse as %s, got %s %v", raw, withTime, got, ok)
		}
	}
	for _, raw := range []string{"", "not a date", "2023-13-45", "15", "2023", "08:30", "02/30/2023"} {
		if _, ok := ParseDate(raw); ok {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
	if got, ok := ParseDateValue(float64(20230601)); !ok || !got.Equal(want) {
		t.Fatalf("expected numeric yyyymmdd to parse, got %s %v", got, ok)
	}
}

func TestSubMonthsClampsToMonthEnd(t *testing.T) {
	cases := []struct {
		in   time.Time
		n    int
		want time.Time
	}{
		{time.Date(2023, 8, 31, 0, 0, 0, 0, time.UTC), 6, time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 8, 31, 0, 0, 0, 0, time.UTC), 6, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{time.Date(2023, 3, 15, 0, 0, 0, 0, time.UTC), 6, time.Date(2022, 9, 15, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), 18, time.Date(2022, 7, 10, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := SubMonths(tc.in, tc.n); !got.Equal(tc.want) {
			t.Fatalf("SubMonths(%s, %d) = %s, want %s", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestGroupByUsesRenderedKeys(t *testing.T) {
	tbl := New("rx", "person_id", "rx_name")
	tbl.Append(Row{"person_id": float64(1), "rx_name": "A"})
	tbl.Append(Row{"person_id": "2", "rx_name": "B"})
	tbl.Append(Row{"person_id": float64(1), "rx_name": "C"})
	tbl.Append(Row{"person_id": nil, "rx_name": "D"})

	groups, keys := tbl.GroupBy("person_id")
	if len(keys) != 2 || keys[0] != "1" || keys[1] != "2" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if groups["1"].Len() != 2 {
		t.Fatalf("expected two rows for person 1, got %d", groups["1"].Len())
	}
}

func TestRecordsExportsInvalidCellsAsNull(t *testing.T) {
	tbl := New("labs", "value", "feature_date", "note")
	tbl.Rows = append(tbl.Rows, Row{"value": math.NaN(), "feature_date": InvalidDate{Raw: "soon"}})

	recs := tbl.Records()
	if recs[0]["value"] != nil || recs[0]["feature_date"] != nil {
		t.Fatalf("expected nulls, got %v", recs[0])
	}
	if _, ok := recs[0]["note"]; !ok {
		t.Fatal("expected every declared column in the record")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	tbl := New("rx", "rx_name")
	tbl.Append(Row{"rx_name": "flomax"})
	cp := tbl.Clone()
	cp.Rows[0]["rx_name"] = "FLOMAX"
	if tbl.Rows[0]["rx_name"] != "flomax" {
		t.Fatal("clone shares row storage with original")
	}
}
