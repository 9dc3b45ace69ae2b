package cleaner

import (
	"math"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/synaptica-ai/medrecords/pkg/common/logger"
	"github.com/synaptica-ai/medrecords/pkg/features"
	"github.com/synaptica-ai/medrecords/pkg/table"
)

func TestMain(m *testing.M) {
	logger.Silence()
	os.Exit(m.Run())
}

func mustRead(t *testing.T, domain, data string) *table.Table {
	t.Helper()
	tbl, err := table.ReadCSV(domain, strings.NewReader(data))
	if err != nil {
		t.Fatalf("failed to read fixture: %v", err)
	}
	return tbl
}

func TestDeduplicateIsIdempotent(t *testing.T) {
	tbl := mustRead(t, "tests",
		"person_id,feature,value\n1,Blood pressure,120/80\n1,Blood pressure,120/80\n2,Pulse,70\n1,Blood pressure,120/80\n,,\n,,\n")

	removed := Deduplicate(tbl)
	if removed != 3 {
		t.Fatalf("expected 3 duplicates removed, got %d", removed)
	}
	once := tbl.Clone()

	if again := Deduplicate(tbl); again != 0 {
		t.Fatalf("expected second pass to remove nothing, got %d", again)
	}
	if !reflect.DeepEqual(once.Rows, tbl.Rows) {
		t.Fatal("second deduplicate changed the table")
	}
	if tbl.Rows[0]["value"] != "120/80" || tbl.Rows[1]["feature"] != "Pulse" {
		t.Fatal("expected first occurrences to be kept in order")
	}
}

func TestDeduplicateTreatsNaNAsEqual(t *testing.T) {
	tbl := table.New("labs", "value")
	tbl.Append(table.Row{"value": math.NaN()})
	tbl.Append(table.Row{"value": math.NaN()})
	if removed := Deduplicate(tbl); removed != 1 {
		t.Fatalf("expected NaN rows to be duplicates, got %d removed", removed)
	}
}

func TestDeduplicateKeepsRowsThatDifferOnlyBySeparator(t *testing.T) {
	tbl := table.New("tests", "a", "b")
	tbl.Append(table.Row{"a": "x\x1fstring=y", "b": "z"})
	tbl.Append(table.Row{"a": "x", "b": "y\x1fstring=z"})
	if removed := Deduplicate(tbl); removed != 0 {
		t.Fatalf("distinct rows were deduplicated, %d removed", removed)
	}
	if tbl.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", tbl.Len())
	}
}

func TestFlagMissing(t *testing.T) {
	tbl := mustRead(t, "lifestyle",
		"person_id,smoker,report_date\n1,yes,2023-01-01\n2,,2023-01-02\n3,no,\n4,,2023-01-04\n")

	flagged := FlagMissing(tbl)
	if !reflect.DeepEqual(flagged, []string{"smoker", "report_date"}) {
		t.Fatalf("unexpected flagged columns %v", flagged)
	}
	if tbl.HasColumn("person_id" + MissingSuffix) {
		t.Fatal("indicator added for a complete column")
	}

	ones := 0
	for _, row := range tbl.Rows {
		if row["smoker_missing"] == int64(1) {
			ones++
			if row["smoker"] != nil {
				t.Fatal("indicator set on a present value")
			}
		} else if row["smoker_missing"] != int64(0) {
			t.Fatalf("unexpected indicator value %v", row["smoker_missing"])
		}
	}
	if ones != 2 {
		t.Fatalf("expected 2 missing smoker cells, got %d", ones)
	}
	if tbl.Rows[0]["smoker"] != "yes" || tbl.Rows[2]["smoker"] != "no" {
		t.Fatal("source values were modified")
	}
	want := []string{"person_id", "smoker", "report_date", "smoker_missing", "report_date_missing"}
	if !reflect.DeepEqual(tbl.Columns, want) {
		t.Fatalf("unexpected columns %v", tbl.Columns)
	}
}

func TestFlagMissingRecomputesExistingIndicators(t *testing.T) {
	tbl := table.New("lifestyle", "person_id", "smoker", "smoker_missing", "report_date", "report_date_missing")
	tbl.Append(table.Row{"person_id": float64(1), "smoker": "yes", "smoker_missing": "no", "report_date": "2023-01-01", "report_date_missing": nil})
	tbl.Append(table.Row{"person_id": float64(2), "smoker": nil, "smoker_missing": nil, "report_date": "2023-01-02", "report_date_missing": nil})

	flagged := FlagMissing(tbl)
	if !reflect.DeepEqual(flagged, []string{"smoker"}) {
		t.Fatalf("unexpected flagged columns %v", flagged)
	}
	want := []string{"person_id", "smoker", "smoker_missing", "report_date", "report_date_missing"}
	if !reflect.DeepEqual(tbl.Columns, want) {
		t.Fatalf("indicator columns should not be flagged themselves, got %v", tbl.Columns)
	}
	if tbl.Rows[0]["smoker_missing"] != int64(0) || tbl.Rows[1]["smoker_missing"] != int64(1) {
		t.Fatalf("expected derived smoker indicator, got %v %v", tbl.Rows[0]["smoker_missing"], tbl.Rows[1]["smoker_missing"])
	}
	if tbl.Rows[0]["report_date_missing"] != int64(0) || tbl.Rows[1]["report_date_missing"] != int64(0) {
		t.Fatal("expected stale indicator on a complete column to be reset to 0")
	}
}

func TestFlagMissingOnCompleteTable(t *testing.T) {
	tbl := mustRead(t, "rx", "person_id,rx_name\n1,a\n")
	if flagged := FlagMissing(tbl); len(flagged) != 0 {
		t.Fatalf("expected nothing flagged, got %v", flagged)
	}
	if len(tbl.Columns) != 2 {
		t.Fatalf("unexpected columns %v", tbl.Columns)
	}
}

func TestStandardizeDatesNeverFails(t *testing.T) {
	tbl := mustRead(t, "conditions",
		"person_id,report_date\n1,2023-01-05\n2,yesterday\n3,\n4,02/30/2023\n5,03/15/2023\n")

	issues := StandardizeDates(tbl, "report_date")
	if len(issues) != 2 {
		t.Fatalf("expected 2 invalid dates, got %d", len(issues))
	}
	if issues[0].Row != 1 || issues[0].Kind != "date" {
		t.Fatalf("unexpected issue %+v", issues[0])
	}
	got, ok := tbl.Rows[0]["report_date"].(time.Time)
	if !ok || !got.Equal(time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected parsed date %v", tbl.Rows[0]["report_date"])
	}
	if _, ok := tbl.Rows[1]["report_date"].(table.InvalidDate); !ok {
		t.Fatalf("expected invalid marker, got %T", tbl.Rows[1]["report_date"])
	}
	if tbl.Rows[2]["report_date"] != nil {
		t.Fatal("missing date should stay missing")
	}

	if issues := StandardizeDates(tbl, "no_such_column"); issues != nil {
		t.Fatalf("expected absent column to be skipped, got %v", issues)
	}
}

func TestRxCleanIsIdempotent(t *testing.T) {
	rx, err := Lookup(Domains(features.DefaultPolicy()), "rx")
	if err != nil {
		t.Fatal(err)
	}
	tbl := mustRead(t, "rx_ae",
		"person_id,rx_name,rx_norm,rx_date\n1, flomax ,tamsulosin,2023-02-01\n1,Lisinopril,,2023-03-01\n")

	report := rx.Clean(tbl)
	if tbl.Domain != "rx" || report.Domain != "rx" {
		t.Fatalf("expected domain to be set, got %s/%s", tbl.Domain, report.Domain)
	}
	if tbl.Rows[0]["rx_name"] != "FLOMAX" || tbl.Rows[0]["rx_norm"] != "TAMSULOSIN" {
		t.Fatalf("drug names not normalized: %v", tbl.Rows[0])
	}
	if tbl.Rows[1]["rx_norm"] != nil {
		t.Fatal("missing drug name must stay missing")
	}
	first := tbl.Clone()

	NormalizeDrugNames("rx_name", "rx_norm")(tbl, &Report{})
	if !reflect.DeepEqual(first.Rows, tbl.Rows) {
		t.Fatal("normalizing twice changed the table")
	}

	mapping := rx.DeriveFeatures(tbl)
	if b, _ := mapping[features.TakingAlphaBlockers].AsBool(); !b {
		t.Fatal("expected alpha-blocker after normalization")
	}
}

func TestLabsCleanCoercesValues(t *testing.T) {
	labs, err := Lookup(Domains(features.DefaultPolicy()), "LABS")
	if err != nil {
		t.Fatal(err)
	}
	tbl := mustRead(t, "labs",
		"person_id,feature,value,feature_date\n"+
			"1,LDL,120,2023-01-01\n"+
			"1,LDL,135,2023-02-01\n"+
			"1,LDL,140,not-a-date\n"+
			"1,LDL,pending,2023-04-01\n"+
			"1,Hemoglobin (HGB),10,2023-01-01\n"+
			"1,Hemoglobin (HGB),12,2023-06-01\n"+
			"1,Hemoglobin (HGB),12,2023-06-01\n")

	report := labs.Clean(tbl)
	if report.DuplicatesRemoved != 1 {
		t.Fatalf("expected 1 duplicate, got %d", report.DuplicatesRemoved)
	}
	if report.NonNumeric != 1 || report.InvalidDates != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(report.Issues) != 2 {
		t.Fatalf("expected two recorded issues, got %d", len(report.Issues))
	}
	if f, ok := tbl.Rows[3]["value"].(float64); !ok || !math.IsNaN(f) {
		t.Fatalf("expected NaN for non-numeric value, got %v", tbl.Rows[3]["value"])
	}

	mapping := labs.DeriveFeatures(tbl)
	if n, _ := mapping[features.HighCholesterolEventCount].AsCount(); n != 2 {
		t.Fatalf("expected 2 high cholesterol events, got %d", n)
	}
	if v, _ := mapping[features.MostRecentHGB].AsNumber(); v != 12 {
		t.Fatalf("expected most recent hgb 12, got %v", v)
	}
	if mapping[features.MostRecentA1c].Available() {
		t.Fatal("expected a1c to be not-available")
	}
}

func TestDomainCleanOnEmptyTable(t *testing.T) {
	for _, d := range Domains(features.DefaultPolicy()) {
		tbl := table.New(d.Name, "person_id", d.DateColumn)
		report := d.Clean(tbl)
		if report.RowsOut != 0 || report.InvalidDates != 0 {
			t.Fatalf("%s: unexpected report %+v", d.Name, report)
		}
		mapping := d.DeriveFeatures(tbl)
		for name, v := range features.Defaults(d.Name) {
			if mapping[name] != v {
				t.Fatalf("%s: expected default %v for %s, got %v", d.Name, v, name, mapping[name])
			}
		}
	}
}

func TestLookupUnknownDomain(t *testing.T) {
	if _, err := Lookup(Domains(features.DefaultPolicy()), "vitals"); err == nil {
		t.Fatal("expected error for unknown domain")
	}
}
