package features

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/synaptica-ai/medrecords/pkg/table"
)

func patientTables() map[string]*table.Table {
	lifestyle := table.New(DomainLifestyle, ColPersonID, ColReportDate)
	lifestyle.Append(table.Row{ColPersonID: float64(7), ColReportDate: date(2023, 5, 1)})

	rx := table.New(DomainRx, ColPersonID, "rx_name", ColRxDate)
	rx.Append(table.Row{ColPersonID: float64(7), "rx_name": "FLOMAX", ColRxDate: date(2023, 2, 1)})

	labs := labsTable(
		table.Row{ColFeature: "Hemoglobin (HGB)", ColValue: float64(10), ColFeatureDate: date(2023, 1, 1)},
		table.Row{ColFeature: "Hemoglobin (HGB)", ColValue: float64(12), ColFeatureDate: date(2023, 6, 1)},
		table.Row{ColFeature: "LDL", ColValue: float64(140), ColFeatureDate: date(2023, 6, 1)},
	)

	tests := table.New(DomainTests, ColFeature, ColValue, ColReportDate)
	tests.Append(table.Row{ColFeature: "Blood pressure", ColValue: "120/80", ColReportDate: date(2023, 3, 1)})
	tests.Append(table.Row{ColFeature: "Blood pressure", ColValue: "130/90", ColReportDate: date(2023, 4, 1)})

	return map[string]*table.Table{
		DomainLifestyle:  lifestyle,
		DomainRx:         rx,
		DomainConditions: table.New(DomainConditions, ColPersonID, ColReportDate),
		DomainLabs:       labs,
		DomainTests:      tests,
	}
}

func TestAggregateWithEmptyDomain(t *testing.T) {
	agg := NewAggregator(DefaultPolicy())
	out := agg.Aggregate("7", patientTables())

	if len(out.EmptyDomains) != 1 || out.EmptyDomains[0] != DomainConditions {
		t.Fatalf("expected conditions to be reported empty, got %v", out.EmptyDomains)
	}
	if n, ok := out.Features[UniqueEncountersConditions].AsCount(); !ok || n != 0 {
		t.Fatalf("expected zero encounters for empty conditions, got %v", out.Features[UniqueEncountersConditions])
	}
	if b, ok := out.Features[TakingAlphaBlockers].AsBool(); !ok || !b {
		t.Fatal("expected alpha-blocker flag")
	}
	if v, _ := out.Features[MostRecentHGB].AsNumber(); v != 12 {
		t.Fatalf("expected hgb 12, got %v", v)
	}
	if out.Features[MostRecentA1c].Available() {
		t.Fatal("expected a1c to be not-available")
	}
	if n, _ := out.Features[HighCholesterolEventCount].AsCount(); n != 1 {
		t.Fatalf("expected 1 cholesterol event, got %d", n)
	}
	if v, _ := out.Features[AverageSystolicBP].AsNumber(); v != 125 {
		t.Fatalf("expected systolic 125, got %v", v)
	}
	if len(out.Features) != len(Catalog) {
		t.Fatalf("expected %d features, got %d", len(Catalog), len(out.Features))
	}
}

func TestAggregateWithAbsentDomains(t *testing.T) {
	agg := NewAggregator(DefaultPolicy())
	out := agg.Aggregate("1", map[string]*table.Table{})

	if len(out.EmptyDomains) != len(DomainNames) {
		t.Fatalf("expected every domain empty, got %v", out.EmptyDomains)
	}
	for _, def := range Catalog {
		got := out.Features[def.Name]
		if got != def.Default() {
			t.Fatalf("%s: expected default %v, got %v", def.Name, def.Default(), got)
		}
	}
	if b, ok := out.Features[TakingAlphaBlockers].AsBool(); !ok || b {
		t.Fatal("expected explicit false for missing prescriptions")
	}
	if out.Features[AverageDiastolicBP].Available() {
		t.Fatal("expected blood pressure to be not-available")
	}
}

func TestDerivedEmptyTablesMatchDefaults(t *testing.T) {
	agg := NewAggregator(DefaultPolicy())
	for _, domain := range DomainNames {
		derived := Derivers(DefaultPolicy())[domain](table.New(domain))
		defaults := agg.Derive(domain, table.New(domain))
		for name, v := range defaults {
			if derived[name] != v {
				t.Fatalf("%s: derivation on empty table gave %v, default is %v", name, derived[name], v)
			}
		}
	}
}

func TestMappingJSONUsesNullForNotAvailable(t *testing.T) {
	m := Mapping{
		TakingAlphaBlockers:       Bool(false),
		MostRecentHGB:             NotAvailable(),
		HighCholesterolEventCount: Count(0),
		AverageSystolicBP:         Number(125.5),
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if v, ok := decoded[MostRecentHGB]; !ok || v != nil {
		t.Fatalf("expected explicit null, got %v", v)
	}
	if decoded[TakingAlphaBlockers] != false || decoded[HighCholesterolEventCount] != float64(0) {
		t.Fatalf("false and zero must not collapse to null: %v", decoded)
	}
}

func TestFromKindRoundTrip(t *testing.T) {
	for _, v := range []Value{Bool(true), Count(3), Number(12.5), NotAvailable()} {
		back, err := FromKind(v.Kind().String(), v.Interface())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if back != v {
			t.Fatalf("round trip changed %v into %v", v, back)
		}
	}
	if _, err := FromKind("bool", "yes"); err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestLoadPolicy(t *testing.T) {
	p, err := LoadPolicy("")
	if err != nil || p.CholesterolThreshold != 130 {
		t.Fatalf("expected defaults, got %+v (%v)", p, err)
	}

	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := "alpha_blocker_names: [flomax, tamsulosin]\ncholesterol_threshold: 160\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err = LoadPolicy(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.CholesterolThreshold != 160 || len(p.AlphaBlockerNames) != 2 {
		t.Fatalf("policy not applied: %+v", p)
	}
	if p.EncounterWindowMonths != 6 || p.LDLFeature != "LDL" {
		t.Fatalf("expected unspecified fields to keep defaults: %+v", p)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("encounter_window_months: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPolicy(bad); err == nil {
		t.Fatal("expected validation error")
	}
}
