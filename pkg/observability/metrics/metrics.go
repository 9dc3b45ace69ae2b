package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync/atomic"
)

var (
	rowsLoaded         atomic.Int64
	duplicatesRemoved  atomic.Int64
	missingFlagged     atomic.Int64
	invalidDates       atomic.Int64
	nonNumericValues   atomic.Int64
	loadFailures       atomic.Int64
	rowsPersisted      atomic.Int64
	persistFailures    atomic.Int64
	patientsDerived    atomic.Int64
	featureCacheHits   atomic.Int64
	featureCacheMisses atomic.Int64
)

type metric struct {
	name  string
	help  string
	value *atomic.Int64
}

var registry = []metric{
	{"medrecords_rows_loaded_total", "Rows read from domain extracts.", &rowsLoaded},
	{"medrecords_duplicates_removed_total", "Exact duplicate rows dropped during cleaning.", &duplicatesRemoved},
	{"medrecords_missing_columns_flagged_total", "Columns that received a missing-value indicator.", &missingFlagged},
	{"medrecords_invalid_dates_total", "Date cells that could not be parsed.", &invalidDates},
	{"medrecords_non_numeric_values_total", "Lab values coerced to NaN.", &nonNumericValues},
	{"medrecords_load_failures_total", "Domain extracts that failed to load.", &loadFailures},
	{"medrecords_rows_persisted_total", "Cleaned rows appended to storage.", &rowsPersisted},
	{"medrecords_persist_failures_total", "Failed storage appends.", &persistFailures},
	{"medrecords_patients_derived_total", "Patients with a derived feature set.", &patientsDerived},
	{"medrecords_feature_cache_hits_total", "Feature reads served from the online cache.", &featureCacheHits},
	{"medrecords_feature_cache_misses_total", "Feature reads that had to be recomputed.", &featureCacheMisses},
}

func ObserveClean(rowsIn, duplicates, flagged, invalid, nonNumeric int) {
	rowsLoaded.Add(int64(rowsIn))
	duplicatesRemoved.Add(int64(duplicates))
	missingFlagged.Add(int64(flagged))
	invalidDates.Add(int64(invalid))
	nonNumericValues.Add(int64(nonNumeric))
}

func ObserveLoadFailure() {
	loadFailures.Add(1)
}

func ObservePersist(rows int, err error) {
	if err != nil {
		persistFailures.Add(1)
		return
	}
	rowsPersisted.Add(int64(rows))
}

func ObservePatients(n int) {
	patientsDerived.Add(int64(n))
}

func ObserveFeatureCache(hit bool) {
	if hit {
		featureCacheHits.Add(1)
		return
	}
	featureCacheMisses.Add(1)
}

// Snapshot returns the current counter values keyed by metric name.
func Snapshot() map[string]int64 {
	out := make(map[string]int64, len(registry))
	for _, m := range registry {
		out[m.name] = m.value.Load()
	}
	return out
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	sorted := make([]metric, len(registry))
	copy(sorted, registry)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].name < sorted[j].name })
	for _, m := range sorted {
		fmt.Fprintf(w, "# HELP %s %s\n", m.name, m.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", m.name)
		fmt.Fprintf(w, "%s %d\n", m.name, m.value.Load())
	}
}
