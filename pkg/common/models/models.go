package models

import (
	"time"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // features.derived, records.updated
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Feature Store
type Feature struct {
	Name      string      `json:"name"`
	Kind      string      `json:"kind"` // bool, number, count, not_available
	Value     interface{} `json:"value"`
	Timestamp time.Time   `json:"timestamp"`
}

type FeatureSet struct {
	PatientID string             `json:"patient_id"`
	RunID     string             `json:"run_id,omitempty"`
	Features  map[string]Feature `json:"features"`
	Version   int                `json:"version"`
}

// PersonRecords is the raw view of one patient across the five domains.
type PersonRecords struct {
	PersonID string                              `json:"person_id"`
	Data     map[string][]map[string]interface{} `json:"data"`
}

// PersonFeatures is the derived view of one patient.
type PersonFeatures struct {
	PersonID     string                 `json:"person_id"`
	Features     map[string]interface{} `json:"features"`
	EmptyDomains []string               `json:"empty_domains,omitempty"`
	Source       string                 `json:"source"` // cache, computed
}

// RunSummary describes one batch pipeline run.
type RunSummary struct {
	RunID       string         `json:"run_id"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Rows        map[string]int `json:"rows"`
	FailedLoads []string       `json:"failed_loads,omitempty"`
	Patients    int            `json:"patients"`
}
