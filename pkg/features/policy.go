package features

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy holds the clinical definitions the feature functions apply. It is
// passed into the pipeline rather than read from process state.
type Policy struct {
	AlphaBlockerNames     []string `yaml:"alpha_blocker_names" json:"alpha_blocker_names"`
	CholesterolThreshold  float64  `yaml:"cholesterol_threshold" json:"cholesterol_threshold"`
	LDLFeature            string   `yaml:"ldl_feature" json:"ldl_feature"`
	BloodPressureFeature  string   `yaml:"blood_pressure_feature" json:"blood_pressure_feature"`
	HemoglobinFeature     string   `yaml:"hemoglobin_feature" json:"hemoglobin_feature"`
	A1cFeature            string   `yaml:"a1c_feature" json:"a1c_feature"`
	EncounterWindowMonths int      `yaml:"encounter_window_months" json:"encounter_window_months"`
	DrugNameColumns       []string `yaml:"drug_name_columns" json:"drug_name_columns"`
}

func DefaultPolicy() Policy {
	return Policy{
		AlphaBlockerNames:     []string{"FLOMAX"},
		CholesterolThreshold:  130,
		LDLFeature:            "LDL",
		BloodPressureFeature:  "Blood pressure",
		HemoglobinFeature:     "Hemoglobin (HGB)",
		A1cFeature:            "A1c",
		EncounterWindowMonths: 6,
		DrugNameColumns:       []string{"rx_name", "rx_norm"},
	}
}

// LoadPolicy reads a YAML policy file. Fields left out of the file keep their
// defaults; an empty path yields DefaultPolicy.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return policy, err
	}
	if err := yaml.Unmarshal(content, &policy); err != nil {
		return DefaultPolicy(), err
	}
	if err := policy.Validate(); err != nil {
		return DefaultPolicy(), err
	}
	return policy, nil
}

func (p Policy) Validate() error {
	if len(p.AlphaBlockerNames) == 0 {
		return errors.New("policy: at least one alpha-blocker name is required")
	}
	if p.EncounterWindowMonths <= 0 {
		return errors.New("policy: encounter window must be positive")
	}
	if strings.TrimSpace(p.LDLFeature) == "" || strings.TrimSpace(p.BloodPressureFeature) == "" {
		return errors.New("policy: lab and test feature labels are required")
	}
	if len(p.DrugNameColumns) == 0 {
		return errors.New("policy: at least one drug name column is required")
	}
	return nil
}

// alphaBlockerSet returns the configured names in normalized form.
func (p Policy) alphaBlockerSet() map[string]struct{} {
	set := make(map[string]struct{}, len(p.AlphaBlockerNames))
	for _, name := range p.AlphaBlockerNames {
		set[NormalizeDrugName(name)] = struct{}{}
	}
	return set
}

// NormalizeDrugName is the canonical form drug names are compared in.
func NormalizeDrugName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
