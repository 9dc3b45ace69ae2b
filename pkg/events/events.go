package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/synaptica-ai/medrecords/pkg/common/models"
)

const (
	TypeFeaturesDerived = "features.derived"
	TypeRecordsUpdated  = "records.updated"
)

// Publisher is satisfied by kafka.Producer.
type Publisher interface {
	PublishEvent(ctx context.Context, partitionKey, eventType, source string, data map[string]interface{}) error
}

// RecordsUpdated announces that a patient's stored rows changed and their
// features should be recomputed.
type RecordsUpdated struct {
	PersonID string   `json:"person_id"`
	Domains  []string `json:"domains,omitempty"`
	RunID    string   `json:"run_id,omitempty"`
}

func PublishFeatures(ctx context.Context, pub Publisher, source string, set models.FeatureSet) error {
	data := map[string]interface{}{
		"person_id": set.PatientID,
		"run_id":    set.RunID,
		"features":  set.Features,
		"version":   set.Version,
	}
	return pub.PublishEvent(ctx, set.PatientID, TypeFeaturesDerived, source, data)
}

func PublishRecordsUpdated(ctx context.Context, pub Publisher, source string, msg RecordsUpdated) error {
	data := map[string]interface{}{
		"person_id": msg.PersonID,
		"domains":   msg.Domains,
		"run_id":    msg.RunID,
	}
	return pub.PublishEvent(ctx, msg.PersonID, TypeRecordsUpdated, source, data)
}

// ParseRecordsUpdated decodes a records.updated event.
func ParseRecordsUpdated(event models.Event) (RecordsUpdated, error) {
	if event.Type != TypeRecordsUpdated {
		return RecordsUpdated{}, fmt.Errorf("unexpected event type %q", event.Type)
	}
	if event.Data == nil {
		return RecordsUpdated{}, errors.New("event data missing")
	}
	raw, err := json.Marshal(event.Data)
	if err != nil {
		return RecordsUpdated{}, err
	}
	var msg RecordsUpdated
	if err := json.Unmarshal(raw, &msg); err != nil {
		return RecordsUpdated{}, err
	}
	if msg.PersonID == "" {
		return RecordsUpdated{}, errors.New("person_id missing")
	}
	return msg, nil
}
