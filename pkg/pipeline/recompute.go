package pipeline

import (
	"context"
	"time"

	"github.com/synaptica-ai/medrecords/pkg/common/logger"
	"github.com/synaptica-ai/medrecords/pkg/common/models"
	"github.com/synaptica-ai/medrecords/pkg/events"
	"github.com/synaptica-ai/medrecords/pkg/observability/metrics"
	"github.com/synaptica-ai/medrecords/pkg/storage"
)

// Recomputer refreshes one patient's features when a records.updated event
// arrives.
type Recomputer struct {
	people    *PersonService
	store     FeatureStore
	publisher events.Publisher
	source    string
}

// NewRecomputer wires the event handler. publisher may be nil.
func NewRecomputer(people *PersonService, store FeatureStore, publisher events.Publisher, source string) *Recomputer {
	return &Recomputer{people: people, store: store, publisher: publisher, source: source}
}

// HandleEvent matches kafka.EventHandler. Malformed events are dropped;
// a failed store write is returned so the consumer retries it and never
// commits past it.
func (r *Recomputer) HandleEvent(ctx context.Context, event models.Event) error {
	msg, err := events.ParseRecordsUpdated(event)
	if err != nil {
		logger.Log.WithError(err).WithField("event_id", event.ID).Warn("skipping malformed records event")
		return nil
	}

	pf := r.people.Features(ctx, msg.PersonID)
	set := storage.ToFeatureSet(pf, msg.RunID, time.Now().UTC())
	if err := r.store.BuildFeatures(ctx, set); err != nil {
		metrics.ObservePersist(1, err)
		return &storage.PersistError{Domain: featureTable, Rows: 1, Err: err}
	}
	metrics.ObservePatients(1)
	if err := r.store.MaterializeHotFeatures(ctx, set); err != nil {
		logger.Log.WithError(err).WithField("person_id", msg.PersonID).Warn("failed to cache features")
	}
	if r.publisher != nil {
		if err := events.PublishFeatures(ctx, r.publisher, r.source, set); err != nil {
			logger.Log.WithError(err).WithField("person_id", msg.PersonID).Warn("failed to announce features")
		}
	}

	logger.Log.WithFields(map[string]interface{}{
		"person_id":     msg.PersonID,
		"run_id":        msg.RunID,
		"empty_domains": pf.EmptyDomains,
	}).Info("Recomputed features")
	return nil
}
