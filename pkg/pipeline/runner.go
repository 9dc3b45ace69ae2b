package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/medrecords/pkg/cleaner"
	"github.com/synaptica-ai/medrecords/pkg/common/logger"
	"github.com/synaptica-ai/medrecords/pkg/common/models"
	"github.com/synaptica-ai/medrecords/pkg/events"
	"github.com/synaptica-ai/medrecords/pkg/features"
	"github.com/synaptica-ai/medrecords/pkg/observability/metrics"
	"github.com/synaptica-ai/medrecords/pkg/storage"
	"github.com/synaptica-ai/medrecords/pkg/table"
	"golang.org/x/sync/errgroup"
)

const featureTable = "patient_features"

// FeatureStore is satisfied by storage.FeatureStore.
type FeatureStore interface {
	BuildFeatures(ctx context.Context, set models.FeatureSet) error
	MaterializeHotFeatures(ctx context.Context, set models.FeatureSet) error
}

type Options struct {
	// Sources maps a domain name to the extract loaded for it. Domains
	// without a source are treated as empty.
	Sources map[string]string
	// Workers bounds per-patient derivation concurrency.
	Workers int
	// DeriveFeatures computes features in the run; otherwise a
	// records.updated event is announced per patient instead.
	DeriveFeatures bool
	// EventSource names this process on published events.
	EventSource string
}

// Runner executes one batch: load, clean, persist, derive.
type Runner struct {
	loader     table.Loader
	sink       storage.Sink
	store      FeatureStore
	publisher  events.Publisher
	domains    []cleaner.Domain
	aggregator *features.Aggregator
	opts       Options
}

// NewRunner wires a batch runner. sink, store and publisher may be nil.
func NewRunner(loader table.Loader, sink storage.Sink, store FeatureStore, publisher events.Publisher, policy features.Policy, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.EventSource == "" {
		opts.EventSource = "medrecords-pipeline"
	}
	return &Runner{
		loader:     loader,
		sink:       sink,
		store:      store,
		publisher:  publisher,
		domains:    cleaner.Domains(policy),
		aggregator: features.NewAggregator(policy),
		opts:       opts,
	}
}

type DomainResult struct {
	Table   *table.Table
	Report  cleaner.Report
	LoadErr error
}

type Result struct {
	RunID    string
	Domains  map[string]*DomainResult
	Features []features.PersonFeatures
	Summary  models.RunSummary
}

// Run processes every domain. A domain whose source fails to load continues
// as an empty table; a failed persist aborts the run with a
// *storage.PersistError. The partial result is returned alongside the error
// so the run can still be logged.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		RunID:   uuid.New().String(),
		Domains: make(map[string]*DomainResult, len(r.domains)),
	}
	res.Summary = models.RunSummary{
		RunID:     res.RunID,
		StartedAt: time.Now().UTC(),
		Rows:      make(map[string]int, len(r.domains)),
	}
	log := logger.Log.WithField("run_id", res.RunID)

	for _, d := range r.domains {
		dr := r.loadAndClean(ctx, d, log)
		res.Domains[d.Name] = dr
		res.Summary.Rows[d.Name] = dr.Table.Len()
		if dr.LoadErr != nil {
			res.Summary.FailedLoads = append(res.Summary.FailedLoads, d.Name)
		}
	}

	if err := r.persist(ctx, res, log); err != nil {
		res.Summary.CompletedAt = time.Now().UTC()
		return res, err
	}

	tables := make(map[string]*table.Table, len(res.Domains))
	for name, dr := range res.Domains {
		tables[name] = dr.Table
	}

	if r.opts.DeriveFeatures {
		derived, err := r.DeriveAll(ctx, res.RunID, tables)
		if err != nil {
			res.Summary.CompletedAt = time.Now().UTC()
			return res, err
		}
		res.Features = derived
		res.Summary.Patients = len(derived)
	} else {
		ids := PersonIDs(tables)
		r.announce(ctx, res.RunID, ids, log)
		res.Summary.Patients = len(ids)
	}

	res.Summary.CompletedAt = time.Now().UTC()
	log.WithFields(logrus.Fields{
		"patients":     res.Summary.Patients,
		"failed_loads": len(res.Summary.FailedLoads),
		"duration_ms":  res.Summary.CompletedAt.Sub(res.Summary.StartedAt).Milliseconds(),
	}).Info("Pipeline run completed")
	return res, nil
}

func (r *Runner) loadAndClean(ctx context.Context, d cleaner.Domain, log *logrus.Entry) *DomainResult {
	dr := &DomainResult{}
	source, ok := r.opts.Sources[d.Name]
	if ok && source != "" {
		t, err := r.loader.Load(ctx, source)
		if err != nil {
			metrics.ObserveLoadFailure()
			log.WithError(err).WithField("domain", d.Name).Warn("Error loading data, continuing with an empty table")
			dr.LoadErr = err
		} else {
			dr.Table = t
			log.WithFields(logrus.Fields{"domain": d.Name, "source": source, "rows": t.Len()}).Info("Loaded data")
		}
	}
	if dr.Table == nil {
		dr.Table = table.New(d.Name)
	}

	dr.Report = d.Clean(dr.Table)
	metrics.ObserveClean(dr.Report.RowsIn, dr.Report.DuplicatesRemoved, len(dr.Report.MissingFlagged), dr.Report.InvalidDates, dr.Report.NonNumeric)
	log.WithFields(dr.Report.Fields()).Info("Cleaned domain table")
	return dr
}

func (r *Runner) persist(ctx context.Context, res *Result, log *logrus.Entry) error {
	if r.sink == nil {
		log.Info("No sink configured, skipping persistence")
		return nil
	}
	for _, d := range r.domains {
		t := res.Domains[d.Name].Table
		err := r.sink.Append(ctx, d.Name, t)
		metrics.ObservePersist(t.Len(), err)
		if err != nil {
			if !storage.IsPersistError(err) {
				err = &storage.PersistError{Domain: d.Name, Rows: t.Len(), Err: err}
			}
			log.WithError(err).WithFields(logrus.Fields{
				"domain": d.Name,
				"rows":   t.Len(),
			}).Error("Pipeline failed while persisting")
			return err
		}
	}
	return nil
}

// PersonIDs returns every patient id across the tables, in domain order then
// first appearance.
func PersonIDs(tables map[string]*table.Table) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, domain := range features.DomainNames {
		_, keys := tables[domain].GroupBy(features.ColPersonID)
		for _, k := range keys {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				ids = append(ids, k)
			}
		}
	}
	return ids
}

// DeriveAll splits the cleaned tables by patient and aggregates each
// patient's features on a bounded worker pool. Results keep PersonIDs order.
func (r *Runner) DeriveAll(ctx context.Context, runID string, tables map[string]*table.Table) ([]features.PersonFeatures, error) {
	byDomain := make(map[string]map[string]*table.Table, len(tables))
	for domain, t := range tables {
		groups, _ := t.GroupBy(features.ColPersonID)
		byDomain[domain] = groups
	}
	ids := PersonIDs(tables)
	out := make([]features.PersonFeatures, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			perPerson := make(map[string]*table.Table, len(byDomain))
			for domain, groups := range byDomain {
				perPerson[domain] = groups[id]
			}
			pf := r.aggregator.Aggregate(id, perPerson)
			out[i] = pf
			return r.storeFeatures(gctx, runID, pf)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	metrics.ObservePatients(len(out))
	return out, nil
}

func (r *Runner) storeFeatures(ctx context.Context, runID string, pf features.PersonFeatures) error {
	set := storage.ToFeatureSet(pf, runID, time.Now().UTC())
	if r.store != nil {
		if err := r.store.BuildFeatures(ctx, set); err != nil {
			metrics.ObservePersist(1, err)
			return &storage.PersistError{Domain: featureTable, Rows: 1, Err: err}
		}
		if err := r.store.MaterializeHotFeatures(ctx, set); err != nil {
			logger.Log.WithError(err).WithField("person_id", pf.PersonID).Warn("failed to cache features")
		}
	}
	if r.publisher != nil {
		if err := events.PublishFeatures(ctx, r.publisher, r.opts.EventSource, set); err != nil {
			logger.Log.WithError(err).WithField("person_id", pf.PersonID).Warn("failed to announce features")
		}
	}
	return nil
}

func (r *Runner) announce(ctx context.Context, runID string, ids []string, log *logrus.Entry) {
	if r.publisher == nil {
		log.Warn("feature derivation deferred but no publisher configured")
		return
	}
	for _, id := range ids {
		msg := events.RecordsUpdated{PersonID: id, Domains: features.DomainNames, RunID: runID}
		if err := events.PublishRecordsUpdated(ctx, r.publisher, r.opts.EventSource, msg); err != nil {
			log.WithError(err).WithField("person_id", id).Warn("failed to announce updated records")
		}
	}
}
