package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/medrecords/pkg/cleaner"
	"github.com/synaptica-ai/medrecords/pkg/common/logger"
	"github.com/synaptica-ai/medrecords/pkg/common/models"
	"github.com/synaptica-ai/medrecords/pkg/features"
	"github.com/synaptica-ai/medrecords/pkg/observability/metrics"
	"github.com/synaptica-ai/medrecords/pkg/storage"
	"github.com/synaptica-ai/medrecords/pkg/table"
)

// PersonReader is satisfied by pipeline.PersonService.
type PersonReader interface {
	Records(ctx context.Context, personID string) (map[string][]map[string]interface{}, []string)
	Features(ctx context.Context, personID string) features.PersonFeatures
}

// FeatureCache is satisfied by storage.FeatureStore.
type FeatureCache interface {
	GetFeatures(ctx context.Context, patientID string) (models.FeatureSet, bool, error)
	MaterializeHotFeatures(ctx context.Context, set models.FeatureSet) error
}

// RunLister is satisfied by storage.RunLog.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]storage.RunRecord, error)
}

type HTTPHandler struct {
	people  PersonReader
	cache   FeatureCache
	runs    RunLister
	domains []cleaner.Domain
	maxBody int64
}

// NewHTTPHandler builds the read API. cache may be nil, in which case every
// feature read is recomputed.
func NewHTTPHandler(people PersonReader, cache FeatureCache, policy features.Policy, maxBody int64) *HTTPHandler {
	return &HTTPHandler{
		people:  people,
		cache:   cache,
		domains: cleaner.Domains(policy),
		maxBody: maxBody,
	}
}

// WithRunLog enables GET /runs.
func (h *HTTPHandler) WithRunLog(runs RunLister) *HTTPHandler {
	h.runs = runs
	return h
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/person/{id}", h.handlePerson).Methods(http.MethodGet)
	router.HandleFunc("/person/{id}/features", h.handleFeatures).Methods(http.MethodGet)
	router.HandleFunc("/clean/{domain}", h.handleClean).Methods(http.MethodPost)
	router.HandleFunc("/runs", h.handleRuns).Methods(http.MethodGet)
	router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/metrics", h.handleMetrics).Methods(http.MethodGet)
}

// Router returns a mux router with every route and the shared middleware.
func (h *HTTPHandler) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(Recovery)
	router.Use(Logging)
	h.Register(router)
	return router
}

func (h *HTTPHandler) handlePerson(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	data, failed := h.people.Records(r.Context(), id)
	if len(failed) == len(h.domains) {
		http.Error(w, "records unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, models.PersonRecords{PersonID: id, Data: data})
}

func (h *HTTPHandler) handleFeatures(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx := r.Context()

	if h.cache != nil {
		set, _, err := h.cache.GetFeatures(ctx, id)
		switch {
		case err == nil:
			metrics.ObserveFeatureCache(true)
			writeJSON(w, http.StatusOK, models.PersonFeatures{
				PersonID: id,
				Features: storage.FromFeatureSet(set).Plain(),
				Source:   "cache",
			})
			return
		case !errors.Is(err, storage.ErrFeaturesNotFound):
			logger.Log.WithError(err).WithField("person_id", id).Warn("feature store read failed, recomputing")
		}
		metrics.ObserveFeatureCache(false)
	}

	pf := h.people.Features(ctx, id)
	if h.cache != nil {
		set := storage.ToFeatureSet(pf, "", time.Now().UTC())
		if err := h.cache.MaterializeHotFeatures(ctx, set); err != nil {
			logger.Log.WithError(err).WithField("person_id", id).Warn("failed to cache features")
		}
	}
	writeJSON(w, http.StatusOK, models.PersonFeatures{
		PersonID:     id,
		Features:     pf.Features.Plain(),
		EmptyDomains: pf.EmptyDomains,
		Source:       "computed",
	})
}

type cleanResponse struct {
	Domain   string                            `json:"domain"`
	Report   cleaner.Report                    `json:"report"`
	Columns  []string                          `json:"columns"`
	Rows     []map[string]interface{}          `json:"rows"`
	Features map[string]map[string]interface{} `json:"features"`
}

func (h *HTTPHandler) handleClean(w http.ResponseWriter, r *http.Request) {
	domain, err := cleaner.Lookup(h.domains, mux.Vars(r)["domain"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	body, closeBody, err := uploadReader(r)
	if err != nil {
		logger.Log.WithError(err).Warn("invalid clean upload")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer closeBody()

	t, err := table.ReadCSV(domain.Name, body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	report := domain.Clean(t)
	metrics.ObserveClean(report.RowsIn, report.DuplicatesRemoved, len(report.MissingFlagged), report.InvalidDates, report.NonNumeric)

	groups, ids := t.GroupBy(features.ColPersonID)
	derived := make(map[string]map[string]interface{}, len(ids))
	for _, id := range ids {
		derived[id] = domain.DeriveFeatures(groups[id]).Plain()
	}

	writeJSON(w, http.StatusOK, cleanResponse{
		Domain:   domain.Name,
		Report:   report,
		Columns:  t.Columns,
		Rows:     t.Records(),
		Features: derived,
	})
}

// uploadReader accepts either a multipart form with a "file" part or a raw
// CSV body.
func uploadReader(r *http.Request) (io.Reader, func(), error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, nil, err
		}
		return file, func() { file.Close() }, nil
	}
	return r.Body, func() {}, nil
}

func (h *HTTPHandler) handleRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		http.Error(w, "run log not configured", http.StatusNotFound)
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		limit = 20
	}
	records, err := h.runs.Recent(r.Context(), limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list pipeline runs")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]runView, 0, len(records))
	for _, rec := range records {
		out = append(out, runView{RunSummary: rec.Summary(), Status: rec.Status, Error: rec.Error})
	}
	writeJSON(w, http.StatusOK, out)
}

type runView struct {
	models.RunSummary
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *HTTPHandler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.WritePrometheus(w)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Warn("failed to encode response")
	}
}
