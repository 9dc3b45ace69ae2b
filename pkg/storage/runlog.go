package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/synaptica-ai/medrecords/pkg/common/logger"
	"github.com/synaptica-ai/medrecords/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// RunRecord is one batch run as kept in pipeline_runs.
type RunRecord struct {
	RunID       string            `gorm:"primaryKey;column:run_id"`
	Status      string            `gorm:"column:status"`
	Error       string            `gorm:"column:error"`
	Rows        datatypes.JSONMap `gorm:"column:rows"`
	FailedLoads datatypes.JSON    `gorm:"column:failed_loads"`
	Patients    int               `gorm:"column:patients"`
	StartedAt   time.Time         `gorm:"column:started_at"`
	CompletedAt time.Time         `gorm:"column:completed_at"`
}

func (RunRecord) TableName() string {
	return "pipeline_runs"
}

type RunLog struct {
	db *gorm.DB
}

func NewRunLog(db *gorm.DB) *RunLog {
	return &RunLog{db: db}
}

func (l *RunLog) AutoMigrate() error {
	return l.db.AutoMigrate(&RunRecord{})
}

// Record stores the summary of a finished run. runErr marks it failed.
func (l *RunLog) Record(ctx context.Context, summary models.RunSummary, runErr error) error {
	return l.db.WithContext(ctx).Create(NewRunRecord(summary, runErr)).Error
}

// Recent returns the latest runs, newest first.
func (l *RunLog) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	var runs []RunRecord
	if err := l.db.WithContext(ctx).Order("started_at desc").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func NewRunRecord(summary models.RunSummary, runErr error) *RunRecord {
	rec := &RunRecord{
		RunID:       summary.RunID,
		Status:      RunCompleted,
		Rows:        make(datatypes.JSONMap, len(summary.Rows)),
		Patients:    summary.Patients,
		StartedAt:   summary.StartedAt,
		CompletedAt: summary.CompletedAt,
	}
	for domain, n := range summary.Rows {
		rec.Rows[domain] = n
	}
	failed := summary.FailedLoads
	if failed == nil {
		failed = []string{}
	}
	loads, err := json.Marshal(failed)
	if err != nil {
		logger.Log.WithError(err).WithField("run_id", summary.RunID).Warn("failed to encode failed loads")
		loads = []byte("[]")
	}
	rec.FailedLoads = loads
	if runErr != nil {
		rec.Status = RunFailed
		rec.Error = runErr.Error()
	}
	return rec
}

// Summary converts the stored record back to the API form.
func (r RunRecord) Summary() models.RunSummary {
	s := models.RunSummary{
		RunID:       r.RunID,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Rows:        make(map[string]int, len(r.Rows)),
		Patients:    r.Patients,
	}
	for domain, v := range r.Rows {
		switch n := v.(type) {
		case int:
			s.Rows[domain] = n
		case float64:
			s.Rows[domain] = int(n)
		}
	}
	if len(r.FailedLoads) > 0 {
		if err := json.Unmarshal(r.FailedLoads, &s.FailedLoads); err != nil {
			logger.Log.WithError(err).WithField("run_id", r.RunID).Warn("stored failed loads are not a JSON list")
			s.FailedLoads = nil
		}
	}
	return s
}
