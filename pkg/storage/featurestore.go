package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/medrecords/pkg/common/logger"
	"github.com/synaptica-ai/medrecords/pkg/common/models"
	"github.com/synaptica-ai/medrecords/pkg/features"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrFeaturesNotFound = errors.New("feature set not found")

// FeatureRecord is the offline copy of a patient's latest feature set.
type FeatureRecord struct {
	PatientID string         `gorm:"primaryKey;column:patient_id"`
	RunID     string         `gorm:"column:run_id"`
	Features  datatypes.JSON `gorm:"column:features"`
	Version   int            `gorm:"column:version"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

func (FeatureRecord) TableName() string {
	return "patient_features"
}

// FeatureStore keeps feature sets offline in postgres and hot in redis.
type FeatureStore struct {
	db          *gorm.DB
	redisClient *redis.Client
	prefix      string
	cacheTTL    time.Duration
}

func NewFeatureStore(db *gorm.DB, redisClient *redis.Client, prefix string, ttl time.Duration) *FeatureStore {
	if prefix == "" {
		prefix = "features"
	}
	return &FeatureStore{db: db, redisClient: redisClient, prefix: prefix, cacheTTL: ttl}
}

func (f *FeatureStore) AutoMigrate() error {
	return f.db.AutoMigrate(&FeatureRecord{})
}

func (f *FeatureStore) key(patientID string) string {
	return fmt.Sprintf("%s:%s", f.prefix, patientID)
}

// BuildFeatures writes the offline feature set, replacing any earlier run.
func (f *FeatureStore) BuildFeatures(ctx context.Context, set models.FeatureSet) error {
	payload, err := json.Marshal(set.Features)
	if err != nil {
		return err
	}
	rec := &FeatureRecord{
		PatientID: set.PatientID,
		RunID:     set.RunID,
		Features:  datatypes.JSON(payload),
		Version:   set.Version,
		UpdatedAt: time.Now().UTC(),
	}
	return f.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "patient_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"run_id", "features", "version", "updated_at"}),
	}).Create(rec).Error
}

// MaterializeHotFeatures caches the set in redis for the read API.
func (f *FeatureStore) MaterializeHotFeatures(ctx context.Context, set models.FeatureSet) error {
	if f.redisClient == nil {
		return nil
	}
	data, err := json.Marshal(set)
	if err != nil {
		return err
	}
	logger.Log.WithFields(map[string]interface{}{
		"key":  f.key(set.PatientID),
		"size": len(data),
	}).Debug("Caching features")
	return f.redisClient.Set(ctx, f.key(set.PatientID), data, f.cacheTTL).Err()
}

// GetFeatures reads the cached set, falling back to the offline table. The
// boolean reports whether the cache served the read.
func (f *FeatureStore) GetFeatures(ctx context.Context, patientID string) (models.FeatureSet, bool, error) {
	if f.redisClient != nil {
		data, err := f.redisClient.Get(ctx, f.key(patientID)).Bytes()
		switch {
		case err == nil:
			var set models.FeatureSet
			if jsonErr := json.Unmarshal(data, &set); jsonErr == nil {
				return set, true, nil
			}
			logger.Log.WithField("patient_id", patientID).Warn("discarding unreadable cached feature set")
		case !errors.Is(err, redis.Nil):
			logger.Log.WithError(err).Warn("feature cache unavailable")
		}
	}

	var rec FeatureRecord
	result := f.db.WithContext(ctx).First(&rec, "patient_id = ?", patientID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return models.FeatureSet{}, false, ErrFeaturesNotFound
	}
	if result.Error != nil {
		return models.FeatureSet{}, false, result.Error
	}
	set := models.FeatureSet{PatientID: rec.PatientID, RunID: rec.RunID, Version: rec.Version}
	if err := json.Unmarshal(rec.Features, &set.Features); err != nil {
		return models.FeatureSet{}, false, err
	}
	return set, false, nil
}

// Invalidate drops the cached set so the next read recomputes it.
func (f *FeatureStore) Invalidate(ctx context.Context, patientID string) error {
	if f.redisClient == nil {
		return nil
	}
	return f.redisClient.Del(ctx, f.key(patientID)).Err()
}

// ToFeatureSet converts an aggregated mapping into the stored form.
func ToFeatureSet(pf features.PersonFeatures, runID string, at time.Time) models.FeatureSet {
	set := models.FeatureSet{
		PatientID: pf.PersonID,
		RunID:     runID,
		Features:  make(map[string]models.Feature, len(pf.Features)),
		Version:   1,
	}
	for name, v := range pf.Features {
		set.Features[name] = models.Feature{
			Name:      name,
			Kind:      v.Kind().String(),
			Value:     v.Interface(),
			Timestamp: at,
		}
	}
	return set
}

// FromFeatureSet rebuilds the mapping from a stored set. Entries with an
// unknown kind are dropped.
func FromFeatureSet(set models.FeatureSet) features.Mapping {
	m := make(features.Mapping, len(set.Features))
	for name, feat := range set.Features {
		v, err := features.FromKind(feat.Kind, feat.Value)
		if err != nil {
			logger.Log.WithError(err).WithField("feature", name).Warn("skipping stored feature")
			continue
		}
		m[name] = v
	}
	return m
}
