package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers        []string
	KafkaGroupID        string
	FeaturesTopic       string
	RecordsUpdatedTopic string

	// Pipeline
	InputDir         string
	PolicyFile       string
	Workers          int
	PersistBatch     int
	SourceMode       string
	PersistMode      string
	DeriveFeatures   bool
	SourceLifestyle  string
	SourceRx         string
	SourceConditions string
	SourceLabs       string
	SourceTests      string

	// Feature Store
	FeatureOnlinePrefix string
	FeatureCacheTTL     time.Duration
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 16*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresDB:       getEnv("POSTGRES_DB", "medical_records"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:        getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:        getEnv("KAFKA_GROUP_ID", "medrecords"),
		FeaturesTopic:       getEnv("FEATURES_TOPIC", "medrecords.features.derived"),
		RecordsUpdatedTopic: getEnv("RECORDS_UPDATED_TOPIC", "medrecords.records.updated"),

		InputDir:         getEnv("INPUT_DIR", "."),
		PolicyFile:       getEnv("POLICY_FILE", ""),
		Workers:          getIntEnv("PIPELINE_WORKERS", 4),
		PersistBatch:     getIntEnv("PERSIST_BATCH_SIZE", 500),
		SourceMode:       getEnv("PIPELINE_SOURCE", "csv"),
		PersistMode:      getEnv("PERSIST_MODE", "batch"),
		DeriveFeatures:   getBoolEnv("DERIVE_FEATURES", true),
		SourceLifestyle:  getEnv("SOURCE_LIFESTYLE", "lifestyle_ae.csv"),
		SourceRx:         getEnv("SOURCE_RX", "rx_ae.csv"),
		SourceConditions: getEnv("SOURCE_CONDITIONS", "conditions_ae.csv"),
		SourceLabs:       getEnv("SOURCE_LABS", "labs_ae.csv"),
		SourceTests:      getEnv("SOURCE_TESTS", "tests_ae.csv"),

		FeatureOnlinePrefix: getEnv("FEATURE_ONLINE_PREFIX", "features"),
		FeatureCacheTTL:     getDuration("FEATURE_CACHE_TTL", 5*time.Minute),
	}
}

// Sources maps each domain name to the extract the pipeline loads for it.
func (c *Config) Sources() map[string]string {
	return map[string]string{
		"lifestyle":  c.SourceLifestyle,
		"rx":         c.SourceRx,
		"conditions": c.SourceConditions,
		"labs":       c.SourceLabs,
		"tests":      c.SourceTests,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
