// Package config loads service configuration through viper.
//
// Precedence: flags bound by the CLI, then TESELA_* environment variables,
// then an optional tesela.yaml, then defaults. The file is watched so
// tunables (batch sizes, thresholds) can change without a restart;
// connection settings are read once at startup.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// v is the package-level viper instance.
var v *viper.Viper

// Initialize sets defaults, environment binding and the optional config
// file. Safe to call more than once; the instance is rebuilt.
func Initialize(configPath string) error {
	v = viper.New()
	v.SetEnvPrefix("TESELA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("tesela")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tesela")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && configPath != "" {
			return fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		v.WatchConfig()
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8787")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("graph.uri", "")
	v.SetDefault("graph.user", "neo4j")
	v.SetDefault("graph.password", "")
	v.SetDefault("graph.database", "")
	v.SetDefault("embedder.url", "")
	v.SetDefault("embedder.model", "")
	v.SetDefault("embedder.interval_ms", 30000)

	v.SetDefault("dry_run_default", true)
	v.SetDefault("advisory_lock_timeout_ms", 5000)
	v.SetDefault("allow_catalog_merge", false)

	v.SetDefault("sync.batch_size", 200)
	v.SetDefault("sync.run_budget", 2000)
	v.SetDefault("sync.retry_base_ms", 1000)
	v.SetDefault("sync.retry_factor", 2)
	v.SetDefault("sync.retry_cap_ms", 30000)
	v.SetDefault("sync.retry_max_attempts", 3)

	v.SetDefault("readiness.max_hops", 10)
	v.SetDefault("backlog.threshold_count", 50)
	v.SetDefault("backlog.threshold_days", 3)
	v.SetDefault("idempotency.ttl", "24h")
	v.SetDefault("similarity.threshold", 0.5)
	v.SetDefault("recent_window", 200)
	v.SetDefault("ops.batch_size", 500)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.metrics_endpoint", "")
	v.SetDefault("telemetry.stdout", false)
	v.SetDefault("telemetry.metric_interval", "30s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
}

// Settings is the typed snapshot consumed at wire-up. Validation tags hold
// the operational bounds; Load refuses a snapshot that violates them.
type Settings struct {
	HTTPAddr string `validate:"required"`

	DatabaseURL      string
	DatabaseMaxConns int `validate:"min=1"`

	GraphURI      string
	GraphUser     string
	GraphPassword string
	GraphDatabase string

	EmbedderURL      string
	EmbedderModel    string
	EmbedderInterval time.Duration `validate:"min=1s"`

	DryRunDefault       bool
	AdvisoryLockTimeout time.Duration
	AllowCatalogMerge   bool

	SyncBatchSize        int `validate:"min=1"`
	SyncRunBudget        int `validate:"min=1"`
	SyncRetryBase        time.Duration
	SyncRetryFactor      int `validate:"min=1"`
	SyncRetryCap         time.Duration
	SyncRetryMaxAttempts int `validate:"min=1"`

	ReadinessMaxHops      int `validate:"min=1"`
	BacklogThresholdCount int `validate:"min=0"`
	BacklogThresholdDays  int `validate:"min=0"`
	IdempotencyTTL        time.Duration
	SimilarityThreshold   float64 `validate:"gte=0,lte=1"`
	RecentWindow          int     `validate:"min=1"`
	OpsBatchSize          int     `validate:"min=1"`

	TelemetryEnabled         bool
	TelemetryEndpoint        string
	TelemetryMetricsEndpoint string
	TelemetryStdout          bool
	TelemetryMetricInterval  time.Duration `validate:"min=1s"`

	LogLevel      string `validate:"oneof=debug info warn error"`
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// APIKeys maps key to role (admin or analyst).
	APIKeys map[string]string `validate:"dive,oneof=admin analyst"`
}

// Load returns the current settings snapshot. Initialize must have run.
func Load() (*Settings, error) {
	if v == nil {
		if err := Initialize(""); err != nil {
			return nil, err
		}
	}
	s := &Settings{
		HTTPAddr: v.GetString("http.addr"),

		DatabaseURL:      v.GetString("database.url"),
		DatabaseMaxConns: v.GetInt("database.max_conns"),

		GraphURI:      v.GetString("graph.uri"),
		GraphUser:     v.GetString("graph.user"),
		GraphPassword: v.GetString("graph.password"),
		GraphDatabase: v.GetString("graph.database"),

		EmbedderURL:      v.GetString("embedder.url"),
		EmbedderModel:    v.GetString("embedder.model"),
		EmbedderInterval: time.Duration(v.GetInt("embedder.interval_ms")) * time.Millisecond,

		DryRunDefault:       v.GetBool("dry_run_default"),
		AdvisoryLockTimeout: time.Duration(v.GetInt("advisory_lock_timeout_ms")) * time.Millisecond,
		AllowCatalogMerge:   v.GetBool("allow_catalog_merge"),

		SyncBatchSize:        v.GetInt("sync.batch_size"),
		SyncRunBudget:        v.GetInt("sync.run_budget"),
		SyncRetryBase:        time.Duration(v.GetInt("sync.retry_base_ms")) * time.Millisecond,
		SyncRetryFactor:      v.GetInt("sync.retry_factor"),
		SyncRetryCap:         time.Duration(v.GetInt("sync.retry_cap_ms")) * time.Millisecond,
		SyncRetryMaxAttempts: v.GetInt("sync.retry_max_attempts"),

		ReadinessMaxHops:      v.GetInt("readiness.max_hops"),
		BacklogThresholdCount: v.GetInt("backlog.threshold_count"),
		BacklogThresholdDays:  v.GetInt("backlog.threshold_days"),
		IdempotencyTTL:        v.GetDuration("idempotency.ttl"),
		SimilarityThreshold:   v.GetFloat64("similarity.threshold"),
		RecentWindow:          v.GetInt("recent_window"),
		OpsBatchSize:          v.GetInt("ops.batch_size"),

		TelemetryEnabled:         v.GetBool("telemetry.enabled"),
		TelemetryEndpoint:        v.GetString("telemetry.endpoint"),
		TelemetryMetricsEndpoint: v.GetString("telemetry.metrics_endpoint"),
		TelemetryStdout:          v.GetBool("telemetry.stdout"),
		TelemetryMetricInterval:  v.GetDuration("telemetry.metric_interval"),

		LogLevel:      v.GetString("log.level"),
		LogFile:       v.GetString("log.file"),
		LogMaxSizeMB:  v.GetInt("log.max_size_mb"),
		LogMaxBackups: v.GetInt("log.max_backups"),
		LogMaxAgeDays: v.GetInt("log.max_age_days"),

		APIKeys: v.GetStringMapString("auth.api_keys"),
	}
	// Dry-run-by-default is a safety property, not a tunable.
	s.DryRunDefault = true

	if err := validate.Struct(s); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

var validate = validator.New()

// Set overrides one key, for flag binding and tests.
func Set(key string, value any) {
	if v == nil {
		_ = Initialize("")
	}
	v.Set(key, value)
}

// GetString reads a raw string key from the live instance.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}
