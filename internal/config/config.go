package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Port               int      `mapstructure:"port"`
	LogLevel           string   `mapstructure:"log_level"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	RequestTimeoutSec  int      `mapstructure:"request_timeout_sec"`  // HTTP read/write; 0 = use server default
	ShutdownTimeoutSec int      `mapstructure:"shutdown_timeout_sec"` // Graceful shutdown wait

	// Storage
	DBDriver    string `mapstructure:"db_driver"` // "sqlite" or "postgres"
	DatabaseDSN string `mapstructure:"database_dsn"`

	// Result cache
	CacheTTLSec       int `mapstructure:"cache_ttl_sec"`       // 0 = default 5 min
	CacheCapacity     int `mapstructure:"cache_capacity"`      // max cached detection results
	ComputeTimeoutSec int `mapstructure:"compute_timeout_sec"` // cap on one analysis; 0 = unbounded

	// Detection engine
	DetectionWorkers        int     `mapstructure:"detection_workers"`         // per-sensor fan-out bound
	ConfidenceThreshold     float64 `mapstructure:"confidence_threshold"`      // min confidence_score [0,100]
	ConfidenceLevel         float64 `mapstructure:"confidence_level"`          // interval level, e.g. 0.95
	SigmaThreshold          float64 `mapstructure:"sigma_threshold"`           // threshold_breach deviation bar
	MinReadings             int     `mapstructure:"min_readings"`              // per-sensor minimum sample
	MinSustainedDurationSec int     `mapstructure:"min_sustained_duration_sec"`
	IntermittentRate        float64 `mapstructure:"intermittent_rate"`
	DegradationWindows      int     `mapstructure:"degradation_windows"`
	DegradationDriftSigma   float64 `mapstructure:"degradation_drift_sigma"` // sub-window mean drift, in stddevs
	CascadeWindowSec        int     `mapstructure:"cascade_window_sec"`      // co-occurrence offset for cascade_risk
	ZScoreThreshold         float64 `mapstructure:"z_score_threshold"`  // correlation anomaly bar
	MinOverlap              int     `mapstructure:"min_overlap"`        // min samples for Pearson
	MinSampleSize           int     `mapstructure:"min_sample_size"`    // min total for confidence intervals

	// Risk weights, normalized at use
	RiskWeightSeverity    float64 `mapstructure:"risk_weight_severity"`
	RiskWeightDataQuality float64 `mapstructure:"risk_weight_data_quality"`
	RiskWeightTemporal    float64 `mapstructure:"risk_weight_temporal"`
	RiskWeightImpact      float64 `mapstructure:"risk_weight_impact"`

	// Redis read-through cache for reading windows; empty addr disables it
	RedisAddr        string `mapstructure:"redis_addr"`
	RedisCacheTTLSec int    `mapstructure:"redis_cache_ttl_sec"`

	// Kafka ingest; no brokers disables the consumer
	KafkaBrokers           []string `mapstructure:"kafka_brokers"`
	KafkaTopic             string   `mapstructure:"kafka_topic"`
	KafkaGroupID           string   `mapstructure:"kafka_group_id"`
	IngestBatchSize        int      `mapstructure:"ingest_batch_size"`
	IngestFlushIntervalSec int      `mapstructure:"ingest_flush_interval_sec"`

	// Tracing; empty endpoint disables export
	OTLPEndpoint      string  `mapstructure:"otlp_endpoint"`
	TraceSamplingRate float64 `mapstructure:"trace_sampling_rate"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/buildsense/")
	viper.AddConfigPath("$HOME/.buildsense")
	viper.AddConfigPath(".")

	// Defaults
	viper.SetDefault("port", 8080)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("allowed_origins", []string{"*"})
	viper.SetDefault("request_timeout_sec", 30)
	viper.SetDefault("shutdown_timeout_sec", 15)

	viper.SetDefault("db_driver", "sqlite")
	viper.SetDefault("database_dsn", "./buildsense.db")

	viper.SetDefault("cache_ttl_sec", 300)
	viper.SetDefault("cache_capacity", 128)
	viper.SetDefault("compute_timeout_sec", 120)

	viper.SetDefault("detection_workers", 8)
	viper.SetDefault("confidence_threshold", 0.0)
	viper.SetDefault("confidence_level", 0.95)
	viper.SetDefault("sigma_threshold", 3.0)
	viper.SetDefault("min_readings", 10)
	viper.SetDefault("min_sustained_duration_sec", 600)
	viper.SetDefault("intermittent_rate", 0.1)
	viper.SetDefault("degradation_windows", 4)
	viper.SetDefault("degradation_drift_sigma", 1.0)
	viper.SetDefault("cascade_window_sec", 300)
	viper.SetDefault("z_score_threshold", 2.5)
	viper.SetDefault("min_overlap", 10)
	viper.SetDefault("min_sample_size", 2)

	viper.SetDefault("risk_weight_severity", 0.4)
	viper.SetDefault("risk_weight_data_quality", 0.2)
	viper.SetDefault("risk_weight_temporal", 0.2)
	viper.SetDefault("risk_weight_impact", 0.2)

	viper.SetDefault("redis_addr", "")
	viper.SetDefault("redis_cache_ttl_sec", 60)

	viper.SetDefault("kafka_brokers", []string{})
	viper.SetDefault("kafka_topic", "sensor-readings")
	viper.SetDefault("kafka_group_id", "buildsense-detection")
	viper.SetDefault("ingest_batch_size", 500)
	viper.SetDefault("ingest_flush_interval_sec", 2)

	viper.SetDefault("otlp_endpoint", "")
	viper.SetDefault("trace_sampling_rate", 0.1)

	// Environment variables
	viper.SetEnvPrefix("BUILDSENSE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the engine cannot run with. Called by Load;
// exported so tests and tools can check hand-built configs.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
		return fmt.Errorf("db_driver must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.ConfidenceLevel <= 0 || c.ConfidenceLevel >= 1 {
		return fmt.Errorf("confidence_level must be in (0,1), got %g", c.ConfidenceLevel)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 100 {
		return fmt.Errorf("confidence_threshold must be in [0,100], got %g", c.ConfidenceThreshold)
	}
	if c.SigmaThreshold <= 0 {
		return fmt.Errorf("sigma_threshold must be positive, got %g", c.SigmaThreshold)
	}
	if c.IntermittentRate <= 0 || c.IntermittentRate > 1 {
		return fmt.Errorf("intermittent_rate must be in (0,1], got %g", c.IntermittentRate)
	}
	if c.DegradationDriftSigma <= 0 {
		return fmt.Errorf("degradation_drift_sigma must be positive, got %g", c.DegradationDriftSigma)
	}
	if c.ZScoreThreshold <= 0 {
		return fmt.Errorf("z_score_threshold must be positive, got %g", c.ZScoreThreshold)
	}
	if c.RiskWeightSeverity < 0 || c.RiskWeightDataQuality < 0 || c.RiskWeightTemporal < 0 || c.RiskWeightImpact < 0 {
		return fmt.Errorf("risk weights must be non-negative")
	}
	if c.RiskWeightSeverity+c.RiskWeightDataQuality+c.RiskWeightTemporal+c.RiskWeightImpact == 0 {
		return fmt.Errorf("at least one risk weight must be positive")
	}
	if c.DetectionWorkers < 0 {
		return fmt.Errorf("detection_workers must not be negative")
	}
	return nil
}
