package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration, loaded from a YAML file with
// environment-variable overrides for deployment-specific paths.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Worker    WorkerConfig    `yaml:"worker"`
	Retention RetentionConfig `yaml:"retention"`
	Operators []OperatorGrant `yaml:"operators"`
}

// ServerConfig holds gateway-related configuration.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	// Per-tenant request budget for the polling surface.
	PollRatePerSec float64       `yaml:"poll_rate_per_sec"`
	PollBurst      int           `yaml:"poll_burst"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig holds the job record store and the read-only business
// snapshot database the exporters query.
type DatabaseConfig struct {
	Path         string        `yaml:"path"`
	BusinessPath string        `yaml:"business_path"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
}

// ArtifactsConfig holds the artifact store location and attachment root.
type ArtifactsConfig struct {
	Dir            string `yaml:"dir"`
	AttachmentRoot string `yaml:"attachment_root"`
}

// WorkerConfig holds the export worker pool settings.
type WorkerConfig struct {
	Count             int           `yaml:"count"`
	QueueSize         int           `yaml:"queue_size"`
	ModuleTimeout     time.Duration `yaml:"module_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// RetentionConfig holds TTL and sweep windows.
type RetentionConfig struct {
	ArtifactTTL     time.Duration `yaml:"artifact_ttl"`
	RecordRetention time.Duration `yaml:"record_retention"`
	ReapInterval    time.Duration `yaml:"reap_interval"`
	LivenessTimeout time.Duration `yaml:"liveness_timeout"`
}

// OperatorGrant authorizes a platform operator to act on behalf of the
// listed tenants. Anything not listed fails closed.
type OperatorGrant struct {
	ID      string   `yaml:"id"`
	Tenants []string `yaml:"tenants"`
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("EXPORTD_ADDR", c.Server.Addr)
	c.Server.MetricsAddr = getEnv("EXPORTD_METRICS_ADDR", c.Server.MetricsAddr)
	c.Database.Path = getEnv("EXPORTD_DB_PATH", c.Database.Path)
	c.Database.BusinessPath = getEnv("EXPORTD_BUSINESS_DB_PATH", c.Database.BusinessPath)
	c.Artifacts.Dir = getEnv("EXPORTD_ARTIFACT_DIR", c.Artifacts.Dir)
	c.Artifacts.AttachmentRoot = getEnv("EXPORTD_ATTACHMENT_ROOT", c.Artifacts.AttachmentRoot)
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = ":9091"
	}
	if c.Server.PollRatePerSec <= 0 {
		c.Server.PollRatePerSec = 5
	}
	if c.Server.PollBurst <= 0 {
		c.Server.PollBurst = 10
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		// Downloads stream large archives; keep this generous.
		c.Server.WriteTimeout = 10 * time.Minute
	}
	if c.Database.Path == "" {
		c.Database.Path = "exportd.db"
	}
	if c.Database.BusyTimeout <= 0 {
		c.Database.BusyTimeout = 5 * time.Second
	}
	if c.Artifacts.Dir == "" {
		c.Artifacts.Dir = "artifacts"
	}
	if c.Worker.Count <= 0 {
		c.Worker.Count = 2
	}
	if c.Worker.QueueSize <= 0 {
		c.Worker.QueueSize = 64
	}
	if c.Worker.ModuleTimeout <= 0 {
		c.Worker.ModuleTimeout = 2 * time.Minute
	}
	if c.Worker.HeartbeatInterval <= 0 {
		c.Worker.HeartbeatInterval = 15 * time.Second
	}
	if c.Retention.ArtifactTTL <= 0 {
		c.Retention.ArtifactTTL = 7 * 24 * time.Hour
	}
	if c.Retention.RecordRetention <= 0 {
		c.Retention.RecordRetention = 30 * 24 * time.Hour
	}
	if c.Retention.ReapInterval <= 0 {
		c.Retention.ReapInterval = 3 * time.Hour
	}
	if c.Retention.LivenessTimeout <= 0 {
		c.Retention.LivenessTimeout = 5 * time.Minute
	}
}

// Validate validates the loaded configuration.
func (c *Config) Validate() error {
	if c.Database.BusinessPath == "" {
		return fmt.Errorf("database.business_path is required")
	}
	if c.Retention.LivenessTimeout <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("retention.liveness_timeout must exceed worker.heartbeat_interval")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
