package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/campaign-engine/internal/render"
)

// Config holds all configuration for the engine and its API server
type Config struct {
	Server    ServerConfig               `yaml:"server"`
	Engine    EngineConfig               `yaml:"engine"`
	Storage   StorageConfig              `yaml:"storage"`
	Redis     RedisConfig                `yaml:"redis"`
	SES       SESConfig                  `yaml:"ses"`
	Webhook   WebhookConfig              `yaml:"webhook"`
	InApp     InAppConfig                `yaml:"in_app"`
	Archive   ArchiveConfig              `yaml:"archive"`
	CRM       CRMConfig                  `yaml:"crm"`
	Tenants   TenantsConfig              `yaml:"tenants"`
	Templates map[string]render.Template `yaml:"templates"`
	Logging   LoggingConfig              `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	APIKey         string   `yaml:"api_key"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EngineConfig tunes batch processing and the polling worker.
type EngineConfig struct {
	TenantConcurrency   int    `yaml:"tenant_concurrency"`
	RecipientPageSize   int    `yaml:"recipient_page_size"`
	JourneyBudget       int    `yaml:"journey_budget"`
	MaxStepsPerJourney  int    `yaml:"max_steps_per_journey"`
	LockTTLSeconds      int    `yaml:"lock_ttl_seconds"`
	ResumePolicy        string `yaml:"resume_policy"` // rerun or fail
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	PassTimeoutSeconds  int    `yaml:"pass_timeout_seconds"`
	BatchLimit          int    `yaml:"batch_limit"`
	WorkerID            string `yaml:"worker_id"`
}

// LockTTL returns the claim lock TTL as a duration
func (c EngineConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// PollInterval returns the poll interval as a duration
func (c EngineConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// PassTimeout returns the per-pass timeout as a duration
func (c EngineConfig) PassTimeout() time.Duration {
	return time.Duration(c.PassTimeoutSeconds) * time.Second
}

// StorageConfig selects the document store: memory, dynamodb or postgres.
type StorageConfig struct {
	Type        string         `yaml:"type"`
	DynamoDB    DynamoDBConfig `yaml:"dynamodb"`
	DatabaseURL string         `yaml:"database_url"`
}

// DynamoDBConfig holds DynamoDB table settings
type DynamoDBConfig struct {
	Table      string `yaml:"table"`
	Region     string `yaml:"region"`
	Endpoint   string `yaml:"endpoint"`
	AWSProfile string `yaml:"aws_profile"`
}

// RedisConfig holds Redis connection settings. An empty Addr disables
// Redis; locks then fall back to Postgres or the process.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SESConfig holds AWS SES configuration
type SESConfig struct {
	Enabled          bool    `yaml:"enabled"`
	Region           string  `yaml:"region"`
	AccessKey        string  `yaml:"access_key"`
	SecretKey        string  `yaml:"secret_key"`
	FromEmail        string  `yaml:"from_email"`
	FromName         string  `yaml:"from_name"`
	ConfigurationSet string  `yaml:"configuration_set"`
	RatePerSecond    float64 `yaml:"rate_per_second"`
	Burst            int     `yaml:"burst"`
}

// WebhookConfig holds outbound webhook settings
type WebhookConfig struct {
	Enabled        bool    `yaml:"enabled"`
	DefaultURL     string  `yaml:"default_url"`
	Secret         string  `yaml:"secret"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxRetries     int     `yaml:"max_retries"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	Burst          int     `yaml:"burst"`
}

// Timeout returns the webhook timeout as a duration
func (c WebhookConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// InAppConfig holds in-app inbox settings. It needs Redis.
type InAppConfig struct {
	Enabled       bool    `yaml:"enabled"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// ArchiveConfig holds the S3 archive of finished batches
type ArchiveConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Bucket     string `yaml:"bucket"`
	Prefix     string `yaml:"prefix"`
	Region     string `yaml:"region"`
	AWSProfile string `yaml:"aws_profile"`
}

// CRMConfig points at the tenant CRM database. Each tenant lives in its
// own schema there.
type CRMConfig struct {
	DatabaseURL string `yaml:"database_url"`
	// TenantTable, when set, resolves schemas from this table instead of
	// the static tenant map.
	TenantTable string `yaml:"tenant_table"`
	// DBTemplates reads content from each schema's content_templates table,
	// falling back to the configured templates.
	DBTemplates bool `yaml:"db_templates"`
}

// TenantsConfig maps tenant ids to CRM schemas.
type TenantsConfig struct {
	Schemas map[string]string `yaml:"schemas"`
	// DefaultPattern derives a schema for unlisted tenants, e.g. "tenant_%s".
	DefaultPattern string `yaml:"default_pattern"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on. It defaults to true.
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Engine.TenantConcurrency == 0 {
		cfg.Engine.TenantConcurrency = 4
	}
	if cfg.Engine.RecipientPageSize == 0 {
		cfg.Engine.RecipientPageSize = 500
	}
	if cfg.Engine.JourneyBudget == 0 {
		cfg.Engine.JourneyBudget = 1000
	}
	if cfg.Engine.MaxStepsPerJourney == 0 {
		cfg.Engine.MaxStepsPerJourney = 16
	}
	if cfg.Engine.LockTTLSeconds == 0 {
		cfg.Engine.LockTTLSeconds = 300
	}
	if cfg.Engine.ResumePolicy == "" {
		cfg.Engine.ResumePolicy = "rerun"
	}
	if cfg.Engine.PollIntervalSeconds == 0 {
		cfg.Engine.PollIntervalSeconds = 5
	}
	if cfg.Engine.PassTimeoutSeconds == 0 {
		cfg.Engine.PassTimeoutSeconds = 120
	}
	if cfg.Engine.BatchLimit == 0 {
		cfg.Engine.BatchLimit = 10
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}
	if cfg.Storage.DynamoDB.Table == "" {
		cfg.Storage.DynamoDB.Table = "campaign-engine"
	}
	if cfg.Storage.DynamoDB.Region == "" {
		cfg.Storage.DynamoDB.Region = "us-west-2"
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.SES.RatePerSecond == 0 {
		cfg.SES.RatePerSecond = 14
	}
	if cfg.SES.Burst == 0 {
		cfg.SES.Burst = 14
	}
	if cfg.Webhook.TimeoutSeconds == 0 {
		cfg.Webhook.TimeoutSeconds = 10
	}
	if cfg.Webhook.MaxRetries == 0 {
		cfg.Webhook.MaxRetries = 3
	}
	if cfg.Webhook.RatePerSecond == 0 {
		cfg.Webhook.RatePerSecond = 50
	}
	if cfg.Webhook.Burst == 0 {
		cfg.Webhook.Burst = 10
	}
	if cfg.InApp.RatePerSecond == 0 {
		cfg.InApp.RatePerSecond = 200
	}
	if cfg.InApp.Burst == 0 {
		cfg.InApp.Burst = 50
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "batches/"
	}
	if cfg.Archive.Region == "" {
		cfg.Archive.Region = cfg.Storage.DynamoDB.Region
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate rejects settings the engine cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "memory", "dynamodb":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.database_url is required for postgres storage")
		}
	default:
		return fmt.Errorf("unknown storage.type %q", c.Storage.Type)
	}
	switch c.Engine.ResumePolicy {
	case "rerun", "fail":
	default:
		return fmt.Errorf("unknown engine.resume_policy %q", c.Engine.ResumePolicy)
	}
	// A claim must outlive the pass holding it.
	if c.Engine.LockTTL() <= c.Engine.PassTimeout() {
		return fmt.Errorf("engine.lock_ttl_seconds (%d) must exceed engine.pass_timeout_seconds (%d)",
			c.Engine.LockTTLSeconds, c.Engine.PassTimeoutSeconds)
	}
	if c.InApp.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("in_app requires redis.addr")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when the archive is enabled")
	}
	if (c.CRM.TenantTable != "" || c.CRM.DBTemplates) && c.CRM.DatabaseURL == "" {
		return fmt.Errorf("crm.database_url is required for tenant_table and db_templates")
	}
	return nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("WORKER_ID"); v != "" {
		cfg.Engine.WorkerID = v
	}

	// Database overrides (ECS task definitions carry the real URLs)
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("CRM_DATABASE_URL"); v != "" {
		cfg.CRM.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DYNAMODB_ENDPOINT"); v != "" {
		cfg.Storage.DynamoDB.Endpoint = v
	}

	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := os.Getenv("ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
