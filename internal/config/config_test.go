package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"
  allowed_origins: ["https://ops.example.com"]

engine:
  tenant_concurrency: 8
  recipient_page_size: 250
  lock_ttl_seconds: 60
  pass_timeout_seconds: 30
  resume_policy: fail
  poll_interval_seconds: 2

storage:
  type: dynamodb
  dynamodb:
    table: "engine-test"
    endpoint: "http://localhost:8000"

ses:
  enabled: true
  from_email: "news@example.com"
  rate_per_second: 5

tenants:
  schemas:
    acme: tenant_acme
  default_pattern: "tenant_%s"

templates:
  welcome:
    subject: "Hi {{ first_name }}"
    body: "Welcome aboard"

logging:
  level: debug
  redact_pii: false
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, []string{"https://ops.example.com"}, cfg.Server.AllowedOrigins)

	assert.Equal(t, 8, cfg.Engine.TenantConcurrency)
	assert.Equal(t, 250, cfg.Engine.RecipientPageSize)
	assert.Equal(t, time.Minute, cfg.Engine.LockTTL())
	assert.Equal(t, 30*time.Second, cfg.Engine.PassTimeout())
	assert.Equal(t, "fail", cfg.Engine.ResumePolicy)
	assert.Equal(t, 2*time.Second, cfg.Engine.PollInterval())

	assert.Equal(t, "dynamodb", cfg.Storage.Type)
	assert.Equal(t, "engine-test", cfg.Storage.DynamoDB.Table)
	assert.Equal(t, "http://localhost:8000", cfg.Storage.DynamoDB.Endpoint)

	assert.True(t, cfg.SES.Enabled)
	assert.Equal(t, 5.0, cfg.SES.RatePerSecond)

	assert.Equal(t, "tenant_acme", cfg.Tenants.Schemas["acme"])
	assert.Equal(t, "tenant_%s", cfg.Tenants.DefaultPattern)
	assert.Equal(t, "Hi {{ first_name }}", cfg.Templates["welcome"].Subject)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Redact())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  api_key: k\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 4, cfg.Engine.TenantConcurrency)
	assert.Equal(t, 500, cfg.Engine.RecipientPageSize)
	assert.Equal(t, 1000, cfg.Engine.JourneyBudget)
	assert.Equal(t, 16, cfg.Engine.MaxStepsPerJourney)
	assert.Equal(t, 5*time.Minute, cfg.Engine.LockTTL())
	assert.Equal(t, "rerun", cfg.Engine.ResumePolicy)
	assert.Equal(t, 2*time.Minute, cfg.Engine.PassTimeout())
	assert.Equal(t, 10, cfg.Engine.BatchLimit)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 10*time.Second, cfg.Webhook.Timeout())
	assert.Equal(t, 3, cfg.Webhook.MaxRetries)
	assert.Equal(t, "batches/", cfg.Archive.Prefix)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redact())
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown storage", "storage:\n  type: sqlite\n", "storage.type"},
		{"postgres without url", "storage:\n  type: postgres\n", "database_url"},
		{"bad resume policy", "engine:\n  resume_policy: retry\n", "resume_policy"},
		{"lock shorter than pass", "engine:\n  lock_ttl_seconds: 60\n", "lock_ttl_seconds"},
		{"lock equal to pass", "engine:\n  lock_ttl_seconds: 90\n  pass_timeout_seconds: 90\n", "pass_timeout_seconds"},
		{"in-app without redis", "in_app:\n  enabled: true\n", "redis.addr"},
		{"archive without bucket", "archive:\n  enabled: true\n", "archive.bucket"},
		{"tenant table without crm", "crm:\n  tenant_table: tenants\n", "crm.database_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	configPath := writeConfig(t, `
server:
  api_key: "file-key"
storage:
  type: postgres
  database_url: "postgres://file"
`)

	t.Setenv("API_KEY", "env-key")
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("PORT", "7000")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Server.APIKey)
	assert.Equal(t, "postgres://env", cfg.Storage.DatabaseURL)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}
