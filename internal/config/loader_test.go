package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr bool
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
state:
  path: ./test.db
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "deskhook", cfg.Service.Name)
				assert.Equal(t, "info", cfg.Service.LogLevel)
				assert.Equal(t, DriverSQLite, cfg.State.Driver)
				assert.Equal(t, "./test.db", cfg.State.Path)
				assert.Equal(t, 90*24*time.Hour, cfg.Audit.Retention)
				require.Contains(t, cfg.Webhooks.Endpoints, "freshdesk")
				ep := cfg.Webhooks.Endpoints["freshdesk"]
				assert.Equal(t, "helpdesk", ep.Source)
				assert.Equal(t, DefaultSignatureHeader, ep.SignatureHeader)
				assert.Equal(t, "1MB", ep.MaxBodySize)
			},
		},
		{
			name: "endpoints replace defaults and get field defaults",
			yaml: `
webhooks:
  listen: 127.0.0.1:9000
  strict_status_inference: true
  endpoints:
    hubspot:
      source: crm
      secret: abc
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "127.0.0.1:9000", cfg.Webhooks.Listen)
				assert.True(t, cfg.Webhooks.StrictStatusInference)
				assert.NotContains(t, cfg.Webhooks.Endpoints, "freshdesk")
				ep := cfg.Webhooks.Endpoints["hubspot"]
				assert.Equal(t, "crm", ep.Source)
				assert.Equal(t, "abc", ep.Secret)
				assert.Equal(t, DefaultSignatureHeader, ep.SignatureHeader)
			},
		},
		{
			name: "env var interpolation",
			yaml: `
state:
  path: ${DESKHOOK_TEST_DB_PATH}
webhooks:
  endpoints:
    freshdesk:
      secret: ${DESKHOOK_TEST_SECRET}
`,
			env: map[string]string{
				"DESKHOOK_TEST_DB_PATH": "/tmp/test.db",
				"DESKHOOK_TEST_SECRET":  "s3cret",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/tmp/test.db", cfg.State.Path)
				assert.Equal(t, "s3cret", cfg.Webhooks.Endpoints["freshdesk"].Secret)
			},
		},
		{
			name: "missing env var fails validation",
			yaml: `
webhooks:
  endpoints:
    freshdesk:
      secret: ${DESKHOOK_TEST_MISSING_VAR}
`,
			wantErr: true,
		},
		{
			name: "retention zero disables purge",
			yaml: `
audit:
  retention: 0s
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Zero(t, cfg.Audit.Retention)
				assert.Equal(t, time.Hour, cfg.Audit.SweepInterval)
			},
		},
		{
			name: "invalid log level",
			yaml: `
service:
  log_level: invalid
`,
			wantErr: true,
		},
		{
			name: "postgres requires dsn",
			yaml: `
state:
  driver: postgres
`,
			wantErr: true,
		},
		{
			name: "unknown driver",
			yaml: `
state:
  driver: mongo
`,
			wantErr: true,
		},
		{
			name: "invalid endpoint source",
			yaml: `
webhooks:
  endpoints:
    freshdesk:
      source: email
`,
			wantErr: true,
		},
		{
			name: "invalid endpoint name",
			yaml: `
webhooks:
  endpoints:
    "Fresh Desk":
      source: helpdesk
`,
			wantErr: true,
		},
		{
			name: "api token without scopes",
			yaml: `
api:
  enabled: true
  auth:
    tokens:
      - token: abc
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			configPath := filepath.Join(t.TempDir(), "deskhook.yaml")
			require.NoError(t, os.WriteFile(configPath, []byte(tt.yaml), 0o644))

			cfg, err := Load(configPath)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deskhook.yaml"), []byte("service:\n  name: from-dir\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-dir", cfg.Service.Name)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDiscover(t *testing.T) {
	got, err := Discover("explicit.yaml")
	require.NoError(t, err)
	assert.Equal(t, "explicit.yaml", got)

	t.Setenv(EnvConfigPath, "/etc/deskhook.yaml")
	got, err = Discover("")
	require.NoError(t, err)
	assert.Equal(t, "/etc/deskhook.yaml", got)
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.API.Auth.APIKey = "key"
	cfg.API.Auth.Tokens = []APIToken{{Token: "tok", Scopes: []string{"logs:ro"}}}
	cfg.Webhooks.Endpoints["freshdesk"] = WebhookEndpoint{Source: "helpdesk", Secret: "shh"}

	red := cfg.Redacted()
	assert.Equal(t, "********", red.API.Auth.APIKey)
	assert.Equal(t, "********", red.API.Auth.Tokens[0].Token)
	assert.Equal(t, "********", red.Webhooks.Endpoints["freshdesk"].Secret)

	// Original untouched.
	assert.Equal(t, "shh", cfg.Webhooks.Endpoints["freshdesk"].Secret)
	assert.Equal(t, "tok", cfg.API.Auth.Tokens[0].Token)
}
