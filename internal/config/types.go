package config

import "time"

// Config represents the complete deskhook configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	State    StateConfig    `yaml:"state"`
	API      APIConfig      `yaml:"api,omitempty"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
	Audit    AuditConfig    `yaml:"audit"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StateConfig defines where users and audit entries are persisted.
type StateConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver"`
	// Path is the SQLite database file (sqlite driver).
	Path string `yaml:"path"`
	// DSN is the PostgreSQL connection string (postgres driver).
	DSN string `yaml:"dsn,omitempty"`
}

// APIConfig defines the log retrieval API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the legacy single bearer token (admin/full access).
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// WebhooksConfig defines webhook listener settings.
type WebhooksConfig struct {
	Listen string `yaml:"listen"`
	// StrictStatusInference classifies unmatched ticket statuses as unknown
	// instead of updated.
	StrictStatusInference bool                       `yaml:"strict_status_inference"`
	Endpoints             map[string]WebhookEndpoint `yaml:"endpoints"`
}

// WebhookEndpoint defines a single provider endpoint, served at
// POST /webhooks/<name>.
type WebhookEndpoint struct {
	// Source tags audit entries: "helpdesk" or "crm".
	Source string `yaml:"source"`
	// Secret is the shared HMAC secret. Empty disables signature checks.
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
	MaxBodySize     string `yaml:"max_body_size"`
}

// AuditConfig defines audit log retention.
type AuditConfig struct {
	// Retention is the age after which entries are purged. Zero keeps entries forever.
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultSignatureHeader is the header Freshdesk-style senders use.
const DefaultSignatureHeader = "X-Freshdesk-Signature"

// Defaults returns a Config with sensible defaults for local operation.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "deskhook",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Driver: DriverSQLite,
			Path:   "./data/deskhook.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Webhooks: WebhooksConfig{
			Listen: ":8081",
			Endpoints: map[string]WebhookEndpoint{
				"freshdesk": DefaultEndpoint(),
			},
		},
		Audit: AuditConfig{
			Retention:     90 * 24 * time.Hour,
			SweepInterval: time.Hour,
		},
	}
}

// DefaultEndpoint returns the settings applied to endpoints that leave fields unset.
func DefaultEndpoint() WebhookEndpoint {
	return WebhookEndpoint{
		Source:          "helpdesk",
		SignatureHeader: DefaultSignatureHeader,
		MaxBodySize:     "1MB",
	}
}
