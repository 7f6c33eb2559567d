package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

var endpointNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ErrNoConfig is returned by Discover when no configuration file exists.
var ErrNoConfig = errors.New("no configuration file found")

// EnvConfigPath names the environment variable consulted by Discover.
const EnvConfigPath = "DESKHOOK_CONFIG"

// Load reads and parses configuration from a file. Values not present in the
// file keep their defaults.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "deskhook.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but deskhook.yaml not found: %s", absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	cfg = applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds the config file by checking standard locations.
// Priority order: explicit flag value, $DESKHOOK_CONFIG, ./deskhook.yaml,
// ~/.config/deskhook/deskhook.yaml.
func Discover(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	if _, err := os.Stat("deskhook.yaml"); err == nil {
		return "deskhook.yaml", nil
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(homeDir, ".config", "deskhook", "deskhook.yaml")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", ErrNoConfig
}

// loadConfigFile parses a single config file on top of the defaults.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	cfg := Defaults()
	// Endpoints from the file replace the default set instead of merging into it.
	cfg.Webhooks.Endpoints = nil
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

// applyConfigDefaults fills fields left empty by the file.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.State.Driver == "" {
		cfg.State.Driver = defaults.State.Driver
	}
	if cfg.State.Driver == DriverSQLite && cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	if cfg.Webhooks.Listen == "" {
		cfg.Webhooks.Listen = defaults.Webhooks.Listen
	}
	if len(cfg.Webhooks.Endpoints) == 0 {
		cfg.Webhooks.Endpoints = defaults.Webhooks.Endpoints
	}
	def := DefaultEndpoint()
	for name, ep := range cfg.Webhooks.Endpoints {
		if ep.Source == "" {
			ep.Source = def.Source
		}
		if ep.SignatureHeader == "" {
			ep.SignatureHeader = def.SignatureHeader
		}
		if ep.MaxBodySize == "" {
			ep.MaxBodySize = def.MaxBodySize
		}
		cfg.Webhooks.Endpoints[name] = ep
	}

	if cfg.Audit.SweepInterval == 0 {
		cfg.Audit.SweepInterval = defaults.Audit.SweepInterval
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place so validation can name the missing variable.
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	switch cfg.State.Driver {
	case DriverSQLite:
		if cfg.State.Path == "" {
			return fmt.Errorf("state.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if cfg.State.DSN == "" {
			return fmt.Errorf("state.dsn is required for the postgres driver")
		}
		if err := checkUnresolved("state.dsn", cfg.State.DSN); err != nil {
			return err
		}
	default:
		return fmt.Errorf("state.driver must be sqlite or postgres (got %q)", cfg.State.Driver)
	}

	if cfg.API.Enabled {
		if err := checkUnresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if err := checkUnresolved(fmt.Sprintf("api.auth.tokens[%d].token", i), tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	for _, name := range cfg.EndpointNames() {
		ep := cfg.Webhooks.Endpoints[name]
		if !endpointNamePattern.MatchString(name) {
			return fmt.Errorf("webhooks.endpoints: invalid endpoint name %q (lowercase letters, digits, '-' and '_')", name)
		}
		if ep.Source != "helpdesk" && ep.Source != "crm" {
			return fmt.Errorf("webhooks.endpoints.%s.source must be helpdesk or crm (got %q)", name, ep.Source)
		}
		if err := checkUnresolved(fmt.Sprintf("webhooks.endpoints.%s.secret", name), ep.Secret); err != nil {
			return err
		}
	}

	if cfg.Audit.Retention < 0 {
		return fmt.Errorf("audit.retention must not be negative")
	}
	if cfg.Audit.SweepInterval < 0 {
		return fmt.Errorf("audit.sweep_interval must not be negative")
	}

	return nil
}

// checkUnresolved reports a ${VAR} placeholder that survived interpolation.
func checkUnresolved(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

// EndpointNames returns the configured webhook endpoint names, sorted.
func (c *Config) EndpointNames() []string {
	names := make([]string, 0, len(c.Webhooks.Endpoints))
	for name := range c.Webhooks.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Redacted returns a copy of the config with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.API.Auth.Tokens = make([]APIToken, len(c.API.Auth.Tokens))
	for i, t := range c.API.Auth.Tokens {
		out.API.Auth.Tokens[i] = APIToken{Token: mask(t.Token), Scopes: t.Scopes}
	}
	out.API.Auth.APIKey = mask(c.API.Auth.APIKey)
	out.State.DSN = mask(c.State.DSN)
	out.Webhooks.Endpoints = make(map[string]WebhookEndpoint, len(c.Webhooks.Endpoints))
	for name, ep := range c.Webhooks.Endpoints {
		ep.Secret = mask(ep.Secret)
		out.Webhooks.Endpoints[name] = ep
	}
	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
