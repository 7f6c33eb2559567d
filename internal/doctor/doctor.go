// Package doctor validates deskhook configuration beyond what Load enforces.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/mattjoyce/deskhook/internal/config"
	"github.com/mattjoyce/deskhook/internal/webhook"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateStorage(r)
	d.validateListeners(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.validateWebhooks(r)
	d.validateRetention(r)
	d.warnDeprecatedSyntax(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateStorage(r *Result) {
	switch d.cfg.State.Driver {
	case config.DriverSQLite:
		if d.cfg.State.Path == "" {
			d.addError(r, "state", "state.path", "state.path is required for the sqlite driver")
		}
		if d.cfg.State.DSN != "" {
			d.addWarning(r, "state", "state.dsn", "state.dsn is ignored by the sqlite driver")
		}
	case config.DriverPostgres:
		if d.cfg.State.DSN == "" {
			d.addError(r, "state", "state.dsn", "state.dsn is required for the postgres driver")
		}
	default:
		d.addError(r, "state", "state.driver",
			fmt.Sprintf("unknown storage driver %q (expected sqlite or postgres)", d.cfg.State.Driver))
	}
}

// validateListeners checks listen addresses parse and do not collide.
func (d *Doctor) validateListeners(r *Result) {
	if _, _, err := net.SplitHostPort(d.cfg.Webhooks.Listen); err != nil {
		d.addError(r, "webhooks", "webhooks.listen",
			fmt.Sprintf("invalid listen address %q: %v", d.cfg.Webhooks.Listen, err))
	}
	if !d.cfg.API.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(d.cfg.API.Listen); err != nil {
		d.addError(r, "api", "api.listen",
			fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if d.cfg.API.Listen == d.cfg.Webhooks.Listen {
		d.addError(r, "api", "api.listen",
			fmt.Sprintf("api.listen %q collides with webhooks.listen", d.cfg.API.Listen))
	}
}

func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth",
			"API enabled but no tokens configured; every authenticated route will return 401")
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err == nil && (host == "" || host == "0.0.0.0" || host == "::") {
		d.addWarning(r, "api", "api.listen",
			fmt.Sprintf("API listens on all interfaces (%q); audit payloads contain customer data", d.cfg.API.Listen))
	}
}

// validateTokenScopes checks each scope names a known resource and access level.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			field := fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j)
			d.validateSingleScope(r, scope, field)
		}
	}
}

func (d *Doctor) validateSingleScope(r *Result, scope, field string) {
	if scope == "*" {
		return
	}
	resource, access, ok := strings.Cut(strings.ToLower(strings.TrimSpace(scope)), ":")
	if !ok {
		d.addError(r, "token_scopes", field,
			fmt.Sprintf("invalid scope %q (expected format: resource:access)", scope))
		return
	}
	switch resource {
	case "logs", "events":
	default:
		d.addError(r, "token_scopes", field,
			fmt.Sprintf("scope %q references unknown resource %q (expected logs or events)", scope, resource))
		return
	}
	if access != "ro" && access != "rw" {
		d.addError(r, "token_scopes", field,
			fmt.Sprintf("scope %q: invalid access type %q (expected ro or rw)", scope, access))
	}
}

func (d *Doctor) validateWebhooks(r *Result) {
	if len(d.cfg.Webhooks.Endpoints) == 0 {
		d.addError(r, "webhooks", "webhooks.endpoints", "at least one webhook endpoint is required")
		return
	}
	if _, err := webhook.FromGlobalConfig(&d.cfg.Webhooks); err != nil {
		d.addError(r, "webhooks", "webhooks.endpoints", err.Error())
	}

	for _, name := range d.cfg.EndpointNames() {
		ep := d.cfg.Webhooks.Endpoints[name]
		field := "webhooks.endpoints." + name
		if ep.Secret == "" {
			d.addWarning(r, "webhooks", field+".secret",
				fmt.Sprintf("endpoint %q has no secret; unsigned requests will be accepted", name))
		} else if len(ep.Secret) < 16 {
			d.addWarning(r, "webhooks", field+".secret",
				fmt.Sprintf("endpoint %q secret is shorter than 16 characters", name))
		}
	}
	if d.cfg.Webhooks.StrictStatusInference {
		d.addWarning(r, "webhooks", "webhooks.strict_status_inference",
			"strict status inference classifies unmatched statuses as unknown")
	}
}

func (d *Doctor) validateRetention(r *Result) {
	a := d.cfg.Audit
	if a.Retention == 0 {
		d.addWarning(r, "audit", "audit.retention", "retention is disabled; audit entries are kept forever")
		return
	}
	if a.Retention < 24*time.Hour {
		d.addWarning(r, "audit", "audit.retention",
			fmt.Sprintf("retention %s is shorter than one day", a.Retention))
	}
	if a.SweepInterval > a.Retention {
		d.addWarning(r, "audit", "audit.sweep_interval",
			fmt.Sprintf("sweep interval %s exceeds retention %s", a.SweepInterval, a.Retention))
	}
}

// warnDeprecatedSyntax warns about legacy config patterns.
func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "deprecated", "api.auth.api_key",
			"legacy api_key grants full access; migrate to tokens array with scopes")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
