package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/deskhook/internal/api"
	"github.com/mattjoyce/deskhook/internal/audit"
	"github.com/mattjoyce/deskhook/internal/auth"
	"github.com/mattjoyce/deskhook/internal/config"
	"github.com/mattjoyce/deskhook/internal/doctor"
	"github.com/mattjoyce/deskhook/internal/events"
	"github.com/mattjoyce/deskhook/internal/lock"
	"github.com/mattjoyce/deskhook/internal/log"
	"github.com/mattjoyce/deskhook/internal/metrics"
	"github.com/mattjoyce/deskhook/internal/pipeline"
	"github.com/mattjoyce/deskhook/internal/scheduler"
	"github.com/mattjoyce/deskhook/internal/tui/watch"
	"github.com/mattjoyce/deskhook/internal/user"
	"github.com/mattjoyce/deskhook/internal/webhook"
)

var version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	if len(argv) < 1 {
		printUsage()
		return 1
	}

	cmd := argv[0]
	args := argv[1:]

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "user":
		return runUserNoun(args)
	case "logs":
		return runLogsNoun(args)

	case "start":
		return runStart(args)
	case "version":
		fmt.Printf("deskhook version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`deskhook - helpdesk webhook ingestion and audit log

Usage:
  deskhook <noun> <action> [flags]

Core Resources (Nouns):
  system    Service lifecycle
  config    Configuration validation and display
  user      Known requesters used for identity resolution
  logs      Audit log inspection

System Commands:
  system start      Start the webhook receiver (and API) in foreground

Config Commands:
  config check      Validate configuration and report warnings
  config show       Print the resolved configuration with secrets masked

User Commands:
  user add          Register a user by email
  user list         List registered users

Logs Commands:
  logs list         Show audit entries, newest first
  logs stats        Count audit entries by event and source
  logs watch        Live terminal view of the audit stream (needs the API)

General:
  version           Show version information
  help              Show this help message

Use 'deskhook <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

type action struct {
	run  func([]string) int
	help string
}

func dispatchNoun(noun string, args []string, actions map[string]action, names string) int {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: deskhook %s <action> [flags]\nActions: %s\n", noun, names)
		return 1
	}
	if isHelpToken(args[0]) {
		fmt.Printf("Usage: deskhook %s <action> [flags]\nActions: %s\n", noun, names)
		return 0
	}

	a, ok := actions[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown %s action: %s\n", noun, args[0])
		return 1
	}
	if hasHelpFlag(args[1:]) {
		fmt.Println(a.help)
		return 0
	}
	return a.run(args[1:])
}

func runSystemNoun(args []string) int {
	return dispatchNoun("system", args, map[string]action{
		"start": {runStart, "Usage: deskhook system start [--config PATH]\nStart the webhook receiver in the foreground."},
	}, "start")
}

func runConfigNoun(args []string) int {
	return dispatchNoun("config", args, map[string]action{
		"check": {runConfigCheck, "Usage: deskhook config check [--config PATH] [--format human|json] [--strict] [--json]\nValidate configuration and report warnings."},
		"show":  {runConfigShow, "Usage: deskhook config show [--config PATH] [--json]\nShow the resolved configuration with secrets masked."},
	}, "check, show")
}

func runUserNoun(args []string) int {
	return dispatchNoun("user", args, map[string]action{
		"add":  {runUserAdd, "Usage: deskhook user add --email EMAIL [--name NAME] [--config PATH]\nRegister a user for identity resolution."},
		"list": {runUserList, "Usage: deskhook user list [--config PATH] [--json]\nList registered users."},
	}, "add, list")
}

func runLogsNoun(args []string) int {
	return dispatchNoun("logs", args, map[string]action{
		"list":  {runLogsList, "Usage: deskhook logs list [--user ID] [--event NAME] [--source helpdesk|crm] [--since DATE] [--until DATE] [--limit N] [--config PATH] [--json]\nShow audit entries, newest first."},
		"stats": {runLogsStats, "Usage: deskhook logs stats [--user ID] [--days N] [--config PATH] [--json]\nCount audit entries by event and source."},
		"watch": {runLogsWatch, "Usage: deskhook logs watch [--api-url URL] [--token TOKEN] [--config PATH]\nLive terminal view of the audit stream. The token needs the events:ro scope."},
	}, "list, stats, watch")
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func loadConfigForTool(configPath string) (*config.Config, error) {
	path, err := config.Discover(configPath)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path, err := config.Discover(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("deskhook starting", "version", version, "config", path)

	lockPath := cfg.State.Path
	if cfg.State.Driver == config.DriverPostgres {
		lockPath = ""
	}
	pidLock, err := lock.Acquire(lock.PathFor(lockPath, cfg.Service.Name))
	if err != nil {
		logger.Error("failed to acquire PID lock", "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Error("failed to open storage", "driver", cfg.State.Driver, "error", err)
		return 1
	}
	defer st.close()
	logger.Info("storage opened", "driver", cfg.State.Driver, "location", stateLocation(cfg))

	webhookConfig, err := webhook.FromGlobalConfig(&cfg.Webhooks)
	if err != nil {
		logger.Error("failed to configure webhooks", "error", err)
		return 1
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	hub := events.NewHub(events.DefaultCapacity)

	recorder := audit.NewRecorder(st.audit, hub, m, log.WithComponent("audit"))
	pipe := pipeline.New(pipeline.Config{
		Resolver:              user.NewResolver(st.users, log.WithComponent("identity")),
		Recorder:              recorder,
		Metrics:               m,
		Logger:                log.WithComponent("pipeline"),
		StrictStatusInference: cfg.Webhooks.StrictStatusInference,
	})

	sweeper := scheduler.New(scheduler.Config{
		Retention: cfg.Audit.Retention,
		Interval:  cfg.Audit.SweepInterval,
		Jitter:    cfg.Audit.SweepInterval / 10,
	}, st.audit, hub, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	webhookServer := webhook.New(webhookConfig, pipe, m, log.WithComponent("webhook"))
	go func() {
		if err := webhookServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("webhook: %w", err)
		}
	}()
	logger.Info("webhook server enabled", "listen", webhookConfig.Listen, "endpoints", cfg.EndpointNames())

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen:       cfg.API.Listen,
			APIKey:       cfg.API.Auth.APIKey,
			Tokens:       auth.FromConfig(cfg.API.Auth.Tokens),
			StorageCheck: st.ping,
		}, st.audit, hub, reg, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("deskhook running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("deskhook stopped")
	return 0
}

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool
	var format string

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	redacted := cfg.Redacted()
	if *jsonOut {
		data, _ := json.MarshalIndent(redacted, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	data, err := yaml.Marshal(redacted)
	if err != nil {
		fmt.Fprintf(os.Stderr, "YAML format error: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

func runUserAdd(args []string) int {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration")
	email := fs.String("email", "", "User email address (required)")
	name := fs.String("name", "", "Display name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if strings.TrimSpace(*email) == "" {
		fmt.Fprintln(os.Stderr, "Usage: deskhook user add --email EMAIL [--name NAME]")
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", err)
		return 1
	}
	defer st.close()

	u, err := st.users.Create(ctx, *email, *name)
	if errors.Is(err, user.ErrExists) {
		fmt.Fprintf(os.Stderr, "User %s already exists\n", user.NormalizeEmail(*email))
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Create failed: %v\n", err)
		return 1
	}
	fmt.Printf("Created user %s (%s)\n", u.ID, u.Email)
	return 0
}

func runUserList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", err)
		return 1
	}
	defer st.close()

	users, err := st.users.List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(users, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	if len(users) == 0 {
		fmt.Println("No users registered.")
		return 0
	}
	for _, u := range users {
		fmt.Printf("%-36s  %-32s  %s\n", u.ID, u.Email, u.Name)
	}
	return 0
}

func runLogsList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration")
	userID := fs.String("user", "", "Filter by user id (system, error or a resolved id)")
	event := fs.String("event", "", "Filter by event label")
	source := fs.String("source", "", "Filter by source (helpdesk, crm)")
	since := fs.String("since", "", "Only entries at or after this time (RFC3339 or YYYY-MM-DD)")
	until := fs.String("until", "", "Only entries at or before this time (RFC3339 or YYYY-MM-DD)")
	limit := fs.Int("limit", 20, "Maximum entries to show")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	f := audit.Filter{
		UserID: *userID,
		Event:  *event,
		Source: audit.Source(*source),
		Limit:  *limit,
	}
	var err error
	if f.Since, err = parseTimeFlag(*since, false); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --since: %v\n", err)
		return 1
	}
	if f.Until, err = parseTimeFlag(*until, true); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --until: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", err)
		return 1
	}
	defer st.close()

	page, err := st.audit.Query(ctx, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(page, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	for _, e := range page.Entries {
		fmt.Printf("%s  %-8s  %-28s  %s\n", e.Timestamp.Format(time.RFC3339), e.Source, e.Event, e.UserID)
	}
	fmt.Printf("%d of %d entries\n", len(page.Entries), page.Total)
	return 0
}

func runLogsStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration")
	userID := fs.String("user", "", "Restrict to one user id")
	days := fs.Int("days", 30, "Look-back window in days (0 for all time)")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *days < 0 {
		fmt.Fprintln(os.Stderr, "--days must not be negative")
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", err)
		return 1
	}
	defer st.close()

	f := audit.Filter{UserID: *userID}
	if *days > 0 {
		f.Since = time.Now().UTC().AddDate(0, 0, -*days)
	}
	counts, err := st.audit.AggregateCounts(ctx, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Aggregate failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(counts, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	var total int
	for _, c := range counts {
		total += c.Count
		fmt.Printf("%-28s  %-8s  %6d  %s\n", c.Event, c.Source, c.Count, c.LastReceived.Format(time.RFC3339))
	}
	fmt.Printf("total: %d\n", total)
	return 0
}

// EnvAPIToken supplies the bearer token for logs watch.
const EnvAPIToken = "DESKHOOK_API_TOKEN"

func runLogsWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration (used to find api.listen)")
	apiURL := fs.String("api-url", "", "API base URL (default derived from api.listen)")
	token := fs.String("token", os.Getenv(EnvAPIToken), "API bearer token with events:ro")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *token == "" {
		fmt.Fprintf(os.Stderr, "Error: API token required. Use --token or %s env var.\n", EnvAPIToken)
		return 1
	}

	if *apiURL == "" {
		listen := config.Defaults().API.Listen
		if cfg, err := loadConfigForTool(*configPath); err == nil {
			listen = cfg.API.Listen
		}
		*apiURL = apiURLFromListen(listen)
	}

	p := tea.NewProgram(watch.New(strings.TrimSuffix(*apiURL, "/"), *token))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// apiURLFromListen turns a listen address into a loopback URL for local clients.
func apiURLFromListen(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// parseTimeFlag accepts RFC3339 or a bare date. A bare date used as an upper
// bound covers the whole day.
func parseTimeFlag(v string, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", v)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
