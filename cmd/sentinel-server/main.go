// SentinelOps Server - CI/CD security gate
//
// Runs the pipeline executor and the HTTP API:
//
//	sentinel-server -config server.yaml
//	sentinel-server -addr :8080 -db sentinel.db
//
// Secrets in the config file can reference environment variables
// ($SENTINEL_SECRET style); they are expanded before parsing.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sentinelops/sentinel/pkg/audit"
	"github.com/sentinelops/sentinel/pkg/auth"
	"github.com/sentinelops/sentinel/pkg/executor"
	"github.com/sentinelops/sentinel/pkg/health"
	"github.com/sentinelops/sentinel/pkg/logging"
	"github.com/sentinelops/sentinel/pkg/metrics"
	"github.com/sentinelops/sentinel/pkg/policy"
	"github.com/sentinelops/sentinel/pkg/scanners/bandit"
	"github.com/sentinelops/sentinel/pkg/scanners/trivy"
	"github.com/sentinelops/sentinel/pkg/scm"
	"github.com/sentinelops/sentinel/pkg/server"
	"github.com/sentinelops/sentinel/pkg/store"
	"github.com/sentinelops/sentinel/pkg/tracker"
)

const (
	appName    = "sentinel-server"
	appVersion = "1.0.0"
)

// Config is the server configuration file.
type Config struct {
	Server struct {
		Addr              string        `yaml:"addr"`
		TriggersPerMinute int           `yaml:"triggers_per_minute"`
		ReadTimeout       time.Duration `yaml:"read_timeout"`
		WriteTimeout      time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	LogLevel string `yaml:"log_level"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	// AuditLog is the JSONL audit trail path. Empty disables the trail.
	AuditLog string `yaml:"audit_log"`

	Auth auth.Config `yaml:"auth"`

	Pipeline struct {
		HistoryLimit int           `yaml:"history_limit"`
		CloneTimeout time.Duration `yaml:"clone_timeout"`
		BuildTimeout time.Duration `yaml:"build_timeout"`
		DockerBinary string        `yaml:"docker_binary"`
		BanditBinary string        `yaml:"bandit_binary"`
		TrivyBinary  string        `yaml:"trivy_binary"`
	} `yaml:"pipeline"`

	GitHub scm.GitHubConfig `yaml:"github"`
	GitLab scm.GitLabConfig `yaml:"gitlab"`
}

func main() {
	configPath := flag.String("config", "", "Path to config file")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}

	var cfg Config
	if *configPath != "" {
		if err := loadConfig(*configPath, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if cfg.Auth.Secret == "" {
		cfg.Auth.Secret = os.Getenv("SENTINEL_AUTH_SECRET")
	}

	logger := logging.NewDefaultLogger("sentinel", logging.ParseLevel(cfg.LogLevel))

	if err := run(&cfg, logger); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(cfg *Config, logger logging.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Storage.
	storeCfg := store.DefaultConfig()
	if cfg.Database.Path != "" {
		storeCfg.DatabasePath = cfg.Database.Path
	}
	st, err := store.New(storeCfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	// Audit trail.
	trail := audit.Nop()
	if cfg.AuditLog != "" {
		trail, err = audit.Open(cfg.AuditLog)
		if err != nil {
			return fmt.Errorf("open audit trail: %w", err)
		}
		defer trail.Close()
	}

	collector := metrics.NewPrometheusCollector(nil)

	// Authentication.
	authn, err := auth.New(&cfg.Auth)
	if err != nil {
		return err
	}

	// Tracker, restored from persisted runs.
	trk := tracker.New(&tracker.Config{
		Store:        st,
		HistoryLimit: cfg.Pipeline.HistoryLimit,
		Logger:       logger,
	})
	restored, err := st.ListRuns(ctx, 0)
	if err != nil {
		return fmt.Errorf("restore runs: %w", err)
	}
	trk.Restore(restored)
	logger.Info("restored %d pipeline runs", len(restored))

	policies := policy.NewManager(st, logger)

	// Scanners.
	banditScanner := bandit.NewScanner()
	if cfg.Pipeline.BanditBinary != "" {
		banditScanner.Binary = cfg.Pipeline.BanditBinary
	}
	trivyScanner := trivy.NewScanner()
	if cfg.Pipeline.TrivyBinary != "" {
		trivyScanner.Binary = cfg.Pipeline.TrivyBinary
	}

	// SCM integrations, enabled per configured credentials. A configured
	// provider also backfills commit metadata for manual triggers.
	var gh *scm.GitHub
	var gl *scm.GitLab
	if cfg.GitHub.WebhookSecret != "" || cfg.GitHub.Token != "" {
		cfg.GitHub.Logger = logger
		gh = scm.NewGitHub(&cfg.GitHub)
	}
	if cfg.GitLab.WebhookToken != "" || cfg.GitLab.Token != "" {
		cfg.GitLab.Logger = logger
		gl, err = scm.NewGitLab(&cfg.GitLab)
		if err != nil {
			return fmt.Errorf("gitlab integration: %w", err)
		}
	}
	var commits scm.CommitLookup
	if gh != nil {
		commits = gh
	} else if gl != nil {
		commits = gl
	}

	exec, err := executor.New(&executor.Config{
		Tracker:      trk,
		Policies:     policies,
		Reports:      &reportStore{st},
		CodeScanner:  banditScanner,
		ImageScanner: trivyScanner,
		Commits:      commits,
		CloneTimeout: cfg.Pipeline.CloneTimeout,
		BuildTimeout: cfg.Pipeline.BuildTimeout,
		DockerBinary: cfg.Pipeline.DockerBinary,
		Metrics:      collector,
		Audit:        trail,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	// Health checks.
	checks := health.NewHandler(appVersion)
	checks.Register("database", &health.DatabaseCheck{PingFunc: st.Ping})
	checks.Register(banditScanner.Name(), scannerCheck(banditScanner.Binary, banditScanner))
	checks.Register(trivyScanner.Name(), scannerCheck(trivyScanner.Binary, trivyScanner))
	checks.Register("disk", &health.WorkspaceDiskCheck{Path: os.TempDir(), MinFreePercent: 5})

	serverCfg := &server.Config{
		Addr:              cfg.Server.Addr,
		Tracker:           trk,
		Pipelines:         exec,
		Policies:          policies,
		Auth:              authn,
		Reports:           &reportStore{st},
		Health:            checks,
		TriggersPerMinute: cfg.Server.TriggersPerMinute,
		Metrics:           collector,
		Audit:             trail,
		Logger:            logger,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	if gh != nil && cfg.GitHub.WebhookSecret != "" {
		serverCfg.GitHub = gh
	}
	if gl != nil && cfg.GitLab.WebhookToken != "" {
		serverCfg.GitLab = gl
	}

	srv, err := server.New(serverCfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	checks.SetReady(true)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	checks.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown: %v", err)
	}

	// Let in-flight pipelines record their terminal state.
	exec.Wait()
	return nil
}

func loadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// installChecker is satisfied by the bandit and trivy scanners.
type installChecker interface {
	IsInstalled(ctx context.Context) (bool, string, error)
}

func scannerCheck(binary string, scanner installChecker) *health.ScannerCheck {
	return &health.ScannerCheck{
		Binary: binary,
		CheckFunc: func(ctx context.Context, _ string) error {
			_, _, err := scanner.IsInstalled(ctx)
			return err
		},
	}
}

// reportStore adapts the SQLite store's typed report kinds to the plain
// string kinds the executor and server speak.
type reportStore struct {
	st *store.Store
}

func (r *reportStore) SaveReport(ctx context.Context, runID, kind string, data []byte) error {
	return r.st.SaveReport(ctx, runID, store.ReportKind(kind), data)
}

func (r *reportStore) GetReport(ctx context.Context, runID, kind string) ([]byte, error) {
	return r.st.GetReport(ctx, runID, store.ReportKind(kind))
}
