// Package main is the entry point for the document guard.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyrodovalexey/docguard/internal/audit"
	"github.com/vyrodovalexey/docguard/internal/auth/jwt"
	"github.com/vyrodovalexey/docguard/internal/authz"
	"github.com/vyrodovalexey/docguard/internal/clearance"
	"github.com/vyrodovalexey/docguard/internal/config"
	"github.com/vyrodovalexey/docguard/internal/docstore"
	"github.com/vyrodovalexey/docguard/internal/health"
	"github.com/vyrodovalexey/docguard/internal/observability"
	"github.com/vyrodovalexey/docguard/internal/policy"
	"github.com/vyrodovalexey/docguard/internal/ratelimit"
	ratestore "github.com/vyrodovalexey/docguard/internal/ratelimit/store"
	"github.com/vyrodovalexey/docguard/internal/server"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)
	app := initApplication(cfg, logger)

	runGuard(app, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("DOCGUARD_CONFIG_PATH", "configs/docguard.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("DOCGUARD_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("DOCGUARD_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("docguard version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting docguard",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	if err := config.Validate(cfg); err != nil {
		logger.Fatal("invalid configuration", observability.Error(err))
	}

	logger.Info("configuration loaded",
		observability.String("jwks_url", cfg.Auth.JWKSUrl),
		observability.Int("policy_endpoints", len(cfg.Policy.Endpoints)),
		observability.Int("clearance_levels", len(cfg.Clearance.Levels)),
		observability.String("document_store", cfg.DocumentStore.Type),
		observability.Bool("rate_limit", cfg.RateLimit.Enabled),
		observability.Bool("redis", cfg.Redis != nil),
	)

	return cfg
}

// application holds all application components.
type application struct {
	server        *server.Server
	hierarchy     *clearance.Hierarchy
	vocabulary    *authz.Vocabulary
	rateStore     ratestore.Store
	auditLog      audit.Logger
	healthChecker *health.Checker
	tracer        *observability.Tracer
	config        *config.Config
}

// initApplication initializes all application components.
func initApplication(cfg *config.Config, logger observability.Logger) *application {
	tracer := initTracer(cfg, logger)
	healthChecker := health.NewChecker(version, health.WithCheckerLogger(logger))
	auditLog := initAuditLog(cfg, logger)

	hierarchy := clearance.New(cfg.Clearance.Levels)
	vocabulary := authz.NewVocabulary(
		cfg.Validation.ReleasableTo,
		cfg.Validation.COITags,
		cfg.Validation.LACVCodes,
	)

	verifier, err := jwt.NewVerifier(&cfg.Auth, hierarchy, jwt.WithVerifierLogger(logger))
	if err != nil {
		logger.Fatal("failed to create token verifier", observability.Error(err))
	}
	healthChecker.RegisterCheck("jwks", health.HTTPCheck(cfg.Auth.JWKSUrl, nil))

	orchestrator := initPolicy(cfg, logger, healthChecker)
	store := initDocumentStore(cfg, logger, healthChecker)
	rateStore, docLimiter, authLimiter := initRateLimit(cfg, logger, healthChecker)

	guard, err := authz.NewGuard(orchestrator, hierarchy, store,
		authz.WithGuardLogger(logger),
		authz.WithAuditLogger(auditLog),
		authz.WithVocabulary(vocabulary),
		authz.WithReducedAssuranceMutations(cfg.Authorization.ReducedAssuranceMutations),
	)
	if err != nil {
		logger.Fatal("failed to create authorization guard", observability.Error(err))
	}

	engine := server.NewRouter(server.RouterConfig{
		Verifier:    verifier,
		Extractor:   jwt.NewHeaderExtractor("", "", ""),
		Guard:       guard,
		Handler:     server.NewDocumentHandler(guard, store, logger),
		DocLimiter:  docLimiter,
		AuthLimiter: authLimiter,
		Checker:     healthChecker,
		Logger:      logger,
		Audit:       auditLog,
		Tracer:      tracer,
	})

	srv := server.New(&server.Config{
		Address:            cfg.Server.Address,
		Port:               cfg.Server.Port,
		ReadTimeout:        cfg.Server.ReadTimeout,
		WriteTimeout:       cfg.Server.WriteTimeout,
		IdleTimeout:        cfg.Server.IdleTimeout,
		MaxHeaderBytes:     cfg.Server.MaxHeaderBytes,
		MaxRequestBodySize: cfg.Server.MaxRequestBodySize,
	}, engine, logger)

	return &application{
		server:        srv,
		hierarchy:     hierarchy,
		vocabulary:    vocabulary,
		rateStore:     rateStore,
		auditLog:      auditLog,
		healthChecker: healthChecker,
		tracer:        tracer,
		config:        cfg,
	}
}

// initTracer initializes the tracer.
func initTracer(cfg *config.Config, logger observability.Logger) *observability.Tracer {
	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal("failed to initialize tracer", observability.Error(err))
	}
	return tracer
}

// initAuditLog opens the audit trail sink.
func initAuditLog(cfg *config.Config, logger observability.Logger) audit.Logger {
	opts := []audit.Option{audit.WithLogger(logger)}

	switch cfg.Audit.Output {
	case "", "stdout":
		opts = append(opts, audit.WithWriter(os.Stdout))
	case "stderr":
		opts = append(opts, audit.WithWriter(os.Stderr))
	default:
		f, err := os.OpenFile(cfg.Audit.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			logger.Fatal("failed to open audit output", observability.Error(err))
		}
		opts = append(opts, audit.WithWriter(f))
	}

	return audit.NewLogger(opts...)
}

// initPolicy builds the compound policy orchestrator.
func initPolicy(cfg *config.Config, logger observability.Logger, checker *health.Checker) *policy.Orchestrator {
	clients := make([]policy.Client, 0, len(cfg.Policy.Endpoints))
	for _, endpoint := range cfg.Policy.Endpoints {
		client, err := policy.NewClient(endpoint, policy.WithClientLogger(logger))
		if err != nil {
			logger.Fatal("failed to create policy client",
				observability.String("endpoint", endpoint.Name),
				observability.Error(err),
			)
		}
		clients = append(clients, client)
		checker.RegisterCheck("policy-"+endpoint.Name, health.HTTPCheck(endpoint.URL, nil))
	}

	var opts []policy.OrchestratorOption
	opts = append(opts, policy.WithOrchestratorLogger(logger))
	if cfg.Policy.EvaluationTimeout > 0 {
		opts = append(opts, policy.WithEvaluationTimeout(cfg.Policy.EvaluationTimeout))
	}

	// The mandatory attribute rule lives in its own policy path on the
	// first endpoint.
	if len(cfg.Policy.Endpoints) > 0 && cfg.Policy.MandatoryAttributesPolicy != "" {
		endpoint := cfg.Policy.Endpoints[0]
		endpoint.Name = endpoint.Name + "-mandatory-attrs"
		endpoint.Policy = cfg.Policy.MandatoryAttributesPolicy
		mandatory, err := policy.NewClient(endpoint, policy.WithClientLogger(logger))
		if err != nil {
			logger.Fatal("failed to create mandatory attribute policy client",
				observability.String("endpoint", endpoint.Name),
				observability.Error(err),
			)
		}
		opts = append(opts, policy.WithMandatoryAttributesClient(mandatory))
	}

	orchestrator, err := policy.NewOrchestrator(clients, opts...)
	if err != nil {
		logger.Fatal("failed to create policy orchestrator", observability.Error(err))
	}
	return orchestrator
}

// initDocumentStore selects the document repository backend.
func initDocumentStore(cfg *config.Config, logger observability.Logger, checker *health.Checker) docstore.Store {
	switch cfg.DocumentStore.Type {
	case "http":
		store, err := docstore.NewHTTPStore(cfg.DocumentStore.URL,
			docstore.WithStoreLogger(logger),
			docstore.WithStoreHeaders(cfg.DocumentStore.Headers),
		)
		if err != nil {
			logger.Fatal("failed to create document store", observability.Error(err))
		}
		checker.RegisterCheck("document-store", health.HTTPCheck(cfg.DocumentStore.URL, nil))
		return store
	default:
		return docstore.NewMemoryStore()
	}
}

// initRateLimit builds the counter store and the two route class limiters.
func initRateLimit(
	cfg *config.Config,
	logger observability.Logger,
	checker *health.Checker,
) (ratestore.Store, ratelimit.Limiter, ratelimit.Limiter) {
	if !cfg.RateLimit.Enabled {
		return nil, nil, nil
	}

	var counters ratestore.Store
	if cfg.Redis != nil {
		redisStore, err := ratestore.NewRedisStoreWithConfig(cfg.Redis)
		if err != nil {
			logger.Fatal("failed to connect to redis", observability.Error(err))
		}
		checker.RegisterCheck("redis", health.PingCheck(redisStore))
		counters = redisStore
	} else {
		logger.Warn("rate limit counters are in-memory, limits apply per instance")
		counters = ratestore.NewMemoryStore()
	}

	docLimiter := ratelimit.NewFixedWindowLimiter(counters, "doc:",
		ratelimit.Limit{Requests: cfg.RateLimit.Document.Requests, Window: cfg.RateLimit.Document.Window},
		logger,
	)
	authLimiter := ratelimit.NewFixedWindowLimiter(counters, "auth:",
		ratelimit.Limit{Requests: cfg.RateLimit.Auth.Requests, Window: cfg.RateLimit.Auth.Window},
		logger,
	)
	return counters, docLimiter, authLimiter
}

// runGuard runs the server and handles reload and shutdown.
func runGuard(app *application, configPath string, logger observability.Logger) {
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.server.Start(context.Background())
	}()

	watcher := startConfigWatcher(app, configPath, logger)

	waitForShutdown(app, watcher, errCh, logger)
}

// startConfigWatcher starts the configuration watcher. Only the clearance
// table and the marking vocabularies are applied on reload.
func startConfigWatcher(app *application, configPath string, logger observability.Logger) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		logger.Info("configuration changed, applying reloadable sections")
		app.hierarchy.Replace(newCfg.Clearance.Levels)
		app.vocabulary.Replace(
			newCfg.Validation.ReleasableTo,
			newCfg.Validation.COITags,
			newCfg.Validation.LACVCodes,
		)
	}, config.WithWatcherLogger(logger))

	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(context.Background()); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
	}

	return watcher
}

// waitForShutdown waits for a shutdown signal or a listener failure and
// performs graceful shutdown.
func waitForShutdown(
	app *application,
	watcher *config.Watcher,
	errCh chan error,
	logger observability.Logger,
) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", observability.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", observability.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	if err := app.server.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop server gracefully", observability.Error(err))
	}

	if app.rateStore != nil {
		if err := app.rateStore.Close(); err != nil {
			logger.Error("failed to close rate limit store", observability.Error(err))
		}
	}

	if err := app.auditLog.Close(); err != nil {
		logger.Error("failed to close audit log", observability.Error(err))
	}

	if err := app.tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	logger.Info("docguard stopped")
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
