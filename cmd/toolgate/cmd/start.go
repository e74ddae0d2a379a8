package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/adapter/inbound/httpgw"
	"github.com/toolgate/toolgate/internal/adapter/outbound/backend"
	"github.com/toolgate/toolgate/internal/adapter/outbound/memory"
	"github.com/toolgate/toolgate/internal/adapter/outbound/pamhttp"
	"github.com/toolgate/toolgate/internal/adapter/outbound/policyhttp"
	"github.com/toolgate/toolgate/internal/adapter/outbound/rediscache"
	"github.com/toolgate/toolgate/internal/adapter/outbound/sqlite"
	"github.com/toolgate/toolgate/internal/adapter/outbound/worm"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/domain/exposure"
	"github.com/toolgate/toolgate/internal/domain/policy"
	"github.com/toolgate/toolgate/internal/domain/tool"
	"github.com/toolgate/toolgate/internal/metrics"
	"github.com/toolgate/toolgate/internal/port/outbound"
	"github.com/toolgate/toolgate/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway server",
	Long: `Start the Toolgate governance gateway.

The gateway serves the tool-calling API on server.http_addr and
forwards governed calls to the backend configured under backend.base_url.

Examples:
  # Start with config file settings
  toolgate start

  # Start with a specific config file
  toolgate --config /path/to/config.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, permissive exposure)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration without validation so the CLI flag can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if devMode {
		cfg.DevMode = true
	}

	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("toolgate stopped")
	return nil
}

// run wires all components together and serves until the context is done.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.DevMode {
		logger.Warn("development mode enabled; every role is exposed to every tool bundle")
	}

	// Durations were already checked by cfg.Validate.
	shutdownTimeout, _ := time.ParseDuration(cfg.Server.ShutdownTimeout)
	window, _ := time.ParseDuration(cfg.RateLimit.Window)
	backendTimeout, _ := time.ParseDuration(cfg.Backend.Timeout)
	grantDuration, _ := time.ParseDuration(cfg.PAM.GrantDuration)

	// Shared cache behind rate limiting, idempotency, and exposure.
	var cache outbound.CacheStore
	switch cfg.Cache.Mode {
	case "redis":
		store, err := rediscache.New(ctx, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB, logger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() { _ = store.Close() }()
		cache = store
		logger.Info("cache mode: redis", "addr", cfg.Cache.Addr)
	default:
		memCache := memory.NewCache()
		defer memCache.Close()
		cache = memCache
		logger.Info("cache mode: memory")
	}

	db, err := sqlite.Open(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()
	logger.Info("database opened", "path", cfg.Database.Path)

	// Audit sinks: the queryable database sink always, the WORM object
	// store when configured.
	auditOpts := []service.AuditServiceOption{
		service.WithQueryableSink(sqlite.NewAuditStore(db)),
	}
	if cfg.WORM.Enabled {
		wormStore, err := worm.New(ctx, worm.Config{
			Endpoint:  cfg.WORM.Endpoint,
			AccessKey: cfg.WORM.AccessKey,
			SecretKey: cfg.WORM.SecretKey,
			Bucket:    cfg.WORM.Bucket,
			UseSSL:    cfg.WORM.UseSSL,
			Retention: time.Duration(cfg.WORM.RetentionDays) * 24 * time.Hour,
			KeyPrefix: cfg.WORM.KeyPrefix,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect audit object store: %w", err)
		}
		auditOpts = append(auditOpts, service.WithWORMSink(wormStore))
		logger.Info("worm audit sink enabled", "endpoint", cfg.WORM.Endpoint, "bucket", cfg.WORM.Bucket)
	}
	auditService := service.NewAuditService(logger, auditOpts...)

	// Exposure permissions come from YAML when present, the database otherwise.
	var permSource exposure.PermissionSource
	if len(cfg.Exposure) > 0 {
		permSource = memory.NewPermissionSource(cfg.Exposure)
		logger.Debug("exposure permissions from config", "roles", len(cfg.Exposure))
	} else {
		permSource = sqlite.NewPermissionStore(db)
		logger.Debug("exposure permissions from database")
	}
	exposureService := service.NewExposureService(permSource, logger)

	riskTable := policy.NewRiskTable()
	var policyOpts []service.PolicyServiceOption
	if cfg.Policy.Endpoint != "" {
		policyOpts = append(policyOpts, service.WithExternalPolicy(policyhttp.New(cfg.Policy.Endpoint)))
		logger.Info("external policy service enabled", "endpoint", cfg.Policy.Endpoint)
	}
	policyService := service.NewPolicyService(riskTable, policy.NewFallbackTable(), logger, policyOpts...)

	elevationOpts := []service.ElevationServiceOption{
		service.WithElevationDuration(grantDuration),
	}
	if cfg.PAM.Endpoint != "" {
		elevationOpts = append(elevationOpts, service.WithPAM(pamhttp.New(cfg.PAM.Endpoint)))
		logger.Info("pam elevation enabled", "endpoint", cfg.PAM.Endpoint)
	}
	elevationService := service.NewElevationService(logger, elevationOpts...)

	rateLimitService := service.NewRateLimitService(cache, logger)
	idempotencyService := service.NewIdempotencyService(cache, logger)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	tracker := metrics.NewTracker(m)

	catalog := memory.NewCatalog(toolsFromConfig(cfg.Tools))
	backendClient := backend.New(backend.Config{
		BaseURL:         cfg.Backend.BaseURL,
		APIKey:          cfg.Backend.APIKey,
		SubscriptionKey: cfg.Backend.SubscriptionKey,
		Timeout:         backendTimeout,
	}, logger)
	executorService := service.NewExecutorService(catalog, backendClient, tracker, logger)

	gatewayService := service.NewGatewayService(
		catalog,
		exposureService,
		policyService,
		elevationService,
		rateLimitService,
		idempotencyService,
		executorService,
		auditService,
		riskTable,
		m,
		logger,
		service.WithQuotas(cfg.RateLimit.UserRate, cfg.RateLimit.ToolRate, window),
		service.WithGatewayBatchConcurrency(cfg.Batch.MaxConcurrency),
	)

	auth := httpgw.NewAPIKeyAuthenticator(apiKeyCredentials(cfg.Auth.APIKeys))

	handler := httpgw.NewHandler(gatewayService, elevationService, tracker, logger)
	router := handler.Router(httpgw.RouterConfig{
		Auth:                 auth,
		JWTSecret:            cfg.Auth.JWTSecret,
		TrustIdentityHeaders: cfg.Auth.TrustIdentityHeaders,
		AuthAudit:            auditService,
		Metrics:              m,
		Registry:             registry,
	})

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("toolgate starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"http_addr", cfg.Server.HTTPAddr,
		"tools", len(cfg.Tools),
		"cache", cfg.Cache.Mode,
		"worm", cfg.WORM.Enabled,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// toolsFromConfig converts the YAML tool catalog into domain tools.
func toolsFromConfig(entries []config.ToolConfig) []tool.Tool {
	tools := make([]tool.Tool, len(entries))
	for i, tc := range entries {
		tools[i] = tool.Tool{
			Name:        tc.Name,
			BundleName:  tc.Bundle,
			Description: tc.Description,
			RiskTier:    tool.RiskTier(tc.RiskTier),
			HTTPMethod:  tc.HTTPMethod,
			Endpoint:    tc.Endpoint,
			AuthType:    tool.AuthType(tc.AuthType),
		}
	}
	return tools
}

// apiKeyCredentials converts config API keys into authenticator credentials.
func apiKeyCredentials(entries []config.APIKeyConfig) []httpgw.APIKeyCredential {
	creds := make([]httpgw.APIKeyCredential, len(entries))
	for i, kc := range entries {
		creds[i] = httpgw.APIKeyCredential{
			KeyHash: kc.KeyHash,
			UserID:  kc.UserID,
			Roles:   kc.Roles,
		}
	}
	return creds
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
