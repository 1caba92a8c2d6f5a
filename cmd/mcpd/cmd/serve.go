package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	inbound "github.com/ultimate-mcp/mcpd/internal/adapter/inbound/http"
	outboundaudit "github.com/ultimate-mcp/mcpd/internal/adapter/outbound/audit"
	"github.com/ultimate-mcp/mcpd/internal/adapter/outbound/graph"
	"github.com/ultimate-mcp/mcpd/internal/adapter/outbound/memory"
	"github.com/ultimate-mcp/mcpd/internal/config"
	"github.com/ultimate-mcp/mcpd/internal/domain/audit"
	"github.com/ultimate-mcp/mcpd/internal/domain/auth"
	"github.com/ultimate-mcp/mcpd/internal/domain/breaker"
	"github.com/ultimate-mcp/mcpd/internal/domain/cache"
	"github.com/ultimate-mcp/mcpd/internal/domain/prompt"
	"github.com/ultimate-mcp/mcpd/internal/domain/ratelimit"
	"github.com/ultimate-mcp/mcpd/internal/port/outbound"
	"github.com/ultimate-mcp/mcpd/internal/service/exec"
	"github.com/ultimate-mcp/mcpd/internal/service/generation"
	graphsvc "github.com/ultimate-mcp/mcpd/internal/service/graphtool"
	"github.com/ultimate-mcp/mcpd/internal/service/lint"
	"github.com/ultimate-mcp/mcpd/internal/service/pipeline"
	"github.com/ultimate-mcp/mcpd/internal/service/testrun"
	"github.com/ultimate-mcp/mcpd/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mcpd service",
	Long: `Start mcpd's HTTP/JSON and MCP streaming-HTTP surfaces.

Configuration is loaded from mcpd.yaml (or MCP_-prefixed environment
variables) via the --config flag inherited from the root command.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Log)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, "mcpd", io.Discard)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	graphClient, closeGraph, err := buildGraphClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to build graph client: %w", err)
	}
	defer closeGraph()
	if err := graph.EnsureSchema(ctx, graphClient); err != nil {
		logger.Warn("schema bootstrap failed", "error", err)
	}

	// auditSQLite is the durable local mirror of the audit trail: it backs
	// audit.Store/audit.QueryStore (the rolling-file store is available as
	// outboundaudit.NewFileStore for deployments that can't ship sqlite,
	// but isn't wired here) and also implements auth.RevocationStore, so
	// the token blacklist survives a restart and isn't tied to the graph.
	auditSQLite, err := outboundaudit.NewSQLiteStore(cfg.Audit.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open audit store: %w", err)
	}
	defer func() { _ = auditSQLite.Close() }()

	var auditStore audit.Store = auditSQLite
	var revocation auth.RevocationStore = auditSQLite
	stopSweep := make(chan struct{})
	go auth.StartSweepLoop(revocation, cfg.Auth.RevokeSweep, stopSweep)
	defer close(stopSweep)

	verifier := auth.NewTokenService([]byte(cfg.Auth.SigningKey), cfg.Auth.Issuer, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour, revocation)

	rateLimiter := memory.NewRateLimiter()
	rateLimitConfig := ratelimit.Config{
		PerMinute: cfg.RateLimit.PerMinute,
		PerHour:   cfg.RateLimit.PerHour,
		PerDay:    cfg.RateLimit.PerDay,
		Burst:     cfg.RateLimit.Burst,
	}

	services, err := buildToolServices(cfg, graphClient, auditStore, logger)
	if err != nil {
		return fmt.Errorf("failed to build tool services: %w", err)
	}

	promptLib := prompt.NewLibrary(prompt.Defaults())
	registrations := inbound.NewRegistrations(*services)

	pipelineCfg := pipeline.Config{
		Logger:          logger,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		BodyMaxBytes:    cfg.Server.BodyMaxBytes,
		Verifier:        verifier,
		Limiter:         rateLimiter,
		RateLimitConfig: rateLimitConfig,
		AuditStore:      auditStore,
	}

	server := inbound.NewServer(
		registrations,
		pipelineCfg,
		revocation,
		verifier,
		promptLib,
		graphClient,
		inbound.WithAddr(fmt.Sprintf("%s:%d", cfg.Server.BindAddr, cfg.Server.Port)),
		inbound.WithLogger(logger),
	)

	logger.Info("mcpd starting",
		"env", cfg.Env,
		"addr", fmt.Sprintf("%s:%d", cfg.Server.BindAddr, cfg.Server.Port),
		"exec_workers", cfg.Exec.Workers,
		"enabled_languages", cfg.Exec.EnabledLanguages,
	)

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	logger.Info("mcpd stopped")
	return nil
}

// buildGraphClient wraps the in-memory graph store (the only concrete
// adapter available; a real driver is a configuration-time extension
// point per C8) with the pooling/breaker/cache decorator, matching the
// "cache-then-breaker-then-retry-then-driver" shape of the inherited
// cached client regardless of which driver backs it.
func buildGraphClient(cfg *config.Config) (outbound.GraphClient, func(), error) {
	inner := graph.NewMemoryGraph()

	readBreaker := breaker.New("graph-read", breaker.Config{
		FailureThreshold: cfg.Breaker.ReadFailureThreshold,
		SuccessThreshold: cfg.Breaker.ReadSuccessThreshold,
		OpenTimeout:      cfg.Breaker.ReadTimeout,
		HalfOpenMax:      cfg.Breaker.HalfOpenMax,
	})
	writeBreaker := breaker.New("graph-write", breaker.Config{
		FailureThreshold: cfg.Breaker.WriteFailureThreshold,
		SuccessThreshold: cfg.Breaker.WriteSuccessThreshold,
		OpenTimeout:      cfg.Breaker.WriteTimeout,
		HalfOpenMax:      cfg.Breaker.HalfOpenMax,
	})
	resultCache := cache.New(cfg.Cache.Capacity, cfg.Cache.DefaultTTL)

	poolCfg := graph.PoolConfig{
		Max:            cfg.Graph.PoolMax,
		AcquireTimeout: cfg.Graph.AcquireTimeout,
		MaxRetries:     3,
		BackoffBase:    2 * time.Second,
		BackoffCap:     10 * time.Second,
	}

	client := graph.New(inner, poolCfg, readBreaker, writeBreaker, resultCache)
	return client, func() {}, nil
}

func buildToolServices(cfg *config.Config, graphClient outbound.GraphClient, auditStore audit.Store, logger *slog.Logger) (*inbound.Services, error) {
	execDefaults := exec.Defaults{
		TimeoutSecs:      cfg.Exec.DefaultTimeoutSecs,
		MaxTimeoutSecs:   cfg.Exec.MaxTimeoutSecs,
		MemoryLimitBytes: cfg.Exec.MemoryLimitBytes,
		FileLimitBytes:   cfg.Exec.FileLimitBytes,
		FDLimit:          cfg.Exec.FDLimit,
		OutputLimitBytes: cfg.Exec.OutputLimitBytes,
		CacheResults:     cfg.Exec.CacheResults,
		EnabledLanguages: cfg.Exec.EnabledLanguages,
	}
	testDefaults := testrun.Defaults{
		TimeoutSecs:      cfg.Exec.DefaultTimeoutSecs,
		MaxTimeoutSecs:   cfg.Exec.MaxTimeoutSecs,
		MemoryLimitBytes: cfg.Exec.MemoryLimitBytes,
		FileLimitBytes:   cfg.Exec.FileLimitBytes,
		FDLimit:          cfg.Exec.FDLimit,
		OutputLimitBytes: cfg.Exec.OutputLimitBytes,
		EnabledLanguages: cfg.Exec.EnabledLanguages,
	}

	execLauncher, err := exec.NewLauncher()
	if err != nil {
		return nil, fmt.Errorf("creating execution launcher: %w", err)
	}
	testLauncher, err := testrun.NewLauncher()
	if err != nil {
		return nil, fmt.Errorf("creating test launcher: %w", err)
	}

	execPool := exec.NewPool(cfg.Exec.Workers, execLauncher)
	testPool := testrun.NewPool(cfg.Exec.Workers, testLauncher)

	var resultCache *cache.Cache
	if cfg.Exec.CacheResults {
		resultCache = cache.New(cfg.Cache.Capacity, cfg.Cache.DefaultTTL)
	}

	return &inbound.Services{
		Lint:       lint.New(graphClient, nil, logger),
		Exec:       exec.New(execPool, execDefaults, resultCache, graphClient, auditStore, logger),
		Test:       testrun.New(testPool, testDefaults, graphClient, auditStore, logger),
		Generation: generation.New(graphClient, auditStore, logger),
		Graph:      graphsvc.New(graphClient, auditStore, logger),
	}, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
