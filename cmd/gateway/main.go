package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	"github.com/example/crypto-gateway/internal/api"
	"github.com/example/crypto-gateway/internal/config"
	"github.com/example/crypto-gateway/internal/engine"
	"github.com/example/crypto-gateway/internal/ledger"
	"github.com/example/crypto-gateway/internal/pipeline"
	"github.com/example/crypto-gateway/internal/security"
	"github.com/example/crypto-gateway/internal/settlement"
	"github.com/example/crypto-gateway/internal/terminal"
	"github.com/example/crypto-gateway/pkg/audit"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Ledger backend: shared PostgreSQL when configured, local SQLite
	// otherwise. Opened here, closed on shutdown.
	var txnLedger interface {
		ledger.Ledger
		Migrate(ctx context.Context) error
	}
	var closeLedger func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to create postgres pool", "error", err)
			os.Exit(1)
		}
		txnLedger = ledger.NewPostgres(pool, cfg.AppID)
		closeLedger = pool.Close
	} else {
		db, err := sql.Open("sqlite3", cfg.SQLitePath)
		if err != nil {
			logger.Error("failed to open sqlite database", "path", cfg.SQLitePath, "error", err)
			os.Exit(1)
		}
		txnLedger = ledger.NewSQLite(db, cfg.AppID)
		closeLedger = func() { _ = db.Close() }
	}
	defer closeLedger()

	if err := txnLedger.Migrate(ctx); err != nil {
		logger.Error("ledger migration failed", "error", err)
		os.Exit(1)
	}

	var settlementClient settlement.Client
	if cfg.SettlementURL != "" {
		settlementClient = settlement.NewHTTPClient(cfg.SettlementURL, cfg.SettlementTimeout)
	} else {
		logger.Warn("SETTLEMENT_URL not set, using the in-process payout simulator")
		settlementClient = &settlement.Simulator{}
	}

	decisionEngine := engine.New(engine.Policy{
		ApprovalRate: cfg.ApprovalRate,
		MaxAmount:    cfg.MaxAmount,
	}, engine.NewRiskSource(time.Now().UnixNano()))

	auditor := audit.NewChainLogger()

	p := pipeline.New(pipeline.Config{
		Engine:            decisionEngine,
		Settlement:        settlementClient,
		Ledger:            txnLedger,
		Auditor:           auditor,
		Logger:            logger,
		AppID:             cfg.AppID,
		SettlementAsset:   cfg.SettlementAsset,
		SettlementWallet:  cfg.SettlementWallet,
		SettlementTimeout: cfg.SettlementTimeout,
		LedgerTimeout:     cfg.LedgerTimeout,
	})

	var rateLimiter *security.RedisTokenBucket
	var closeRedis func()
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		closeRedis = func() { _ = redisClient.Close() }
		rateLimiter = &security.RedisTokenBucket{
			Redis:      redisClient,
			Prefix:     "gateway_api",
			Capacity:   cfg.RateLimitCapacity,
			RefillRate: cfg.RateLimitRefill,
		}
	}
	if closeRedis != nil {
		defer closeRedis()
	}

	router, err := api.NewRouter(api.Dependencies{
		Logger:       logger,
		Processor:    p,
		History:      txnLedger,
		Metrics:      p.Metrics(),
		Auditor:      auditor,
		RateLimiter:  rateLimiter,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	allowlist, err := security.ParseCIDRAllowlist(cfg.TerminalAllowCIDRs)
	if err != nil {
		logger.Error("invalid TCP_IP_ALLOWLIST", "error", err)
		os.Exit(1)
	}

	terminalServer := &terminal.Server{
		Addr:        cfg.TCPAddr,
		Processor:   p,
		Logger:      logger,
		ReadTimeout: 5 * time.Minute,
	}
	if len(allowlist) > 0 {
		terminalServer.Allowed = func(remoteAddr string) bool {
			return security.AllowedAddr(allowlist, remoteAddr)
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()

	errCh := make(chan error, 2)

	go func() {
		logger.Info("web channel listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go func() {
		if err := terminalServer.Listen(); err != nil {
			errCh <- err
			return
		}
		if err := terminalServer.Serve(serveCtx); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("channel failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stopServing()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = terminalServer.Shutdown(shutdownCtx)
}
