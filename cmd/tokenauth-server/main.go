// Command tokenauth-server serves the tokenauth engine over HTTP, backed by
// Redis for hot state and PostgreSQL for users and durable refresh tokens.
//
// Configuration comes from the environment (and a .env file when present):
//
//	DATABASE_URL               PostgreSQL connection string (required)
//	REDIS_ADDR                 Redis address, default localhost:6379
//	HTTP_ADDR                  listen address, default :8080
//	SENTRY_DSN                 enables error reporting for 5xx responses
//	TRUSTED_PROXIES            CIDRs or IPs allowed to set X-Forwarded-For
//	AUTH_JWT_SIGNING_METHOD    ed25519 (default) or hs256
//	AUTH_JWT_PRIVATE_KEY       PEM or base64
//	AUTH_JWT_PUBLIC_KEY        PEM or base64 (ed25519 only)
//	AUTH_ACCESS_TTL            e.g. 30m
//	AUTH_REFRESH_TTL           e.g. 336h
//	AUTH_LOGIN_MAX_FAILURES    lockout threshold, default 5
//	AUTH_LOGIN_LOCK_DURATION   default 15m
//	AUTH_LOGIN_FAILURE_WINDOW  default 15m
//	ADMIN_EMAIL/ADMIN_PASSWORD seed an admin account on first start
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/handlers"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aivle-project/tokenauth"
	"github.com/aivle-project/tokenauth/metrics/export/prometheus"
	"github.com/aivle-project/tokenauth/pgstore"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			AttachStacktrace: true,
		}); err != nil {
			logger.Error("sentry init failed", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgstore.Connect(ctx, cfg.DatabaseURL, pgstore.PoolConfig{MaxConns: cfg.DBMaxConns})
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := pgstore.Migrate(ctx, pool)
	if err != nil {
		return err
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", zap.Strings("versions", applied))
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	accounts := pgstore.NewAccounts(pool)
	refreshTokens := pgstore.NewRefreshTokens(pool)

	engine, err := tokenauth.New().
		WithConfig(cfg.Auth).
		WithRedis(rdb).
		WithDurableStore(refreshTokens).
		WithAccountProvider(accounts).
		WithAuditSink(tokenauth.NewZapSink(logger.Named("audit"))).
		WithLogger(logger).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := seedAdmin(ctx, cfg, engine, accounts, logger); err != nil {
		return err
	}

	go purgeExpired(ctx, refreshTokens, cfg.PurgeInterval, logger)

	a := &api{
		engine:   engine,
		accounts: accounts,
		logger:   logger.Named("http"),
		metrics:  prometheus.NewPrometheusExporter(engine).Handler(),
		health:   healthCheck(pool, rdb),
		proxies:  cfg.TrustedProxies,
	}

	stdlog := zap.NewStdLog(logger.Named("http"))
	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: handlers.RecoveryHandler(handlers.RecoveryLogger(stdlog))(
			handlers.CombinedLoggingHandler(stdlog.Writer(), a.routes()),
		),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// seedAdmin creates ADMIN_EMAIL with ADMIN_PASSWORD unless the account
// already exists.
func seedAdmin(ctx context.Context, cfg serverConfig, engine *tokenauth.Engine, accounts *pgstore.Accounts, logger *zap.Logger) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}
	_, err := accounts.GetAccountByEmail(ctx, cfg.AdminEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, tokenauth.ErrPrincipalNotFound) {
		return err
	}

	hash, err := engine.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}
	acct, err := accounts.Create(ctx, cfg.AdminEmail, hash, []string{"ROLE_ADMIN", "ROLE_USER"}, true)
	if err != nil {
		return err
	}
	logger.Info("admin account created", zap.Int64("user_id", acct.ID))
	return nil
}

func purgeExpired(ctx context.Context, tokens *pgstore.RefreshTokens, every time.Duration, logger *zap.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := tokens.PurgeExpired(ctx, now)
			if err != nil {
				logger.Warn("refresh token purge failed", zap.Error(err))
				sentry.CaptureException(err)
				continue
			}
			if n > 0 {
				logger.Info("expired refresh tokens purged", zap.Int64("count", n))
			}
		}
	}
}

func healthCheck(pool *pgxpool.Pool, rdb redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	}
}
