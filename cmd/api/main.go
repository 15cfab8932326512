package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/redis/go-redis/v9"

	"housegen/internal/auth"
	"housegen/internal/config"
	transporthttp "housegen/internal/http"
	"housegen/internal/notify"
	"housegen/internal/platform/database"
	"housegen/internal/platform/logging"
	"housegen/internal/platform/metrics"
	"housegen/internal/platform/migrate"
	"housegen/internal/ratelimit"
)

const purgeInterval = time.Hour

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, cfg.Environment)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("housegen api stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	repo, health, cleanup, err := buildRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		Issuer:        cfg.AuthIssuer,
	})
	if err != nil {
		return err
	}

	notifier, closeNotifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	m := metrics.New()
	accounts := auth.NewService(repo, notifier, logger, auth.ServiceConfig{BcryptCost: cfg.BcryptCost})
	sessions := auth.NewSessionManager(codec, repo, repo, logger,
		auth.WithCookieOptions(auth.CookieOptions{TrustForwardedProto: len(cfg.TrustedProxies) > 0}),
	)

	deps := transporthttp.Dependencies{
		Accounts: accounts,
		Sessions: sessions,
		Metrics:  m,
		Health:   health,
	}

	var oauthAdapter *auth.OAuthAdapter
	if cfg.OAuthEnabled() {
		oauthAdapter, err = auth.NewOAuthAdapter(repo, auth.OAuthConfig{
			SessionSecret: cfg.OAuthSessionSecret,
			Issuer:        cfg.AuthIssuer,
		}, logger)
		if err != nil {
			return err
		}
		google, err := auth.NewGoogleAuthenticator(ctx, auth.GoogleConfig{
			ClientID:       cfg.GoogleClientID,
			ClientSecret:   cfg.GoogleClientSecret,
			RedirectURL:    cfg.GoogleRedirectURL,
			AllowedDomains: cfg.GoogleAllowedDomains,
			AllowedEmails:  cfg.GoogleAllowedEmails,
		})
		if err != nil {
			return err
		}
		deps.Google = google
		deps.OAuthAdapter = oauthAdapter
	}

	deps.Resolver = auth.NewResolver(logger, []auth.Provider{
		auth.NewOAuthProvider(oauthAdapter),
		auth.NewCookieProvider(codec),
		auth.NewHeaderProvider(cfg.TrustedProxies),
	}, auth.WithResolveObserver(m.ObserveResolution))
	if len(cfg.TrustedProxies) > 0 {
		logger.Info("trust header enabled", "header", auth.UserIDHeader, "networks", len(cfg.TrustedProxies))
	}

	authLimiter, generations, closeLimiters, err := buildLimiters(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiters()
	deps.AuthLimiter = authLimiter
	deps.Generations = generations

	go purgeLoop(ctx, accounts, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           transporthttp.NewRouter(cfg, deps, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("housegen API listening", "addr", srv.Addr, "store", cfg.DataStore, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	return nil
}

func buildRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (auth.Repository, func(context.Context) error, func(), error) {
	if cfg.UseInMemoryStore() {
		logger.Info("using in-memory repository")
		repo := auth.NewInMemoryRepository()
		if err := seedDevAdmin(ctx, repo, cfg, logger); err != nil {
			return nil, nil, nil, err
		}
		return repo, nil, func() {}, nil
	}

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}

	cleanup := func() {
		_ = db.Close()
	}

	if err := migrate.Apply(ctx, db, logger); err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	logger.Info("connected to postgres")
	health := func(ctx context.Context) error {
		return database.Ping(ctx, db, 2*time.Second)
	}
	return auth.NewPostgresRepository(db), health, cleanup, nil
}

func buildNotifier(cfg config.Config, logger *slog.Logger) (auth.Notifier, func(), error) {
	links := notify.Links{FrontendURL: cfg.FrontendURL}
	if cfg.AMQPURL == "" {
		logger.Info("AMQP_URL not set; notifications are logged only")
		return notify.NewLogNotifier(logger, links), func() {}, nil
	}
	n, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPQueue, links, logger)
	if err != nil {
		return nil, nil, err
	}
	return n, func() { _ = n.Close() }, nil
}

// buildLimiters returns the per-IP auth attempt counter and the per-user
// generation quota. Redis backs both when REDIS_ADDR is set so limits hold
// across replicas.
func buildLimiters(ctx context.Context, cfg config.Config, logger *slog.Logger) (ratelimit.Counter, ratelimit.Peeker, func(), error) {
	authCfg := ratelimit.Config{Limit: cfg.AuthRateLimit, Window: cfg.AuthRateWindow}
	genCfg := ratelimit.Config{Limit: cfg.GenerationsPerHour, Window: time.Hour}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		authCounter, err := ratelimit.NewRedisCounter(client, "housegen:ratelimit:auth", authCfg)
		if err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}
		genCounter, err := ratelimit.NewRedisCounter(client, "housegen:ratelimit:generations", genCfg)
		if err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}
		logger.Info("rate limits backed by redis", "addr", cfg.RedisAddr)
		return ratelimit.FailOpen{Counter: authCounter, Limit: authCfg.Limit, Logger: logger},
			ratelimit.FailOpen{Counter: genCounter, Limit: genCfg.Limit, Logger: logger},
			func() { _ = client.Close() }, nil
	}

	authCounter, err := ratelimit.NewMemoryCounter(authCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	genCounter, err := ratelimit.NewMemoryCounter(genCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	go authCounter.Run(ctx, cfg.RateLimitSweepEvery)
	go genCounter.Run(ctx, cfg.RateLimitSweepEvery)
	return ratelimit.FailOpen{Counter: authCounter, Limit: authCfg.Limit, Logger: logger},
		ratelimit.FailOpen{Counter: genCounter, Limit: genCfg.Limit, Logger: logger},
		func() {}, nil
}

func purgeLoop(ctx context.Context, accounts *auth.Service, logger *slog.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions, tokens, err := accounts.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("purge expired records failed", "error", err)
				continue
			}
			if sessions > 0 || tokens > 0 {
				logger.Info("purged expired records", "sessions", sessions, "tokens", tokens)
			}
		}
	}
}
