package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"inkwell/api/internal/ai/provider"
	"inkwell/api/internal/app"
	"inkwell/api/internal/config"
	"inkwell/api/internal/email"
	"inkwell/api/internal/gitrepo"
	"inkwell/api/internal/logging"
	"inkwell/api/internal/oauth"
	"inkwell/api/internal/ratelimit"
	"inkwell/api/internal/search"
	"inkwell/api/internal/session"
	"inkwell/api/internal/storage"
	"inkwell/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		logger.Fatal("failed to create repos dir", zap.Error(err))
	}

	deps := app.Dependencies{
		Git: gitrepo.New(cfg.ReposDir),
		Mailer: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
		Providers: provider.NewRegistry(provider.Config{
			OpenAIKey:     cfg.OpenAIAPIKey,
			OpenAIBaseURL: cfg.OpenAIBaseURL,
			GoogleKey:     cfg.GoogleAPIKey,
			CustomURL:     cfg.CustomFastAPIURL,
		}),
		Logger: logger,
	}

	var engine search.Engine
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		engine = meili
	}
	pgfts := search.NewPgFTS(db)
	deps.Search = search.NewService(engine, pgfts, pgfts, logger)
	defer deps.Search.Wait()

	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for session storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
	} else {
		logger.Info("using postgres for session storage")
	}

	if cfg.StorageEnabled() {
		files, err := storage.NewMinIO(storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MinioPublicURL,
		})
		if err != nil {
			logger.Fatal("object storage setup failed", zap.Error(err))
		}
		if err := files.EnsureBucket(ctx); err != nil {
			logger.Warn("object storage unavailable, uploads disabled", zap.Error(err))
		} else {
			deps.Files = files
		}
	}

	if cfg.GitHubEnabled() {
		deps.GitHub = oauth.NewGitHub(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubRedirectURL)
	}

	service := app.New(cfg, store.NewPostgresStore(db), deps)
	go deps.Search.ReindexAll(ctx)

	limiter := ratelimit.New(cfg.AIRateLimitRPS, cfg.AIRateLimitBurst)
	go limiter.Run(ctx, time.Minute)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, limiter)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("inkwell api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
