package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/wildid/wildid-server/internal/auth"
	"github.com/wildid/wildid-server/internal/captcha"
	"github.com/wildid/wildid-server/internal/classifier"
	"github.com/wildid/wildid-server/internal/config"
	"github.com/wildid/wildid-server/internal/events"
	"github.com/wildid/wildid-server/internal/handlers"
	"github.com/wildid/wildid-server/internal/logger"
	"github.com/wildid/wildid-server/internal/mail"
	"github.com/wildid/wildid-server/internal/metrics"
	"github.com/wildid/wildid-server/internal/middleware"
	"github.com/wildid/wildid-server/internal/repository"
	"github.com/wildid/wildid-server/internal/session"
	"github.com/wildid/wildid-server/internal/tokens"
	"github.com/wildid/wildid-server/internal/trust"
	"github.com/wildid/wildid-server/internal/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("production", "info")
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.New(cfg.Environment, cfg.LogLevel)
	if cfg.EphemeralSecret {
		log.Warn().Msg("SECRET_KEY is not set: using a random key, sessions and logins will not survive a restart")
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 15*time.Second)
	if err := db.PingContext(startCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	if err := repository.Migrate(startCtx, db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}
	log.Info().Msg("connected to database")

	var (
		trustStore     repository.TrustStore
		challengeStore repository.ChallengeStore
		blacklist      repository.TokenBlacklist
	)
	trustTTL := cfg.RateLimitWindow
	if cfg.BrowserTrustDuration > trustTTL {
		trustTTL = cfg.BrowserTrustDuration
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(startCtx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis")
		}
		trustStore = repository.NewRedisTrustStore(rdb, trustTTL)
		challengeStore = repository.NewRedisChallengeStore(rdb)
		blacklist = repository.NewRedisBlacklist(rdb)
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
	} else {
		trustStore = repository.NewMemoryTrustStore(trustTTL)
		challengeStore = repository.NewMemoryChallengeStore(2 * cfg.CaptchaTimeout)
		blacklist = repository.NewMemoryBlacklist()
		log.Warn().Msg("REDIS_ADDR is not set: abuse-mitigation state is kept in process memory")
	}
	cancelStart()

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("wildid-server"))
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("failed to connect to nats")
		}
		defer nc.Drain()
		publisher = events.NewNATSPublisher(nc)
		log.Info().Str("url", cfg.NATSURL).Msg("connected to nats")
	}

	var mailer mail.Sender = mail.NewLogSender(logger.Component(log, "mail"))
	if cfg.SMTPHost != "" {
		mailer = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailDefaultSender,
		})
	}

	m := metrics.New()

	var providers []classifier.Classifier
	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, classifier.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, cfg.ClassifierTimeout))
	}
	if cfg.GeminiAPIKey != "" {
		providers = append(providers, classifier.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL, cfg.ClassifierTimeout))
	}
	if len(providers) == 0 {
		log.Warn().Msg("no classifier API key configured: identify requests will fail with upstream_unavailable")
	}
	classifiers := classifier.NewSet(m, providers...)

	pipeline, err := upload.NewPipeline(cfg.UploadFolder, cfg.AllowedExtensions, logger.Component(log, "upload"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare upload folder")
	}
	pipeline.WithMaxPixels(cfg.MaxImagePixels)

	policy := trust.Policy{
		Window:        cfg.RateLimitWindow,
		Threshold:     cfg.MaxRequestsPerWindow,
		TrustDuration: cfg.BrowserTrustDuration,
	}
	trustSvc := trust.NewService(trustStore, policy, logger.Component(log, "trust"))
	captchaMgr := captcha.NewManager(challengeStore, trustSvc, captcha.Config{
		TTL:         cfg.CaptchaTimeout,
		MaxAttempts: cfg.CaptchaMaxAttempts,
	}, m, logger.Component(log, "captcha"))

	users := repository.NewPostgresUserRepository(db)
	history := repository.NewPostgresIdentificationRepository(db)
	tokenSvc := tokens.NewService(repository.NewPostgresLoginTokenStore(db), cfg.LoginTokenTTL, m, logger.Component(log, "tokens"))
	issuer := auth.NewIssuer(cfg.DeriveKey("auth-token", 32), cfg.AuthTokenTTL, cfg.SessionCookieSecure, blacklist, logger.Component(log, "auth"))

	cookieStore := session.NewCookieStore(cfg.DeriveKey("session-hash", 64), cfg.DeriveKey("session-block", 32), cfg.SessionLifetime, cfg.SessionCookieSecure)
	binder := session.NewBinder(cookieStore, cfg.SessionLifetime, logger.Component(log, "session"))

	loginLimiter := middleware.NewRateLimiter(cfg.LoginRateLimit, cfg.RateLimitWindow)
	handlerLog := logger.Component(log, "http")

	router := handlers.NewRouter(handlers.Router{
		Config: handlers.RouterConfig{
			MaxContentLength:  cfg.MaxContentLength,
			TrustProxyHeaders: cfg.TrustProxyHeaders,
			AllowedOrigins:    cfg.AllowedOrigins,
		},
		Log:          handlerLog,
		Metrics:      m,
		Binder:       binder,
		Issuer:       issuer,
		LoginLimiter: loginLimiter,
		Health:       handlers.NewHealthHandler(db, handlerLog),
		Security:     handlers.NewSecurityHandler(trustSvc, captchaMgr, handlerLog),
		Identify: handlers.NewIdentifyHandler(trustSvc, pipeline, classifiers, history, publisher, m, handlers.IdentifyConfig{
			StoreImages: cfg.StoreImages,
			MaxMemory:   cfg.MaxContentLength,
		}, handlerLog),
		Auth:    handlers.NewAuthHandler(tokenSvc, users, issuer, mailer, cfg.BaseURL, cfg.AfterLoginPath, handlerLog),
		History: handlers.NewHistoryHandler(history, users, issuer, handlerLog),
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.ClassifierTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go sweep(ctx, loginLimiter, cfg.RateLimitWindow)

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Int("port", cfg.ServerPort).Str("environment", cfg.Environment).Msg("wildid starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-done
	log.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}

func sweep(ctx context.Context, rl *middleware.RateLimiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Sweep()
		}
	}
}
