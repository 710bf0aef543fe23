package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"drugshop-serverless/internal/auth"
	"drugshop-serverless/internal/config"
	"drugshop-serverless/internal/db"
	"drugshop-serverless/internal/mail"
	"drugshop-serverless/internal/maintenance"
	"drugshop-serverless/internal/observability"
	"drugshop-serverless/internal/profile"
)

const startupTimeout = 30 * time.Second

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Config  *config.Config
	Logger  *observability.Logger
	Close   func() error
}

// dependencies are the external resources the router is assembled from.
type dependencies struct {
	cfg       *config.Config
	db        *sql.DB
	codes     auth.CodeStore
	transport mail.Transport
	logger    *observability.Logger
	registry  *prometheus.Registry
	resolver  *observability.IPResolver
}

type components struct {
	handler     http.Handler
	credentials *auth.CredentialStore
	service     *auth.Service
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.IsProduction())

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	resolver, err := observability.NewIPResolver(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	database, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		return nil, err
	}

	if options.RunMigrations && cfg.RunMigrationsOnStartup {
		if err := db.RunMigrations(ctx, database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	codes, closeCodes, err := newCodeStore(ctx, cfg)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	transport, err := newMailTransport(cfg, logger)
	if err != nil {
		_ = closeCodes()
		_ = database.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	built := assemble(dependencies{
		cfg:       cfg,
		db:        database,
		codes:     codes,
		transport: transport,
		logger:    logger,
		registry:  registry,
		resolver:  resolver,
	})

	if err := built.credentials.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		_ = closeCodes()
		_ = database.Close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	return &Runtime{
		Handler: built.handler,
		Config:  cfg,
		Logger:  logger,
		Close: func() error {
			built.service.Wait()
			observability.FlushSentry()
			_ = closeCodes()
			return database.Close()
		},
	}, nil
}

func assemble(deps dependencies) components {
	cfg := deps.cfg
	metrics := observability.NewMetrics(deps.registry)

	validator := auth.NewValidator()
	credentials := auth.NewCredentialStore(auth.NewRepository(deps.db), auth.NewPasswordHasher(cfg.BcryptCost), validator)
	revocations := auth.NewRevocationStore(deps.db)

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer, auth.TokenPolicy{
		AccessTTL:      cfg.AccessTTL,
		AdminAccessTTL: cfg.AdminAccessTTL,
		RefreshTTL:     cfg.RefreshTTL,
	}, revocations, credentials).WithMetrics(metrics)

	mailer := mail.NewMailer(deps.transport, mail.Config{
		From:     cfg.MailFrom,
		FromName: cfg.MailFromName,
		Timeout:  cfg.MailTimeout,
		CodeTTL:  cfg.VerificationCodeTTL,
	}, deps.logger).WithMetrics(metrics)

	service := auth.NewService(credentials, deps.codes, tokens, mailer, validator, deps.logger).WithMetrics(metrics)

	authHandler := auth.NewHandler(service, deps.logger)
	profileHandler := profile.NewHandler(credentials, deps.logger)
	cleanupHandler := maintenance.NewCleanupHandler(revocations, deps.logger, cfg.CronSecret, cfg.RevocationCleanupBatchSize).
		WithMetrics(metrics)

	limiter := auth.NewRateLimiter(cfg.AuthRateLimitPerMinute, cfg.AuthRateLimitBurst, deps.resolver)
	requireAuth := auth.RequireAuth(service)

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})

	r.Get("/health", healthHandler(deps.db))
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler(deps.registry))
	r.Get("/internal/maintenance/cleanup", cleanupHandler.Handle)
	r.Post("/internal/maintenance/cleanup", cleanupHandler.Handle)

	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/request-reset", authHandler.RequestReset)
			r.Post("/verify-code", authHandler.VerifyCode)
			r.Post("/reset-password", authHandler.ResetPassword)
		})
		r.Post("/refresh", authHandler.Refresh)
		r.Post("/logout", authHandler.Logout)
		r.With(requireAuth).Get("/session", authHandler.Session)
	})

	r.Route("/api/users", func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/me", profileHandler.GetMe)
		r.Put("/me", profileHandler.UpdateMe)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(requireAuth, auth.RequireAdmin(credentials))
		r.Get("/ping", authHandler.AdminPing)
	})

	handler := observability.RecoverMiddleware(deps.logger, observability.RequestLoggingMiddleware(deps.logger, metrics, r))

	return components{handler: handler, credentials: credentials, service: service}
}

// newCodeStore shares codes through Redis when REDIS_URL is set. The memory
// store only holds for a single running instance.
func newCodeStore(ctx context.Context, cfg *config.Config) (auth.CodeStore, func() error, error) {
	if cfg.RedisURL == "" {
		return auth.NewMemoryCodeStore(cfg.VerificationCodeTTL), func() error { return nil }, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	return auth.NewRedisCodeStore(client, cfg.VerificationCodeTTL), client.Close, nil
}

func newMailTransport(cfg *config.Config, logger *observability.Logger) (mail.Transport, error) {
	switch cfg.MailMode {
	case config.MailModeSMTP:
		return mail.NewSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword), nil
	case config.MailModeLog:
		return mail.NewLogTransport(logger), nil
	default:
		return nil, fmt.Errorf("unsupported mail mode: %s", cfg.MailMode)
	}
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}

		writeJSON(w, status, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
