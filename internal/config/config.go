package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is read from the environment once at startup and treated as immutable.
type Config struct {
	AppEnv string
	Port   string

	DatabaseURL            string
	DBMaxOpenConns         int
	DBMaxIdleConns         int
	DBConnMaxLifetime      time.Duration
	DBConnMaxIdleTime      time.Duration
	RunMigrationsOnStartup bool

	JWTSecret      string
	JWTIssuer      string
	AccessTTL      time.Duration
	AdminAccessTTL time.Duration
	RefreshTTL     time.Duration

	VerificationCodeTTL time.Duration
	BcryptCost          int
	RedisURL            string

	MailMode     string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string
	MailFromName string
	MailTimeout  time.Duration

	SentryDSN string

	CronSecret                 string
	RevocationCleanupBatchSize int

	AdminEmail    string
	AdminPassword string

	AuthRateLimitPerMinute int
	AuthRateLimitBurst     int
	// TrustedProxies lists addresses or CIDR ranges whose X-Forwarded-For is honoured.
	TrustedProxies []string
}

const (
	MailModeSMTP = "smtp"
	MailModeLog  = "log"
)

// Load reads the configuration. DATABASE_URL and JWT_SECRET are required.
func Load() (*Config, error) {
	var missing []string

	cfg := &Config{
		AppEnv: EnvOrDefault("APP_ENV", "development"),
		Port:   EnvOrDefault("PORT", "8080"),

		DatabaseURL:            strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxOpenConns:         EnvIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:         EnvIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime:      EnvMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
		DBConnMaxIdleTime:      EnvMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
		RunMigrationsOnStartup: EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", true),

		JWTSecret:      strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTIssuer:      EnvOrDefault("JWT_ISSUER", "drugshop"),
		AccessTTL:      EnvMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 60),
		AdminAccessTTL: EnvHoursOrDefault("ADMIN_ACCESS_TOKEN_TTL_HOURS", 7*24),
		RefreshTTL:     EnvHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 30*24),

		VerificationCodeTTL: EnvMinutesOrDefault("VERIFICATION_CODE_TTL_MINUTES", 15),
		BcryptCost:          EnvIntOrDefault("BCRYPT_COST", 10),
		RedisURL:            strings.TrimSpace(os.Getenv("REDIS_URL")),

		MailMode:     strings.ToLower(EnvOrDefault("MAIL_MODE", MailModeLog)),
		SMTPHost:     strings.TrimSpace(os.Getenv("SMTP_HOST")),
		SMTPPort:     EnvIntOrDefault("SMTP_PORT", 587),
		SMTPUsername: strings.TrimSpace(os.Getenv("SMTP_USERNAME")),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		MailFrom:     EnvOrDefault("MAIL_FROM", "no-reply@winaldrugshop.com"),
		MailFromName: EnvOrDefault("MAIL_FROM_NAME", "Winal Drug Shop"),
		MailTimeout:  EnvSecondsOrDefault("MAIL_TIMEOUT_SECONDS", 10),

		SentryDSN: strings.TrimSpace(os.Getenv("SENTRY_DSN")),

		CronSecret:                 strings.TrimSpace(os.Getenv("CRON_SECRET")),
		RevocationCleanupBatchSize: EnvIntOrDefault("REVOCATION_CLEANUP_BATCH_SIZE", 500),

		AdminEmail:    strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword: strings.TrimSpace(os.Getenv("ADMIN_PASSWORD")),

		AuthRateLimitPerMinute: EnvIntOrDefault("AUTH_RATE_LIMIT_PER_MINUTE", 10),
		AuthRateLimitBurst:     EnvIntOrDefault("AUTH_RATE_LIMIT_BURST", 5),
		TrustedProxies:         EnvList("TRUSTED_PROXIES"),
	}

	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required env: %s", strings.Join(missing, ", "))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.JWTSecret) < 32 && c.IsProduction() {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}

	switch c.MailMode {
	case MailModeLog:
	case MailModeSMTP:
		if c.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required when MAIL_MODE=smtp")
		}
	default:
		return fmt.Errorf("unsupported MAIL_MODE: %s", c.MailMode)
	}

	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func EnvOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

// EnvList splits a comma-separated variable, dropping blank entries.
func EnvList(name string) []string {
	var values []string
	for _, part := range strings.Split(os.Getenv(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}

func EnvIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func EnvSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(EnvIntOrDefault(name, fallback)) * time.Second
}

func EnvMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(EnvIntOrDefault(name, fallback)) * time.Minute
}

func EnvHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(EnvIntOrDefault(name, fallback)) * time.Hour
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
