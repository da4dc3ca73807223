package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/OsmanovRuslan/EcoSharing-sub001/pkg/config"
	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/database"
	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/tracing"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"

	minJWTSecretLength      = 32
	minActivationCodeLength = 16
)

// Config holds all configuration for the auth service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"HTTP_PORT" envDefault:"8010"`

	// Storage
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"ecosharing"`
	PostgresPass     string `env:"POSTGRES_PASSWORD" envDefault:"ecosharing"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"auth_db"`
	PostgresSSL      string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	PostgresMaxConns int32  `env:"POSTGRES_MAX_CONNS" envDefault:"20"`
	PostgresMinConns int32  `env:"POSTGRES_MIN_CONNS" envDefault:"2"`

	// Redis
	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"true"`
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"true"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// JWT
	JWTSecret          string        `env:"JWT_SECRET" envDefault:""`
	JWTIssuer          string        `env:"JWT_ISSUER" envDefault:"auth-service"`
	JWTAccessExpiry    time.Duration `env:"JWT_ACCESS_EXPIRY" envDefault:"15m"`
	RefreshTokenExpiry time.Duration `env:"REFRESH_TOKEN_EXPIRY" envDefault:"720h"`

	// Telegram
	TelegramBotToken       string        `env:"TELEGRAM_BOT_TOKEN" envDefault:""`
	TelegramInitDataMaxAge time.Duration `env:"TELEGRAM_INIT_DATA_MAX_AGE" envDefault:"24h"`

	// Profile service
	ProfileServiceURL string        `env:"PROFILE_SERVICE_URL" envDefault:"http://localhost:8002"`
	ProfileTimeout    time.Duration `env:"PROFILE_TIMEOUT" envDefault:"5s"`

	// Role activation. An empty code disables that path.
	AdminActivationCode     string `env:"ADMIN_ACTIVATION_CODE" envDefault:""`
	ModeratorActivationCode string `env:"MODERATOR_ACTIVATION_CODE" envDefault:""`

	// Refresh token cleanup; zero disables the sweeper.
	RefreshSweepInterval time.Duration `env:"REFRESH_SWEEP_INTERVAL" envDefault:"1h"`

	// Login attempt throttling per login, backed by Redis.
	LoginMaxAttempts   int           `env:"LOGIN_MAX_ATTEMPTS" envDefault:"10"`
	LoginAttemptWindow time.Duration `env:"LOGIN_ATTEMPT_WINDOW" envDefault:"15m"`

	// Per-IP rate limit on /api/v1/auth
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`

	// Tracing
	Tracing tracing.Config `envPrefix:"OTEL_"`

	// pprof
	PprofEnabled      bool     `env:"PPROF_ENABLED" envDefault:"false"`
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.1/32" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return load()
}

func load(opts ...pkgconfig.Option) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg, opts...); err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.Tracing.ServiceName = "auth-service"
	cfg.Tracing.Environment = cfg.Environment
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	switch c.StorageDriver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		return fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StorageDriverPostgres, StorageDriverMemory, c.StorageDriver)
	}

	// In non-development environments, require explicitly set secrets.
	if !c.IsDevelopment() {
		if len(c.JWTSecret) < minJWTSecretLength {
			return fmt.Errorf("JWT_SECRET must be at least %d characters long, got %d", minJWTSecretLength, len(c.JWTSecret))
		}
		if c.TelegramBotToken == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN must be set in %q mode", c.Environment)
		}
	}

	if c.AdminActivationCode != "" && len(c.AdminActivationCode) < minActivationCodeLength {
		return fmt.Errorf("ADMIN_ACTIVATION_CODE must be at least %d characters long", minActivationCodeLength)
	}
	if c.ModeratorActivationCode != "" && len(c.ModeratorActivationCode) < minActivationCodeLength {
		return fmt.Errorf("MODERATOR_ACTIVATION_CODE must be at least %d characters long", minActivationCodeLength)
	}
	if c.AdminActivationCode != "" && c.AdminActivationCode == c.ModeratorActivationCode {
		return fmt.Errorf("ADMIN_ACTIVATION_CODE and MODERATOR_ACTIVATION_CODE must differ")
	}

	if c.JWTAccessExpiry <= 0 {
		return fmt.Errorf("JWT_ACCESS_EXPIRY must be positive, got %s", c.JWTAccessExpiry)
	}
	if c.RefreshTokenExpiry <= 0 {
		return fmt.Errorf("REFRESH_TOKEN_EXPIRY must be positive, got %s", c.RefreshTokenExpiry)
	}
	if c.TelegramInitDataMaxAge <= 0 {
		return fmt.Errorf("TELEGRAM_INIT_DATA_MAX_AGE must be positive, got %s", c.TelegramInitDataMaxAge)
	}
	if c.RefreshSweepInterval < 0 {
		return fmt.Errorf("REFRESH_SWEEP_INTERVAL must not be negative, got %s", c.RefreshSweepInterval)
	}

	return nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Postgres returns the PostgreSQL pool configuration.
func (c *Config) Postgres() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.PostgresMaxConns,
		MinConns:        c.PostgresMinConns,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// Redis returns the Redis client configuration.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}
