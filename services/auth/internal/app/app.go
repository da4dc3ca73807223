package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/database"
	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/health"
	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/httpclient"
	pkgkafka "github.com/OsmanovRuslan/EcoSharing-sub001/pkg/kafka"
	"github.com/OsmanovRuslan/EcoSharing-sub001/pkg/tracing"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/auth"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/config"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/event"
	handler "github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/handler/http"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/profile"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/repository"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/repository/memory"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/repository/postgres"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/repository/redis"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/service"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/internal/telegram"
	"github.com/OsmanovRuslan/EcoSharing-sub001/services/auth/migrations"
)

const serviceName = "auth-service"

// App wires together all dependencies and runs the auth service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	sessions       *service.SessionManager
	httpServer     *http.Server
	tracerShutdown tracing.ShutdownFunc
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.closeResources()
		}
	}()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	healthHandler := health.NewHandler()

	credentials, tokens, err := a.initStorage(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	limiter, err := a.initLimiter(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	// Kafka is optional; events are dropped when it is disabled.
	var publisher event.Publisher = event.NoopPublisher{}
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = a.producer
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	} else {
		logger.Warn("kafka disabled, auth events will not be published")
	}
	eventProducer := event.NewProducer(publisher, logger)

	// Profile service client: retries inside, circuit breaker outside.
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.ProfileTimeout
	breaker := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpCfg),
		httpclient.DefaultCircuitBreakerConfig("profile-service"),
		logger,
	).WithFallback(profile.CircuitOpenFallback)
	profileClient := profile.NewClient(breaker, cfg.ProfileServiceURL, logger)

	// Build the dependency graph.
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAccessExpiry, cfg.RefreshTokenExpiry)
	a.sessions = service.NewSessionManager(tokens, credentials, issuer, logger)

	passwords, err := service.NewPasswordAuthenticator(credentials, a.sessions, profileClient, limiter, eventProducer,
		service.PasswordConfig{
			BcryptCost:              service.DefaultBcryptCost,
			ProfileTimeout:          cfg.ProfileTimeout,
			AdminActivationCode:     cfg.AdminActivationCode,
			ModeratorActivationCode: cfg.ModeratorActivationCode,
		}, logger)
	if err != nil {
		return nil, fmt.Errorf("init password authenticator: %w", err)
	}

	verifier := telegram.NewVerifier(cfg.TelegramBotToken, cfg.TelegramInitDataMaxAge)
	telegramAuth := service.NewTelegramAuthenticator(verifier, credentials, passwords, a.sessions, eventProducer, logger)

	// HTTP router.
	router := handler.NewRouter(passwords, telegramAuth, issuer, healthHandler, logger, handler.RouterConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
		PprofEnabled:       cfg.PprofEnabled,
		PprofAllowedCIDRs:  cfg.PprofAllowedCIDRs,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ok = true
	return a, nil
}

func (a *App) initStorage(ctx context.Context, h *health.Handler) (repository.CredentialRepository, repository.RefreshTokenRepository, error) {
	if a.cfg.StorageDriver == config.StorageDriverMemory {
		a.logger.Warn("using in-memory storage, data is lost on restart")
		store := memory.New()
		return store.Credentials(), store.RefreshTokens(), nil
	}

	pool, err := database.NewPostgresPool(ctx, a.cfg.Postgres(), a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", a.cfg.PostgresHost),
		slog.Int("port", a.cfg.PostgresPort),
		slog.String("database", a.cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
		a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	h.RegisterCritical("postgres", pool.Ping)
	return postgres.NewCredentialRepository(pool), postgres.NewRefreshTokenRepository(pool), nil
}

func (a *App) initLimiter(ctx context.Context, h *health.Handler) (repository.LoginAttemptLimiter, error) {
	if !a.cfg.RedisEnabled || a.cfg.StorageDriver == config.StorageDriverMemory {
		a.logger.Warn("login attempt limiter disabled")
		return memory.NoopLimiter{}, nil
	}

	client, err := database.NewRedisClient(ctx, a.cfg.Redis())
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = client
	a.logger.Info("connected to Redis", slog.String("addr", a.cfg.Redis().Addr()))

	h.RegisterNonCritical("redis", database.RedisChecker(client))
	return redis.NewLoginAttemptLimiter(client, a.cfg.LoginMaxAttempts, a.cfg.LoginAttemptWindow), nil
}

// Run starts the HTTP server and the refresh token sweeper and blocks until
// the context is canceled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.sessions.RunSweeper(gctx, a.cfg.RefreshSweepInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown signal received")
		return a.shutdownServer()
	})

	err := g.Wait()
	a.closeResources()
	a.logger.Info("application shutdown complete")
	return err
}

func (a *App) shutdownServer() error {
	// Drain in-flight HTTP requests (5s budget).
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// closeResources releases everything except the HTTP server, in order:
// tracer (flush spans of drained requests), Kafka, Redis, PostgreSQL.
func (a *App) closeResources() {
	if a.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}

	if a.pool != nil {
		a.pool.Close()
	}
}
