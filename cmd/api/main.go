package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"evcharge/internal/config"
	"evcharge/internal/db"
	"evcharge/internal/events"
	apihttp "evcharge/internal/http"
	"evcharge/internal/logging"
	"evcharge/internal/repository"
	"evcharge/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type stores struct {
	accounts repository.AccountRepository
	sessions repository.SessionRepository
	stations repository.StationRepository
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	var pool *pgxpool.Pool
	if cfg.StoreDriver == config.DriverPostgres || cfg.SessionStore == config.DriverPostgres {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		if cfg.AutoMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				logger.Fatal("db migrate", zap.Error(err))
			}
		}
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		}
		cancel()
	}

	st := buildStores(cfg, pool, redisClient)

	hub := events.NewHub(32, logger)
	var publisher events.Publisher = hub
	if redisClient != nil {
		bridge := events.NewRedisBridge(redisClient, hub, logger)
		publisher = bridge
		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("redis event bridge stopped", zap.Error(err))
			}
		}()
	}

	var limiter service.LoginRateLimiter
	if redisClient != nil {
		limiter = service.NewRedisLoginRateLimiter(redisClient, cfg.LoginWindow(), cfg.LoginMaxAttempts)
	} else {
		limiter = service.NewMemoryLoginRateLimiter(cfg.LoginWindow(), cfg.LoginMaxAttempts)
	}

	jwtSvc := service.NewJWTService(cfg.JWTSecret, cfg.SessionTTL())
	authSvc := service.NewAuthService(logger, st.accounts, st.sessions, service.NewBcryptHasher(bcrypt.DefaultCost), jwtSvc, limiter, cfg.AuthMode)
	stationSvc := service.NewStationService(logger, st.stations, publisher)
	bookingSvc := service.NewBookingService(logger, st.stations, publisher)

	authHandler := apihttp.NewAuthHandler(logger, authSvc, stationSvc)
	stationHandler := apihttp.NewStationHandler(logger, stationSvc, bookingSvc, authSvc)
	feedHandler := apihttp.NewFeedHandler(logger, hub, cfg.CORSOrigins)
	routerCfg := apihttp.RouterConfig{
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}
	if pool != nil {
		routerCfg.Ready = func(ctx context.Context) error { return db.Ping(ctx, pool) }
	}
	router := apihttp.NewRouter(logger, routerCfg, authSvc, authHandler, stationHandler, feedHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server",
		zap.String("port", cfg.HTTPPort),
		zap.String("store", cfg.StoreDriver),
		zap.String("sessions", cfg.SessionStore),
		zap.String("auth_mode", authSvc.Mode()),
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func buildStores(cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client) stores {
	var st stores
	if cfg.StoreDriver == config.DriverPostgres {
		st.accounts = repository.NewPgAccountRepository(pool)
		st.stations = repository.NewPgStationRepository(pool)
	} else {
		st.accounts = repository.NewMemoryAccountRepository()
		st.stations = repository.NewMemoryStationRepository()
	}
	switch cfg.SessionStore {
	case config.DriverPostgres:
		st.sessions = repository.NewPgSessionRepository(pool)
	case config.DriverRedis:
		st.sessions = repository.NewRedisSessionRepository(redisClient)
	default:
		st.sessions = repository.NewMemorySessionRepository()
	}
	return st
}
