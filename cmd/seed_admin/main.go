package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"evcharge/internal/config"
	"evcharge/internal/db"
	"evcharge/internal/logging"
	"evcharge/internal/repository"
	"evcharge/internal/service"
)

// seed_admin crea la cuenta admin o promueve una existente.
func main() {
	email := flag.String("email", os.Getenv("ADMIN_EMAIL"), "admin email")
	password := flag.String("password", os.Getenv("ADMIN_PASSWORD"), "admin password")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.StoreDriver != config.DriverPostgres {
		log.Fatalf("seed_admin needs STORE_DRIVER=%s, got %q", config.DriverPostgres, cfg.StoreDriver)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
	}

	auth := service.NewAuthService(
		logger,
		repository.NewPgAccountRepository(pool),
		repository.NewPgSessionRepository(pool),
		service.NewBcryptHasher(bcrypt.DefaultCost),
		service.NewJWTService(cfg.JWTSecret, cfg.SessionTTL()),
		nil,
		cfg.AuthMode,
	)

	account, created, err := auth.EnsureAdmin(ctx, *email, *password)
	if err != nil {
		logger.Fatal("ensure admin", zap.Error(err))
	}
	if created {
		fmt.Printf("admin created: %s (%s)\n", account.Email, account.ID)
		return
	}
	fmt.Printf("admin updated: %s (%s)\n", account.Email, account.ID)
}
