package main

import (
	"context"
	"fmt"
	"log"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/persistence"
	"github.com/spec-kit/helpdesk/internal/repository"
)

type seedUser struct {
	username string
	email    string
	password string
	role     domain.Role
}

var seedUsers = []seedUser{
	{"admin", "admin@example.com", "admin123", domain.RoleAdmin},
	{"agent1", "agent1@example.com", "agent123", domain.RoleAgent},
	{"agent2", "agent2@example.com", "agent123", domain.RoleAgent},
	{"customer1", "customer1@example.com", "customer123", domain.RoleCustomer},
	{"customer2", "customer2@example.com", "customer123", domain.RoleCustomer},
}

// Seeds demo accounts and prints a development JWT for each so the API can
// be exercised with curl right away.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	userRepo := repository.NewUserRepository(pg.PoolHandle())
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	for _, su := range seedUsers {
		hash, err := auth.HashPassword(su.password, cfg.Auth.BcryptCost)
		if err != nil {
			logger.Fatal("hash password", zap.Error(err))
		}
		user := &domain.User{
			Username:     su.username,
			Email:        su.email,
			PasswordHash: hash,
			Role:         su.role,
		}
		if err := userRepo.Create(ctx, user); err != nil {
			logger.Warn("seed user skipped", zap.String("username", su.username), zap.Error(err))
			continue
		}

		token, expiresAt, err := tokens.GenerateToken(user.ID, user.Role)
		if err != nil {
			logger.Fatal("generate token", zap.Error(err))
		}
		fmt.Printf("%s (%s)\n  id:    %s\n  token: %s\n  until: %s\n\n",
			su.username, su.role, user.ID, token, expiresAt.Format("2006-01-02 15:04:05"))
	}

	logger.Info("seeding complete", zap.Int("users", len(seedUsers)))
}
