package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"housegen/internal/auth"
	"housegen/internal/config"
)

// seedDevAdmin creates a verified admin account in the in-memory store so a
// fresh development server has someone who can reach the admin routes. It
// does nothing outside development or when DEV_ADMIN_EMAIL is unset.
func seedDevAdmin(ctx context.Context, users auth.UserStore, cfg config.Config, logger *slog.Logger) error {
	if !cfg.IsDevelopment() || cfg.DevAdminEmail == "" {
		return nil
	}
	if cfg.DevAdminPassword == "" {
		return errors.New("DEV_ADMIN_PASSWORD is required when DEV_ADMIN_EMAIL is set")
	}
	if check := auth.ValidatePasswordStrength(cfg.DevAdminPassword); !check.Valid {
		return fmt.Errorf("DEV_ADMIN_PASSWORD: %s", check.Reason)
	}

	hash, err := auth.HashPassword(cfg.DevAdminPassword, cfg.BcryptCost)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	admin, err := users.CreateUser(ctx, auth.User{
		ID:            uuid.New(),
		Email:         auth.NormalizeEmail(cfg.DevAdminEmail),
		PasswordHash:  hash,
		Name:          "Development Admin",
		EmailVerified: true,
		Role:          auth.RoleAdmin,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	logger.Info("seeded development admin", "user_id", admin.ID, "email", admin.Email)
	return nil
}
