package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/psds-microservice/helpdesk-service/internal/auth"
	"github.com/psds-microservice/helpdesk-service/internal/database"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EnsureAdmin seeds the default administrator unless a user with that
// username already exists. Safe to run on every start.
func EnsureAdmin(ctx context.Context, db *gorm.DB, hasher auth.PasswordHasher, username, password string, log *zap.Logger) (bool, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var existing model.User
	err := db.WithContext(ctx).First(&existing, "username = ?", username).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("bootstrap: lookup admin: %w", err)
	}

	hash, err := hasher.Hash(password)
	if err != nil {
		return false, fmt.Errorf("bootstrap: %w", err)
	}
	admin := &model.User{
		ID:                 uuid.NewString(),
		Username:           username,
		PasswordHash:       hash,
		Role:               model.RoleAdmin,
		MustChangePassword: true,
		Active:             true,
	}
	if err := db.WithContext(ctx).Create(admin).Error; err != nil {
		// another instance won the race
		if database.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("bootstrap: create admin: %w", err)
	}
	log.Info("default admin created", zap.String("username", username))
	return true, nil
}
