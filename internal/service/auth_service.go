package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/psds-microservice/helpdesk-service/internal/auth"
	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	MinPasswordLength = 4
	MaxPasswordLength = 128
)

// validatePassword enforces the length range on a new password, counted in characters.
func validatePassword(field, p string) error {
	if n := utf8.RuneCountInString(p); n < MinPasswordLength || n > MaxPasswordLength {
		return errs.Validation("%s must have between %d and %d characters", field, MinPasswordLength, MaxPasswordLength)
	}
	return nil
}

type AuthService struct {
	db     *gorm.DB
	tokens *auth.TokenService
	hasher auth.PasswordHasher
	log    *zap.Logger
}

func NewAuthService(db *gorm.DB, tokens *auth.TokenService, hasher auth.PasswordHasher, log *zap.Logger) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{db: db, tokens: tokens, hasher: hasher, log: log}
}

type LoginResult struct {
	AccessToken        string     `json:"access_token"`
	TokenType          string     `json:"token_type"`
	ExpiresAt          time.Time  `json:"expires_at"`
	ExpiresIn          int64      `json:"expires_in"`
	UserID             string     `json:"user_id"`
	Role               model.Role `json:"role"`
	MustChangePassword bool       `json:"must_change_password"`
}

// Login checks credentials of an active user and issues an access token.
func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	var u model.User
	err := s.db.WithContext(ctx).First(&u, "username = ? AND active = ?", username, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Unauthorized("invalid credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !s.hasher.Verify(u.PasswordHash, password) {
		s.log.Warn("login failed", zap.String("username", username))
		return nil, errs.Unauthorized("invalid credentials")
	}
	token, exp, err := s.tokens.Issue(&u)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		AccessToken:        token,
		TokenType:          "bearer",
		ExpiresAt:          exp,
		ExpiresIn:          int64(s.tokens.TTL().Seconds()),
		UserID:             u.ID,
		Role:               u.Role,
		MustChangePassword: u.MustChangePassword,
	}, nil
}

// Authenticate resolves a bearer token to the active user it was issued for.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*model.User, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	var u model.User
	err = s.db.WithContext(ctx).First(&u, "id = ? AND active = ?", claims.UserID, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Unauthorized("invalid user")
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &u, nil
}

// ChangePassword replaces the caller's password and clears must_change_password.
func (s *AuthService) ChangePassword(ctx context.Context, actor *model.User, oldPassword, newPassword string) error {
	if actor == nil || !actor.Active {
		return errs.Unauthorized("inactive or unknown user")
	}
	if !s.hasher.Verify(actor.PasswordHash, oldPassword) {
		return errs.Unauthorized("current password is invalid")
	}
	if err := validatePassword("new_password", newPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", actor.ID).
		Updates(map[string]any{"password_hash": hash, "must_change_password": false}).Error; err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	actor.PasswordHash = hash
	actor.MustChangePassword = false
	s.log.Info("password changed", zap.String("user_id", actor.ID))
	return nil
}
