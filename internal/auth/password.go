package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"golang.org/x/crypto/bcrypt"
)

// bcryptMaxBytes is the input limit of bcrypt.
const bcryptMaxBytes = 72

// PasswordHasher is the one-way credential capability.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(hash, plain string) bool
}

// BcryptHasher hashes with bcrypt. Inputs longer than 72 bytes are reduced
// to their base64 SHA-256 digest first; shorter ones are hashed as is.
type BcryptHasher struct{ Cost int }

func bcryptInput(plain string) []byte {
	if len(plain) <= bcryptMaxBytes {
		return []byte(plain)
	}
	sum := sha256.Sum256([]byte(plain))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

func (b BcryptHasher) Hash(plain string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword(bcryptInput(plain), cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", errs.Validation("password is too long")
	}
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(plain)) == nil
}
