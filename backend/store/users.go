// Package store holds the gorm-backed credential store and file registry.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PhilHem/go-file-vault/backend/apperr"
	"github.com/PhilHem/go-file-vault/backend/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Users is the credential store.
type Users struct {
	db   *gorm.DB
	cost int
}

func NewUsers(db *gorm.DB) *Users {
	return &Users{db: db, cost: bcrypt.DefaultCost}
}

// WithCost returns a copy using the given bcrypt cost. Tests use bcrypt.MinCost.
func (s *Users) WithCost(cost int) *Users {
	return &Users{db: s.db, cost: cost}
}

func (s *Users) hash(raw string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// Register creates a user with a bcrypt hash of rawPassword. A username or
// email that is already taken yields apperr.DuplicateIdentity.
func (s *Users) Register(ctx context.Context, username, email, rawPassword string) (*models.User, error) {
	hashed, err := s.hash(rawPassword)
	if err != nil {
		return nil, err
	}

	user := &models.User{Username: username, Email: email, PasswordHash: hashed}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Wrap(apperr.CodeDuplicateIdentity, "register "+username, err)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Verify returns the user with the given email if rawPassword matches.
// An unknown email and a wrong password both give ok == false.
func (s *Users) Verify(ctx context.Context, email, rawPassword string) (*models.User, bool, error) {
	user, err := s.ByEmail(ctx, email)
	if errors.Is(err, apperr.NotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !CheckPassword(user, rawPassword) {
		return nil, false, nil
	}
	return user, true, nil
}

// CheckPassword compares rawPassword with the stored digest.
func CheckPassword(a models.Authenticatable, rawPassword string) bool {
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordDigest()), []byte(rawPassword)) == nil
}

// SetPassword replaces the stored hash.
func (s *Users) SetPassword(ctx context.Context, user *models.User, rawPassword string) error {
	hashed, err := s.hash(rawPassword)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(user).Update("password_hash", hashed).Error; err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	user.PasswordHash = hashed
	return nil
}

// ResetPassword replaces the hash and clears the one-time code and its
// expiry in the same transaction.
func (s *Users) ResetPassword(ctx context.Context, user *models.User, rawPassword string) error {
	hashed, err := s.hash(rawPassword)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Model(user).Updates(map[string]any{
			"password_hash": hashed,
			"otp_code":      nil,
			"otp_expiry":    nil,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	user.PasswordHash = hashed
	user.OTPCode, user.OTPExpiry = nil, nil
	return nil
}

// SetOTP stores a one-time code with its expiry, replacing any previous one.
func (s *Users) SetOTP(ctx context.Context, user *models.User, code string, expiry time.Time) error {
	err := s.db.WithContext(ctx).Model(user).Updates(map[string]any{
		"otp_code":   code,
		"otp_expiry": expiry,
	}).Error
	if err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	user.OTPCode, user.OTPExpiry = &code, &expiry
	return nil
}

func (s *Users) ByID(ctx context.Context, id uint) (*models.User, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *Users) ByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.first(ctx, "email = ?", email)
}

func (s *Users) first(ctx context.Context, query string, arg any) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where(query, arg).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &user, nil
}
