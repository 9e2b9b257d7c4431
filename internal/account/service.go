// Package account registers users and verifies their credentials.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"wired/pkg/interfaces"
	"wired/pkg/types"
)

// DefaultCost is the bcrypt work factor for new password hashes.
const DefaultCost = 10

// Service implements interfaces.AccountService over a credential store.
type Service struct {
	store  interfaces.CredentialStore
	cost   int
	logger zerolog.Logger
	now    func() time.Time
}

var _ interfaces.AccountService = (*Service)(nil)

// NewService creates an account service hashing with the given bcrypt cost.
func NewService(store interfaces.CredentialStore, cost int, logger *zerolog.Logger) (*Service, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCost, cost)
	}
	return &Service{
		store:  store,
		cost:   cost,
		logger: logger.With().Str("component", "account").Logger(),
		now:    time.Now,
	}, nil
}

// Register validates and stores a new account. The username is lower-cased.
func (s *Service) Register(ctx context.Context, username, password, confirm string) (*types.User, error) {
	username = types.NormalizeUsername(username)
	if !types.IsValidUsername(username) {
		return nil, types.ErrInvalidUsername
	}
	if err := types.ValidatePassword(password, confirm); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &types.User{
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, interfaces.ErrUserExists) {
			return nil, interfaces.ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info().Str("user", username).Msg("account registered")
	return user, nil
}

// VerifyCredentials returns the account when password matches. Unknown users
// yield interfaces.ErrUserNotFound and wrong passwords ErrInvalidPassword.
func (s *Service) VerifyCredentials(ctx context.Context, username, password string) (*types.User, error) {
	username = types.NormalizeUsername(username)
	user, err := s.store.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			s.logger.Debug().Str("user", username).Msg("password mismatch")
			return nil, ErrInvalidPassword
		}
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	return user, nil
}
