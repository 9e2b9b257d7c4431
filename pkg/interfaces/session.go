package interfaces

import (
	"context"

	"wired/pkg/types"
)

// SessionManager handles login session lifecycle operations.
type SessionManager interface {
	// CreateSession opens a session for an authenticated user.
	CreateSession(ctx context.Context, username string) (*types.LoginSession, error)

	// ValidateSession returns the session bound to token, or ErrSessionNotFound when
	// the token is unknown or expired.
	ValidateSession(ctx context.Context, token string) (*types.LoginSession, error)

	// EndSession removes a session. Ending an unknown session is not an error.
	EndSession(ctx context.Context, token string) error
}

// AccountService registers accounts and verifies credentials.
type AccountService interface {
	Register(ctx context.Context, username, password, confirm string) (*types.User, error)
	VerifyCredentials(ctx context.Context, username, password string) (*types.User, error)
}
