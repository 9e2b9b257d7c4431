package interfaces

import (
	"context"
	"time"

	"wired/pkg/types"
)

// CredentialStore persists accounts.
type CredentialStore interface {
	CreateUser(ctx context.Context, user *types.User) error
	GetUser(ctx context.Context, username string) (*types.User, error)
}

// SettingsStore persists per-user profile customization.
type SettingsStore interface {
	GetSettings(ctx context.Context, username string) (*types.Settings, error)
	SaveSettings(ctx context.Context, settings *types.Settings) error
	SetAvatar(ctx context.Context, username, avatarPath string) error
	AppendImages(ctx context.Context, username string, images []string, limit int) ([]string, error)
}

// DocumentStore persists the document library.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *types.Document) error
	SearchDocuments(ctx context.Context, query string, limit int) ([]*types.Document, error)
}

// SessionStore persists login sessions.
type SessionStore interface {
	CreateLoginSession(ctx context.Context, session *types.LoginSession) error
	GetLoginSession(ctx context.Context, token string) (*types.LoginSession, error)
	DeleteLoginSession(ctx context.Context, token string) error
	DeleteExpiredLoginSessions(ctx context.Context, before time.Time) (int64, error)
}

// DatabaseManager handles all database operations.
type DatabaseManager interface {
	CredentialStore
	SettingsStore
	DocumentStore
	SessionStore

	// HealthCheck verifies database connectivity and basic operations.
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources.
	Close() error
}
