// Package session manages login sessions: opaque cookie tokens bound to a
// username with an expiry.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wired/pkg/interfaces"
	"wired/pkg/types"
)

// Manager implements interfaces.SessionManager with a write-through cache in
// front of the session store.
type Manager struct {
	store  interfaces.SessionStore
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]*types.LoginSession
}

var _ interfaces.SessionManager = (*Manager)(nil)

// NewManager creates a session manager issuing sessions valid for ttl.
func NewManager(store interfaces.SessionStore, ttl time.Duration, logger *zerolog.Logger) (*Manager, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	return &Manager{
		store:  store,
		ttl:    ttl,
		logger: logger.With().Str("component", "session").Logger(),
		now:    time.Now,
		cache:  make(map[string]*types.LoginSession),
	}, nil
}

// TTL returns the lifetime of new sessions.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// CreateSession opens a session for username.
func (m *Manager) CreateSession(ctx context.Context, username string) (*types.LoginSession, error) {
	if username == "" {
		return nil, ErrInvalidUsername
	}

	now := m.now()
	session := &types.LoginSession{
		Token:     uuid.NewString(),
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.CreateLoginSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.mu.Lock()
	m.cache[session.Token] = session
	m.mu.Unlock()

	m.logger.Debug().Str("user", username).Time("expires", session.ExpiresAt).Msg("session created")
	return session, nil
}

// ValidateSession returns the live session for token. Unknown and expired
// tokens yield interfaces.ErrSessionNotFound.
func (m *Manager) ValidateSession(ctx context.Context, token string) (*types.LoginSession, error) {
	if token == "" {
		return nil, interfaces.ErrSessionNotFound
	}

	m.mu.RLock()
	session, ok := m.cache[token]
	m.mu.RUnlock()

	if !ok {
		var err error
		session, err = m.store.GetLoginSession(ctx, token)
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return nil, interfaces.ErrSessionNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		m.mu.Lock()
		m.cache[token] = session
		m.mu.Unlock()
	}

	if session.Expired(m.now()) {
		m.forget(token)
		return nil, interfaces.ErrSessionNotFound
	}
	return session, nil
}

// EndSession removes the session. Unknown tokens are not an error.
func (m *Manager) EndSession(ctx context.Context, token string) error {
	m.forget(token)
	if err := m.store.DeleteLoginSession(ctx, token); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

func (m *Manager) forget(token string) {
	m.mu.Lock()
	delete(m.cache, token)
	m.mu.Unlock()
}

// PurgeExpired drops expired sessions from the cache and the store.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	now := m.now()

	m.mu.Lock()
	for token, session := range m.cache {
		if session.Expired(now) {
			delete(m.cache, token)
		}
	}
	m.mu.Unlock()

	removed, err := m.store.DeleteExpiredLoginSessions(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return removed, nil
}

// RunCleanup purges expired sessions every interval until ctx is done.
func (m *Manager) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := m.PurgeExpired(ctx)
			if err != nil {
				m.logger.Warn().Err(err).Msg("session cleanup failed")
				continue
			}
			if removed > 0 {
				m.logger.Info().Int64("removed", removed).Msg("expired sessions purged")
			}
		case <-ctx.Done():
			return
		}
	}
}
