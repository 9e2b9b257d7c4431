package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	dbconfig "wired/pkg/database"
	"wired/pkg/interfaces"
	"wired/pkg/types"
)

const (
	writeQueueSize      = 100
	writeTimeout        = 30 * time.Second
	defaultRetryBackoff = 5 * time.Second
)

// Manager implements interfaces.DatabaseManager on SQLite. Reads go straight to
// the pool; writes are serialized through a single writer goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       zerolog.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	retryBackoff time.Duration

	mu     sync.RWMutex
	closed bool
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

var _ interfaces.DatabaseManager = (*Manager)(nil)

// NewManager opens the database, applies pending migrations and starts the writer.
func NewManager(config *dbconfig.Config, logger *zerolog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	migrations := dbconfig.NewMigrationManager(db, config.MigrationsPath)
	if err := migrations.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With().Str("component", "database").Logger(),
		writeChannel: make(chan writeOperation, writeQueueSize),
		shutdown:     make(chan struct{}),
		retryBackoff: defaultRetryBackoff,
	}

	m.wg.Add(1)
	go m.writeLoop()

	m.logger.Info().Str("path", config.DatabasePath).Msg("database ready")
	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if isBusy(err) {
				m.logger.Warn().Err(err).Dur("backoff", m.retryBackoff).Msg("database busy, retrying write")
				time.Sleep(m.retryBackoff)
				err = op.operation(m.db)
			}
			if err != nil && !isConstraint(err) {
				m.logger.Error().Err(err).Msg("database write failed")
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug().Msg("write loop shutting down")
			return
		}
	}
}

func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrShuttingDown
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrShuttingDown
	}
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// CreateUser inserts a new account.
func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	err := m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
			user.Username, user.PasswordHash, user.CreatedAt.UTC(),
		)
		return err
	})
	if isUniqueViolation(err) {
		return interfaces.ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser loads an account by username.
func (m *Manager) GetUser(ctx context.Context, username string) (*types.User, error) {
	var user types.User
	err := m.db.QueryRowContext(ctx,
		`SELECT username, password_hash, created_at FROM users WHERE username = ?`,
		username,
	).Scan(&user.Username, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetSettings loads the stored settings row. Missing columns come back empty;
// callers apply defaults.
func (m *Manager) GetSettings(ctx context.Context, username string) (*types.Settings, error) {
	var (
		settings                                     types.Settings
		alias, theme, description, directory, avatar sql.NullString
		imageList                                    sql.NullString
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT username, alias, theme, description, directory, avatar_path, image_list
		FROM user_settings WHERE username = ?`,
		username,
	).Scan(&settings.Username, &alias, &theme, &description, &directory, &avatar, &imageList)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	settings.Alias = alias.String
	settings.Theme = theme.String
	settings.Description = description.String
	settings.Directory = directory.String
	settings.AvatarPath = avatar.String
	if settings.ImageList, err = decodeImageList(imageList); err != nil {
		return nil, err
	}
	return &settings, nil
}

// SaveSettings upserts alias, theme, description and directory. Avatar and
// image list are owned by the upload paths and left untouched.
func (m *Manager) SaveSettings(ctx context.Context, settings *types.Settings) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO user_settings (username, alias, theme, description, directory, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(username) DO UPDATE SET
				alias = excluded.alias,
				theme = excluded.theme,
				description = excluded.description,
				directory = excluded.directory,
				updated_at = excluded.updated_at`,
			settings.Username, settings.Alias, settings.Theme, settings.Description, settings.Directory,
			time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		return nil
	})
}

// SetAvatar records a new avatar path, creating the settings row if needed.
func (m *Manager) SetAvatar(ctx context.Context, username, avatarPath string) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO user_settings (username, avatar_path, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(username) DO UPDATE SET
				avatar_path = excluded.avatar_path,
				updated_at = excluded.updated_at`,
			username, avatarPath, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to set avatar: %w", err)
		}
		return nil
	})
}

// AppendImages adds images to the user's list and keeps the first limit entries.
// The resulting list is returned.
func (m *Manager) AppendImages(ctx context.Context, username string, images []string, limit int) ([]string, error) {
	var result []string
	err := m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var current sql.NullString
		err = tx.QueryRowContext(ctx,
			`SELECT image_list FROM user_settings WHERE username = ?`, username,
		).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read image list: %w", err)
		}

		list, err := decodeImageList(current)
		if err != nil {
			return err
		}
		list = append(list, images...)
		if limit > 0 && len(list) > limit {
			list = list[:limit]
		}

		encoded, err := json.Marshal(list)
		if err != nil {
			return fmt.Errorf("failed to marshal image list: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_settings (username, image_list, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(username) DO UPDATE SET
				image_list = excluded.image_list,
				updated_at = excluded.updated_at`,
			username, string(encoded), time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to store image list: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit image list: %w", err)
		}
		result = list
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func decodeImageList(raw sql.NullString) ([]string, error) {
	list := []string{}
	if !raw.Valid || raw.String == "" {
		return list, nil
	}
	if err := json.Unmarshal([]byte(raw.String), &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal image list: %w", err)
	}
	return list, nil
}

// CreateDocument adds an entry to the document library.
func (m *Manager) CreateDocument(ctx context.Context, doc *types.Document) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO documents (id, owner, title, path, content_type, size, uploaded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			doc.ID, doc.Owner, doc.Title, doc.Path, doc.ContentType, doc.Size, doc.UploadedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to create document: %w", err)
		}
		return nil
	})
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchDocuments lists documents whose title or owner contains query, newest first.
// An empty query lists everything.
func (m *Manager) SearchDocuments(ctx context.Context, query string, limit int) ([]*types.Document, error) {
	pattern := "%" + likeEscaper.Replace(strings.TrimSpace(query)) + "%"
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, owner, title, path, content_type, size, uploaded_at
		FROM documents
		WHERE title LIKE ? ESCAPE '\' OR owner LIKE ? ESCAPE '\'
		ORDER BY uploaded_at DESC
		LIMIT ?`,
		pattern, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	docs := []*types.Document{}
	for rows.Next() {
		var doc types.Document
		if err := rows.Scan(&doc.ID, &doc.Owner, &doc.Title, &doc.Path, &doc.ContentType, &doc.Size, &doc.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return docs, nil
}

// CreateLoginSession stores a session token.
func (m *Manager) CreateLoginSession(ctx context.Context, session *types.LoginSession) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO login_sessions (token, username, created_at, expires_at)
			VALUES (?, ?, ?, ?)`,
			session.Token, session.Username, session.CreatedAt.UTC(), session.ExpiresAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to create login session: %w", err)
		}
		return nil
	})
}

// GetLoginSession loads a session by token. Expiry is the caller's concern.
func (m *Manager) GetLoginSession(ctx context.Context, token string) (*types.LoginSession, error) {
	var session types.LoginSession
	err := m.db.QueryRowContext(ctx, `
		SELECT token, username, created_at, expires_at FROM login_sessions WHERE token = ?`,
		token,
	).Scan(&session.Token, &session.Username, &session.CreatedAt, &session.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get login session: %w", err)
	}
	return &session, nil
}

// DeleteLoginSession removes a session token. Unknown tokens are ignored.
func (m *Manager) DeleteLoginSession(ctx context.Context, token string) error {
	return m.executeWrite(func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, `DELETE FROM login_sessions WHERE token = ?`, token); err != nil {
			return fmt.Errorf("failed to delete login session: %w", err)
		}
		return nil
	})
}

// DeleteExpiredLoginSessions removes sessions that expired at or before before.
func (m *Manager) DeleteExpiredLoginSessions(ctx context.Context, before time.Time) (int64, error) {
	var removed int64
	err := m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM login_sessions WHERE expires_at <= ?`, before.UTC())
		if err != nil {
			return fmt.Errorf("failed to delete expired sessions: %w", err)
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

// HealthCheck validates connectivity and a basic read.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Stats exposes pool statistics for the health endpoint.
func (m *Manager) Stats() sql.DBStats {
	return m.db.Stats()
}

// Close stops the writer and closes the pool. Close is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	m.logger.Info().Msg("database closed")
	return nil
}
