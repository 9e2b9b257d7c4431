package interfaces_test

import (
	"context"
	"testing"
	"time"

	"wired/pkg/interfaces"
	"wired/pkg/types"
)

type mockConnection struct{}

func (m *mockConnection) ID() string                                    { return "conn-1" }
func (m *mockConnection) Emit(event string, payload interface{}) error { return nil }
func (m *mockConnection) Close() error                                  { return nil }

type mockDB struct{}

func (m *mockDB) CreateUser(ctx context.Context, user *types.User) error { return nil }
func (m *mockDB) GetUser(ctx context.Context, username string) (*types.User, error) {
	return nil, interfaces.ErrUserNotFound
}
func (m *mockDB) GetSettings(ctx context.Context, username string) (*types.Settings, error) {
	return &types.Settings{Username: username}, nil
}
func (m *mockDB) SaveSettings(ctx context.Context, settings *types.Settings) error { return nil }
func (m *mockDB) SetAvatar(ctx context.Context, username, avatarPath string) error { return nil }
func (m *mockDB) AppendImages(ctx context.Context, username string, images []string, limit int) ([]string, error) {
	return images, nil
}
func (m *mockDB) CreateDocument(ctx context.Context, doc *types.Document) error { return nil }
func (m *mockDB) SearchDocuments(ctx context.Context, query string, limit int) ([]*types.Document, error) {
	return nil, nil
}
func (m *mockDB) CreateLoginSession(ctx context.Context, session *types.LoginSession) error {
	return nil
}
func (m *mockDB) GetLoginSession(ctx context.Context, token string) (*types.LoginSession, error) {
	return nil, interfaces.ErrSessionNotFound
}
func (m *mockDB) DeleteLoginSession(ctx context.Context, token string) error { return nil }
func (m *mockDB) DeleteExpiredLoginSessions(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}
func (m *mockDB) HealthCheck(ctx context.Context) error { return nil }
func (m *mockDB) Close() error                          { return nil }

func TestConnection_InterfaceContract(t *testing.T) {
	var conn interfaces.Connection = &mockConnection{}
	if conn.ID() == "" {
		t.Error("connection ID should not be empty")
	}
	if err := conn.Emit(types.EventUserCount, 1); err != nil {
		t.Errorf("unexpected emit error: %v", err)
	}
	_ = conn.Close()
}

func TestDatabaseManager_InterfaceContract(t *testing.T) {
	var db interfaces.DatabaseManager = &mockDB{}
	ctx := context.Background()

	if _, err := db.GetUser(ctx, "nobody"); err != interfaces.ErrUserNotFound {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := db.GetLoginSession(ctx, "token"); err != interfaces.ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	// The narrower store interfaces are satisfied by any DatabaseManager.
	var _ interfaces.CredentialStore = db
	var _ interfaces.SettingsStore = db
	var _ interfaces.DocumentStore = db
	var _ interfaces.SessionStore = db
}
