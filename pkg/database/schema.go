package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// SchemaValidator checks that a database carries the expected schema.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredTables = map[string]string{
	"users":             "Registered accounts",
	"user_settings":     "Profile settings",
	"login_sessions":    "Login session tokens",
	"documents":         "Uploaded documents",
	"schema_migrations": "Migration tracking",
}

var requiredColumns = map[string]map[string]string{
	"users": {
		"username":      "TEXT",
		"password_hash": "TEXT",
		"created_at":    "DATETIME",
	},
	"user_settings": {
		"username":    "TEXT",
		"alias":       "TEXT",
		"theme":       "TEXT",
		"description": "TEXT",
		"directory":   "TEXT",
		"avatar_path": "TEXT",
		"image_list":  "TEXT",
	},
	"login_sessions": {
		"token":      "TEXT",
		"username":   "TEXT",
		"created_at": "DATETIME",
		"expires_at": "DATETIME",
	},
	"documents": {
		"id":           "TEXT",
		"owner":        "TEXT",
		"title":        "TEXT",
		"path":         "TEXT",
		"content_type": "TEXT",
		"size":         "INTEGER",
		"uploaded_at":  "DATETIME",
	},
}

var requiredIndexes = []string{
	"idx_login_sessions_expires",
	"idx_login_sessions_username",
	"idx_documents_owner",
	"idx_documents_uploaded",
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist() error {
	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateTableStructure verifies column names and declared types.
func (v *SchemaValidator) ValidateTableStructure() error {
	for table, columns := range requiredColumns {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that all lookup indexes exist.
func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// ValidateConstraints verifies that foreign keys are enforced on this connection.
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`
		INSERT INTO login_sessions (token, username, created_at, expires_at)
		VALUES ('constraint-check', 'no-such-user', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM login_sessions WHERE token = 'constraint-check'")
		return fmt.Errorf("foreign key constraint not enforced: login_sessions.username")
	}
	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid       int
			name      string
			dataType  string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &dfltValue, &pk); err != nil {
			return err
		}
		found[name] = strings.ToUpper(dataType)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, wantType := range expected {
		gotType, ok := found[column]
		if !ok {
			return fmt.Errorf("missing column %s", column)
		}
		if gotType != wantType {
			return fmt.Errorf("column %s has type %s, expected %s", column, gotType, wantType)
		}
	}
	return nil
}
