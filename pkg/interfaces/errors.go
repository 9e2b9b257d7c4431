package interfaces

import "errors"

// Common errors returned by store implementations.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUserExists       = errors.New("user already exists")
	ErrSettingsNotFound = errors.New("settings not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrUnauthorized     = errors.New("unauthorized access")
)
