package types

import "errors"

var (
	ErrInvalidUsername    = errors.New("username must be 1-32 characters")
	ErrPasswordMismatch   = errors.New("passwords don't match or missing fields")
	ErrWeakPassword       = errors.New("password must be 8-64 characters and contain a digit")
	ErrInvalidRoom        = errors.New("room must be 1-50 characters, alphanumeric + underscore/hyphen")
	ErrInvalidIdentity    = errors.New("username must be 1-32 printable characters")
	ErrInvalidAlias       = errors.New("alias must be at most 32 printable characters")
	ErrInvalidTheme       = errors.New("unknown theme")
	ErrDescriptionTooLong = errors.New("description exceeds 500 characters")
	ErrDirectoryTooLong   = errors.New("directory exceeds 200 characters")
	ErrMissingPayload     = errors.New("missing event payload")
	ErrMalformedPayload   = errors.New("malformed event payload")
)
