package session

import "errors"

var (
	ErrInvalidUsername = errors.New("session requires a username")
	ErrInvalidTTL      = errors.New("session TTL must be greater than 0")
)
