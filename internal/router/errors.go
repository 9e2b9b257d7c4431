package router

import "errors"

var (
	ErrMessageTooLong    = errors.New("message exceeds maximum length")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrInvalidRateConfig = errors.New("rate limit configuration must be positive")
)
