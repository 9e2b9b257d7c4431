package account

import "errors"

var (
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidCost     = errors.New("bcrypt cost out of range")
)
