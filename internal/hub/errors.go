package hub

import (
	"errors"

	"wired/internal/presence"
	"wired/internal/router"
	"wired/pkg/types"
)

var (
	ErrHubAlreadyRunning = errors.New("hub has already been started")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrInvalidState      = errors.New("event not valid in current connection state")
)

// reasonFor maps a gateway error to the reason string sent in errorMessage.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, presence.ErrRoomFull):
		return types.ReasonRoomFull
	case errors.Is(err, router.ErrMessageTooLong):
		return types.ReasonMessageTooLong
	case errors.Is(err, router.ErrRateLimited):
		return types.ReasonRateLimited
	default:
		return types.ReasonInvalidState
	}
}
