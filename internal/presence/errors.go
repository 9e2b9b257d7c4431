package presence

import "errors"

var (
	ErrRoomFull        = errors.New("room is at capacity")
	ErrInvalidCapacity = errors.New("room capacity must be greater than 0")
)
