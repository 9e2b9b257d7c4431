package storage

import "errors"

var (
	ErrFileTooLarge     = errors.New("file exceeds maximum size")
	ErrEmptyFile        = errors.New("file is empty")
	ErrUnsupportedType  = errors.New("unsupported file type")
	ErrInvalidStoreName = errors.New("invalid stored file name")
)
