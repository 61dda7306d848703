package storage

import "github.com/go-faster/errors"

var (
	ErrFileTooLarge    = errors.New("file exceeds the size limit")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrInvalidRef      = errors.New("invalid attachment reference")
	ErrTooManyFiles    = errors.New("too many files under prefix")
)
