package directory

import "errors"

var (
	ErrNotFound      = errors.New("directory: not found")
	ErrNotDir        = errors.New("directory: not a directory")
	ErrIsDir         = errors.New("directory: is a directory")
	ErrAlreadyExists = errors.New("directory: already exists")
	ErrDirNotEmpty   = errors.New("directory: not empty")
	ErrInvalidPath   = errors.New("directory: invalid path")
)
