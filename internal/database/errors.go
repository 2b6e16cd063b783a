package database

import "errors"

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
	ErrMissingDSN    = errors.New("database dsn is not set")
	ErrUnknownDriver = errors.New("unknown database driver")
)
